package repository

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
)

var _ port.CommandRepository = (*CommandRepo)(nil)

type CommandRepo struct {
	db *gorm.DB
}

func NewCommandRepo(db *gorm.DB) *CommandRepo {
	return &CommandRepo{db: db}
}

func (r *CommandRepo) Save(ctx context.Context, cmd *domain.Command) error {
	return conn(ctx, r.db).Create(commandToModel(cmd)).Error
}

// Update 拒绝修改已进入终态的记录。
func (r *CommandRepo) Update(ctx context.Context, cmd *domain.Command) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var current CommandModel
		if err := tx.Clauses(forUpdate).First(&current, "uuid = ?", cmd.UUID).Error; err != nil {
			return notFound(err, domain.ErrCommandNotFound)
		}
		if domain.CommandStatus(current.Status).IsTerminal() {
			return domain.ErrCommandRerun
		}
		return tx.Save(commandToModel(cmd)).Error
	})
}

func (r *CommandRepo) FindByID(ctx context.Context, id string) (*domain.Command, error) {
	var m CommandModel
	if err := conn(ctx, r.db).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrCommandNotFound)
	}
	return &domain.Command{
		UUID:           m.UUID,
		AppID:          m.AppID,
		Type:           domain.CommandType(m.Type),
		Command:        m.Command,
		Status:         domain.CommandStatus(m.Status),
		ExitCode:       m.ExitCode,
		ReleaseVersion: m.ReleaseVersion,
		DeploymentID:   m.DeploymentID,
		StreamID:       m.StreamID,
		Operator:       m.Operator,
		IntRequestedAt: m.IntRequestedAt,
		StartTime:      m.StartTime,
		EndTime:        m.EndTime,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func commandToModel(c *domain.Command) *CommandModel {
	return &CommandModel{
		UUID:           c.UUID,
		AppID:          c.AppID,
		Type:           string(c.Type),
		Command:        c.Command,
		Status:         string(c.Status),
		ExitCode:       c.ExitCode,
		ReleaseVersion: c.ReleaseVersion,
		DeploymentID:   c.DeploymentID,
		StreamID:       c.StreamID,
		Operator:       c.Operator,
		IntRequestedAt: c.IntRequestedAt,
		StartTime:      c.StartTime,
		EndTime:        c.EndTime,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}
