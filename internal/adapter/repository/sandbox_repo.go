package repository

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
)

var _ port.SandboxRepository = (*SandboxRepo)(nil)

type SandboxRepo struct {
	db *gorm.DB
}

func NewSandboxRepo(db *gorm.DB) *SandboxRepo {
	return &SandboxRepo{db: db}
}

func (r *SandboxRepo) Save(ctx context.Context, s *domain.Sandbox) error {
	m, err := sandboxToModel(s)
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Create(m).Error
}

func (r *SandboxRepo) Update(ctx context.Context, s *domain.Sandbox) error {
	m, err := sandboxToModel(s)
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Save(m).Error
}

func (r *SandboxRepo) FindByID(ctx context.Context, id string) (*domain.Sandbox, error) {
	var m SandboxModel
	if err := conn(ctx, r.db).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrSandboxNotFound)
	}
	s := &domain.Sandbox{
		UUID:        m.UUID,
		Kind:        domain.SandboxKind(m.Kind),
		AppCode:     m.AppCode,
		ModuleName:  m.ModuleName,
		Environment: domain.Environment(m.Environment),
		ClusterName: m.ClusterName,
		Image:       m.Image,
		DaemonPort:  m.DaemonPort,
		Workdir:     m.Workdir,
		NodePort:    m.NodePort,
		Status:      domain.SandboxStatus(m.Status),
		Operator:    m.Operator,
		CreatedAt:   m.CreatedAt,
	}
	if err := fromJSON(m.Envs, &s.Envs); err != nil {
		return nil, err
	}
	if err := fromJSON(m.Resources, &s.Resources); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SandboxRepo) Delete(ctx context.Context, id string) error {
	return conn(ctx, r.db).Delete(&SandboxModel{}, "uuid = ?", id).Error
}

func sandboxToModel(s *domain.Sandbox) (*SandboxModel, error) {
	envs, err := toJSON(s.Envs)
	if err != nil {
		return nil, err
	}
	res, err := toJSON(s.Resources)
	if err != nil {
		return nil, err
	}
	return &SandboxModel{
		UUID:        s.UUID,
		Kind:        string(s.Kind),
		AppCode:     s.AppCode,
		ModuleName:  s.ModuleName,
		Environment: string(s.Environment),
		ClusterName: s.ClusterName,
		Image:       s.Image,
		Envs:        envs,
		DaemonPort:  s.DaemonPort,
		Workdir:     s.Workdir,
		Resources:   res,
		NodePort:    s.NodePort,
		Status:      string(s.Status),
		Operator:    s.Operator,
		CreatedAt:   s.CreatedAt,
	}, nil
}
