package repository

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ port.ProcessSpecRepository = (*ProcessSpecRepo)(nil)

type ProcessSpecRepo struct {
	db *gorm.DB
}

func NewProcessSpecRepo(db *gorm.DB) *ProcessSpecRepo {
	return &ProcessSpecRepo{db: db}
}

func (r *ProcessSpecRepo) Save(ctx context.Context, spec *domain.ProcessSpec) error {
	m, err := processSpecToModel(spec)
	if err != nil {
		return err
	}
	result := conn(ctx, r.db).Create(m)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return domain.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *ProcessSpecRepo) Update(ctx context.Context, spec *domain.ProcessSpec) error {
	m, err := processSpecToModel(spec)
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Save(m).Error
}

// Delete 同时删除各环境的覆盖配置。
func (r *ProcessSpecRepo) Delete(ctx context.Context, id string) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ProcessOverlayModel{}, "spec_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ProcessSpecModel{}, "id = ?", id).Error
	})
}

func (r *ProcessSpecRepo) FindByModule(ctx context.Context, appCode, moduleName string) ([]*domain.ProcessSpec, error) {
	var models []ProcessSpecModel
	if err := conn(ctx, r.db).
		Where("app_code = ? AND module_name = ?", appCode, moduleName).
		Order("name").
		Find(&models).Error; err != nil {
		return nil, err
	}
	specs := make([]*domain.ProcessSpec, 0, len(models))
	for i := range models {
		s, err := modelToProcessSpec(&models[i])
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

func (r *ProcessSpecRepo) FindByName(ctx context.Context, appCode, moduleName, name string) (*domain.ProcessSpec, error) {
	return r.findByName(conn(ctx, r.db), appCode, moduleName, name)
}

func (r *ProcessSpecRepo) FindByNameForUpdate(ctx context.Context, appCode, moduleName, name string) (*domain.ProcessSpec, error) {
	return r.findByName(conn(ctx, r.db).Clauses(forUpdate), appCode, moduleName, name)
}

func (r *ProcessSpecRepo) findByName(q *gorm.DB, appCode, moduleName, name string) (*domain.ProcessSpec, error) {
	var m ProcessSpecModel
	if err := q.Where("app_code = ? AND module_name = ? AND name = ?", appCode, moduleName, name).
		First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrProcessNotFound)
	}
	return modelToProcessSpec(&m)
}

// FindOverlay 在覆盖配置不存在时返回 nil, nil。
func (r *ProcessSpecRepo) FindOverlay(ctx context.Context, specID string, env domain.Environment) (*domain.ProcessSpecEnvOverlay, error) {
	var models []ProcessOverlayModel
	if err := conn(ctx, r.db).
		Where("spec_id = ? AND environment = ?", specID, string(env)).
		Limit(1).
		Find(&models).Error; err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	m := models[0]
	o := &domain.ProcessSpecEnvOverlay{
		SpecID:         m.SpecID,
		Environment:    domain.Environment(m.Environment),
		TargetReplicas: m.TargetReplicas,
		TargetStatus:   domain.ProcessTargetStatus(m.TargetStatus),
		Autoscaling:    m.Autoscaling,
		Plan:           m.Plan,
		LastOperatedAt: m.LastOperatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if err := fromJSON(m.ScalingConfig, &o.ScalingConfig); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *ProcessSpecRepo) SaveOverlay(ctx context.Context, o *domain.ProcessSpecEnvOverlay) error {
	scaling, err := toJSON(o.ScalingConfig)
	if err != nil {
		return err
	}
	m := &ProcessOverlayModel{
		SpecID:         o.SpecID,
		Environment:    string(o.Environment),
		TargetReplicas: o.TargetReplicas,
		TargetStatus:   string(o.TargetStatus),
		Autoscaling:    o.Autoscaling,
		ScalingConfig:  scaling,
		Plan:           o.Plan,
		LastOperatedAt: o.LastOperatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	return conn(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(m).Error
}

func processSpecToModel(s *domain.ProcessSpec) (*ProcessSpecModel, error) {
	command, err := toJSON(s.Command)
	if err != nil {
		return nil, err
	}
	args, err := toJSON(s.Args)
	if err != nil {
		return nil, err
	}
	probes, err := toJSON(s.Probes)
	if err != nil {
		return nil, err
	}
	scaling, err := toJSON(s.ScalingConfig)
	if err != nil {
		return nil, err
	}
	return &ProcessSpecModel{
		ID:             s.ID,
		AppCode:        s.AppCode,
		ModuleName:     s.ModuleName,
		Name:           s.Name,
		ProcCommand:    s.ProcCommand,
		Command:        command,
		Args:           args,
		TargetReplicas: s.TargetReplicas,
		Plan:           s.Plan,
		Probes:         probes,
		Autoscaling:    s.Autoscaling,
		ScalingConfig:  scaling,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}, nil
}

func modelToProcessSpec(m *ProcessSpecModel) (*domain.ProcessSpec, error) {
	s := &domain.ProcessSpec{
		ID:             m.ID,
		AppCode:        m.AppCode,
		ModuleName:     m.ModuleName,
		Name:           m.Name,
		ProcCommand:    m.ProcCommand,
		TargetReplicas: m.TargetReplicas,
		Plan:           m.Plan,
		Autoscaling:    m.Autoscaling,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	for _, f := range []struct {
		data []byte
		dst  any
	}{
		{m.Command, &s.Command},
		{m.Args, &s.Args},
		{m.Probes, &s.Probes},
		{m.ScalingConfig, &s.ScalingConfig},
	} {
		if err := fromJSON(f.data, f.dst); err != nil {
			return nil, err
		}
	}
	return s, nil
}
