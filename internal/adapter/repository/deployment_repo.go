package repository

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
)

var (
	_ port.DeploymentRepository = (*DeploymentRepo)(nil)
	_ port.OfflineRepository    = (*OfflineRepo)(nil)
)

// deploymentSpec 是 DeploymentModel.Spec 中保存的发布参数。
type deploymentSpec struct {
	SourceTarPath      string                 `json:"source_tar_path,omitempty"`
	SourceRevision     string                 `json:"source_revision,omitempty"`
	Procfile           map[string]string      `json:"procfile,omitempty"`
	Processes          []domain.ProcessTmpl   `json:"processes,omitempty"`
	BuildpacksRequired []string               `json:"buildpacks_required,omitempty"`
	PreReleaseHook     *domain.Hook           `json:"pre_release_hook,omitempty"`
	Options            domain.AdvancedOptions `json:"advanced_options"`
}

type DeploymentRepo struct {
	db *gorm.DB
}

func NewDeploymentRepo(db *gorm.DB) *DeploymentRepo {
	return &DeploymentRepo{db: db}
}

func (r *DeploymentRepo) Save(ctx context.Context, d *domain.Deployment) error {
	m, err := deploymentToModel(d)
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Create(m).Error
}

func (r *DeploymentRepo) Update(ctx context.Context, d *domain.Deployment) error {
	m, err := deploymentToModel(d)
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Save(m).Error
}

func (r *DeploymentRepo) FindByID(ctx context.Context, id string) (*domain.Deployment, error) {
	return r.findByID(conn(ctx, r.db), id)
}

func (r *DeploymentRepo) FindByIDForUpdate(ctx context.Context, id string) (*domain.Deployment, error) {
	return r.findByID(conn(ctx, r.db).Clauses(forUpdate), id)
}

func (r *DeploymentRepo) findByID(q *gorm.DB, id string) (*domain.Deployment, error) {
	var m DeploymentModel
	if err := q.First(&m, "uuid = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrDeploymentNotFound)
	}
	return modelToDeployment(&m)
}

func (r *DeploymentRepo) FindActive(ctx context.Context, appID string) ([]*domain.Deployment, error) {
	statuses := make([]string, 0, len(domain.ActiveDeploymentStatuses))
	for _, s := range domain.ActiveDeploymentStatuses {
		statuses = append(statuses, string(s))
	}
	var models []DeploymentModel
	if err := conn(ctx, r.db).
		Where("app_id = ? AND status IN ?", appID, statuses).
		Order("created_at").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Deployment, 0, len(models))
	for i := range models {
		d, err := modelToDeployment(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *DeploymentRepo) FindLatestSuccessful(ctx context.Context, appID string) (*domain.Deployment, error) {
	var m DeploymentModel
	if err := conn(ctx, r.db).
		Where("app_id = ? AND status = ?", appID, string(domain.DeploymentSuccessful)).
		Order("complete_time DESC").
		First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrDeploymentNotFound)
	}
	return modelToDeployment(&m)
}

func deploymentToModel(d *domain.Deployment) (*DeploymentModel, error) {
	spec, err := toJSON(deploymentSpec{
		SourceTarPath:      d.SourceTarPath,
		SourceRevision:     d.SourceRevision,
		Procfile:           d.Procfile,
		Processes:          d.Processes,
		BuildpacksRequired: d.BuildpacksRequired,
		PreReleaseHook:     d.PreReleaseHook,
		Options:            d.Options,
	})
	if err != nil {
		return nil, err
	}
	streams, err := toJSON(d.Streams)
	if err != nil {
		return nil, err
	}
	return &DeploymentModel{
		UUID:           d.UUID,
		AppID:          d.AppID,
		Status:         string(d.Status),
		Spec:           spec,
		Streams:        streams,
		BuildProcessID: d.BuildProcessID,
		BuildID:        d.BuildID,
		ReleaseVersion: d.ReleaseVersion,
		HookCommandID:  d.HookCommandID,
		ErrDetail:      d.ErrDetail,
		IntRequestedAt: d.IntRequestedAt,
		StartTime:      d.StartTime,
		CompleteTime:   d.CompleteTime,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

func modelToDeployment(m *DeploymentModel) (*domain.Deployment, error) {
	var spec deploymentSpec
	if err := fromJSON(m.Spec, &spec); err != nil {
		return nil, err
	}
	d := &domain.Deployment{
		UUID:               m.UUID,
		AppID:              m.AppID,
		Status:             domain.DeploymentStatus(m.Status),
		SourceTarPath:      spec.SourceTarPath,
		SourceRevision:     spec.SourceRevision,
		Procfile:           spec.Procfile,
		Processes:          spec.Processes,
		BuildpacksRequired: spec.BuildpacksRequired,
		PreReleaseHook:     spec.PreReleaseHook,
		Options:            spec.Options,
		BuildProcessID:     m.BuildProcessID,
		BuildID:            m.BuildID,
		ReleaseVersion:     m.ReleaseVersion,
		HookCommandID:      m.HookCommandID,
		ErrDetail:          m.ErrDetail,
		IntRequestedAt:     m.IntRequestedAt,
		StartTime:          m.StartTime,
		CompleteTime:       m.CompleteTime,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
	if err := fromJSON(m.Streams, &d.Streams); err != nil {
		return nil, err
	}
	return d, nil
}

type OfflineRepo struct {
	db *gorm.DB
}

func NewOfflineRepo(db *gorm.DB) *OfflineRepo {
	return &OfflineRepo{db: db}
}

func (r *OfflineRepo) Save(ctx context.Context, op *domain.OfflineOperation) error {
	return conn(ctx, r.db).Create(offlineToModel(op)).Error
}

func (r *OfflineRepo) Update(ctx context.Context, op *domain.OfflineOperation) error {
	return conn(ctx, r.db).Save(offlineToModel(op)).Error
}

func (r *OfflineRepo) FindByID(ctx context.Context, id string) (*domain.OfflineOperation, error) {
	var m OfflineModel
	if err := conn(ctx, r.db).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrOfflineNotFound)
	}
	return modelToOffline(&m), nil
}

func (r *OfflineRepo) FindPending(ctx context.Context, appID string) ([]*domain.OfflineOperation, error) {
	var models []OfflineModel
	if err := conn(ctx, r.db).
		Where("app_id = ? AND status = ?", appID, string(domain.OfflinePending)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.OfflineOperation, 0, len(models))
	for i := range models {
		out = append(out, modelToOffline(&models[i]))
	}
	return out, nil
}

func offlineToModel(op *domain.OfflineOperation) *OfflineModel {
	return &OfflineModel{
		UUID:      op.UUID,
		AppID:     op.AppID,
		Status:    string(op.Status),
		Operator:  op.Operator,
		ErrDetail: op.ErrDetail,
		CreatedAt: op.CreatedAt,
		UpdatedAt: op.UpdatedAt,
	}
}

func modelToOffline(m *OfflineModel) *domain.OfflineOperation {
	return &domain.OfflineOperation{
		UUID:      m.UUID,
		AppID:     m.AppID,
		Status:    domain.OfflineStatus(m.Status),
		Operator:  m.Operator,
		ErrDetail: m.ErrDetail,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
