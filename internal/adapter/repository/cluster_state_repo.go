package repository

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ port.ClusterStateRepository = (*ClusterStateRepo)(nil)

type ClusterStateRepo struct {
	db *gorm.DB
}

func NewClusterStateRepo(db *gorm.DB) *ClusterStateRepo {
	return &ClusterStateRepo{db: db}
}

func (r *ClusterStateRepo) Save(ctx context.Context, state *domain.RegionClusterState) error {
	names, err := toJSON(state.NodesName)
	if err != nil {
		return err
	}
	data, err := toJSON(state.NodesData)
	if err != nil {
		return err
	}
	result := conn(ctx, r.db).Create(&ClusterStateModel{
		ID:          state.ID,
		Region:      state.Region,
		ClusterName: state.ClusterName,
		Name:        state.Name,
		NodesDigest: state.NodesDigest,
		NodesName:   names,
		NodesData:   data,
		CreatedAt:   state.CreatedAt,
	})
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return domain.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *ClusterStateRepo) FindLatest(ctx context.Context, region, clusterName string) (*domain.RegionClusterState, error) {
	var m ClusterStateModel
	if err := conn(ctx, r.db).
		Where("region = ? AND cluster_name = ?", region, clusterName).
		Order("created_at DESC").
		First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrStateNotFound)
	}
	return modelToClusterState(&m)
}

func (r *ClusterStateRepo) Count(ctx context.Context, region, clusterName string) (int, error) {
	var n int64
	err := conn(ctx, r.db).Model(&ClusterStateModel{}).
		Where("region = ? AND cluster_name = ?", region, clusterName).
		Count(&n).Error
	return int(n), err
}

func (r *ClusterStateRepo) FindByName(ctx context.Context, name string) (*domain.RegionClusterState, error) {
	var m ClusterStateModel
	if err := conn(ctx, r.db).First(&m, "name = ?", name).Error; err != nil {
		return nil, notFound(err, domain.ErrStateNotFound)
	}
	return modelToClusterState(&m)
}

func (r *ClusterStateRepo) SaveBinding(ctx context.Context, b *domain.RCStateAppBinding) error {
	return conn(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(&ClusterStateBindingModel{
		AppID:     b.AppID,
		StateID:   b.StateID,
		StateName: b.StateName,
		CreatedAt: b.CreatedAt,
	}).Error
}

// FindBinding 在应用未绑定时返回 nil, nil。
func (r *ClusterStateRepo) FindBinding(ctx context.Context, appID string) (*domain.RCStateAppBinding, error) {
	var models []ClusterStateBindingModel
	if err := conn(ctx, r.db).Where("app_id = ?", appID).Limit(1).Find(&models).Error; err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	m := models[0]
	return &domain.RCStateAppBinding{AppID: m.AppID, StateID: m.StateID, StateName: m.StateName, CreatedAt: m.CreatedAt}, nil
}

func (r *ClusterStateRepo) DeleteBinding(ctx context.Context, appID string) error {
	return conn(ctx, r.db).Delete(&ClusterStateBindingModel{}, "app_id = ?", appID).Error
}

func modelToClusterState(m *ClusterStateModel) (*domain.RegionClusterState, error) {
	s := &domain.RegionClusterState{
		ID:          m.ID,
		Region:      m.Region,
		ClusterName: m.ClusterName,
		Name:        m.Name,
		NodesDigest: m.NodesDigest,
		CreatedAt:   m.CreatedAt,
	}
	if err := fromJSON(m.NodesName, &s.NodesName); err != nil {
		return nil, err
	}
	if err := fromJSON(m.NodesData, &s.NodesData); err != nil {
		return nil, err
	}
	return s, nil
}
