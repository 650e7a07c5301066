package repository

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ port.ClusterRepository = (*ClusterRepo)(nil)

type ClusterRepo struct {
	db *gorm.DB
}

func NewClusterRepo(db *gorm.DB) *ClusterRepo {
	return &ClusterRepo{db: db}
}

// Save 按名称创建或覆盖集群配置。
func (r *ClusterRepo) Save(ctx context.Context, cluster *domain.Cluster) error {
	m, err := clusterToModel(cluster)
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(m).Error
}

func (r *ClusterRepo) FindByName(ctx context.Context, name string) (*domain.Cluster, error) {
	var m ClusterModel
	if err := conn(ctx, r.db).First(&m, "name = ?", name).Error; err != nil {
		return nil, notFound(err, domain.ErrClusterNotFound)
	}
	return modelToCluster(&m)
}

func (r *ClusterRepo) FindAll(ctx context.Context) ([]*domain.Cluster, error) {
	var models []ClusterModel
	if err := conn(ctx, r.db).Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	return modelsToClusters(models)
}

func (r *ClusterRepo) FindByRegion(ctx context.Context, region string) ([]*domain.Cluster, error) {
	var models []ClusterModel
	if err := conn(ctx, r.db).Where("region = ?", region).Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	return modelsToClusters(models)
}

func (r *ClusterRepo) Delete(ctx context.Context, name string) error {
	return conn(ctx, r.db).Delete(&ClusterModel{}, "name = ?", name).Error
}

func modelsToClusters(models []ClusterModel) ([]*domain.Cluster, error) {
	clusters := make([]*domain.Cluster, 0, len(models))
	for i := range models {
		c, err := modelToCluster(&models[i])
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, nil
}

func clusterToModel(c *domain.Cluster) (*ClusterModel, error) {
	spec, err := toJSON(c)
	if err != nil {
		return nil, err
	}
	return &ClusterModel{
		Name:      c.Name,
		Region:    c.Region,
		TenantID:  c.TenantID,
		IsDefault: c.IsDefault,
		Spec:      spec,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}, nil
}

func modelToCluster(m *ClusterModel) (*domain.Cluster, error) {
	var c domain.Cluster
	if err := fromJSON(m.Spec, &c); err != nil {
		return nil, err
	}
	c.Name = m.Name
	c.Region = m.Region
	c.TenantID = m.TenantID
	c.IsDefault = m.IsDefault
	c.CreatedAt = m.CreatedAt
	c.UpdatedAt = m.UpdatedAt
	return &c, nil
}
