package service

import (
	"context"
	"fmt"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// ClusterService 管理集群注册信息。每次变更都会通知所有实例重建集群客户端。
type ClusterService struct {
	clusterRepo port.ClusterRepository
	appRepo     port.WlAppRepository
	pool        port.ClusterPool
}

func NewClusterService(clusterRepo port.ClusterRepository, appRepo port.WlAppRepository, pool port.ClusterPool) *ClusterService {
	return &ClusterService{clusterRepo: clusterRepo, appRepo: appRepo, pool: pool}
}

func (s *ClusterService) Upsert(ctx context.Context, cluster *domain.Cluster) error {
	if err := cluster.Validate(); err != nil {
		return err
	}
	now := time.Now()
	existing, err := s.clusterRepo.FindByName(ctx, cluster.Name)
	switch {
	case err == nil:
		cluster.CreatedAt = existing.CreatedAt
	case isNotFound(err):
		cluster.CreatedAt = now
	default:
		return err
	}
	cluster.UpdatedAt = now
	if err := s.clusterRepo.Save(ctx, cluster); err != nil {
		return err
	}
	return s.pool.Invalidate(ctx)
}

// Delete 拒绝删除仍有应用环境使用的集群。
func (s *ClusterService) Delete(ctx context.Context, name string) error {
	if _, err := s.clusterRepo.FindByName(ctx, name); err != nil {
		return err
	}
	apps, err := s.appRepo.FindByCluster(ctx, name)
	if err != nil {
		return err
	}
	if len(apps) > 0 {
		return fmt.Errorf("cluster %s is used by %d apps: %w", name, len(apps), domain.ErrConflict)
	}
	if err := s.clusterRepo.Delete(ctx, name); err != nil {
		return err
	}
	return s.pool.Invalidate(ctx)
}

func (s *ClusterService) Get(ctx context.Context, name string) (*domain.Cluster, error) {
	return s.clusterRepo.FindByName(ctx, name)
}

// ListForTenant 返回区域内租户可用的集群，region 为空时不按区域过滤。
func (s *ClusterService) ListForTenant(ctx context.Context, region, tenantID string) ([]*domain.Cluster, error) {
	var (
		clusters []*domain.Cluster
		err      error
	)
	if region == "" {
		clusters, err = s.clusterRepo.FindAll(ctx)
	} else {
		clusters, err = s.clusterRepo.FindByRegion(ctx, region)
	}
	if err != nil {
		return nil, err
	}
	out := clusters[:0]
	for _, c := range clusters {
		if c.AvailableForTenant(tenantID) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Select 返回租户在区域内的默认集群，没有标记默认时取第一个可用集群。
func (s *ClusterService) Select(ctx context.Context, region, tenantID string) (*domain.Cluster, error) {
	clusters, err := s.ListForTenant(ctx, region, tenantID)
	if err != nil {
		return nil, err
	}
	if len(clusters) == 0 {
		return nil, fmt.Errorf("no cluster available for tenant %q in region %q: %w", tenantID, region, domain.ErrClusterNotFound)
	}
	for _, c := range clusters {
		if c.IsDefault {
			return c, nil
		}
	}
	return clusters[0], nil
}
