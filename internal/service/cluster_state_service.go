package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/google/uuid"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// ClusterStateService 生成集群节点快照，并把应用绑定到快照上。
type ClusterStateService struct {
	clusterRepo port.ClusterRepository
	stateRepo   port.ClusterStateRepository
	appRepo     port.WlAppRepository
	nodes       port.NodeController
	now         func() time.Time
}

func NewClusterStateService(
	clusterRepo port.ClusterRepository,
	stateRepo port.ClusterStateRepository,
	appRepo port.WlAppRepository,
	nodes port.NodeController,
) *ClusterStateService {
	return &ClusterStateService{
		clusterRepo: clusterRepo,
		stateRepo:   stateRepo,
		appRepo:     appRepo,
		nodes:       nodes,
		now:         time.Now,
	}
}

// GenerateState 在节点集合变化时创建新快照并给当前节点打上快照标签。
// 节点摘要与最新快照一致时返回最新快照，created 为 false。
func (s *ClusterStateService) GenerateState(ctx context.Context, region, clusterName string, ignoreLabels map[string]string) (state *domain.RegionClusterState, created bool, err error) {
	cluster, err := s.clusterRepo.FindByName(ctx, clusterName)
	if err != nil {
		return nil, false, err
	}
	if region != "" && cluster.Region != region {
		return nil, false, &domain.ValidationError{Field: "region", Message: fmt.Sprintf("cluster %s belongs to region %s", clusterName, cluster.Region)}
	}

	nodes, err := s.nodes.ListNodes(ctx, clusterName)
	if err != nil {
		return nil, false, err
	}
	nodes = domain.FilterNodes(nodes, ignoreLabels)
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	sort.Strings(names)
	digest := domain.NodesDigest(names)

	latest, err := s.stateRepo.FindLatest(ctx, cluster.Region, clusterName)
	switch {
	case err == nil && latest.NodesDigest == digest:
		slog.Info("nodes unchanged, skip generating cluster state", "cluster", clusterName, "state", latest.Name)
		return latest, false, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, false, err
	}

	count, err := s.stateRepo.Count(ctx, cluster.Region, clusterName)
	if err != nil {
		return nil, false, err
	}
	state = &domain.RegionClusterState{
		ID:          uuid.New().String(),
		Region:      cluster.Region,
		ClusterName: clusterName,
		Name:        domain.ClusterStateName(digest, count+1),
		NodesDigest: digest,
		NodesName:   names,
		NodesData:   nodes,
		CreatedAt:   s.now(),
	}
	if err := s.stateRepo.Save(ctx, state); err != nil {
		return nil, false, err
	}
	// 旧快照的标签保留在仍然存在的节点上，已绑定的应用在切换期间可以继续调度
	if err := s.nodes.LabelNodes(ctx, clusterName, names, map[string]string{state.Name: "1"}); err != nil {
		return state, true, fmt.Errorf("label nodes with %s: %w", state.Name, err)
	}
	slog.Info("cluster state generated", "cluster", clusterName, "state", state.Name, "nodes", len(names))
	return state, true, nil
}

// GenerateRegion 对区域内全部集群生成快照，单个集群失败不影响其他集群。
func (s *ClusterStateService) GenerateRegion(ctx context.Context, region string, ignoreLabels map[string]string) ([]*domain.RegionClusterState, error) {
	clusters, err := s.clusterRepo.FindByRegion(ctx, region)
	if err != nil {
		return nil, err
	}
	var (
		states []*domain.RegionClusterState
		errs   []error
	)
	for _, c := range clusters {
		state, _, err := s.GenerateState(ctx, region, c.Name, ignoreLabels)
		if err != nil {
			errs = append(errs, fmt.Errorf("cluster %s: %w", c.Name, err))
			continue
		}
		states = append(states, state)
	}
	return states, utilerrors.NewAggregate(errs)
}

// Bind 把应用绑定到所在集群的最新快照，Pod 只会调度到快照中的节点。
func (s *ClusterStateService) Bind(ctx context.Context, appID string) (*domain.RCStateAppBinding, error) {
	app, err := s.appRepo.FindByUUID(ctx, appID)
	if err != nil {
		return nil, err
	}
	cluster, err := s.clusterRepo.FindByName(ctx, app.ClusterName)
	if err != nil {
		return nil, err
	}
	state, err := s.stateRepo.FindLatest(ctx, cluster.Region, cluster.Name)
	if err != nil {
		return nil, err
	}
	binding := &domain.RCStateAppBinding{
		AppID:     app.UUID,
		StateID:   state.ID,
		StateName: state.Name,
		CreatedAt: s.now(),
	}
	if err := s.stateRepo.SaveBinding(ctx, binding); err != nil {
		return nil, err
	}
	return binding, nil
}

func (s *ClusterStateService) Unbind(ctx context.Context, appID string) error {
	return s.stateRepo.DeleteBinding(ctx, appID)
}
