package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"golang.org/x/sync/singleflight"
)

// LastModifiedKey 是集群配置版本哨兵在共享缓存中的 key。
const LastModifiedKey = "paas:clusters:last_modified"

var _ port.ClusterPool = (*ClusterRegistry)(nil)

// ClientFactory 根据集群配置创建客户端。
type ClientFactory func(cluster *domain.Cluster) (*Clients, error)

// ClusterRegistry 按集群名缓存客户端。每次访问读取一次哨兵，哨兵变化时整体重建。
type ClusterRegistry struct {
	repo    port.ClusterRepository
	cache   port.KVCache
	factory ClientFactory
	group   singleflight.Group

	mu      sync.Mutex
	stamp   string
	clients map[string]*Clients
}

func NewClusterRegistry(repo port.ClusterRepository, cache port.KVCache, factory ClientFactory) *ClusterRegistry {
	return &ClusterRegistry{
		repo:    repo,
		cache:   cache,
		factory: factory,
		clients: make(map[string]*Clients),
	}
}

// DefaultFactory 使用 NewClients 创建真实客户端。
func DefaultFactory(cfg ClientConfig) ClientFactory {
	return func(cluster *domain.Cluster) (*Clients, error) {
		return NewClients(cluster, cfg)
	}
}

// lastModified 读取哨兵。缓存不可用时沿用当前版本，保证调用不被缓存故障阻断。
func (r *ClusterRegistry) lastModified(ctx context.Context) string {
	v, err := r.cache.Get(ctx, LastModifiedKey)
	if err == nil {
		return v
	}
	if !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("read cluster sentinel failed", "error", err)
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.stamp
	}
	return ""
}

// Get 返回集群的客户端集合。
func (r *ClusterRegistry) Get(ctx context.Context, name string) (*Clients, error) {
	stamp := r.lastModified(ctx)

	r.mu.Lock()
	if stamp != r.stamp {
		if r.stamp != "" || len(r.clients) > 0 {
			slog.Info("cluster config changed, reloading clients", "from", r.stamp, "to", stamp)
		}
		r.stamp = stamp
		r.clients = make(map[string]*Clients)
	}
	c, ok := r.clients[name]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	v, err, _ := r.group.Do(stamp+"/"+name, func() (any, error) {
		cluster, err := r.repo.FindByName(ctx, name)
		if err != nil {
			return nil, err
		}
		clients, err := r.factory(cluster)
		if err != nil {
			return nil, fmt.Errorf("build clients for cluster %s: %w", name, err)
		}
		r.mu.Lock()
		if r.stamp == stamp {
			r.clients[name] = clients
		}
		r.mu.Unlock()
		return clients, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Clients), nil
}

// ForApp 返回应用所在集群的客户端集合。
func (r *ClusterRegistry) ForApp(ctx context.Context, app *domain.WlApp) (*Clients, error) {
	return r.Get(ctx, app.ClusterName)
}

func (r *ClusterRegistry) ListClusterNames(ctx context.Context) ([]string, error) {
	clusters, err := r.repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(clusters))
	for _, c := range clusters {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *ClusterRegistry) Invalidate(ctx context.Context) error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.cache.Set(ctx, LastModifiedKey, stamp, 0); err != nil {
		return fmt.Errorf("bump cluster sentinel: %w", err)
	}
	return nil
}
