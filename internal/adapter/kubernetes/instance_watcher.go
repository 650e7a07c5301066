package kubernetes

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	lru "github.com/hashicorp/golang-lru"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	listerscorev1 "k8s.io/client-go/listers/core/v1"
	"k8s.io/client-go/tools/cache"
)

var _ port.InstanceLister = (*InstanceWatcher)(nil)

const (
	DefaultWatchedNamespaces = 64
	cacheSyncTimeout         = 5 * time.Second
)

// namespaceInformer 是单个命名空间的 Pod informer。
type namespaceInformer struct {
	stop   chan struct{}
	lister listerscorev1.PodLister
	synced cache.InformerSynced
}

// InstanceWatcher 按 集群/命名空间 维护 Pod informer，
// 最近最少访问的命名空间被淘汰时停止对应 informer。
// informer 未同步完成时回退到实时 LIST。
type InstanceWatcher struct {
	provider ClientProvider

	mu        sync.Mutex
	informers *lru.Cache
}

func NewInstanceWatcher(provider ClientProvider, size int) (*InstanceWatcher, error) {
	if size <= 0 {
		size = DefaultWatchedNamespaces
	}
	entries, err := lru.NewWithEvict(size, func(key, value interface{}) {
		close(value.(*namespaceInformer).stop)
		slog.Debug("pod informer stopped", "key", key)
	})
	if err != nil {
		return nil, err
	}
	return &InstanceWatcher{provider: provider, informers: entries}, nil
}

func (w *InstanceWatcher) ListInstances(ctx context.Context, app *domain.WlApp) ([]domain.Instance, error) {
	c, err := w.provider.ForApp(ctx, app)
	if err != nil {
		return nil, err
	}
	return w.List(ctx, c, app)
}

// List 返回环境下所有进程的实例，按名称排序。
func (w *InstanceWatcher) List(ctx context.Context, c *Clients, app *domain.WlApp) ([]domain.Instance, error) {
	inf := w.informerFor(c, app.Namespace())
	if !inf.synced() {
		syncCtx, cancel := context.WithTimeout(ctx, cacheSyncTimeout)
		ok := cache.WaitForCacheSync(syncCtx.Done(), inf.synced)
		cancel()
		if !ok {
			return listInstancesLive(ctx, c, app)
		}
	}
	pods, err := inf.lister.Pods(app.Namespace()).List(labels.SelectorFromSet(app.BaseLabels()))
	if err != nil {
		return nil, err
	}
	return podsToInstances(pods), nil
}

func (w *InstanceWatcher) informerFor(c *Clients, namespace string) *namespaceInformer {
	key := c.Cluster.Name + "/" + namespace
	w.mu.Lock()
	defer w.mu.Unlock()
	if v, ok := w.informers.Get(key); ok {
		return v.(*namespaceInformer)
	}

	factory := informers.NewSharedInformerFactoryWithOptions(c.Kube, 0, informers.WithNamespace(namespace))
	podInformer := factory.Core().V1().Pods()
	inf := &namespaceInformer{
		stop:   make(chan struct{}),
		lister: podInformer.Lister(),
		synced: podInformer.Informer().HasSynced,
	}
	factory.Start(inf.stop)
	w.informers.Add(key, inf)
	return inf
}

// Close 停止全部 informer。
func (w *InstanceWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.informers.Purge()
}

func listInstancesLive(ctx context.Context, c *Clients, app *domain.WlApp) ([]domain.Instance, error) {
	list, err := c.Gateway.List(ctx, mapper.KindPod, app.Namespace(), app.BaseLabels())
	if err != nil {
		return nil, err
	}
	pods := make([]*corev1.Pod, 0, len(list.Items))
	for i := range list.Items {
		var pod corev1.Pod
		if err := fromUnstructuredObj(&list.Items[i], &pod); err != nil {
			return nil, err
		}
		pods = append(pods, &pod)
	}
	return podsToInstances(pods), nil
}

// podsToInstances 只保留进程 Pod，hook 与构建 Pod 没有 process_id 标签。
func podsToInstances(pods []*corev1.Pod) []domain.Instance {
	out := make([]domain.Instance, 0, len(pods))
	for _, pod := range pods {
		if pod.Labels[domain.LabelProcessID] == "" {
			continue
		}
		out = append(out, mapper.PodToInstance(pod))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
