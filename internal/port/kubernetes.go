package port

import (
	"context"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// RegistryCredential 是镜像仓库的拉取凭证。
type RegistryCredential struct {
	Registry string
	Username string
	Password string
}

// ClusterPool 提供集群列表与配置失效通知。
type ClusterPool interface {
	ListClusterNames(ctx context.Context) ([]string, error)
	// Invalidate 更新 last_modified 哨兵，所有实例在下次访问时重建客户端。
	Invalidate(ctx context.Context) error
}

// NamespaceManager 负责环境命名空间及其公共资源。
type NamespaceManager interface {
	// EnsureNamespace 创建命名空间并等待 default ServiceAccount 就绪。
	EnsureNamespace(ctx context.Context, app *domain.WlApp) error
	UpsertImagePullSecret(ctx context.Context, app *domain.WlApp, cred RegistryCredential) error
	UpsertEnvConfigMap(ctx context.Context, app *domain.WlApp, envs map[string]string) error
	// DeleteAllUnderNamespace 删除环境在命名空间下的全部资源，可重复调用。
	DeleteAllUnderNamespace(ctx context.Context, app *domain.WlApp) error
}

// ProcessController 负责进程对应的 Deployment、Service 与 HPA。
type ProcessController interface {
	Deploy(ctx context.Context, proc *domain.Process) error
	Scale(ctx context.Context, app *domain.WlApp, procType string, replicas int) error
	Delete(ctx context.Context, app *domain.WlApp, procType string) error
	GetStatus(ctx context.Context, app *domain.WlApp, procType string) (*domain.ProcessStatus, error)
	ListStatuses(ctx context.Context, app *domain.WlApp) ([]*domain.ProcessStatus, error)
	UpsertAutoscaling(ctx context.Context, scaling *domain.ProcAutoscaling) error
	DeleteAutoscaling(ctx context.Context, app *domain.WlApp, procType string) error
	// WaitForRollout 等待进程全部可用，超时返回 domain.ErrReadTargetStatusTimeout。
	WaitForRollout(ctx context.Context, app *domain.WlApp, procTypes []string, timeout time.Duration) error
	// CollectLegacy 删除旧命名方案下的进程资源。
	CollectLegacy(ctx context.Context, app *domain.WlApp, version domain.MapperVersion, procTypes []string) error
}

// InstanceLister 列出环境下的进程实例。
type InstanceLister interface {
	ListInstances(ctx context.Context, app *domain.WlApp) ([]domain.Instance, error)
}

// PodRunner 运行一次性 Pod（slug-builder、hook 命令）。
type PodRunner interface {
	RunSlugBuilder(ctx context.Context, pod *domain.SlugBuilderPod) error
	RunCommand(ctx context.Context, cmd *domain.RuntimeCommand) error
	WaitForLogsReady(ctx context.Context, app *domain.WlApp, podName string, timeout time.Duration) error
	// StreamLogs 跟随输出 Pod 日志，每行调用一次 fn，fn 返回错误时停止。
	StreamLogs(ctx context.Context, app *domain.WlApp, podName string, fn func(line string) error) error
	// WaitForSucceeded 等待 Pod 结束，非零退出返回 *domain.PodNotSucceededError。
	WaitForSucceeded(ctx context.Context, app *domain.WlApp, podName string, timeout time.Duration) error
	PodHealth(ctx context.Context, app *domain.WlApp, podName string) (domain.PodHealth, error)
	DeletePod(ctx context.Context, app *domain.WlApp, podName string) error
}

// IngressController 负责 Ingress 与 DomainGroupMapping。
type IngressController interface {
	List(ctx context.Context, app *domain.WlApp) ([]*domain.ProcessIngress, error)
	Upsert(ctx context.Context, ing *domain.ProcessIngress) error
	Delete(ctx context.Context, app *domain.WlApp, name string) error
	UpsertDomainGroupMapping(ctx context.Context, dgm *domain.DomainGroupMapping) error
	DeleteDomainGroupMapping(ctx context.Context, app *domain.WlApp, name string) error
	// ServiceName 返回进程 Service 在应用当前命名方案下的名称。
	ServiceName(app *domain.WlApp, procType string) string
}

// BkAppController 负责云原生应用的 BkApp CRD。
type BkAppController interface {
	Upsert(ctx context.Context, bkapp *domain.BkApp) error
	Delete(ctx context.Context, app *domain.WlApp, name string) error
}

type NodeController interface {
	ListNodes(ctx context.Context, clusterName string) ([]domain.Node, error)
	LabelNodes(ctx context.Context, clusterName string, nodeNames []string, labels map[string]string) error
}

type MonitorController interface {
	UpsertServiceMonitor(ctx context.Context, sm *domain.ServiceMonitor) error
	DeleteServiceMonitor(ctx context.Context, app *domain.WlApp, name string) error
}

// SandboxController 负责沙箱的 Pod + Service。
type SandboxController interface {
	Create(ctx context.Context, sbx *domain.Sandbox) error
	Get(ctx context.Context, sbx *domain.Sandbox) (*domain.SandboxRuntime, error)
	Delete(ctx context.Context, sbx *domain.Sandbox) error
}
