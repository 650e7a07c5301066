package port

import (
	"context"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// Transactor 在同一事务内执行 fn，事务通过 ctx 传递给各仓储。
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type ClusterRepository interface {
	Save(ctx context.Context, cluster *domain.Cluster) error
	FindByName(ctx context.Context, name string) (*domain.Cluster, error)
	FindAll(ctx context.Context) ([]*domain.Cluster, error)
	FindByRegion(ctx context.Context, region string) ([]*domain.Cluster, error)
	Delete(ctx context.Context, name string) error
}

type WlAppRepository interface {
	Save(ctx context.Context, app *domain.WlApp) error
	Update(ctx context.Context, app *domain.WlApp) error
	FindByUUID(ctx context.Context, uuid string) (*domain.WlApp, error)
	FindByName(ctx context.Context, name string) (*domain.WlApp, error)
	FindByModuleEnv(ctx context.Context, appCode, moduleName string, env domain.Environment) (*domain.WlApp, error)
	FindByModule(ctx context.Context, appCode, moduleName string) ([]*domain.WlApp, error)
	FindByCluster(ctx context.Context, clusterName string) ([]*domain.WlApp, error)
}

// AppSecretRepository 保存应用的访问密钥，注入为 BKPAAS_APP_SECRET。
type AppSecretRepository interface {
	FindSecret(ctx context.Context, appCode string) (string, error)
	SaveSecret(ctx context.Context, appCode, secret string) error
}

type BuildRepository interface {
	Save(ctx context.Context, build *domain.Build) error
	FindByID(ctx context.Context, id string) (*domain.Build, error)
}

type BuildProcessRepository interface {
	Save(ctx context.Context, bp *domain.BuildProcess) error
	Update(ctx context.Context, bp *domain.BuildProcess) error
	FindByID(ctx context.Context, id string) (*domain.BuildProcess, error)
}

type ReleaseRepository interface {
	// Create 写入新版本，version 必须等于 max(existing)+1。
	Create(ctx context.Context, release *domain.Release) error
	Update(ctx context.Context, release *domain.Release) error
	FindByID(ctx context.Context, id string) (*domain.Release, error)
	FindByVersion(ctx context.Context, appID string, version int) (*domain.Release, error)
	FindLatest(ctx context.Context, appID string) (*domain.Release, error)
	FindLatestSuccessful(ctx context.Context, appID string) (*domain.Release, error)
	MaxVersion(ctx context.Context, appID string) (int, error)
}

type ProcessSpecRepository interface {
	Save(ctx context.Context, spec *domain.ProcessSpec) error
	Update(ctx context.Context, spec *domain.ProcessSpec) error
	Delete(ctx context.Context, id string) error
	FindByModule(ctx context.Context, appCode, moduleName string) ([]*domain.ProcessSpec, error)
	FindByName(ctx context.Context, appCode, moduleName, name string) (*domain.ProcessSpec, error)
	// FindByNameForUpdate 在事务中对记录加行锁。
	FindByNameForUpdate(ctx context.Context, appCode, moduleName, name string) (*domain.ProcessSpec, error)
	FindOverlay(ctx context.Context, specID string, env domain.Environment) (*domain.ProcessSpecEnvOverlay, error)
	SaveOverlay(ctx context.Context, overlay *domain.ProcessSpecEnvOverlay) error
}

type CommandRepository interface {
	Save(ctx context.Context, cmd *domain.Command) error
	Update(ctx context.Context, cmd *domain.Command) error
	FindByID(ctx context.Context, id string) (*domain.Command, error)
}

type DeploymentRepository interface {
	Save(ctx context.Context, d *domain.Deployment) error
	Update(ctx context.Context, d *domain.Deployment) error
	FindByID(ctx context.Context, id string) (*domain.Deployment, error)
	FindByIDForUpdate(ctx context.Context, id string) (*domain.Deployment, error)
	// FindActive 返回环境下处于非终态的部署。
	FindActive(ctx context.Context, appID string) ([]*domain.Deployment, error)
	FindLatestSuccessful(ctx context.Context, appID string) (*domain.Deployment, error)
}

type OfflineRepository interface {
	Save(ctx context.Context, op *domain.OfflineOperation) error
	Update(ctx context.Context, op *domain.OfflineOperation) error
	FindByID(ctx context.Context, id string) (*domain.OfflineOperation, error)
	FindPending(ctx context.Context, appID string) ([]*domain.OfflineOperation, error)
}

// StreamLineSummary 是某条日志流中一段日志的统计。
type StreamLineSummary struct {
	Count int64
	First time.Time
	Last  time.Time
}

type OutputStreamRepository interface {
	CreateStream(ctx context.Context, stream *domain.OutputStream) error
	FindStream(ctx context.Context, id string) (*domain.OutputStream, error)
	AppendLine(ctx context.Context, line *domain.OutputStreamLine) error
	// ListLines 返回 ID 大于 afterID 的日志行，按 ID 升序。
	ListLines(ctx context.Context, streamID string, afterID int64, limit int) ([]*domain.OutputStreamLine, error)
	// StreamsWithLinesBefore 返回 ID 大于 afterStreamID 且存在早于 before 的日志的流。
	StreamsWithLinesBefore(ctx context.Context, before time.Time, afterStreamID string, limit int) ([]string, error)
	SummarizeLinesBefore(ctx context.Context, streamID string, before time.Time) (StreamLineSummary, error)
	// RetireLinesBefore 把早于 before 的日志替换为一行占位，返回被替换的行数。
	RetireLinesBefore(ctx context.Context, streamID string, before time.Time, placeholder string) (int64, error)
}

type DomainRepository interface {
	// Upsert 以 (host, path_prefix) 为唯一键创建或更新。
	Upsert(ctx context.Context, d *domain.Domain) error
	FindByEnv(ctx context.Context, appCode, moduleName string, env domain.Environment) ([]*domain.Domain, error)
	Delete(ctx context.Context, id string) error
}

type AddressRepository interface {
	// ReplaceDomains 替换环境下某一来源的全部独立域名。
	ReplaceDomains(ctx context.Context, appID string, source domain.AddressSource, domains []*domain.AppDomain) error
	ReplaceSubpaths(ctx context.Context, appID string, source domain.AddressSource, subpaths []*domain.AppSubpath) error
	FindDomains(ctx context.Context, appID string) ([]*domain.AppDomain, error)
	FindSubpaths(ctx context.Context, appID string) ([]*domain.AppSubpath, error)
	DeleteByApp(ctx context.Context, appID string) error
}

type ClusterStateRepository interface {
	Save(ctx context.Context, state *domain.RegionClusterState) error
	FindLatest(ctx context.Context, region, clusterName string) (*domain.RegionClusterState, error)
	Count(ctx context.Context, region, clusterName string) (int, error)
	FindByName(ctx context.Context, name string) (*domain.RegionClusterState, error)
	SaveBinding(ctx context.Context, binding *domain.RCStateAppBinding) error
	FindBinding(ctx context.Context, appID string) (*domain.RCStateAppBinding, error)
	DeleteBinding(ctx context.Context, appID string) error
}

type MonitorRepository interface {
	Save(ctx context.Context, m *domain.AppMetricsMonitor) error
	FindByApp(ctx context.Context, appID string) (*domain.AppMetricsMonitor, error)
	Delete(ctx context.Context, appID string) error
}

type ConfigVarRepository interface {
	Save(ctx context.Context, v *domain.ConfigVar) error
	FindByModule(ctx context.Context, appCode, moduleName string) ([]*domain.ConfigVar, error)
	Delete(ctx context.Context, id string) error
}

type AddonRepository interface {
	SaveBinding(ctx context.Context, b *domain.AddonBinding) error
	FindBindings(ctx context.Context, appCode, moduleName string, env domain.Environment) ([]*domain.AddonBinding, error)
	FindBinding(ctx context.Context, appCode, moduleName string, env domain.Environment, service string) (*domain.AddonBinding, error)
	SaveShare(ctx context.Context, s *domain.SharedAddon) error
	FindShares(ctx context.Context, appCode, moduleName string) ([]*domain.SharedAddon, error)
	FindShare(ctx context.Context, appCode, moduleName, service string) (*domain.SharedAddon, error)
	SaveServiceDiscovery(ctx context.Context, sd *domain.ServiceDiscovery) error
	FindServiceDiscovery(ctx context.Context, appCode, moduleName string) (*domain.ServiceDiscovery, error)
}

type SandboxRepository interface {
	Save(ctx context.Context, s *domain.Sandbox) error
	Update(ctx context.Context, s *domain.Sandbox) error
	FindByID(ctx context.Context, id string) (*domain.Sandbox, error)
	Delete(ctx context.Context, id string) error
}
