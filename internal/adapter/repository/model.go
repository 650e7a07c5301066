package repository

import (
	"time"

	"gorm.io/datatypes"
)

// ClusterModel 是 Cluster 的持久化模型，连接与入口配置整体存为 JSON。
type ClusterModel struct {
	Name      string `gorm:"primaryKey"`
	Region    string `gorm:"index"`
	TenantID  string `gorm:"index"`
	IsDefault bool
	Spec      datatypes.JSON
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ClusterModel) TableName() string { return "clusters" }

// WlAppModel 是 WlApp 的持久化模型。
type WlAppModel struct {
	UUID              string `gorm:"primaryKey"`
	Name              string `gorm:"uniqueIndex"`
	Region            string
	TenantID          string
	Type              string
	AppCode           string `gorm:"uniqueIndex:idx_module_env"`
	ModuleName        string `gorm:"uniqueIndex:idx_module_env"`
	Environment       string `gorm:"uniqueIndex:idx_module_env"`
	ClusterName       string `gorm:"index"`
	IsDefaultModule   bool
	ExposedURLType    string
	MapperVersion     string
	PrevMapperVersion string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (WlAppModel) TableName() string { return "wl_apps" }

// AppSecretModel 保存应用访问密钥。
type AppSecretModel struct {
	AppCode   string `gorm:"primaryKey"`
	Secret    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AppSecretModel) TableName() string { return "app_secrets" }

// BuildModel 是 Build 的持久化模型。
type BuildModel struct {
	UUID               string `gorm:"primaryKey"`
	AppID              string `gorm:"index"`
	Image              string
	Procfile           datatypes.JSON
	BuildpacksMetadata datatypes.JSON
	ArtifactType       string
	SlugPath           string
	SourceRevision     string
	CreatedAt          time.Time
}

func (BuildModel) TableName() string { return "builds" }

// BuildProcessModel 是 BuildProcess 的持久化模型。
type BuildProcessModel struct {
	UUID               string `gorm:"primaryKey"`
	AppID              string `gorm:"index"`
	SourceTarPath      string
	Revision           string
	BuildpacksRequired datatypes.JSON
	Status             string
	BuildID            string
	InvokeMessage      string `gorm:"type:text"`
	StreamID           string
	IntRequestedAt     *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (BuildProcessModel) TableName() string { return "build_processes" }

// ReleaseModel 是 Release 的持久化模型，(app_id, version) 唯一。
type ReleaseModel struct {
	UUID           string `gorm:"primaryKey"`
	AppID          string `gorm:"uniqueIndex:idx_app_version"`
	Version        int    `gorm:"uniqueIndex:idx_app_version"`
	BuildID        string
	Image          string
	ArtifactType   string
	SlugPath       string
	ConfigSnapshot datatypes.JSON
	Procfile       datatypes.JSON
	Summary        string `gorm:"type:text"`
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ReleaseModel) TableName() string { return "releases" }

// ProcessSpecModel 是 ProcessSpec 的持久化模型。
type ProcessSpecModel struct {
	ID             string `gorm:"primaryKey"`
	AppCode        string `gorm:"uniqueIndex:idx_module_proc"`
	ModuleName     string `gorm:"uniqueIndex:idx_module_proc"`
	Name           string `gorm:"uniqueIndex:idx_module_proc"`
	ProcCommand    string `gorm:"type:text"`
	Command        datatypes.JSON
	Args           datatypes.JSON
	TargetReplicas *int
	Plan           string
	Probes         datatypes.JSON
	Autoscaling    bool
	ScalingConfig  datatypes.JSON
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ProcessSpecModel) TableName() string { return "process_specs" }

// ProcessOverlayModel 是进程在环境下的覆盖配置。
type ProcessOverlayModel struct {
	SpecID         string `gorm:"primaryKey"`
	Environment    string `gorm:"primaryKey"`
	TargetReplicas *int
	TargetStatus   string
	Autoscaling    *bool
	ScalingConfig  datatypes.JSON
	Plan           string
	LastOperatedAt *time.Time
	UpdatedAt      time.Time
}

func (ProcessOverlayModel) TableName() string { return "process_spec_env_overlays" }

// CommandModel 是 Command 的持久化模型。
type CommandModel struct {
	UUID           string `gorm:"primaryKey"`
	AppID          string `gorm:"index"`
	Type           string
	Command        string `gorm:"type:text"`
	Status         string
	ExitCode       *int
	ReleaseVersion int
	DeploymentID   string
	StreamID       string
	Operator       string
	IntRequestedAt *time.Time
	StartTime      *time.Time
	EndTime        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CommandModel) TableName() string { return "commands" }

// DeploymentModel 是 Deployment 的持久化模型，发布参数整体存为 JSON。
type DeploymentModel struct {
	UUID           string `gorm:"primaryKey"`
	AppID          string `gorm:"index"`
	Status         string `gorm:"index"`
	Spec           datatypes.JSON
	Streams        datatypes.JSON
	BuildProcessID string
	BuildID        string
	ReleaseVersion int
	HookCommandID  string
	ErrDetail      string `gorm:"type:text"`
	IntRequestedAt *time.Time
	StartTime      *time.Time
	CompleteTime   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (DeploymentModel) TableName() string { return "deployments" }

// OfflineModel 是 OfflineOperation 的持久化模型。
type OfflineModel struct {
	UUID      string `gorm:"primaryKey"`
	AppID     string `gorm:"index"`
	Status    string
	Operator  string
	ErrDetail string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OfflineModel) TableName() string { return "offline_operations" }

// OutputStreamModel 是部署日志流。
type OutputStreamModel struct {
	UUID      string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (OutputStreamModel) TableName() string { return "output_streams" }

// OutputStreamLineModel 是日志流中的一行。
type OutputStreamLineModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	StreamID  string `gorm:"index:idx_stream_created"`
	Stream    string
	Line      string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index:idx_stream_created"`
}

func (OutputStreamLineModel) TableName() string { return "output_stream_lines" }

// DomainModel 是自定义域名，(name, path_prefix) 唯一。
type DomainModel struct {
	ID            string `gorm:"primaryKey"`
	AppCode       string `gorm:"index:idx_domain_env"`
	ModuleName    string `gorm:"index:idx_domain_env"`
	Environment   string `gorm:"index:idx_domain_env"`
	Name          string `gorm:"uniqueIndex:idx_host_path"`
	PathPrefix    string `gorm:"uniqueIndex:idx_host_path"`
	HTTPSEnabled  bool
	TLSSecretName string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (DomainModel) TableName() string { return "custom_domains" }

// AppDomainModel 是为环境分配的独立域名。
type AppDomainModel struct {
	ID           string `gorm:"primaryKey"`
	AppID        string `gorm:"index"`
	Host         string
	Source       string
	HTTPSEnabled bool
	Reserved     bool
	CreatedAt    time.Time
}

func (AppDomainModel) TableName() string { return "app_domains" }

// AppSubpathModel 是为环境分配的子路径。
type AppSubpathModel struct {
	ID           string `gorm:"primaryKey"`
	AppID        string `gorm:"index"`
	Host         string
	Subpath      string
	Source       string
	HTTPSEnabled bool
	Reserved     bool
	CreatedAt    time.Time
}

func (AppSubpathModel) TableName() string { return "app_subpaths" }

// ClusterStateModel 是 RegionClusterState 的持久化模型。
type ClusterStateModel struct {
	ID          string `gorm:"primaryKey"`
	Region      string `gorm:"index:idx_region_cluster"`
	ClusterName string `gorm:"index:idx_region_cluster"`
	Name        string `gorm:"uniqueIndex"`
	NodesDigest string
	NodesName   datatypes.JSON
	NodesData   datatypes.JSON
	CreatedAt   time.Time
}

func (ClusterStateModel) TableName() string { return "region_cluster_states" }

// ClusterStateBindingModel 是 RCStateAppBinding 的持久化模型，每个应用至多一个。
type ClusterStateBindingModel struct {
	AppID     string `gorm:"primaryKey"`
	StateID   string
	StateName string
	CreatedAt time.Time
}

func (ClusterStateBindingModel) TableName() string { return "rcstate_app_bindings" }

// MetricsMonitorModel 是 AppMetricsMonitor 的持久化模型。
type MetricsMonitorModel struct {
	AppID      string `gorm:"primaryKey"`
	Port       int32
	TargetPort int32
	Path       string
	Interval   string
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (MetricsMonitorModel) TableName() string { return "app_metrics_monitors" }

// ConfigVarModel 是用户环境变量。
type ConfigVarModel struct {
	ID         string `gorm:"primaryKey"`
	AppCode    string `gorm:"uniqueIndex:idx_var_key"`
	ModuleName string `gorm:"uniqueIndex:idx_var_key"`
	Scope      string `gorm:"uniqueIndex:idx_var_key"`
	Key        string `gorm:"uniqueIndex:idx_var_key"`
	Value      string `gorm:"type:text"`
	Preset     bool   `gorm:"uniqueIndex:idx_var_key"`
	UpdatedAt  time.Time
}

func (ConfigVarModel) TableName() string { return "config_vars" }

// AddonBindingModel 是模块环境绑定的增强服务凭证。
type AddonBindingModel struct {
	AppCode     string `gorm:"primaryKey"`
	ModuleName  string `gorm:"primaryKey"`
	Environment string `gorm:"primaryKey"`
	Service     string `gorm:"primaryKey"`
	Credentials datatypes.JSON
	UpdatedAt   time.Time
}

func (AddonBindingModel) TableName() string { return "addon_bindings" }

// SharedAddonModel 是模块间的增强服务共享关系。
type SharedAddonModel struct {
	AppCode    string `gorm:"primaryKey"`
	ModuleName string `gorm:"primaryKey"`
	Service    string `gorm:"primaryKey"`
	RefModule  string
	CreatedAt  time.Time
}

func (SharedAddonModel) TableName() string { return "shared_addons" }

// ServiceDiscoveryModel 是模块声明的 SaaS 依赖。
type ServiceDiscoveryModel struct {
	AppCode    string `gorm:"primaryKey"`
	ModuleName string `gorm:"primaryKey"`
	BkSaaS     datatypes.JSON
	UpdatedAt  time.Time
}

func (ServiceDiscoveryModel) TableName() string { return "service_discoveries" }

// SandboxModel 是 Sandbox 的持久化模型。
type SandboxModel struct {
	UUID        string `gorm:"primaryKey"`
	Kind        string
	AppCode     string `gorm:"index"`
	ModuleName  string
	Environment string
	ClusterName string
	Image       string
	Envs        datatypes.JSON
	DaemonPort  int32
	Workdir     string
	Resources   datatypes.JSON
	NodePort    bool
	Status      string
	Operator    string
	CreatedAt   time.Time
}

func (SandboxModel) TableName() string { return "sandboxes" }

// allModels 是 AutoMigrate 的完整列表。
var allModels = []any{
	&ClusterModel{},
	&WlAppModel{},
	&AppSecretModel{},
	&BuildModel{},
	&BuildProcessModel{},
	&ReleaseModel{},
	&ProcessSpecModel{},
	&ProcessOverlayModel{},
	&CommandModel{},
	&DeploymentModel{},
	&OfflineModel{},
	&OutputStreamModel{},
	&OutputStreamLineModel{},
	&DomainModel{},
	&AppDomainModel{},
	&AppSubpathModel{},
	&ClusterStateModel{},
	&ClusterStateBindingModel{},
	&MetricsMonitorModel{},
	&ConfigVarModel{},
	&AddonBindingModel{},
	&SharedAddonModel{},
	&ServiceDiscoveryModel{},
	&SandboxModel{},
}
