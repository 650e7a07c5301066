package domain

import (
	"fmt"
	"strings"
	"time"
)

// Environment 是模块的部署环境。
type Environment string

const (
	EnvStag Environment = "stag"
	EnvProd Environment = "prod"
)

// AllEnvironments 按固定顺序列出所有环境。
var AllEnvironments = []Environment{EnvStag, EnvProd}

func (e Environment) Valid() bool {
	return e == EnvStag || e == EnvProd
}

// WlAppType 决定应用走普通 Deployment 还是云原生 BkApp 流程。
type WlAppType string

const (
	WlAppTypeDefault     WlAppType = "default"
	WlAppTypeCloudNative WlAppType = "cloud_native"
)

// MapperVersion 是 K8s 资源命名/标签方案的版本。
type MapperVersion string

const (
	MapperV1 MapperVersion = "v1"
	MapperV2 MapperVersion = "v2"
)

// DefaultModuleName 是应用默认模块名。
const DefaultModuleName = "default"

// WlApp 代表一个模块环境在集群中的具体身份，一个 WlApp 对应一个 K8s 命名空间。
type WlApp struct {
	UUID        string      `json:"uuid"`
	Name        string      `json:"name"` // 用作 K8s 资源名前缀
	Region      string      `json:"region"`
	TenantID    string      `json:"tenant_id"`
	Type        WlAppType   `json:"type"`
	AppCode     string      `json:"app_code"`
	ModuleName  string      `json:"module_name"`
	Environment Environment `json:"environment"`
	ClusterName string      `json:"cluster_name"`
	// IsDefaultModule 影响访问地址生成（短地址只分配给默认模块）
	IsDefaultModule bool           `json:"is_default_module"`
	ExposedURLType  ExposedURLType `json:"exposed_url_type"`
	// MapperVersion 为当前生效的资源方案，PrevMapperVersion 记录待回收的旧方案
	MapperVersion     MapperVersion `json:"mapper_version"`
	PrevMapperVersion MapperVersion `json:"prev_mapper_version,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Namespace 返回应用环境所在命名空间：bkapp-{code}-{env}。
func (a *WlApp) Namespace() string {
	return fmt.Sprintf("bkapp-%s-%s", dnsSafe(a.AppCode), a.Environment)
}

// SafeName 返回可直接用于 K8s 资源名的应用名。
func (a *WlApp) SafeName() string {
	return dnsSafe(a.Name)
}

// BaseLabels 是写入 K8s 的每个资源都必须携带的标签。
func (a *WlApp) BaseLabels() map[string]string {
	return map[string]string{
		LabelAppCode:    a.AppCode,
		LabelModuleName: a.ModuleName,
		LabelEnv:        string(a.Environment),
	}
}

// ImagePullSecretName 是环境命名空间下镜像拉取凭证 Secret 的名称。
func (a *WlApp) ImagePullSecretName() string {
	return "image-pull-secret-" + a.SafeName()
}

// EnvConfigMapName 是环境变量镜像 ConfigMap 的名称，仅供运维查看。
func (a *WlApp) EnvConfigMapName() string {
	return a.SafeName() + "-envs"
}

// IsCloudNative 判断应用是否走 BkApp CRD 流程。
func (a *WlApp) IsCloudNative() bool {
	return a.Type == WlAppTypeCloudNative
}

const (
	LabelAppCode        = "bk_app_code"
	LabelModuleName     = "module_name"
	LabelEnv            = "env"
	LabelProcessID      = "process_id"
	LabelRegion         = "region"
	LabelCategory       = "category"
	LabelMapperVersion  = "mapper_version"
	LabelReleaseVersion = "release_version"
)

// EngineAppName 生成模块环境对应的 WlApp 名称。
func EngineAppName(appCode, moduleName string, env Environment) string {
	if moduleName == "" || moduleName == DefaultModuleName {
		return fmt.Sprintf("bkapp-%s-%s", appCode, env)
	}
	return fmt.Sprintf("bkapp-%s-m-%s-%s", appCode, moduleName, env)
}

// dnsSafe 把下划线替换为 0us0，保证名称可用于 DNS-1123。
func dnsSafe(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "0us0"))
}

// SafeAppID 是 dnsSafe 的导出版本，沙箱命名空间等场景使用。
func SafeAppID(appCode string) string {
	return dnsSafe(appCode)
}
