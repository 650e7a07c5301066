package domain

import (
	"strings"
	"time"
)

// 注入到用户容器中的内置环境变量名。
const (
	EnvAppID                  = "BKPAAS_APP_ID"
	EnvAppSecret              = "BKPAAS_APP_SECRET"
	EnvModuleName             = "BKPAAS_APP_MODULE_NAME"
	EnvEnvironment            = "BKPAAS_ENVIRONMENT"
	EnvEngineRegion           = "BKPAAS_ENGINE_REGION"
	EnvDefaultPreallocatedURL = "BKPAAS_DEFAULT_PREALLOCATED_URLS"
	EnvServiceAddresses       = "BKPAAS_SERVICE_ADDRESSES_BKSAAS"
	EnvPort                   = "PORT"
	EnvSlugGetURL             = "SLUG_GET_URL"
)

// ConfigVarScope 是用户环境变量的生效范围。
type ConfigVarScope string

const (
	ScopeGlobal ConfigVarScope = "_global_"
	ScopeStag   ConfigVarScope = ConfigVarScope(EnvStag)
	ScopeProd   ConfigVarScope = ConfigVarScope(EnvProd)
)

// ConfigVar 是用户配置的环境变量。
type ConfigVar struct {
	ID         string         `json:"id"`
	AppCode    string         `json:"app_code"`
	ModuleName string         `json:"module_name"`
	Scope      ConfigVarScope `json:"scope"`
	Key        string         `json:"key"`
	Value      string         `json:"value"`
	// Preset 为 true 表示来自应用描述文件
	Preset    bool      `json:"preset"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AddonBinding 是模块绑定的增强服务凭证。
type AddonBinding struct {
	AppCode     string            `json:"app_code"`
	ModuleName  string            `json:"module_name"`
	Environment Environment       `json:"environment"`
	Service     string            `json:"service"`
	Credentials map[string]string `json:"credentials"`
}

// SharedAddon 表示模块共享另一个模块的增强服务。
type SharedAddon struct {
	AppCode    string `json:"app_code"`
	ModuleName string `json:"module_name"`
	RefModule  string `json:"ref_module"`
	Service    string `json:"service"`
}

// ServiceDiscovery 是模块声明依赖的其他 SaaS。
type ServiceDiscovery struct {
	AppCode    string      `json:"app_code"`
	ModuleName string      `json:"module_name"`
	BkSaaS     []BkSaaSRef `json:"bk_saas"`
}

type BkSaaSRef struct {
	BkAppCode  string `json:"bk_app_code"`
	ModuleName string `json:"module_name,omitempty"`
}

// FlattenCredentials 以服务名为前缀展开增强服务凭证，已带前缀的键保持原样。
func FlattenCredentials(service string, credentials map[string]string) map[string]string {
	prefix := strings.ToUpper(strings.ReplaceAll(service, "-", "_")) + "_"
	out := make(map[string]string, len(credentials))
	for k, v := range credentials {
		key := strings.ToUpper(k)
		if !strings.HasPrefix(key, prefix) {
			key = prefix + key
		}
		out[key] = v
	}
	return out
}

// MergeEnvs 按顺序合并，后者覆盖前者。
func MergeEnvs(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}
