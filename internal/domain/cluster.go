package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ClusterFeatureFlag 是集群级别的功能开关。
type ClusterFeatureFlag string

const (
	FeatureMountLogToHost      ClusterFeatureFlag = "ENABLE_MOUNT_LOG_TO_HOST"
	FeatureIngressUseRegex     ClusterFeatureFlag = "INGRESS_USE_REGEX"
	FeatureBkMonitor           ClusterFeatureFlag = "ENABLE_BK_MONITOR"
	FeatureBkLogCollector      ClusterFeatureFlag = "ENABLE_BK_LOG_COLLECTOR"
	FeatureAutoscaling         ClusterFeatureFlag = "ENABLE_AUTOSCALING"
	FeatureBcsEgress           ClusterFeatureFlag = "ENABLE_BCS_EGRESS"
	FeatureSandboxNodePort     ClusterFeatureFlag = "ENABLE_SANDBOX_NODE_PORT"
	FeatureLegacyTokenSecrets  ClusterFeatureFlag = "LEGACY_SA_TOKEN_SECRETS"
	FeatureServiceMonitorBeta1 ClusterFeatureFlag = "SERVICE_MONITOR_V1BETA1"
)

// Cluster 是一个已注册的 K8s 集群。
type Cluster struct {
	Name                string                      `json:"name"`
	Region              string                      `json:"region"`
	TenantID            string                      `json:"tenant_id"`
	AvailableTenantIDs  []string                    `json:"available_tenant_ids,omitempty"`
	IsDefault           bool                        `json:"is_default"`
	APIServers          []APIServer                 `json:"api_servers"`
	Auth                ClusterAuth                 `json:"auth"`
	IngressConfig       IngressConfig               `json:"ingress_config"`
	FeatureFlags        map[ClusterFeatureFlag]bool `json:"feature_flags,omitempty"`
	ElasticSearch       *ElasticSearchConfig        `json:"elasticsearch_config,omitempty"`
	Annotations         map[string]string           `json:"annotations,omitempty"`
	DefaultNodeSelector map[string]string           `json:"default_node_selector,omitempty"`
	DefaultTolerations  []Toleration                `json:"default_tolerations,omitempty"`
	CreatedAt           time.Time                   `json:"created_at"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

// HasFeature 判断集群是否开启了某个功能。
func (c *Cluster) HasFeature(flag ClusterFeatureFlag) bool {
	return c.FeatureFlags[flag]
}

// AvailableForTenant 判断租户能否使用该集群。
func (c *Cluster) AvailableForTenant(tenantID string) bool {
	if c.TenantID == tenantID {
		return true
	}
	return slices.Contains(c.AvailableTenantIDs, tenantID)
}

// Validate 校验集群配置的完整性。
func (c *Cluster) Validate() error {
	if c.Name == "" {
		return &ValidationError{Field: "name", Message: "cluster name is required"}
	}
	if len(c.APIServers) == 0 {
		return &ValidationError{Field: "api_servers", Message: "at least one api server is required"}
	}
	for i, s := range c.APIServers {
		if !strings.HasPrefix(s.URL, "https://") && !strings.HasPrefix(s.URL, "http://") {
			return &ValidationError{Field: fmt.Sprintf("api_servers[%d]", i), Message: "url must start with http:// or https://"}
		}
		auth := c.Auth
		if s.Auth != nil {
			auth = *s.Auth
		}
		if err := auth.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// APIServer 是集群的一个 apiserver 入口。
// OverriddenHostname 非空时，请求使用该主机名（保证 SNI 与证书匹配），实际连接 URL 中的 IP。
type APIServer struct {
	URL                string       `json:"url"`
	OverriddenHostname string       `json:"overridden_hostname,omitempty"`
	Auth               *ClusterAuth `json:"auth,omitempty"`
}

// ClusterAuth 二选一：Bearer Token，或 CA + 客户端证书 + 私钥。
type ClusterAuth struct {
	Token              string `json:"token,omitempty"`
	CACert             string `json:"ca_cert,omitempty"`
	ClientCert         string `json:"client_cert,omitempty"`
	ClientKey          string `json:"client_key,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

func (a ClusterAuth) Validate() error {
	if a.Token != "" {
		return nil
	}
	if a.ClientCert != "" && a.ClientKey != "" {
		return nil
	}
	return &ValidationError{Field: "auth", Message: "either token or client cert/key pair is required"}
}

// ElasticSearchConfig 是集群日志采集后端的连接信息。
type ElasticSearchConfig struct {
	Scheme   string `json:"scheme"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// Toleration 与 corev1.Toleration 字段一致，领域层不直接依赖 k8s api。
type Toleration struct {
	Key               string `json:"key,omitempty"`
	Operator          string `json:"operator,omitempty"`
	Value             string `json:"value,omitempty"`
	Effect            string `json:"effect,omitempty"`
	TolerationSeconds *int64 `json:"toleration_seconds,omitempty"`
}

// DomainConfig 是集群提供的一个根域名。
type DomainConfig struct {
	Name         string `json:"name"`
	Reserved     bool   `json:"reserved"`
	HTTPSEnabled bool   `json:"https_enabled"`
}

// PortMap 是集群入口网关的端口。
type PortMap struct {
	HTTP  int `json:"http"`
	HTTPS int `json:"https"`
}

// PortFor 返回协议对应端口，未配置时取默认值。
func (p PortMap) PortFor(https bool) int {
	if https {
		if p.HTTPS == 0 {
			return 443
		}
		return p.HTTPS
	}
	if p.HTTP == 0 {
		return 80
	}
	return p.HTTP
}

// CertRef 是集群中预置的 TLS 证书，Domains 支持 *.example.com 通配。
type CertRef struct {
	SecretName string   `json:"secret_name"`
	Domains    []string `json:"domains"`
}

// IngressConfig 是集群的入口配置。
type IngressConfig struct {
	AppRootDomains    []DomainConfig `json:"app_root_domains,omitempty"`
	SubPathDomains    []DomainConfig `json:"sub_path_domains,omitempty"`
	PortMap           PortMap        `json:"port_map"`
	FrontendIngressIP string         `json:"frontend_ingress_ip,omitempty"`
	Certificates      []CertRef      `json:"certificates,omitempty"`
}

// FindCertificate 返回能覆盖 host 的证书 Secret 名称。
func (c IngressConfig) FindCertificate(host string) (string, bool) {
	for _, cert := range c.Certificates {
		for _, d := range cert.Domains {
			if matchDomain(d, host) {
				return cert.SecretName, true
			}
		}
	}
	return "", false
}

func matchDomain(pattern, host string) bool {
	if pattern == host {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		head, rest, found := strings.Cut(host, ".")
		return found && head != "" && rest == suffix
	}
	return false
}
