package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ExposedURLType 是模块访问地址的形态。
type ExposedURLType string

const (
	ExposedSubdomain ExposedURLType = "subdomain"
	ExposedSubpath   ExposedURLType = "subpath"
)

// AddressSource 是地址分配的来源。
type AddressSource string

const (
	SourceAutoGen AddressSource = "auto_gen"
	SourceBuiltIn AddressSource = "built_in"
	SourceCustom  AddressSource = "custom"
	SourceLegacy  AddressSource = "legacy"
)

// AppDomain 是为环境分配的独立域名。
type AppDomain struct {
	ID           string        `json:"id"`
	AppID        string        `json:"app_id"`
	Host         string        `json:"host"`
	Source       AddressSource `json:"source"`
	HTTPSEnabled bool          `json:"https_enabled"`
	Reserved     bool          `json:"reserved"`
	CreatedAt    time.Time     `json:"created_at"`
}

// AppSubpath 是为环境分配的子路径，挂在集群的子路径根域名下。
type AppSubpath struct {
	ID           string        `json:"id"`
	AppID        string        `json:"app_id"`
	Host         string        `json:"host"`
	Subpath      string        `json:"subpath"`
	Source       AddressSource `json:"source"`
	HTTPSEnabled bool          `json:"https_enabled"`
	Reserved     bool          `json:"reserved"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Domain 是用户自定义域名。
type Domain struct {
	ID            string      `json:"id"`
	AppCode       string      `json:"app_code"`
	ModuleName    string      `json:"module_name"`
	Environment   Environment `json:"environment"`
	Name          string      `json:"name"`
	PathPrefix    string      `json:"path_prefix"`
	HTTPSEnabled  bool        `json:"https_enabled"`
	TLSSecretName string      `json:"tls_secret_name,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (d *Domain) Validate() error {
	if d.Name == "" || strings.ContainsAny(d.Name, " /:") {
		return &ValidationError{Field: "domain_name", Message: fmt.Sprintf("%q is not a valid hostname", d.Name)}
	}
	if !strings.HasPrefix(d.PathPrefix, "/") || !strings.HasSuffix(d.PathPrefix, "/") {
		return &ValidationError{Field: "path_prefix", Message: "must start and end with '/'"}
	}
	if !d.Environment.Valid() {
		return &ValidationError{Field: "app_env", Message: fmt.Sprintf("unknown environment %q", d.Environment)}
	}
	return nil
}

// AddressType 是访问地址类别。
type AddressType string

const (
	AddressSubdomain AddressType = "subdomain"
	AddressSubpath   AddressType = "subpath"
	AddressCustom    AddressType = "custom"
)

// Address 是一个可对外访问的 URL。
type Address struct {
	Type     AddressType   `json:"type"`
	Host     string        `json:"host"`
	Path     string        `json:"path"`
	HTTPS    bool          `json:"https"`
	Port     int           `json:"port"`
	Reserved bool          `json:"reserved"`
	Source   AddressSource `json:"source"`
}

// URL 渲染完整地址，默认端口不显示。
func (a Address) URL() string {
	scheme := "http"
	defaultPort := 80
	if a.HTTPS {
		scheme = "https"
		defaultPort = 443
	}
	host := a.Host
	if a.Port != 0 && a.Port != defaultPort {
		host = fmt.Sprintf("%s:%d", a.Host, a.Port)
	}
	path := a.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

// candidate 是排序用的地址候选，short 越小越靠前。
type candidate struct {
	addr  Address
	short int
	index int
}

// SubdomainHosts 返回模块环境在一个根域名下的候选主机名，短地址在前。
// 默认模块：prod 为 {code}.{root}，其余为 {env}-dot-{code}.{root}；
// 所有模块都有完整形式 {env}-dot-{module}-dot-{code}.{root}。
func SubdomainHosts(code, module string, env Environment, isDefaultModule bool, root string) []string {
	full := fmt.Sprintf("%s-dot-%s-dot-%s.%s", env, module, code, root)
	var hosts []string
	if isDefaultModule {
		if env == EnvProd {
			hosts = append(hosts, fmt.Sprintf("%s.%s", code, root))
		} else {
			hosts = append(hosts, fmt.Sprintf("%s-dot-%s.%s", env, code, root))
		}
	} else if env == EnvProd {
		hosts = append(hosts, fmt.Sprintf("%s-dot-%s.%s", module, code, root))
	}
	return append(hosts, full)
}

// SubpathPaths 返回模块环境的候选子路径，短路径在前，兼容路径 /{region}-{engine_app_name}/ 最后。
func SubpathPaths(code, module string, env Environment, isDefaultModule bool, region, engineAppName string) []string {
	var paths []string
	if isDefaultModule {
		if env == EnvProd {
			paths = append(paths, fmt.Sprintf("/%s/", code))
		} else {
			paths = append(paths, fmt.Sprintf("/%s--%s/", env, code))
		}
	}
	paths = append(paths, fmt.Sprintf("/%s--%s--%s/", env, module, code))
	if region != "" && engineAppName != "" {
		paths = append(paths, fmt.Sprintf("/%s-%s/", region, engineAppName))
	}
	return paths
}

// GenerateAddresses 按集群入口配置生成环境的全部自动地址。
// 排序规则：非保留域名在前，同类中短地址在前，其余保持配置顺序。
func GenerateAddresses(app *WlApp, cfg IngressConfig) []Address {
	var cands []candidate
	idx := 0
	add := func(a Address, short int) {
		cands = append(cands, candidate{addr: a, short: short, index: idx})
		idx++
	}
	switch app.ExposedURLType {
	case ExposedSubpath:
		for _, d := range cfg.SubPathDomains {
			paths := SubpathPaths(app.AppCode, app.ModuleName, app.Environment, app.IsDefaultModule, app.Region, app.Name)
			for i, p := range paths {
				source := SourceAutoGen
				if i == len(paths)-1 && app.Region != "" {
					source = SourceLegacy
				}
				add(Address{
					Type: AddressSubpath, Host: d.Name, Path: p, HTTPS: d.HTTPSEnabled,
					Port: cfg.PortMap.PortFor(d.HTTPSEnabled), Reserved: d.Reserved, Source: source,
				}, i)
			}
		}
	default:
		for _, d := range cfg.AppRootDomains {
			for i, h := range SubdomainHosts(app.AppCode, app.ModuleName, app.Environment, app.IsDefaultModule, d.Name) {
				add(Address{
					Type: AddressSubdomain, Host: h, Path: "/", HTTPS: d.HTTPSEnabled,
					Port: cfg.PortMap.PortFor(d.HTTPSEnabled), Reserved: d.Reserved, Source: SourceAutoGen,
				}, i)
			}
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.addr.Reserved != b.addr.Reserved {
			return !a.addr.Reserved
		}
		if a.short != b.short {
			return a.short < b.short
		}
		return a.index < b.index
	})
	out := make([]Address, len(cands))
	for i, c := range cands {
		out[i] = c.addr
	}
	return out
}

// CustomDomainAddress 把自定义域名转换为地址。
func CustomDomainAddress(d *Domain, cfg IngressConfig) Address {
	return Address{
		Type:   AddressCustom,
		Host:   d.Name,
		Path:   d.PathPrefix,
		HTTPS:  d.HTTPSEnabled,
		Port:   cfg.PortMap.PortFor(d.HTTPSEnabled),
		Source: SourceCustom,
	}
}

// IngressDomain 是 Ingress 中的一条主机规则。
type IngressDomain struct {
	Host           string   `json:"host"`
	PathPrefixList []string `json:"path_prefix_list"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSSecretName  string   `json:"tls_secret_name,omitempty"`
}

// ProcessIngress 是一个 Ingress 资源的领域描述。
type ProcessIngress struct {
	App                  *WlApp            `json:"-"`
	Name                 string            `json:"name"`
	ServiceName          string            `json:"service_name"`
	ServicePortName      string            `json:"service_port_name"`
	Domains              []IngressDomain   `json:"domains"`
	ConfigurationSnippet string            `json:"configuration_snippet,omitempty"`
	ServerSnippet        string            `json:"server_snippet,omitempty"`
	Annotations          map[string]string `json:"annotations,omitempty"`
	// SetHeaderXScriptName 为子路径请求注入 X-Script-Name 头
	SetHeaderXScriptName bool `json:"set_header_x_script_name"`
	RewriteToRoot        bool `json:"rewrite_to_root"`
}

// DomainGroupMapping 是云原生应用的域名分组映射（CRD）。
type DomainGroupMapping struct {
	App       *WlApp        `json:"-"`
	Name      string        `json:"name"`
	BkAppName string        `json:"bkapp_name"`
	Groups    []DomainGroup `json:"groups"`
}

// DomainGroup 按来源分组的域名集合。
type DomainGroup struct {
	SourceType AddressSource   `json:"source_type"`
	Domains    []IngressDomain `json:"domains"`
}
