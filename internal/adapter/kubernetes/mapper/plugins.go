package mapper

import (
	"fmt"
	"strings"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// IngressPlugin 为 Ingress 贡献 nginx 配置片段，未配置时返回空串。
type IngressPlugin interface {
	Name() string
	ConfigurationSnippet(app *domain.WlApp, domains []domain.IngressDomain) string
	ServerSnippet(app *domain.WlApp, domains []domain.IngressDomain) string
}

// AccessControlConfig 是访问控制插件在一个 region 下的配置。
type AccessControlConfig struct {
	Enabled   bool   `yaml:"enabled"`
	LuaModule string `yaml:"lua_module"`
}

// AccessControlPlugin 通过 access_by_lua 调用网关共享模块做访问控制。
type AccessControlPlugin struct {
	// region → config
	Configs map[string]AccessControlConfig
}

func (p *AccessControlPlugin) Name() string { return "access_control" }

func (p *AccessControlPlugin) ConfigurationSnippet(app *domain.WlApp, _ []domain.IngressDomain) string {
	cfg, ok := p.Configs[app.Region]
	if !ok || !cfg.Enabled || cfg.LuaModule == "" {
		return ""
	}
	lines := []string{
		fmt.Sprintf("set $bkapp_app_code '%s';", app.AppCode),
		fmt.Sprintf("set $bkapp_module_name '%s';", app.ModuleName),
		fmt.Sprintf("set $bkapp_env_name '%s';", app.Environment),
		fmt.Sprintf("set $bkapp_region '%s';", app.Region),
		fmt.Sprintf("access_by_lua_block { require(%q).access() }", cfg.LuaModule),
	}
	return strings.Join(lines, "\n")
}

func (p *AccessControlPlugin) ServerSnippet(*domain.WlApp, []domain.IngressDomain) string { return "" }

// AnalysisConfig 是访问统计插件在一个 region 下的配置。
type AnalysisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	LuaModule string `yaml:"lua_module"`
	// key 为 {app_code}:{env}
	Sites map[string]int `yaml:"sites"`
}

// PaaSAnalysisPlugin 通过 header_filter_by_lua 注入站点统计脚本。
type PaaSAnalysisPlugin struct {
	Configs map[string]AnalysisConfig
}

func (p *PaaSAnalysisPlugin) Name() string { return "paas_analysis" }

func (p *PaaSAnalysisPlugin) ConfigurationSnippet(app *domain.WlApp, _ []domain.IngressDomain) string {
	cfg, ok := p.Configs[app.Region]
	if !ok || !cfg.Enabled || cfg.LuaModule == "" {
		return ""
	}
	siteID, ok := cfg.Sites[fmt.Sprintf("%s:%s", app.AppCode, app.Environment)]
	if !ok {
		return ""
	}
	return fmt.Sprintf("set $bkpa_site_id %d;\nheader_filter_by_lua_block { require(%q).inject() }", siteID, cfg.LuaModule)
}

func (p *PaaSAnalysisPlugin) ServerSnippet(*domain.WlApp, []domain.IngressDomain) string { return "" }
