package mapper

import (
	"fmt"
	"maps"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// LabelPodSelector 是 Deployment 选择 Pod 使用的标签，值为 Deployment 名称。
const LabelPodSelector = "pod_selector"

// Naming 是一套资源命名与标签方案。两个版本可以在同一集群中共存。
type Naming interface {
	Version() domain.MapperVersion
	DeploymentName(app *domain.WlApp, procType string) string
	ServiceName(app *domain.WlApp, procType string) string
	// Selector 是 Deployment/Service 的选择器，创建后不可变
	Selector(app *domain.WlApp, procType string) map[string]string
	ProcessLabels(app *domain.WlApp, procType string) map[string]string
}

// NamingFor 返回版本对应的命名方案，未知版本按 v2 处理。
func NamingFor(v domain.MapperVersion) Naming {
	if v == domain.MapperV1 {
		return namingV1{}
	}
	return namingV2{}
}

// namingV1: {region}-{name}-{proc}-deployment，标签带 region。
type namingV1 struct{}

func (namingV1) Version() domain.MapperVersion { return domain.MapperV1 }

func (namingV1) DeploymentName(app *domain.WlApp, procType string) string {
	return fmt.Sprintf("%s-%s-%s-deployment", app.Region, app.SafeName(), procType)
}

func (namingV1) ServiceName(app *domain.WlApp, procType string) string {
	return fmt.Sprintf("%s-%s-%s", app.Region, app.SafeName(), procType)
}

func (n namingV1) Selector(app *domain.WlApp, procType string) map[string]string {
	return map[string]string{
		LabelPodSelector:   n.DeploymentName(app, procType),
		domain.LabelRegion: app.Region,
	}
}

func (n namingV1) ProcessLabels(app *domain.WlApp, procType string) map[string]string {
	labels := processLabels(app, procType, n.Version(), n.DeploymentName(app, procType))
	labels[domain.LabelRegion] = app.Region
	return labels
}

// namingV2: {name}-{proc}。
type namingV2 struct{}

func (namingV2) Version() domain.MapperVersion { return domain.MapperV2 }

func (namingV2) DeploymentName(app *domain.WlApp, procType string) string {
	return fmt.Sprintf("%s-%s", app.SafeName(), procType)
}

func (n namingV2) ServiceName(app *domain.WlApp, procType string) string {
	return n.DeploymentName(app, procType)
}

func (n namingV2) Selector(app *domain.WlApp, procType string) map[string]string {
	return map[string]string{LabelPodSelector: n.DeploymentName(app, procType)}
}

func (n namingV2) ProcessLabels(app *domain.WlApp, procType string) map[string]string {
	return processLabels(app, procType, n.Version(), n.DeploymentName(app, procType))
}

func processLabels(app *domain.WlApp, procType string, v domain.MapperVersion, selector string) map[string]string {
	labels := app.BaseLabels()
	labels[domain.LabelProcessID] = procType
	labels[domain.LabelMapperVersion] = string(v)
	labels[LabelPodSelector] = selector
	return labels
}

// withLabels 复制 base 并追加 extra。
func withLabels(base map[string]string, extra map[string]string) map[string]string {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]string, len(extra))
	}
	maps.Copy(out, extra)
	return out
}

// 应用级资源的固定名称。

func ServiceMonitorName(app *domain.WlApp) string {
	return app.SafeName() + "-svcmon"
}

func HookPodName(app *domain.WlApp) string {
	return "pre-release-hook-" + app.SafeName()
}

func SlugBuilderPodName(app *domain.WlApp) string {
	return "slug-builder-" + app.SafeName()
}
