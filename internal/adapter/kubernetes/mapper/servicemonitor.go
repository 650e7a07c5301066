package mapper

import (
	"fmt"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const (
	// ServiceMonitorPortName 是采集端点在 Service 上的端口名。
	ServiceMonitorPortName = "metrics"

	relabelAppCode = "bk_app_code"
	relabelModule  = "bk_module"
	relabelEnv     = "bk_env"
)

var _ Mapper[*domain.ServiceMonitor] = (*ServiceMonitorMapper)(nil)

// serviceMonitor 只声明平台会写入的字段，未引入 prometheus-operator 的类型定义。
type serviceMonitor struct {
	Endpoints         []serviceMonitorEndpoint `json:"endpoints"`
	Selector          labelSelector            `json:"selector"`
	NamespaceSelector namespaceSelector        `json:"namespaceSelector"`
}

type serviceMonitorEndpoint struct {
	Port        string       `json:"port"`
	Path        string       `json:"path,omitempty"`
	Interval    string       `json:"interval,omitempty"`
	Relabelings []relabeling `json:"relabelings,omitempty"`
}

type relabeling struct {
	Action      string `json:"action"`
	TargetLabel string `json:"targetLabel"`
	Replacement string `json:"replacement"`
}

type labelSelector struct {
	MatchLabels map[string]string `json:"matchLabels,omitempty"`
}

type namespaceSelector struct {
	MatchNames []string `json:"matchNames,omitempty"`
}

// ServiceMonitorMapper 负责 ServiceMonitor ⇄ monitoring.coreos.com ServiceMonitor。
type ServiceMonitorMapper struct {
	v1beta1 bool
}

func (m *ServiceMonitorMapper) Kind() ResourceKind {
	if m.v1beta1 {
		return KindServiceMonitorV1Beta1
	}
	return KindServiceMonitor
}

func (m *ServiceMonitorMapper) Serialize(sm *domain.ServiceMonitor) (*unstructured.Unstructured, error) {
	if sm.App == nil {
		return nil, fmt.Errorf("%w: service monitor %s has no app", domain.ErrInvalidInput, sm.Name)
	}
	port := sm.Port
	if port == "" {
		port = ServiceMonitorPortName
	}
	spec := serviceMonitor{
		Endpoints: []serviceMonitorEndpoint{{
			Port:     port,
			Path:     sm.Path,
			Interval: sm.Interval,
			Relabelings: []relabeling{
				{Action: "replace", TargetLabel: relabelAppCode, Replacement: sm.App.AppCode},
				{Action: "replace", TargetLabel: relabelModule, Replacement: sm.App.ModuleName},
				{Action: "replace", TargetLabel: relabelEnv, Replacement: string(sm.App.Environment)},
			},
		}},
		Selector:          labelSelector{MatchLabels: sm.MatchLabels},
		NamespaceSelector: namespaceSelector{MatchNames: []string{sm.App.Namespace()}},
	}
	return crdObject(m.Kind(), sm.Name, sm.App.Namespace(), sm.App.BaseLabels(), &spec)
}

func (m *ServiceMonitorMapper) Deserialize(obj *unstructured.Unstructured) (*domain.ServiceMonitor, error) {
	var spec serviceMonitor
	if err := crdSpec(obj, &spec); err != nil {
		return nil, err
	}
	out := &domain.ServiceMonitor{Name: obj.GetName(), MatchLabels: spec.Selector.MatchLabels}
	if len(spec.Endpoints) > 0 {
		ep := spec.Endpoints[0]
		out.Port, out.Path, out.Interval = ep.Port, ep.Path, ep.Interval
	}
	return out, nil
}
