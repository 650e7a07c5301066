package mapper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

var (
	_ Mapper[*domain.BkApp]              = (*BkAppMapper)(nil)
	_ Mapper[*domain.DomainGroupMapping] = (*DomainGroupMappingMapper)(nil)
)

// bkAppSpec 与 paas.bk.tencent.com/v1alpha1 BkApp 的 spec 对应。
type bkAppSpec struct {
	Build         bkAppBuild         `json:"build"`
	Processes     []bkAppProcess     `json:"processes"`
	Hooks         *bkAppHooks        `json:"hooks,omitempty"`
	Configuration bkAppConfiguration `json:"configuration"`
}

type bkAppBuild struct {
	Image           string `json:"image"`
	ImagePullPolicy string `json:"imagePullPolicy,omitempty"`
}

type bkAppProcess struct {
	Name        string                       `json:"name"`
	Replicas    int32                        `json:"replicas"`
	Command     []string                     `json:"command,omitempty"`
	Args        []string                     `json:"args,omitempty"`
	TargetPort  int32                        `json:"targetPort,omitempty"`
	Resources   *corev1.ResourceRequirements `json:"resources,omitempty"`
	Probes      *bkAppProbes                 `json:"probes,omitempty"`
	Autoscaling *bkAppAutoscaling            `json:"autoscaling,omitempty"`
}

type bkAppProbes struct {
	Liveness  *corev1.Probe `json:"liveness,omitempty"`
	Readiness *corev1.Probe `json:"readiness,omitempty"`
	Startup   *corev1.Probe `json:"startup,omitempty"`
}

type bkAppAutoscaling struct {
	MinReplicas int32  `json:"minReplicas"`
	MaxReplicas int32  `json:"maxReplicas"`
	Policy      string `json:"policy"`
}

type bkAppHooks struct {
	PreRelease *bkAppHook `json:"preRelease,omitempty"`
}

type bkAppHook struct {
	Command []string `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

type bkAppConfiguration struct {
	Env []corev1.EnvVar `json:"env,omitempty"`
}

// BkAppMapper 负责 BkApp ⇄ BkApp CRD。
type BkAppMapper struct{}

func (m *BkAppMapper) Kind() ResourceKind { return KindBkApp }

func (m *BkAppMapper) Serialize(b *domain.BkApp) (*unstructured.Unstructured, error) {
	if b.App == nil {
		return nil, fmt.Errorf("%w: bkapp %s has no app", domain.ErrInvalidInput, b.Name)
	}
	spec := bkAppSpec{
		Build:         bkAppBuild{Image: b.Image, ImagePullPolicy: b.PullPolicy},
		Configuration: bkAppConfiguration{Env: envsToK8s(b.Envs)},
	}
	for _, p := range b.Processes {
		resources, err := resourcesToK8s(p.Resources)
		if err != nil {
			return nil, err
		}
		proc := bkAppProcess{
			Name:       p.Name,
			Replicas:   int32(p.Replicas),
			Command:    p.Command,
			Args:       p.Args,
			TargetPort: int32(p.TargetPort),
		}
		if len(resources.Limits) > 0 || len(resources.Requests) > 0 {
			proc.Resources = &resources
		}
		if p.Probes.Liveness != nil || p.Probes.Readiness != nil || p.Probes.Startup != nil {
			proc.Probes = &bkAppProbes{
				Liveness:  probeToK8s(p.Probes.Liveness, p.TargetPort),
				Readiness: probeToK8s(p.Probes.Readiness, p.TargetPort),
				Startup:   probeToK8s(p.Probes.Startup, p.TargetPort),
			}
		}
		if p.Autoscaling != nil {
			proc.Autoscaling = &bkAppAutoscaling{
				MinReplicas: int32(p.Autoscaling.MinReplicas),
				MaxReplicas: int32(p.Autoscaling.MaxReplicas),
				Policy:      string(p.Autoscaling.Policy),
			}
		}
		spec.Processes = append(spec.Processes, proc)
	}
	if b.Hook != nil && b.Hook.Enabled && b.Hook.Command != "" {
		command, args := domain.SplitProcCommand(b.Hook.Command)
		spec.Hooks = &bkAppHooks{PreRelease: &bkAppHook{Command: command, Args: args}}
	}

	labels := withLabels(b.App.BaseLabels(), map[string]string{domain.LabelReleaseVersion: strconv.Itoa(b.Version)})
	return crdObject(KindBkApp, b.Name, b.App.Namespace(), labels, &spec)
}

func (m *BkAppMapper) Deserialize(obj *unstructured.Unstructured) (*domain.BkApp, error) {
	var spec bkAppSpec
	if err := crdSpec(obj, &spec); err != nil {
		return nil, err
	}
	out := &domain.BkApp{
		Name:       obj.GetName(),
		Image:      spec.Build.Image,
		PullPolicy: spec.Build.ImagePullPolicy,
		Version:    labelInt(obj.GetLabels(), domain.LabelReleaseVersion),
		Envs:       envsFromK8s(spec.Configuration.Env),
	}
	for _, p := range spec.Processes {
		proc := domain.BkAppProcess{
			Name:       p.Name,
			Replicas:   int(p.Replicas),
			Command:    p.Command,
			Args:       p.Args,
			TargetPort: int(p.TargetPort),
		}
		if p.Resources != nil {
			proc.Resources = resourcesFromK8s(*p.Resources)
		}
		if p.Probes != nil {
			proc.Probes = domain.ProbeSet{
				Liveness:  probeFromK8s(p.Probes.Liveness),
				Readiness: probeFromK8s(p.Probes.Readiness),
				Startup:   probeFromK8s(p.Probes.Startup),
			}
		}
		if p.Autoscaling != nil {
			proc.Autoscaling = &domain.AutoscalingConfig{
				MinReplicas: int(p.Autoscaling.MinReplicas),
				MaxReplicas: int(p.Autoscaling.MaxReplicas),
				Policy:      domain.ScalingPolicy(p.Autoscaling.Policy),
			}
		}
		out.Processes = append(out.Processes, proc)
	}
	if spec.Hooks != nil && spec.Hooks.PreRelease != nil {
		out.Hook = &domain.Hook{Enabled: true, Command: joinCommand(spec.Hooks.PreRelease.Command, spec.Hooks.PreRelease.Args)}
	}
	return out, nil
}

// domainGroupMappingSpec 与 DomainGroupMapping CRD 的 spec 对应。
type domainGroupMappingSpec struct {
	Ref  dgmRef      `json:"ref"`
	Data []dgmDomain `json:"data"`
}

type dgmRef struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	APIVersion string `json:"apiVersion"`
}

type dgmDomain struct {
	SourceType string          `json:"sourceType"`
	Domains    []dgmDomainItem `json:"domains"`
}

type dgmDomainItem struct {
	Host           string   `json:"host"`
	PathPrefixList []string `json:"pathPrefixList"`
	TLS            *dgmTLS  `json:"tls,omitempty"`
}

type dgmTLS struct {
	Enabled    bool   `json:"enabled"`
	SecretName string `json:"secretName,omitempty"`
}

// DomainGroupMappingMapper 负责 DomainGroupMapping ⇄ CRD。
type DomainGroupMappingMapper struct{}

func (m *DomainGroupMappingMapper) Kind() ResourceKind { return KindDomainGroupMapping }

func (m *DomainGroupMappingMapper) Serialize(d *domain.DomainGroupMapping) (*unstructured.Unstructured, error) {
	if d.App == nil {
		return nil, fmt.Errorf("%w: domain group mapping %s has no app", domain.ErrInvalidInput, d.Name)
	}
	spec := domainGroupMappingSpec{
		Ref: dgmRef{Name: d.BkAppName, Kind: KindBkApp.Kind, APIVersion: KindBkApp.APIVersion()},
	}
	for _, g := range d.Groups {
		group := dgmDomain{SourceType: string(g.SourceType)}
		for _, item := range g.Domains {
			di := dgmDomainItem{Host: item.Host, PathPrefixList: item.PathPrefixList}
			if item.TLSEnabled {
				di.TLS = &dgmTLS{Enabled: true, SecretName: item.TLSSecretName}
			}
			group.Domains = append(group.Domains, di)
		}
		spec.Data = append(spec.Data, group)
	}
	return crdObject(KindDomainGroupMapping, d.Name, d.App.Namespace(), d.App.BaseLabels(), &spec)
}

func (m *DomainGroupMappingMapper) Deserialize(obj *unstructured.Unstructured) (*domain.DomainGroupMapping, error) {
	var spec domainGroupMappingSpec
	if err := crdSpec(obj, &spec); err != nil {
		return nil, err
	}
	out := &domain.DomainGroupMapping{Name: obj.GetName(), BkAppName: spec.Ref.Name}
	for _, g := range spec.Data {
		group := domain.DomainGroup{SourceType: domain.AddressSource(g.SourceType)}
		for _, item := range g.Domains {
			di := domain.IngressDomain{Host: item.Host, PathPrefixList: item.PathPrefixList}
			if item.TLS != nil {
				di.TLSEnabled = item.TLS.Enabled
				di.TLSSecretName = item.TLS.SecretName
			}
			group.Domains = append(group.Domains, di)
		}
		out.Groups = append(out.Groups, group)
	}
	return out, nil
}

// crdObject 用 spec 结构体拼出一个自定义资源对象。
func crdObject(kind ResourceKind, name, namespace string, labels map[string]string, spec any) (*unstructured.Unstructured, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(spec)
	if err != nil {
		return nil, fmt.Errorf("convert %s spec: %w", kind.Kind, err)
	}
	u := &unstructured.Unstructured{Object: map[string]any{"spec": content}}
	u.SetAPIVersion(kind.APIVersion())
	u.SetKind(kind.Kind)
	u.SetName(name)
	u.SetNamespace(namespace)
	u.SetLabels(labels)
	return u, nil
}

func crdSpec(obj *unstructured.Unstructured, out any) error {
	raw, found, err := unstructured.NestedMap(obj.Object, "spec")
	if err != nil {
		return fmt.Errorf("read %s %s spec: %w", obj.GetKind(), obj.GetName(), err)
	}
	if !found {
		return fmt.Errorf("%s %s has no spec", obj.GetKind(), obj.GetName())
	}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(raw, out); err != nil {
		return fmt.Errorf("convert %s %s: %w", obj.GetKind(), obj.GetName(), err)
	}
	return nil
}

// joinCommand 是 SplitProcCommand 的逆操作。
func joinCommand(command, args []string) string {
	if len(command) == 2 && command[0] == "bash" && command[1] == "-c" && len(args) == 1 {
		return args[0]
	}
	parts := append(append([]string{}, command...), args...)
	return strings.Join(parts, " ")
}
