package mapper

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// toUnstructured 把 typed 对象转换为 dynamic client 使用的 unstructured，并补齐 apiVersion/kind。
func toUnstructured(obj runtime.Object, kind ResourceKind) (*unstructured.Unstructured, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, fmt.Errorf("convert %s to unstructured: %w", kind.Kind, err)
	}
	u := &unstructured.Unstructured{Object: content}
	u.SetAPIVersion(kind.APIVersion())
	u.SetKind(kind.Kind)
	return u, nil
}

// fromUnstructured 把 unstructured 还原为 typed 对象。
func fromUnstructured(u *unstructured.Unstructured, out any) error {
	if u == nil {
		return fmt.Errorf("nil object")
	}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.UnstructuredContent(), out); err != nil {
		return fmt.Errorf("convert %s %s from unstructured: %w", u.GetKind(), u.GetName(), err)
	}
	return nil
}

// envsToK8s 按 key 排序输出，保证同样的输入生成同样的 manifest。
func envsToK8s(envs map[string]string) []corev1.EnvVar {
	if len(envs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(envs))
	for k := range envs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		result = append(result, corev1.EnvVar{Name: k, Value: envs[k]})
	}
	return result
}

func envsFromK8s(envs []corev1.EnvVar) map[string]string {
	if len(envs) == 0 {
		return nil
	}
	out := make(map[string]string, len(envs))
	for _, e := range envs {
		out[e.Name] = e.Value
	}
	return out
}

func resourcesToK8s(r domain.ResourceRequirements) (corev1.ResourceRequirements, error) {
	var out corev1.ResourceRequirements
	var err error
	if out.Limits, err = resourceList(r.Limits); err != nil {
		return out, err
	}
	if out.Requests, err = resourceList(r.Requests); err != nil {
		return out, err
	}
	return out, nil
}

func resourceList(m map[string]string) (corev1.ResourceList, error) {
	if len(m) == 0 {
		return nil, nil
	}
	list := make(corev1.ResourceList, len(m))
	for name, value := range m {
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid quantity %q for %s", domain.ErrInvalidInput, value, name)
		}
		list[corev1.ResourceName(name)] = q
	}
	return list, nil
}

func resourcesFromK8s(r corev1.ResourceRequirements) domain.ResourceRequirements {
	return domain.ResourceRequirements{
		Limits:   quantityMap(r.Limits),
		Requests: quantityMap(r.Requests),
	}
}

func quantityMap(list corev1.ResourceList) map[string]string {
	if len(list) == 0 {
		return nil
	}
	out := make(map[string]string, len(list))
	for name, q := range list {
		out[string(name)] = q.String()
	}
	return out
}

// probePort 把 ${PORT} 占位符替换为进程端口，数字按端口号处理，其余视为命名端口。
func probePort(port string, targetPort int) intstr.IntOrString {
	if port == domain.ProbePortPlaceholder || port == "" {
		return intstr.FromInt32(int32(targetPort))
	}
	if n, err := strconv.Atoi(port); err == nil {
		return intstr.FromInt32(int32(n))
	}
	return intstr.FromString(port)
}

func probeToK8s(p *domain.Probe, targetPort int) *corev1.Probe {
	if p == nil {
		return nil
	}
	out := &corev1.Probe{
		InitialDelaySeconds: p.InitialDelaySeconds,
		TimeoutSeconds:      p.TimeoutSeconds,
		PeriodSeconds:       p.PeriodSeconds,
		SuccessThreshold:    p.SuccessThreshold,
		FailureThreshold:    p.FailureThreshold,
	}
	switch {
	case p.Exec != nil:
		out.Exec = &corev1.ExecAction{Command: p.Exec.Command}
	case p.HTTPGet != nil:
		action := &corev1.HTTPGetAction{
			Path:   p.HTTPGet.Path,
			Port:   probePort(p.HTTPGet.Port, targetPort),
			Host:   p.HTTPGet.Host,
			Scheme: corev1.URIScheme(p.HTTPGet.Scheme),
		}
		for _, h := range p.HTTPGet.HTTPHeaders {
			action.HTTPHeaders = append(action.HTTPHeaders, corev1.HTTPHeader{Name: h.Name, Value: h.Value})
		}
		out.HTTPGet = action
	case p.TCPSocket != nil:
		out.TCPSocket = &corev1.TCPSocketAction{
			Port: probePort(p.TCPSocket.Port, targetPort),
			Host: p.TCPSocket.Host,
		}
	}
	return out
}

func probeFromK8s(p *corev1.Probe) *domain.Probe {
	if p == nil {
		return nil
	}
	out := &domain.Probe{
		InitialDelaySeconds: p.InitialDelaySeconds,
		TimeoutSeconds:      p.TimeoutSeconds,
		PeriodSeconds:       p.PeriodSeconds,
		SuccessThreshold:    p.SuccessThreshold,
		FailureThreshold:    p.FailureThreshold,
	}
	switch {
	case p.Exec != nil:
		out.Exec = &domain.ExecAction{Command: p.Exec.Command}
	case p.HTTPGet != nil:
		action := &domain.HTTPGetAction{
			Path:   p.HTTPGet.Path,
			Port:   p.HTTPGet.Port.String(),
			Host:   p.HTTPGet.Host,
			Scheme: string(p.HTTPGet.Scheme),
		}
		for _, h := range p.HTTPGet.HTTPHeaders {
			action.HTTPHeaders = append(action.HTTPHeaders, domain.HTTPHeader{Name: h.Name, Value: h.Value})
		}
		out.HTTPGet = action
	case p.TCPSocket != nil:
		out.TCPSocket = &domain.TCPSocketAction{Port: p.TCPSocket.Port.String(), Host: p.TCPSocket.Host}
	}
	return out
}

func tolerationsToK8s(ts []domain.Toleration) []corev1.Toleration {
	if len(ts) == 0 {
		return nil
	}
	out := make([]corev1.Toleration, 0, len(ts))
	for _, t := range ts {
		out = append(out, corev1.Toleration{
			Key:               t.Key,
			Operator:          corev1.TolerationOperator(t.Operator),
			Value:             t.Value,
			Effect:            corev1.TaintEffect(t.Effect),
			TolerationSeconds: t.TolerationSeconds,
		})
	}
	return out
}

func tolerationsFromK8s(ts []corev1.Toleration) []domain.Toleration {
	if len(ts) == 0 {
		return nil
	}
	out := make([]domain.Toleration, 0, len(ts))
	for _, t := range ts {
		out = append(out, domain.Toleration{
			Key:               t.Key,
			Operator:          string(t.Operator),
			Value:             t.Value,
			Effect:            string(t.Effect),
			TolerationSeconds: t.TolerationSeconds,
		})
	}
	return out
}

func pullSecrets(name string) []corev1.LocalObjectReference {
	if name == "" {
		return nil
	}
	return []corev1.LocalObjectReference{{Name: name}}
}

func pullSecretName(refs []corev1.LocalObjectReference) string {
	if len(refs) == 0 {
		return ""
	}
	return refs[0].Name
}

func labelInt(labels map[string]string, key string) int {
	n, _ := strconv.Atoi(labels[key])
	return n
}
