package mapper

import (
	"fmt"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	sandboxContainer = "sandbox"
	sandboxPortName  = "daemon"
)

var _ Mapper[*domain.Sandbox] = (*SandboxPodMapper)(nil)

// SandboxPodMapper 负责 Sandbox ⇄ 沙箱 Pod。
type SandboxPodMapper struct{}

func (m *SandboxPodMapper) Kind() ResourceKind { return KindPod }

func (m *SandboxPodMapper) Serialize(s *domain.Sandbox) (*unstructured.Unstructured, error) {
	resources, err := resourcesToK8s(s.Resources)
	if err != nil {
		return nil, err
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.Name(),
			Namespace: s.Namespace(),
			Labels:    s.Labels(),
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:            sandboxContainer,
				Image:           s.Image,
				ImagePullPolicy: corev1.PullIfNotPresent,
				Env:             envsToK8s(s.Envs),
				WorkingDir:      s.Workdir,
				Resources:       resources,
				Ports: []corev1.ContainerPort{{
					Name:          sandboxPortName,
					ContainerPort: s.DaemonPort,
					Protocol:      corev1.ProtocolTCP,
				}},
			}},
		},
	}
	return toUnstructured(pod, KindPod)
}

func (m *SandboxPodMapper) Deserialize(obj *unstructured.Unstructured) (*domain.Sandbox, error) {
	var pod corev1.Pod
	if err := fromUnstructured(obj, &pod); err != nil {
		return nil, err
	}
	out := &domain.Sandbox{
		UUID:        pod.Labels["sandbox_id"],
		Kind:        domain.SandboxKind(pod.Labels[domain.LabelCategory]),
		AppCode:     pod.Labels[domain.LabelAppCode],
		ModuleName:  pod.Labels[domain.LabelModuleName],
		Environment: domain.Environment(pod.Labels[domain.LabelEnv]),
		Status:      sandboxStatus(pod.Status.Phase),
	}
	if len(pod.Spec.Containers) > 0 {
		c := pod.Spec.Containers[0]
		out.Image = c.Image
		out.Envs = envsFromK8s(c.Env)
		out.Workdir = c.WorkingDir
		out.Resources = resourcesFromK8s(c.Resources)
		if len(c.Ports) > 0 {
			out.DaemonPort = c.Ports[0].ContainerPort
		}
	}
	return out, nil
}

func sandboxStatus(phase corev1.PodPhase) domain.SandboxStatus {
	switch phase {
	case corev1.PodPending:
		return domain.SandboxPending
	case corev1.PodRunning:
		return domain.SandboxRunning
	case corev1.PodFailed, corev1.PodSucceeded:
		return domain.SandboxFailed
	}
	return domain.SandboxUnknown
}

// SandboxRuntimeFromPod 从 Pod 状态与 Service 推导沙箱运行时信息，svc 可以为空。
func SandboxRuntimeFromPod(s *domain.Sandbox, pod *corev1.Pod, svc *corev1.Service) domain.SandboxRuntime {
	rt := domain.SandboxRuntime{
		Status:      domain.SandboxUnknown,
		ServiceAddr: fmt.Sprintf("%s.%s:%d", s.Name(), s.Namespace(), s.DaemonPort),
	}
	if pod != nil {
		rt.Status = sandboxStatus(pod.Status.Phase)
		rt.PodIP = pod.Status.PodIP
		rt.HostIP = pod.Status.HostIP
	}
	if svc != nil {
		for _, p := range svc.Spec.Ports {
			if p.NodePort > 0 {
				rt.NodePort = p.NodePort
			}
		}
	}
	return rt
}

// SandboxService 生成暴露守护进程端口的 Service，nodePort 为真时类型为 NodePort。
func SandboxService(s *domain.Sandbox, nodePort bool) (*unstructured.Unstructured, error) {
	svcType := corev1.ServiceTypeClusterIP
	if nodePort {
		svcType = corev1.ServiceTypeNodePort
	}
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.Name(),
			Namespace: s.Namespace(),
			Labels:    s.Labels(),
		},
		Spec: corev1.ServiceSpec{
			Type:     svcType,
			Selector: map[string]string{"sandbox_id": s.UUID},
			Ports: []corev1.ServicePort{{
				Name:       sandboxPortName,
				Protocol:   corev1.ProtocolTCP,
				Port:       s.DaemonPort,
				TargetPort: intstr.FromInt32(s.DaemonPort),
			}},
		},
	}
	return toUnstructured(svc, KindService)
}
