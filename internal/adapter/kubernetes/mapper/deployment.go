package mapper

import (
	"fmt"
	"strconv"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
)

const defaultRevisionHistoryLimit = 5

var (
	_ Mapper[*domain.Process]        = (*DeploymentMapper)(nil)
	_ Mapper[*domain.ProcessService] = (*ServiceMapper)(nil)
)

// DeploymentMapper 负责 Process ⇄ Deployment。
type DeploymentMapper struct {
	naming               Naming
	revisionHistoryLimit int32
}

func (m *DeploymentMapper) Kind() ResourceKind { return KindDeployment }

func (m *DeploymentMapper) Serialize(p *domain.Process) (*unstructured.Unstructured, error) {
	if p.App == nil {
		return nil, fmt.Errorf("%w: process %s has no app", domain.ErrInvalidInput, p.Type)
	}
	resources, err := resourcesToK8s(p.Resources)
	if err != nil {
		return nil, err
	}
	name := m.naming.DeploymentName(p.App, p.Type)
	labels := withLabels(m.naming.ProcessLabels(p.App, p.Type), map[string]string{
		domain.LabelReleaseVersion: strconv.Itoa(p.Version),
	})

	limit := m.revisionHistoryLimit
	if limit <= 0 {
		limit = defaultRevisionHistoryLimit
	}

	container := corev1.Container{
		Name:            p.Type,
		Image:           p.Image,
		ImagePullPolicy: corev1.PullPolicy(p.ImagePullPolicy),
		Command:         p.Command,
		Args:            p.Args,
		Env:             envsToK8s(p.Envs),
		Resources:       resources,
		LivenessProbe:   probeToK8s(p.Probes.Liveness, p.TargetPort),
		ReadinessProbe:  probeToK8s(p.Probes.Readiness, p.TargetPort),
		StartupProbe:    probeToK8s(p.Probes.Startup, p.TargetPort),
	}
	if p.TargetPort > 0 {
		container.Ports = []corev1.ContainerPort{{Name: "http", ContainerPort: int32(p.TargetPort), Protocol: corev1.ProtocolTCP}}
	}

	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: p.App.Namespace(),
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas:             ptr.To(int32(p.Replicas)),
			RevisionHistoryLimit: ptr.To(limit),
			Selector:             &metav1.LabelSelector{MatchLabels: m.naming.Selector(p.App, p.Type)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers:       []corev1.Container{container},
					ImagePullSecrets: pullSecrets(p.ImagePullSecretName),
					NodeSelector:     p.NodeSelector,
					Tolerations:      tolerationsToK8s(p.Tolerations),
				},
			},
		},
	}
	return toUnstructured(deploy, KindDeployment)
}

// Deserialize 还原进程描述，App 与 Autoscaling 由调用方补齐。
func (m *DeploymentMapper) Deserialize(obj *unstructured.Unstructured) (*domain.Process, error) {
	var deploy appsv1.Deployment
	if err := fromUnstructured(obj, &deploy); err != nil {
		return nil, err
	}
	spec := deploy.Spec.Template.Spec
	if len(spec.Containers) == 0 {
		return nil, fmt.Errorf("deployment %s has no container", deploy.Name)
	}
	c := spec.Containers[0]
	p := &domain.Process{
		Type:                deploy.Labels[domain.LabelProcessID],
		Version:             labelInt(deploy.Labels, domain.LabelReleaseVersion),
		Replicas:            int(ptr.Deref(deploy.Spec.Replicas, 1)),
		Image:               c.Image,
		ImagePullPolicy:     string(c.ImagePullPolicy),
		Command:             c.Command,
		Args:                c.Args,
		Envs:                envsFromK8s(c.Env),
		Resources:           resourcesFromK8s(c.Resources),
		NodeSelector:        spec.NodeSelector,
		Tolerations:         tolerationsFromK8s(spec.Tolerations),
		ImagePullSecretName: pullSecretName(spec.ImagePullSecrets),
		Probes: domain.ProbeSet{
			Liveness:  probeFromK8s(c.LivenessProbe),
			Readiness: probeFromK8s(c.ReadinessProbe),
			Startup:   probeFromK8s(c.StartupProbe),
		},
	}
	if len(c.Ports) > 0 {
		p.TargetPort = int(c.Ports[0].ContainerPort)
	}
	return p, nil
}

// ServiceMapper 负责 ProcessService ⇄ Service。
type ServiceMapper struct {
	naming Naming
}

func (m *ServiceMapper) Kind() ResourceKind { return KindService }

func (m *ServiceMapper) Serialize(s *domain.ProcessService) (*unstructured.Unstructured, error) {
	svcType := corev1.ServiceTypeClusterIP
	ports := make([]corev1.ServicePort, 0, len(s.Ports))
	for _, p := range s.Ports {
		if p.NodePort > 0 {
			svcType = corev1.ServiceTypeNodePort
		}
		ports = append(ports, corev1.ServicePort{
			Name:       p.Name,
			Protocol:   corev1.Protocol(p.Protocol),
			Port:       p.Port,
			TargetPort: intstr.FromInt32(p.TargetPort),
			NodePort:   p.NodePort,
		})
	}
	name := s.Name
	if name == "" {
		name = m.naming.ServiceName(s.App, s.ProcType)
	}
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: s.App.Namespace(),
			Labels:    m.naming.ProcessLabels(s.App, s.ProcType),
		},
		Spec: corev1.ServiceSpec{
			Type:     svcType,
			Selector: m.naming.Selector(s.App, s.ProcType),
			Ports:    ports,
		},
	}
	return toUnstructured(svc, KindService)
}

func (m *ServiceMapper) Deserialize(obj *unstructured.Unstructured) (*domain.ProcessService, error) {
	var svc corev1.Service
	if err := fromUnstructured(obj, &svc); err != nil {
		return nil, err
	}
	out := &domain.ProcessService{
		Name:     svc.Name,
		ProcType: svc.Labels[domain.LabelProcessID],
	}
	for _, p := range svc.Spec.Ports {
		out.Ports = append(out.Ports, domain.ServicePort{
			Name:       p.Name,
			Protocol:   string(p.Protocol),
			Port:       p.Port,
			TargetPort: p.TargetPort.IntVal,
			NodePort:   p.NodePort,
		})
	}
	return out, nil
}

// DefaultServicePorts 是进程 Service 的默认端口：80 → 进程监听端口。
func DefaultServicePorts(targetPort int) []domain.ServicePort {
	if targetPort <= 0 {
		targetPort = domain.DefaultTargetPort
	}
	return []domain.ServicePort{{Name: "http", Protocol: "TCP", Port: 80, TargetPort: int32(targetPort)}}
}
