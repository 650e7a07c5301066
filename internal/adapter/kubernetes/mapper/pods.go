package mapper

import (
	"fmt"
	"strconv"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const (
	// CategorySlugBuilder 是构建 Pod 的 category 标签值。
	CategorySlugBuilder = "slug_builder"

	slugBuilderContainer = "slug-builder"
	commandContainer     = "main"
)

var (
	_ Mapper[*domain.RuntimeCommand] = (*CommandPodMapper)(nil)
	_ Mapper[*domain.SlugBuilderPod] = (*SlugBuilderMapper)(nil)
)

// CommandPodMapper 负责 RuntimeCommand ⇄ 一次性 Pod，钩子与临时命令共用。
type CommandPodMapper struct{}

func (m *CommandPodMapper) Kind() ResourceKind { return KindPod }

func (m *CommandPodMapper) Serialize(c *domain.RuntimeCommand) (*unstructured.Unstructured, error) {
	if c.App == nil {
		return nil, fmt.Errorf("%w: command %s has no app", domain.ErrInvalidInput, c.Name)
	}
	resources, err := resourcesToK8s(c.Resources)
	if err != nil {
		return nil, err
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.Name,
			Namespace: c.App.Namespace(),
			Labels: withLabels(c.App.BaseLabels(), map[string]string{
				domain.LabelCategory:       string(c.Type),
				domain.LabelReleaseVersion: strconv.Itoa(c.Version),
			}),
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:            commandContainer,
				Image:           c.Image,
				ImagePullPolicy: corev1.PullIfNotPresent,
				Command:         c.Command,
				Args:            c.Args,
				Env:             envsToK8s(c.Envs),
				Resources:       resources,
			}},
			ImagePullSecrets: pullSecrets(c.ImagePullSecretName),
			NodeSelector:     c.NodeSelector,
			Tolerations:      tolerationsToK8s(c.Tolerations),
		},
	}
	return toUnstructured(pod, KindPod)
}

func (m *CommandPodMapper) Deserialize(obj *unstructured.Unstructured) (*domain.RuntimeCommand, error) {
	var pod corev1.Pod
	if err := fromUnstructured(obj, &pod); err != nil {
		return nil, err
	}
	out := &domain.RuntimeCommand{
		Name:                pod.Name,
		Type:                domain.CommandType(pod.Labels[domain.LabelCategory]),
		Version:             labelInt(pod.Labels, domain.LabelReleaseVersion),
		NodeSelector:        pod.Spec.NodeSelector,
		Tolerations:         tolerationsFromK8s(pod.Spec.Tolerations),
		ImagePullSecretName: pullSecretName(pod.Spec.ImagePullSecrets),
	}
	if len(pod.Spec.Containers) > 0 {
		c := pod.Spec.Containers[0]
		out.Image = c.Image
		out.Command = c.Command
		out.Args = c.Args
		out.Envs = envsFromK8s(c.Env)
		out.Resources = resourcesFromK8s(c.Resources)
	}
	return out, nil
}

// SlugBuilderMapper 负责 SlugBuilderPod ⇄ 构建 Pod。
type SlugBuilderMapper struct{}

func (m *SlugBuilderMapper) Kind() ResourceKind { return KindPod }

func (m *SlugBuilderMapper) Serialize(b *domain.SlugBuilderPod) (*unstructured.Unstructured, error) {
	if b.App == nil {
		return nil, fmt.Errorf("%w: builder %s has no app", domain.ErrInvalidInput, b.Name)
	}
	resources, err := resourcesToK8s(b.Resources)
	if err != nil {
		return nil, err
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      b.Name,
			Namespace: b.App.Namespace(),
			Labels:    withLabels(b.App.BaseLabels(), map[string]string{domain.LabelCategory: CategorySlugBuilder}),
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:            slugBuilderContainer,
				Image:           b.Image,
				ImagePullPolicy: corev1.PullIfNotPresent,
				Env:             envsToK8s(b.Envs),
				Resources:       resources,
			}},
			ImagePullSecrets: pullSecrets(b.ImagePullSecretName),
		},
	}
	return toUnstructured(pod, KindPod)
}

func (m *SlugBuilderMapper) Deserialize(obj *unstructured.Unstructured) (*domain.SlugBuilderPod, error) {
	var pod corev1.Pod
	if err := fromUnstructured(obj, &pod); err != nil {
		return nil, err
	}
	out := &domain.SlugBuilderPod{
		Name:                pod.Name,
		ImagePullSecretName: pullSecretName(pod.Spec.ImagePullSecrets),
	}
	if len(pod.Spec.Containers) > 0 {
		c := pod.Spec.Containers[0]
		out.Image = c.Image
		out.Envs = envsFromK8s(c.Env)
		out.Resources = resourcesFromK8s(c.Resources)
	}
	return out, nil
}
