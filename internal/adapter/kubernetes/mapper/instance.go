package mapper

import (
	"fmt"
	"strings"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

var _ Deserializer[domain.Instance] = (*InstanceMapper)(nil)

// InstanceMapper 从 Pod 推导进程实例，实例只读，没有序列化方向。
type InstanceMapper struct{}

func (m *InstanceMapper) Kind() ResourceKind { return KindPod }

func (m *InstanceMapper) Deserialize(obj *unstructured.Unstructured) (domain.Instance, error) {
	var pod corev1.Pod
	if err := fromUnstructured(obj, &pod); err != nil {
		return domain.Instance{}, err
	}
	return PodToInstance(&pod), nil
}

// PodToInstance 供 informer 缓存中的 typed Pod 直接使用。
func PodToInstance(pod *corev1.Pod) domain.Instance {
	procType := pod.Labels[domain.LabelProcessID]
	inst := domain.Instance{
		Name:        pod.Name,
		ProcessType: procType,
		HostIP:      pod.Status.HostIP,
		PodIP:       pod.Status.PodIP,
		State:       domain.InstanceState(pod.Status.Phase),
		Version:     labelInt(pod.Labels, domain.LabelReleaseVersion),
	}
	if inst.State == "" {
		inst.State = domain.InstanceUnknown
	}
	if pod.Status.StartTime != nil {
		t := pod.Status.StartTime.Time
		inst.StartTime = &t
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			inst.Ready = cond.Status == corev1.ConditionTrue
		}
	}
	if c := mainContainer(pod.Spec.Containers, procType); c != nil {
		inst.Image = c.Image
	}
	if cs := mainContainerStatus(pod.Status.ContainerStatuses, procType); cs != nil {
		inst.RestartCount = cs.RestartCount
		switch {
		case cs.State.Terminated != nil:
			inst.TerminatedInfo = &domain.TerminatedInfo{ExitCode: cs.State.Terminated.ExitCode, Reason: cs.State.Terminated.Reason}
		case cs.LastTerminationState.Terminated != nil:
			inst.TerminatedInfo = &domain.TerminatedInfo{
				ExitCode: cs.LastTerminationState.Terminated.ExitCode,
				Reason:   cs.LastTerminationState.Terminated.Reason,
			}
		}
		if w := cs.State.Waiting; w != nil {
			inst.StateMessage = joinReason(w.Reason, w.Message)
		}
	}
	return inst
}

func mainContainer(containers []corev1.Container, name string) *corev1.Container {
	for i := range containers {
		if containers[i].Name == name {
			return &containers[i]
		}
	}
	if len(containers) > 0 {
		return &containers[0]
	}
	return nil
}

func mainContainerStatus(statuses []corev1.ContainerStatus, name string) *corev1.ContainerStatus {
	for i := range statuses {
		if statuses[i].Name == name {
			return &statuses[i]
		}
	}
	if len(statuses) > 0 {
		return &statuses[0]
	}
	return nil
}

func joinReason(reason, message string) string {
	if message == "" {
		return reason
	}
	return reason + ": " + message
}

// 容器处于这些等待原因时判定为失败，其余等待原因视为启动中。
var unhealthyWaitingReasons = map[string]string{
	"CrashLoopBackOff":           "container keeps crashing",
	"ImagePullBackOff":           "failed to pull image",
	"ErrImagePull":               "failed to pull image",
	"InvalidImageName":           "invalid image name",
	"CreateContainerConfigError": "invalid container config",
	"CreateContainerError":       "failed to create container",
	"RunContainerError":          "failed to run container",
}

// CheckPodHealthStatus 根据 Pod 阶段与容器状态判断健康状况，失败时给出可读的原因。
func CheckPodHealthStatus(pod *corev1.Pod) domain.PodHealth {
	if pod == nil {
		return domain.PodHealth{Status: domain.HealthUnknown}
	}
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return domain.PodHealth{Status: domain.HealthHealthy, Reason: "Succeeded"}
	case corev1.PodFailed:
		h := domain.PodHealth{Status: domain.HealthUnhealthy, Reason: pod.Status.Reason, Message: pod.Status.Message}
		if t := firstTerminated(pod.Status.ContainerStatuses); t != nil {
			if h.Reason == "" {
				h.Reason = t.Reason
			}
			if h.Message == "" {
				h.Message = terminatedMessage(t)
			}
		}
		if h.Reason == "" {
			h.Reason = "Failed"
		}
		return h
	}

	if h, bad := checkContainers(pod.Status.InitContainerStatuses, "init container "); bad {
		return h
	}
	if h, bad := checkContainers(pod.Status.ContainerStatuses, ""); bad {
		return h
	}

	if pod.Status.Phase == corev1.PodRunning {
		for _, cond := range pod.Status.Conditions {
			if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
				return domain.PodHealth{Status: domain.HealthHealthy}
			}
		}
		return domain.PodHealth{Status: domain.HealthProgressing, Reason: "NotReady"}
	}
	if pod.Status.Phase == corev1.PodPending {
		for _, cond := range pod.Status.Conditions {
			if cond.Type == corev1.PodScheduled && cond.Status == corev1.ConditionFalse {
				return domain.PodHealth{Status: domain.HealthProgressing, Reason: cond.Reason, Message: cond.Message}
			}
		}
		return domain.PodHealth{Status: domain.HealthProgressing, Reason: "Pending"}
	}
	return domain.PodHealth{Status: domain.HealthUnknown}
}

func checkContainers(statuses []corev1.ContainerStatus, prefix string) (domain.PodHealth, bool) {
	for _, cs := range statuses {
		if w := cs.State.Waiting; w != nil {
			if desc, ok := unhealthyWaitingReasons[w.Reason]; ok {
				msg := fmt.Sprintf("%s%s %s", prefix, cs.Name, desc)
				if w.Message != "" {
					msg += ": " + w.Message
				}
				return domain.PodHealth{Status: domain.HealthUnhealthy, Reason: w.Reason, Message: msg}, true
			}
		}
		if t := cs.State.Terminated; t != nil && t.ExitCode != 0 {
			return domain.PodHealth{
				Status:  domain.HealthUnhealthy,
				Reason:  t.Reason,
				Message: fmt.Sprintf("%s%s %s", prefix, cs.Name, terminatedMessage(t)),
			}, true
		}
		if t := cs.LastTerminationState.Terminated; t != nil && t.Reason == "OOMKilled" && !cs.Ready {
			return domain.PodHealth{
				Status:  domain.HealthUnhealthy,
				Reason:  t.Reason,
				Message: fmt.Sprintf("%s%s was killed for running out of memory", prefix, cs.Name),
			}, true
		}
	}
	return domain.PodHealth{}, false
}

func firstTerminated(statuses []corev1.ContainerStatus) *corev1.ContainerStateTerminated {
	for _, cs := range statuses {
		if cs.State.Terminated != nil {
			return cs.State.Terminated
		}
	}
	return nil
}

func terminatedMessage(t *corev1.ContainerStateTerminated) string {
	parts := []string{fmt.Sprintf("exited with code %d", t.ExitCode)}
	if t.Reason != "" {
		parts = append(parts, "reason: "+t.Reason)
	}
	if t.Message != "" {
		parts = append(parts, t.Message)
	}
	return strings.Join(parts, ", ")
}

// TerminatedExitCode 返回主容器的退出码，未退出时 ok 为 false。
func TerminatedExitCode(pod *corev1.Pod) (int, bool) {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil {
			return int(cs.State.Terminated.ExitCode), true
		}
	}
	return 0, false
}
