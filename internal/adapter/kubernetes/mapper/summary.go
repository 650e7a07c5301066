package mapper

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// DeploymentSummary 渲染 Deployment 的状态摘要。
func DeploymentSummary(d *appsv1.Deployment) string {
	var replicas int32
	if d.Spec.Replicas != nil {
		replicas = *d.Spec.Replicas
	}
	return fmt.Sprintf("Ready: %d/%d, Up-to-date: %d, Available: %d",
		d.Status.ReadyReplicas, replicas, d.Status.UpdatedReplicas, d.Status.AvailableReplicas)
}

func StatefulSetSummary(s *appsv1.StatefulSet) string {
	var replicas int32
	if s.Spec.Replicas != nil {
		replicas = *s.Spec.Replicas
	}
	return fmt.Sprintf("Ready: %d/%d, Up-to-date: %d", s.Status.ReadyReplicas, replicas, s.Status.UpdatedReplicas)
}

func DaemonSetSummary(d *appsv1.DaemonSet) string {
	st := d.Status
	return fmt.Sprintf("Desired: %d, Current: %d, Ready: %d, Up-to-date: %d, Available: %d",
		st.DesiredNumberScheduled, st.CurrentNumberScheduled, st.NumberReady, st.UpdatedNumberScheduled, st.NumberAvailable)
}

// WorkloadSummary 按 kind 分派，不支持的 kind 返回空串。
func WorkloadSummary(obj *unstructured.Unstructured) (string, error) {
	switch obj.GetKind() {
	case KindDeployment.Kind:
		var d appsv1.Deployment
		if err := fromUnstructured(obj, &d); err != nil {
			return "", err
		}
		return DeploymentSummary(&d), nil
	case KindStatefulSet.Kind:
		var s appsv1.StatefulSet
		if err := fromUnstructured(obj, &s); err != nil {
			return "", err
		}
		return StatefulSetSummary(&s), nil
	case KindDaemonSet.Kind:
		var d appsv1.DaemonSet
		if err := fromUnstructured(obj, &d); err != nil {
			return "", err
		}
		return DaemonSetSummary(&d), nil
	}
	return "", nil
}
