package mapper

import (
	"fmt"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/utils/ptr"
)

// defaultCPUUtilization 是 default 策略的 CPU 目标利用率。
const defaultCPUUtilization int32 = 85

var _ Mapper[*domain.ProcAutoscaling] = (*AutoscalingMapper)(nil)

// AutoscalingMapper 负责 ProcAutoscaling ⇄ autoscaling/v2 HPA。
type AutoscalingMapper struct{}

func (m *AutoscalingMapper) Kind() ResourceKind { return KindHPA }

func policyMetrics(policy domain.ScalingPolicy) ([]autoscalingv2.MetricSpec, error) {
	switch policy {
	case domain.ScalingPolicyDefault, "":
		return []autoscalingv2.MetricSpec{{
			Type: autoscalingv2.ResourceMetricSourceType,
			Resource: &autoscalingv2.ResourceMetricSource{
				Name: "cpu",
				Target: autoscalingv2.MetricTarget{
					Type:               autoscalingv2.UtilizationMetricType,
					AverageUtilization: ptr.To(defaultCPUUtilization),
				},
			},
		}}, nil
	}
	return nil, fmt.Errorf("%w: unsupported scaling policy %q", domain.ErrInvalidInput, policy)
}

func (m *AutoscalingMapper) Serialize(a *domain.ProcAutoscaling) (*unstructured.Unstructured, error) {
	if a.App == nil {
		return nil, fmt.Errorf("%w: autoscaling %s has no app", domain.ErrInvalidInput, a.Name)
	}
	metrics, err := policyMetrics(a.Config.Policy)
	if err != nil {
		return nil, err
	}
	hpa := &autoscalingv2.HorizontalPodAutoscaler{
		ObjectMeta: metav1.ObjectMeta{
			Name:      a.Name,
			Namespace: a.App.Namespace(),
			Labels:    withLabels(a.App.BaseLabels(), map[string]string{domain.LabelProcessID: a.ProcType}),
		},
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{
				APIVersion: KindDeployment.APIVersion(),
				Kind:       KindDeployment.Kind,
				Name:       a.Target,
			},
			MinReplicas: ptr.To(int32(a.Config.MinReplicas)),
			MaxReplicas: int32(a.Config.MaxReplicas),
			Metrics:     metrics,
		},
	}
	return toUnstructured(hpa, KindHPA)
}

func (m *AutoscalingMapper) Deserialize(obj *unstructured.Unstructured) (*domain.ProcAutoscaling, error) {
	var hpa autoscalingv2.HorizontalPodAutoscaler
	if err := fromUnstructured(obj, &hpa); err != nil {
		return nil, err
	}
	cfg := domain.AutoscalingConfig{
		MaxReplicas: int(hpa.Spec.MaxReplicas),
		Policy:      domain.ScalingPolicyDefault,
	}
	if hpa.Spec.MinReplicas != nil {
		cfg.MinReplicas = int(*hpa.Spec.MinReplicas)
	}
	return &domain.ProcAutoscaling{
		Name:     hpa.Name,
		ProcType: hpa.Labels[domain.LabelProcessID],
		Target:   hpa.Spec.ScaleTargetRef.Name,
		Config:   cfg,
	}, nil
}
