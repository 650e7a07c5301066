package kubernetes

import (
	"context"
	"errors"
	"fmt"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	corev1 "k8s.io/api/core/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

var _ port.SandboxController = (*SandboxController)(nil)

// SandboxController 在 bk-agent-sbx-{app} 命名空间下管理沙箱 Pod 与 Service。
type SandboxController struct {
	provider ClientProvider
}

func NewSandboxController(provider ClientProvider) *SandboxController {
	return &SandboxController{provider: provider}
}

func (sc *SandboxController) Create(ctx context.Context, sbx *domain.Sandbox) error {
	c, err := sc.provider.Get(ctx, sbx.ClusterName)
	if err != nil {
		return err
	}
	ns, err := mapper.NamespaceObject(sbx.Namespace(), map[string]string{domain.LabelAppCode: sbx.AppCode})
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindNamespace, ns, MethodMergePatch); err != nil {
		return fmt.Errorf("ensure sandbox namespace: %w", err)
	}

	pod, err := mapper.Serialize(c.Mappers(domain.MapperV2), sbx)
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindPod, pod, MethodReplace); err != nil {
		return fmt.Errorf("create sandbox pod: %w", err)
	}

	nodePort := sbx.NodePort || c.Cluster.HasFeature(domain.FeatureSandboxNodePort)
	svc, err := mapper.SandboxService(sbx, nodePort)
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindService, svc, MethodReplace); err != nil {
		return fmt.Errorf("create sandbox service: %w", err)
	}
	return nil
}

// Get 返回沙箱实时状态，Pod 不存在时返回 domain.ErrSandboxNotFound。
func (sc *SandboxController) Get(ctx context.Context, sbx *domain.Sandbox) (*domain.SandboxRuntime, error) {
	c, err := sc.provider.Get(ctx, sbx.ClusterName)
	if err != nil {
		return nil, err
	}
	podObj, err := c.Gateway.Get(ctx, mapper.KindPod, sbx.Namespace(), sbx.Name())
	if errors.Is(err, domain.ErrResourceMissing) {
		return nil, domain.ErrSandboxNotFound
	}
	if err != nil {
		return nil, err
	}
	var pod corev1.Pod
	if err := fromUnstructuredObj(podObj, &pod); err != nil {
		return nil, err
	}

	var svc *corev1.Service
	svcObj, err := c.Gateway.Get(ctx, mapper.KindService, sbx.Namespace(), sbx.Name())
	switch {
	case err == nil:
		svc = &corev1.Service{}
		if err := fromUnstructuredObj(svcObj, svc); err != nil {
			return nil, err
		}
	case !errors.Is(err, domain.ErrResourceMissing):
		return nil, err
	}
	rt := mapper.SandboxRuntimeFromPod(sbx, &pod, svc)
	return &rt, nil
}

func (sc *SandboxController) Delete(ctx context.Context, sbx *domain.Sandbox) error {
	c, err := sc.provider.Get(ctx, sbx.ClusterName)
	if err != nil {
		return err
	}
	return utilerrors.NewAggregate([]error{
		c.Gateway.Delete(ctx, mapper.KindService, sbx.Namespace(), sbx.Name(), false),
		c.Gateway.Delete(ctx, mapper.KindPod, sbx.Namespace(), sbx.Name(), false),
	})
}
