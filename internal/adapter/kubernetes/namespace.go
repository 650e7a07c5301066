package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	corev1 "k8s.io/api/core/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"
)

var _ port.NamespaceManager = (*NamespaceManager)(nil)

const (
	defaultServiceAccountWait = 30 * time.Second
	serviceAccountPoll        = time.Second
)

// 环境下由平台写入、需要随环境一起删除的资源类型，顺序即删除顺序。
var appScopedKinds = []mapper.ResourceKind{
	mapper.KindIngress,
	mapper.KindHPA,
	mapper.KindDeployment,
	mapper.KindService,
	mapper.KindPod,
	mapper.KindConfigMap,
	mapper.KindSecret,
}

type NamespaceManager struct {
	provider ClientProvider
	saWait   time.Duration
}

func NewNamespaceManager(provider ClientProvider, saWait time.Duration) *NamespaceManager {
	if saWait <= 0 {
		saWait = defaultServiceAccountWait
	}
	return &NamespaceManager{provider: provider, saWait: saWait}
}

// EnsureNamespace 创建命名空间（已存在时跳过），并等待 default ServiceAccount 就绪。
// 开启 LEGACY_SA_TOKEN_SECRETS 的集群还需等到 SA 关联了 token secret。
func (m *NamespaceManager) EnsureNamespace(ctx context.Context, app *domain.WlApp) error {
	c, err := m.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	ns := app.Namespace()
	if _, err := c.Gateway.Get(ctx, mapper.KindNamespace, "", ns); err != nil {
		if !errors.Is(err, domain.ErrResourceMissing) {
			return err
		}
		obj, err := mapper.NamespaceObject(ns, map[string]string{domain.LabelAppCode: app.AppCode})
		if err != nil {
			return err
		}
		if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindNamespace, obj, MethodPatch); err != nil {
			return fmt.Errorf("create namespace %s: %w", ns, err)
		}
		slog.Info("namespace created", "namespace", ns, "cluster", c.Cluster.Name)
	}

	needSecrets := c.Cluster.HasFeature(domain.FeatureLegacyTokenSecrets)
	err = wait.PollUntilContextTimeout(ctx, serviceAccountPoll, m.saWait, true, func(ctx context.Context) (bool, error) {
		obj, err := c.Gateway.Get(ctx, mapper.KindServiceAccount, ns, "default")
		if errors.Is(err, domain.ErrResourceMissing) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !needSecrets {
			return true, nil
		}
		var sa corev1.ServiceAccount
		if err := fromUnstructuredObj(obj, &sa); err != nil {
			return false, err
		}
		return len(sa.Secrets) > 0, nil
	})
	if wait.Interrupted(err) {
		return fmt.Errorf("namespace %s: %w", ns, domain.ErrCreateServiceAccountTimeout)
	}
	return err
}

func (m *NamespaceManager) UpsertImagePullSecret(ctx context.Context, app *domain.WlApp, cred port.RegistryCredential) error {
	c, err := m.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	obj, err := mapper.ImagePullSecret(app, []mapper.RegistryCredential{{
		Host:     cred.Registry,
		Username: cred.Username,
		Password: cred.Password,
	}})
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindSecret, obj, MethodReplace); err != nil {
		return fmt.Errorf("upsert image pull secret: %w", err)
	}
	return nil
}

func (m *NamespaceManager) UpsertEnvConfigMap(ctx context.Context, app *domain.WlApp, envs map[string]string) error {
	c, err := m.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	obj, err := mapper.EnvConfigMap(app, envs)
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindConfigMap, obj, MethodReplace); err != nil {
		return fmt.Errorf("upsert env configmap: %w", err)
	}
	return nil
}

// DeleteAllUnderNamespace 删除带有环境标签的全部资源。命名空间由同一应用的多个模块共享，不会被删除。
func (m *NamespaceManager) DeleteAllUnderNamespace(ctx context.Context, app *domain.WlApp) error {
	c, err := m.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	kinds := append([]mapper.ResourceKind{}, appScopedKinds...)
	if app.IsCloudNative() {
		kinds = append([]mapper.ResourceKind{mapper.KindDomainGroupMapping, mapper.KindBkApp}, kinds...)
	}
	if c.Cluster.HasFeature(domain.FeatureBkMonitor) {
		kinds = append(kinds, mapper.KindOf[*domain.ServiceMonitor](c.Mappers(app.MapperVersion)))
	}

	var errs []error
	for _, kind := range kinds {
		if err := c.Gateway.DeleteBySelector(ctx, kind, app.Namespace(), app.BaseLabels()); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", kind.Kind, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}
