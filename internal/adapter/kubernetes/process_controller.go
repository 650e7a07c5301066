package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

var _ port.ProcessController = (*ProcessController)(nil)

const rolloutInterval = 3 * time.Second

// ProcessController 通过当前命名方案读写进程的 Deployment、Service 与 HPA。
type ProcessController struct {
	provider  ClientProvider
	instances *InstanceWatcher
	interval  time.Duration
}

func NewProcessController(provider ClientProvider, instances *InstanceWatcher) *ProcessController {
	return &ProcessController{provider: provider, instances: instances, interval: rolloutInterval}
}

func (pc *ProcessController) Deploy(ctx context.Context, proc *domain.Process) error {
	c, err := pc.provider.ForApp(ctx, proc.App)
	if err != nil {
		return err
	}
	reg := c.Mappers(proc.App.MapperVersion)

	deploy, err := mapper.Serialize(reg, proc)
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindDeployment, deploy, MethodReplace); err != nil {
		return fmt.Errorf("apply deployment: %w", err)
	}

	svc, err := mapper.Serialize(reg, &domain.ProcessService{
		App:      proc.App,
		ProcType: proc.Type,
		Ports:    mapper.DefaultServicePorts(proc.TargetPort),
	})
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindService, svc, MethodReplace); err != nil {
		return fmt.Errorf("apply service: %w", err)
	}
	return nil
}

func (pc *ProcessController) Scale(ctx context.Context, app *domain.WlApp, procType string, replicas int) error {
	c, err := pc.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	name := c.Mappers(app.MapperVersion).Naming().DeploymentName(app, procType)
	patch := map[string]any{"spec": map[string]any{"replicas": replicas}}
	if _, err := c.Gateway.MergePatch(ctx, mapper.KindDeployment, app.Namespace(), name, patch); err != nil {
		return fmt.Errorf("scale %s: %w", name, err)
	}
	return nil
}

func (pc *ProcessController) Delete(ctx context.Context, app *domain.WlApp, procType string) error {
	c, err := pc.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	naming := c.Mappers(app.MapperVersion).Naming()
	return deleteProcessResources(ctx, c.Gateway, app, naming, procType)
}

func deleteProcessResources(ctx context.Context, gw *Gateway, app *domain.WlApp, naming mapper.Naming, procType string) error {
	ns := app.Namespace()
	errs := []error{
		gw.Delete(ctx, mapper.KindHPA, ns, naming.DeploymentName(app, procType), false),
		gw.Delete(ctx, mapper.KindDeployment, ns, naming.DeploymentName(app, procType), false),
		gw.Delete(ctx, mapper.KindService, ns, naming.ServiceName(app, procType), false),
	}
	return utilerrors.NewAggregate(errs)
}

// CollectLegacy 删除旧命名方案下的进程资源，当前方案的资源不受影响。
func (pc *ProcessController) CollectLegacy(ctx context.Context, app *domain.WlApp, version domain.MapperVersion, procTypes []string) error {
	if version == "" || version == app.MapperVersion {
		return nil
	}
	c, err := pc.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	naming := c.Mappers(version).Naming()
	var errs []error
	for _, t := range procTypes {
		if err := deleteProcessResources(ctx, c.Gateway, app, naming, t); err != nil {
			errs = append(errs, err)
		}
	}
	slog.Info("legacy process resources collected", "namespace", app.Namespace(), "version", version, "processes", procTypes)
	return utilerrors.NewAggregate(errs)
}

func (pc *ProcessController) UpsertAutoscaling(ctx context.Context, scaling *domain.ProcAutoscaling) error {
	c, err := pc.provider.ForApp(ctx, scaling.App)
	if err != nil {
		return err
	}
	reg := c.Mappers(scaling.App.MapperVersion)
	name := reg.Naming().DeploymentName(scaling.App, scaling.ProcType)
	if scaling.Name == "" {
		scaling.Name = name
	}
	if scaling.Target == "" {
		scaling.Target = name
	}
	obj, err := mapper.Serialize(reg, scaling)
	if err != nil {
		return err
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindHPA, obj, MethodReplace); err != nil {
		return fmt.Errorf("apply hpa: %w", err)
	}
	return nil
}

func (pc *ProcessController) DeleteAutoscaling(ctx context.Context, app *domain.WlApp, procType string) error {
	c, err := pc.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	name := c.Mappers(app.MapperVersion).Naming().DeploymentName(app, procType)
	return c.Gateway.Delete(ctx, mapper.KindHPA, app.Namespace(), name, false)
}

func (pc *ProcessController) GetStatus(ctx context.Context, app *domain.WlApp, procType string) (*domain.ProcessStatus, error) {
	c, err := pc.provider.ForApp(ctx, app)
	if err != nil {
		return nil, err
	}
	naming := c.Mappers(app.MapperVersion).Naming()
	obj, err := c.Gateway.Get(ctx, mapper.KindDeployment, app.Namespace(), naming.DeploymentName(app, procType))
	if err != nil {
		return nil, err
	}
	instances, err := pc.listInstances(ctx, c, app)
	if err != nil {
		return nil, err
	}
	return pc.buildStatus(ctx, c, obj, instances)
}

func (pc *ProcessController) ListStatuses(ctx context.Context, app *domain.WlApp) ([]*domain.ProcessStatus, error) {
	c, err := pc.provider.ForApp(ctx, app)
	if err != nil {
		return nil, err
	}
	selector := app.BaseLabels()
	selector[domain.LabelMapperVersion] = string(app.MapperVersion)
	list, err := c.Gateway.List(ctx, mapper.KindDeployment, app.Namespace(), selector)
	if err != nil {
		return nil, err
	}
	instances, err := pc.listInstances(ctx, c, app)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ProcessStatus, 0, len(list.Items))
	for i := range list.Items {
		st, err := pc.buildStatus(ctx, c, &list.Items[i], instances)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (pc *ProcessController) listInstances(ctx context.Context, c *Clients, app *domain.WlApp) ([]domain.Instance, error) {
	if pc.instances != nil {
		return pc.instances.List(ctx, c, app)
	}
	return listInstancesLive(ctx, c, app)
}

func (pc *ProcessController) buildStatus(ctx context.Context, c *Clients, obj *unstructured.Unstructured, instances []domain.Instance) (*domain.ProcessStatus, error) {
	var deploy appsv1.Deployment
	if err := fromUnstructuredObj(obj, &deploy); err != nil {
		return nil, err
	}
	procType := deploy.Labels[domain.LabelProcessID]
	st := &domain.ProcessStatus{
		Type:              procType,
		Name:              deploy.Name,
		ReadyReplicas:     deploy.Status.ReadyReplicas,
		UpdatedReplicas:   deploy.Status.UpdatedReplicas,
		AvailableReplicas: deploy.Status.AvailableReplicas,
		Summary:           mapper.DeploymentSummary(&deploy),
		Instances:         []domain.Instance{},
	}
	if deploy.Spec.Replicas != nil {
		st.Replicas = *deploy.Spec.Replicas
	}
	if v, err := strconv.Atoi(deploy.Labels[domain.LabelReleaseVersion]); err == nil {
		st.Version = v
	}
	_, err := c.Gateway.Get(ctx, mapper.KindHPA, deploy.Namespace, deploy.Name)
	switch {
	case err == nil:
		st.Autoscaling = true
	case !errors.Is(err, domain.ErrResourceMissing):
		return nil, err
	}
	for _, inst := range instances {
		if inst.ProcessType == procType {
			st.Instances = append(st.Instances, inst)
		}
	}
	return st, nil
}

// WaitForRollout 轮询进程的 Deployment，直到全部可用或超时；新 Pod 出现失败状态时提前返回。
func (pc *ProcessController) WaitForRollout(ctx context.Context, app *domain.WlApp, procTypes []string, timeout time.Duration) error {
	c, err := pc.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	naming := c.Mappers(app.MapperVersion).Naming()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pc.interval)
	defer ticker.Stop()

	pending := append([]string(nil), procTypes...)
	for {
		var next []string
		for _, t := range pending {
			done, err := pc.checkRollout(ctx, c, app, naming, t)
			if err != nil {
				return err
			}
			if !done {
				next = append(next, t)
			}
		}
		if len(next) == 0 {
			slog.Info("deployment rollout complete", "namespace", app.Namespace(), "processes", procTypes)
			return nil
		}
		pending = next

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("processes %v not ready after %s: %w", pending, timeout, domain.ErrReadTargetStatusTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (pc *ProcessController) checkRollout(ctx context.Context, c *Clients, app *domain.WlApp, naming mapper.Naming, procType string) (bool, error) {
	name := naming.DeploymentName(app, procType)
	obj, err := c.Gateway.Get(ctx, mapper.KindDeployment, app.Namespace(), name)
	if err != nil {
		return false, fmt.Errorf("get deployment %s: %w", name, err)
	}
	var deploy appsv1.Deployment
	if err := fromUnstructuredObj(obj, &deploy); err != nil {
		return false, err
	}

	// Progressing condition 为 False 表示部署卡住
	for _, cond := range deploy.Status.Conditions {
		if cond.Type == appsv1.DeploymentProgressing && cond.Status == corev1.ConditionFalse {
			return false, fmt.Errorf("deployment %s is not progressing: %s", name, cond.Message)
		}
	}

	if reason, failed := pc.detectPodFailure(ctx, c, app, naming, procType); failed {
		return false, fmt.Errorf("deployment %s pod failed: %s", name, reason)
	}

	var replicas int32 = 1
	if deploy.Spec.Replicas != nil {
		replicas = *deploy.Spec.Replicas
	}
	return deploy.Status.ObservedGeneration >= deploy.Generation &&
		deploy.Status.UpdatedReplicas >= replicas &&
		deploy.Status.AvailableReplicas >= replicas, nil
}

// detectPodFailure 检查进程当前版本的 Pod 是否处于不可恢复的失败状态。
func (pc *ProcessController) detectPodFailure(ctx context.Context, c *Clients, app *domain.WlApp, naming mapper.Naming, procType string) (string, bool) {
	list, err := c.Gateway.List(ctx, mapper.KindPod, app.Namespace(), naming.Selector(app, procType))
	if err != nil {
		slog.Warn("list pods for rollout check failed", "namespace", app.Namespace(), "process", procType, "error", err)
		return "", false
	}
	for i := range list.Items {
		var pod corev1.Pod
		if err := fromUnstructuredObj(&list.Items[i], &pod); err != nil {
			continue
		}
		if pod.DeletionTimestamp != nil {
			continue
		}
		if h := mapper.CheckPodHealthStatus(&pod); h.Status == domain.HealthUnhealthy {
			return fmt.Sprintf("%s: %s", pod.Name, h.FailureMessage()), true
		}
	}
	return "", false
}
