package kubernetes

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"
)

var _ port.PodRunner = (*PodRunner)(nil)

const (
	podPollInterval    = 2 * time.Second
	podDeletionTimeout = 60 * time.Second
)

// PodRunner 运行 slug-builder 与 hook 命令这类一次性 Pod，并跟随其日志。
type PodRunner struct {
	provider ClientProvider
	interval time.Duration
}

func NewPodRunner(provider ClientProvider) *PodRunner {
	return &PodRunner{provider: provider, interval: podPollInterval}
}

func (r *PodRunner) RunSlugBuilder(ctx context.Context, pod *domain.SlugBuilderPod) error {
	c, err := r.provider.ForApp(ctx, pod.App)
	if err != nil {
		return err
	}
	if pod.Name == "" {
		pod.Name = mapper.SlugBuilderPodName(pod.App)
	}
	obj, err := mapper.Serialize(c.Mappers(pod.App.MapperVersion), pod)
	if err != nil {
		return err
	}
	return r.run(ctx, c, obj)
}

func (r *PodRunner) RunCommand(ctx context.Context, cmd *domain.RuntimeCommand) error {
	c, err := r.provider.ForApp(ctx, cmd.App)
	if err != nil {
		return err
	}
	if cmd.Name == "" {
		cmd.Name = mapper.HookPodName(cmd.App)
	}
	obj, err := mapper.Serialize(c.Mappers(cmd.App.MapperVersion), cmd)
	if err != nil {
		return err
	}
	return r.run(ctx, c, obj)
}

// run 清理已结束的同名旧 Pod 后创建新 Pod；旧 Pod 仍在运行时返回 ErrResourceDuplicate。
func (r *PodRunner) run(ctx context.Context, c *Clients, obj *unstructured.Unstructured) error {
	ns, name := obj.GetNamespace(), obj.GetName()
	prev, err := r.getPod(ctx, c, ns, name)
	switch {
	case errors.Is(err, domain.ErrResourceMissing):
	case err != nil:
		return err
	case podInFlight(prev):
		return fmt.Errorf("pod %s/%s is still %s: %w", ns, name, prev.Status.Phase, domain.ErrResourceDuplicate)
	default:
		if err := r.deleteAndWait(ctx, c, ns, name); err != nil {
			return err
		}
	}
	if _, _, err := c.Gateway.CreateOrUpdate(ctx, mapper.KindPod, obj, MethodReplace); err != nil {
		return fmt.Errorf("create pod %s: %w", name, err)
	}
	slog.Info("one-off pod created", "cluster", c.Cluster.Name, "namespace", ns, "pod", name)
	return nil
}

// podInFlight 判断 Pod 是否仍在运行。拉取镜像失败等卡在 Pending 的 Pod 视为已结束。
func podInFlight(pod *corev1.Pod) bool {
	switch pod.Status.Phase {
	case corev1.PodRunning:
		return pod.DeletionTimestamp == nil
	case corev1.PodPending, "":
		return pod.DeletionTimestamp == nil && mapper.CheckPodHealthStatus(pod).Status != domain.HealthUnhealthy
	}
	return false
}

func (r *PodRunner) deleteAndWait(ctx context.Context, c *Clients, ns, name string) error {
	if err := c.Gateway.Delete(ctx, mapper.KindPod, ns, name, false); err != nil {
		return fmt.Errorf("delete previous pod %s: %w", name, err)
	}
	err := wait.PollUntilContextTimeout(ctx, r.interval, podDeletionTimeout, true, func(ctx context.Context) (bool, error) {
		_, err := c.Gateway.Get(ctx, mapper.KindPod, ns, name)
		if errors.Is(err, domain.ErrResourceMissing) {
			return true, nil
		}
		return false, err
	})
	if wait.Interrupted(err) {
		return fmt.Errorf("previous pod %s still terminating: %w", name, domain.ErrReadTargetStatusTimeout)
	}
	return err
}

func (r *PodRunner) getPod(ctx context.Context, c *Clients, ns, name string) (*corev1.Pod, error) {
	obj, err := c.Gateway.Get(ctx, mapper.KindPod, ns, name)
	if err != nil {
		return nil, err
	}
	var pod corev1.Pod
	if err := fromUnstructuredObj(obj, &pod); err != nil {
		return nil, err
	}
	return &pod, nil
}

// WaitForLogsReady 等待 Pod 离开 Pending，此后日志可读。
// 镜像拉取失败等不可恢复状态直接返回错误。
func (r *PodRunner) WaitForLogsReady(ctx context.Context, app *domain.WlApp, podName string, timeout time.Duration) error {
	c, err := r.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	err = wait.PollUntilContextTimeout(ctx, r.interval, timeout, true, func(ctx context.Context) (bool, error) {
		pod, err := r.getPod(ctx, c, app.Namespace(), podName)
		if err != nil {
			return false, err
		}
		if pod.Status.Phase != corev1.PodPending && pod.Status.Phase != "" {
			return true, nil
		}
		if h := mapper.CheckPodHealthStatus(pod); h.Status == domain.HealthUnhealthy {
			return false, fmt.Errorf("pod %s failed to start: %s", podName, h.FailureMessage())
		}
		return false, nil
	})
	if wait.Interrupted(err) {
		return fmt.Errorf("pod %s logs not ready after %s: %w", podName, timeout, domain.ErrReadTargetStatusTimeout)
	}
	return err
}

func (r *PodRunner) StreamLogs(ctx context.Context, app *domain.WlApp, podName string, fn func(line string) error) error {
	c, err := r.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	stream, err := c.Kube.CoreV1().Pods(app.Namespace()).GetLogs(podName, &corev1.PodLogOptions{
		Follow: true,
	}).Stream(ctx)
	if err != nil {
		return fmt.Errorf("get pod logs %s: %w", podName, translateError(err, mapper.KindPod.Kind, app.Namespace(), podName))
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read pod logs %s: %w", podName, err)
	}
	return ctx.Err()
}

// WaitForSucceeded 等待 Pod 运行结束，退出码非零时返回 *domain.PodNotSucceededError。
func (r *PodRunner) WaitForSucceeded(ctx context.Context, app *domain.WlApp, podName string, timeout time.Duration) error {
	c, err := r.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	var final *corev1.Pod
	err = wait.PollUntilContextTimeout(ctx, r.interval, timeout, true, func(ctx context.Context) (bool, error) {
		pod, err := r.getPod(ctx, c, app.Namespace(), podName)
		if err != nil {
			return false, err
		}
		switch pod.Status.Phase {
		case corev1.PodSucceeded, corev1.PodFailed:
			final = pod
			return true, nil
		}
		return false, nil
	})
	if wait.Interrupted(err) {
		return fmt.Errorf("pod %s not finished after %s: %w", podName, timeout, domain.ErrReadTargetStatusTimeout)
	}
	if err != nil {
		return err
	}
	if final.Status.Phase == corev1.PodSucceeded {
		return nil
	}
	exitCode, _ := mapper.TerminatedExitCode(final)
	h := mapper.CheckPodHealthStatus(final)
	return &domain.PodNotSucceededError{PodName: podName, ExitCode: exitCode, Reason: h.FailureMessage()}
}

func (r *PodRunner) PodHealth(ctx context.Context, app *domain.WlApp, podName string) (domain.PodHealth, error) {
	c, err := r.provider.ForApp(ctx, app)
	if err != nil {
		return domain.PodHealth{}, err
	}
	pod, err := r.getPod(ctx, c, app.Namespace(), podName)
	if err != nil {
		return domain.PodHealth{}, err
	}
	return mapper.CheckPodHealthStatus(pod), nil
}

func (r *PodRunner) DeletePod(ctx context.Context, app *domain.WlApp, podName string) error {
	c, err := r.provider.ForApp(ctx, app)
	if err != nil {
		return err
	}
	return c.Gateway.Delete(ctx, mapper.KindPod, app.Namespace(), podName, false)
}
