package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/metrics"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// PipelineConfig 是发布流水线的平台参数与超时。
type PipelineConfig struct {
	SlugBuilderImage    string
	SlugBuilderPlan     string
	// DefaultBuildpacks 用于未声明 buildpacks 的部署
	DefaultBuildpacks   []string
	Registry            port.RegistryCredential
	BuildLogTimeout     time.Duration
	BuildTimeout        time.Duration
	HookLogTimeout      time.Duration
	HookTimeout         time.Duration
	ReleaseReadyTimeout time.Duration
	// InterruptPoll 是长耗时步骤检查中断请求的间隔
	InterruptPoll time.Duration
}

func (c *PipelineConfig) setDefaults() {
	if c.BuildLogTimeout <= 0 {
		c.BuildLogTimeout = 300 * time.Second
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = 30 * time.Minute
	}
	if c.HookLogTimeout <= 0 {
		c.HookLogTimeout = 300 * time.Second
	}
	if c.HookTimeout <= 0 {
		c.HookTimeout = 15 * time.Minute
	}
	if c.ReleaseReadyTimeout <= 0 {
		c.ReleaseReadyTimeout = 10 * time.Minute
	}
	if c.InterruptPoll <= 0 {
		c.InterruptPoll = 2 * time.Second
	}
}

// PipelineDeps 汇总流水线依赖的仓储、集群控制器与服务。
type PipelineDeps struct {
	AppRepo          port.WlAppRepository
	DeployRepo       port.DeploymentRepository
	BuildRepo        port.BuildRepository
	BuildProcessRepo port.BuildProcessRepository
	ReleaseRepo      port.ReleaseRepository
	CommandRepo      port.CommandRepository
	Namespaces       port.NamespaceManager
	Pods             port.PodRunner
	Controller       port.ProcessController
	BkApps           port.BkAppController
	Blob             port.BlobStore
	Streams          *LogStreams
	Coordinator      *Coordinator
	Processes        *ProcessService
	Assembler        *ProcessAssembler
	Entrance         *EntranceService
	Envs             *EnvResolver
}

type stepFunc func(ctx context.Context, run *deployRun) domain.PhaseOutcome

// Pipeline 按 PREPARATION → BUILD → PRE_RELEASE_HOOK → RELEASE 顺序执行部署，
// 每个阶段的步骤由注册表声明，任一步骤失败即终止。
type Pipeline struct {
	PipelineDeps
	cfg      PipelineConfig
	registry domain.StepRegistry
	steps    map[string]stepFunc
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	cfg.setDefaults()
	p := &Pipeline{PipelineDeps: deps, cfg: cfg, registry: domain.DefaultSteps, now: time.Now}
	p.steps = map[string]stepFunc{
		domain.StepValidateSource:      p.validateSource,
		domain.StepResolveAddons:       p.resolveEnvs,
		domain.StepAllocateAddresses:   p.allocateAddresses,
		domain.StepEnsureNamespace:     p.ensureNamespace,
		domain.StepUpsertPullSecret:    p.upsertPullSecret,
		domain.StepRefreshEnvConfigMap: p.refreshEnvConfigMap,
		domain.StepUploadSource:        p.prepareSource,
		domain.StepRunBuilder:          p.runSlugBuilder,
		domain.StepCreateBuild:         p.createBuild,
		domain.StepRunHook:             p.runHook,
		domain.StepCreateRelease:       p.createRelease,
		domain.StepDeployProcess:       p.deployProcesses,
		domain.StepSyncNetwork:         p.syncNetwork,
		domain.StepWaitReady:           p.waitReady,
		domain.StepCollectOld:          p.collectLegacy,
	}
	return p
}

// deployRun 是一次部署执行过程中的状态。
type deployRun struct {
	d            *domain.Deployment
	app          *domain.WlApp
	log          *slog.Logger
	writers      map[domain.StreamKind]*StreamWriter
	envs         map[string]string
	buildProcess *domain.BuildProcess
	build        *domain.Build
	release      *domain.Release
	released     bool
	procs        []*domain.Process
}

func (r *deployRun) main() *StreamWriter { return r.writers[domain.StreamMain] }

// Start 在后台执行部署，Wait 等待全部后台部署结束。
func (p *Pipeline) Start(deploymentID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Run(context.Background(), deploymentID); err != nil {
			slog.Error("deployment run failed", "deployment_id", deploymentID, "error", err)
		}
	}()
}

func (p *Pipeline) Wait() { p.wg.Wait() }

// Run 同步执行部署直到终态。返回的错误只表示无法记录结果，部署本身的失败体现在记录状态中。
func (p *Pipeline) Run(ctx context.Context, deploymentID string) error {
	d, err := p.DeployRepo.FindByID(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d.Status.IsTerminal() {
		return nil
	}
	app, err := p.AppRepo.FindByUUID(ctx, d.AppID)
	if err != nil {
		return p.abort(ctx, d, fmt.Sprintf("load app: %v", err))
	}
	run := &deployRun{
		d:       d,
		app:     app,
		log:     slog.With("deployment_id", d.UUID, "app", app.Name, "namespace", app.Namespace(), "cluster", app.ClusterName),
		writers: make(map[domain.StreamKind]*StreamWriter, len(d.Streams)),
	}
	for kind, id := range d.Streams {
		run.writers[kind] = p.Streams.Writer(id)
	}
	if run.writers[domain.StreamMain] == nil {
		return p.abort(ctx, d, fmt.Sprintf("deployment %s has no main stream", d.UUID))
	}

	stop := p.Coordinator.KeepAlive(ctx, app.UUID, d.UUID)
	defer func() {
		stop()
		if ok, err := p.Coordinator.Release(context.Background(), app.UUID, d.UUID); err != nil || !ok {
			run.log.Warn("release deploy lock failed", "released", ok, "error", err)
		}
	}()

	now := p.now()
	d.StartTime = &now
	outcome := domain.Success()
	for _, phase := range domain.PhaseOrder {
		if !p.phaseEnabled(run, phase) {
			continue
		}
		if p.interrupted(ctx, run) {
			outcome = domain.Interrupted("deployment interrupted by user")
			break
		}
		if err := p.transit(ctx, run, phase.Status()); err != nil {
			outcome = domain.Failed(fmt.Sprintf("update deployment status: %v", err), nil)
			break
		}
		began := p.now()
		run.log.Info("phase started", "phase", phase)
		outcome = p.runPhase(ctx, run, phase)
		metrics.PhaseDuration.WithLabelValues(string(phase), string(outcome.Kind)).Observe(p.now().Sub(began).Seconds())
		if !outcome.IsSuccess() {
			break
		}
	}
	return p.finish(ctx, run, outcome)
}

func (p *Pipeline) phaseEnabled(run *deployRun, phase domain.PhaseType) bool {
	if phase == domain.PhasePreReleaseHook {
		hook := run.d.PreReleaseHook
		return hook != nil && hook.Enabled && hook.Command != ""
	}
	return true
}

func (p *Pipeline) runPhase(ctx context.Context, run *deployRun, phase domain.PhaseType) domain.PhaseOutcome {
	for _, step := range p.registry[phase] {
		fn, ok := p.steps[step]
		if !ok {
			return domain.Failed(fmt.Sprintf("step %q is not implemented", step), nil)
		}
		if err := run.main().Title(ctx, step); err != nil {
			run.log.Warn("write step title failed", "step", step, "error", err)
		}
		if out := fn(ctx, run); !out.IsSuccess() {
			run.log.Warn("step aborted", "phase", phase, "step", step, "outcome", out.Kind, "reason", out.Reason)
			return out
		}
	}
	return domain.Success()
}

func (p *Pipeline) transit(ctx context.Context, run *deployRun, status domain.DeploymentStatus) error {
	run.d.Status = status
	run.d.UpdatedAt = p.now()
	return p.DeployRepo.Update(ctx, run.d)
}

// interrupted 读取最新记录判断是否收到中断请求，不修改 run 的状态。
func (p *Pipeline) interrupted(ctx context.Context, run *deployRun) bool {
	d, err := p.DeployRepo.FindByID(ctx, run.d.UUID)
	if err != nil {
		run.log.Warn("check interruption failed", "error", err)
		return false
	}
	return d.InterruptRequested()
}

// watchInterrupt 返回一个在收到中断请求时被取消的 ctx。
func (p *Pipeline) watchInterrupt(ctx context.Context, run *deployRun) (context.Context, func()) {
	ictx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.InterruptPoll)
		defer ticker.Stop()
		for {
			select {
			case <-ictx.Done():
				return
			case <-ticker.C:
				if p.interrupted(ictx, run) {
					cancel()
					return
				}
			}
		}
	}()
	return ictx, func() {
		cancel()
		<-done
	}
}

// abort 在流水线开始前失败时把记录置为失败并释放部署锁。
func (p *Pipeline) abort(ctx context.Context, d *domain.Deployment, reason string) error {
	slog.Error("deployment aborted", "deployment_id", d.UUID, "reason", reason)
	now := p.now()
	d.Status = domain.DeploymentFailed
	d.ErrDetail = reason
	d.CompleteTime = &now
	d.UpdatedAt = now
	err := p.DeployRepo.Update(ctx, d)
	metrics.Deployments.WithLabelValues(string(d.Status)).Inc()
	if ok, rerr := p.Coordinator.Release(context.Background(), d.AppID, d.UUID); rerr != nil || !ok {
		slog.Warn("release deploy lock failed", "deployment_id", d.UUID, "released", ok, "error", rerr)
	}
	return err
}

// finish 先把失败原因写入日志流，再更新部署终态。
func (p *Pipeline) finish(ctx context.Context, run *deployRun, outcome domain.PhaseOutcome) error {
	main := run.main()
	if !outcome.IsSuccess() {
		if err := main.Stderr(ctx, outcome.Reason); err != nil {
			run.log.Warn("write failure reason failed", "error", err)
		}
	}

	if run.released {
		run.release.Status = domain.ReleaseStatusSuccessful
		if !outcome.IsSuccess() {
			run.release.Status = domain.ReleaseStatusFailed
		}
		run.release.UpdatedAt = p.now()
		if err := p.ReleaseRepo.Update(ctx, run.release); err != nil {
			run.log.Error("update release status failed", "version", run.release.Version, "error", err)
		}
	}

	now := p.now()
	run.d.Status = outcome.FinalStatus()
	run.d.ErrDetail = outcome.Reason
	run.d.CompleteTime = &now
	run.d.UpdatedAt = now
	err := p.DeployRepo.Update(ctx, run.d)
	metrics.Deployments.WithLabelValues(string(run.d.Status)).Inc()
	run.log.Info("deployment finished", "status", run.d.Status, "reason", outcome.Reason)
	for _, w := range run.writers {
		w.Close(ctx)
	}
	return err
}

// failed 把错误转换为失败结果。
func failed(format string, args ...any) domain.PhaseOutcome {
	return domain.Failed(fmt.Sprintf(format, args...), nil)
}

// podOutcome 把一次性 Pod 的错误归类为阶段结果。已请求中断时为 INTERRUPTED，并保留退出码。
func (p *Pipeline) podOutcome(ctx context.Context, run *deployRun, podName string, err error) domain.PhaseOutcome {
	var notSucceeded *domain.PodNotSucceededError
	hasExit := errors.As(err, &notSucceeded)

	if p.interrupted(ctx, run) {
		if podName != "" {
			if derr := p.Pods.DeletePod(ctx, run.app, podName); derr != nil {
				run.log.Warn("delete interrupted pod failed", "pod", podName, "error", derr)
			}
		}
		out := domain.Interrupted("deployment interrupted by user")
		if hasExit {
			code := notSucceeded.ExitCode
			out.ExitCode = &code
		}
		return out
	}
	if hasExit {
		code := notSucceeded.ExitCode
		return domain.Failed(notSucceeded.Error(), &code)
	}
	if errors.Is(err, domain.ErrReadTargetStatusTimeout) {
		health, herr := p.Pods.PodHealth(ctx, run.app, podName)
		if herr == nil && health.Status == domain.HealthUnhealthy {
			return domain.Failed(health.FailureMessage(), nil)
		}
		return failed("pod %s did not finish in time", podName)
	}
	if errors.Is(err, domain.ErrResourceDuplicate) {
		return failed("previous pod %s is still running, please retry after %d seconds", podName, 60)
	}
	return domain.Failed(err.Error(), nil)
}

// oneOffPod 描述一次性 Pod 的启动方式与超时。
type oneOffPod struct {
	start      func(ctx context.Context) error
	name       func() string
	writer     *StreamWriter
	logTimeout time.Duration
	runTimeout time.Duration
}

// runPod 启动 Pod，等待日志可读后跟随输出，直到 Pod 结束。中断请求会取消等待。
func (p *Pipeline) runPod(ctx context.Context, run *deployRun, pod oneOffPod) domain.PhaseOutcome {
	ictx, stop := p.watchInterrupt(ctx, run)
	defer stop()

	if err := pod.start(ictx); err != nil {
		return p.podOutcome(ctx, run, pod.name(), err)
	}
	name := pod.name()
	if err := p.Pods.WaitForLogsReady(ictx, run.app, name, pod.logTimeout); err != nil {
		return p.podOutcome(ctx, run, name, err)
	}
	err := p.Pods.StreamLogs(ictx, run.app, name, func(line string) error {
		return pod.writer.Stdout(ctx, line)
	})
	if err != nil && ictx.Err() == nil {
		run.log.Warn("follow pod logs stopped", "pod", name, "error", err)
	}
	if err := p.Pods.WaitForSucceeded(ictx, run.app, name, pod.runTimeout); err != nil {
		return p.podOutcome(ctx, run, name, err)
	}
	return domain.Success()
}
