package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// buildURLExpiry 是 slug-builder 使用的签名有效期。
const buildURLExpiry = 24 * time.Hour

// 准备阶段

func (p *Pipeline) validateSource(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	d := run.d
	if !d.RequireBuild() {
		return domain.Success()
	}
	if err := domain.ValidateObjectKey(d.SourceTarPath); err != nil {
		return domain.Failed(err.Error(), nil)
	}
	if err := domain.ValidateRevision(d.SourceRevision); err != nil {
		return domain.Failed(err.Error(), nil)
	}
	ok, err := p.Blob.Exists(ctx, d.SourceTarPath)
	if err != nil {
		return failed("check source package: %v", err)
	}
	if !ok {
		return failed("source package %s not found", d.SourceTarPath)
	}
	return domain.Success()
}

func (p *Pipeline) resolveEnvs(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	envs, err := p.Envs.Resolve(ctx, run.app, run.d.Options.ExtraEnvs)
	if err != nil {
		return failed("resolve environment variables: %v", err)
	}
	run.envs = envs
	return domain.Success()
}

func (p *Pipeline) allocateAddresses(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	if err := p.Entrance.Allocate(ctx, run.app); err != nil {
		return failed("allocate addresses: %v", err)
	}
	return domain.Success()
}

func (p *Pipeline) ensureNamespace(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	err := p.Namespaces.EnsureNamespace(ctx, run.app)
	if errors.Is(err, domain.ErrCreateServiceAccountTimeout) {
		return failed("default service account of namespace %s is not ready, please retry later", run.app.Namespace())
	}
	if err != nil {
		return failed("ensure namespace: %v", err)
	}
	return domain.Success()
}

func (p *Pipeline) upsertPullSecret(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	if p.cfg.Registry.Registry == "" {
		return domain.Success()
	}
	if err := p.Namespaces.UpsertImagePullSecret(ctx, run.app, p.cfg.Registry); err != nil {
		return failed("upsert image pull secret: %v", err)
	}
	return domain.Success()
}

func (p *Pipeline) refreshEnvConfigMap(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	if err := p.Namespaces.UpsertEnvConfigMap(ctx, run.app, run.envs); err != nil {
		return failed("refresh env configmap: %v", err)
	}
	return domain.Success()
}

// 构建阶段

// prepareSource 决定产物来源：复用已有构建、直接使用镜像，或者新建构建过程。
func (p *Pipeline) prepareSource(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	d := run.d
	switch {
	case d.Options.BuildID != "":
		build, err := p.BuildRepo.FindByID(ctx, d.Options.BuildID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Failed(domain.ErrBuildMissing.Error(), nil)
		}
		if err != nil {
			return failed("load build %s: %v", d.Options.BuildID, err)
		}
		run.build = build
		d.BuildID = build.UUID
		return p.saveDeployment(ctx, run)
	case !d.RequireBuild():
		return domain.Success()
	}

	buildpacks := d.BuildpacksRequired
	if len(buildpacks) == 0 {
		buildpacks = p.cfg.DefaultBuildpacks
	}
	now := p.now()
	bp := &domain.BuildProcess{
		UUID:               uuid.New().String(),
		AppID:              run.app.UUID,
		SourceTarPath:      d.SourceTarPath,
		Revision:           d.SourceRevision,
		BuildpacksRequired: buildpacks,
		Status:             domain.BuildProcessPending,
		InvokeMessage:      d.Options.Invoker,
		StreamID:           d.Streams[domain.StreamBuildProc],
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := p.BuildProcessRepo.Save(ctx, bp); err != nil {
		return failed("create build process: %v", err)
	}
	run.buildProcess = bp
	d.BuildProcessID = bp.UUID
	return p.saveDeployment(ctx, run)
}

func slugObjectKey(app *domain.WlApp, buildProcessID string) string {
	return fmt.Sprintf("%s/slugs/%s.tgz", app.Name, buildProcessID)
}

func cacheObjectKey(app *domain.WlApp) string {
	return app.Name + "/cache/cache.tgz"
}

func (p *Pipeline) runSlugBuilder(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	bp := run.buildProcess
	if bp == nil {
		return domain.Success()
	}

	envs := map[string]string{
		"REQUIRED_BUILDPACKS": strings.Join(bp.BuildpacksRequired, " "),
		"REVISION":            bp.Revision,
	}
	for env, sign := range map[string]struct {
		key string
		sig port.SignatureType
	}{
		"TAR_PATH":   {bp.SourceTarPath, port.SignDownload},
		"CACHE_PATH": {cacheObjectKey(run.app), port.SignUpload},
		"PUT_PATH":   {slugObjectKey(run.app, bp.UUID), port.SignUpload},
	} {
		url, err := p.Blob.SignedURL(ctx, sign.key, sign.sig, buildURLExpiry)
		if err != nil {
			return failed("sign %s: %v", strings.ToLower(env), err)
		}
		envs[env] = url
	}

	pod := &domain.SlugBuilderPod{
		App:   run.app,
		Image: p.cfg.SlugBuilderImage,
		Envs:  envs,
	}
	if plan, err := p.Processes.plans.Lookup(p.cfg.SlugBuilderPlan); err == nil {
		pod.Resources = plan.Requirements()
	}
	if p.cfg.Registry.Registry != "" {
		pod.ImagePullSecretName = run.app.ImagePullSecretName()
	}

	p.transitBuildProcess(ctx, run, domain.BuildProcessRunning)
	out := p.runPod(ctx, run, oneOffPod{
		start:      func(ctx context.Context) error { return p.Pods.RunSlugBuilder(ctx, pod) },
		name:       func() string { return pod.Name },
		writer:     run.writers[domain.StreamBuildProc],
		logTimeout: p.cfg.BuildLogTimeout,
		runTimeout: p.cfg.BuildTimeout,
	})
	switch out.Kind {
	case domain.OutcomeFailed:
		p.transitBuildProcess(ctx, run, domain.BuildProcessFailed)
	case domain.OutcomeInterrupted:
		p.transitBuildProcess(ctx, run, domain.BuildProcessInterrupted)
	}
	return out
}

func (p *Pipeline) transitBuildProcess(ctx context.Context, run *deployRun, status domain.BuildProcessStatus) {
	bp := run.buildProcess
	bp.Status = status
	bp.UpdatedAt = p.now()
	if err := p.BuildProcessRepo.Update(ctx, bp); err != nil {
		run.log.Warn("update build process failed", "build_process_id", bp.UUID, "status", status, "error", err)
	}
}

func (p *Pipeline) createBuild(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	bp := run.buildProcess
	if bp == nil {
		return domain.Success()
	}
	build := &domain.Build{
		UUID:           uuid.New().String(),
		AppID:          run.app.UUID,
		Procfile:       run.d.Procfile,
		ArtifactType:   domain.ArtifactSlug,
		SlugPath:       slugObjectKey(run.app, bp.UUID),
		SourceRevision: bp.Revision,
		BuildpacksMetadata: map[string]string{
			"required": strings.Join(bp.BuildpacksRequired, ","),
		},
		CreatedAt: p.now(),
	}
	if err := p.BuildRepo.Save(ctx, build); err != nil {
		return failed("create build: %v", err)
	}
	bp.BuildID = build.UUID
	p.transitBuildProcess(ctx, run, domain.BuildProcessSuccessful)

	run.build = build
	run.d.BuildID = build.UUID
	return p.saveDeployment(ctx, run)
}

func (p *Pipeline) saveDeployment(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	run.d.UpdatedAt = p.now()
	if err := p.DeployRepo.Update(ctx, run.d); err != nil {
		return failed("update deployment: %v", err)
	}
	return domain.Success()
}

// draftRelease 生成下一个版本的发布快照，前置命令与发布阶段共用同一份。
func (p *Pipeline) draftRelease(ctx context.Context, run *deployRun) (*domain.Release, error) {
	if run.release != nil {
		return run.release, nil
	}
	version, err := p.ReleaseRepo.MaxVersion(ctx, run.app.UUID)
	if err != nil {
		return nil, err
	}
	now := p.now()
	r := &domain.Release{
		UUID:           uuid.New().String(),
		AppID:          run.app.UUID,
		Version:        version + 1,
		Procfile:       run.d.Procfile,
		ConfigSnapshot: run.envs,
		Status:         domain.ReleaseStatusPending,
		Summary:        run.d.Options.Invoker,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if b := run.build; b != nil {
		r.BuildID = b.UUID
		r.Image = b.Image
		r.ArtifactType = b.ArtifactType
		r.SlugPath = b.SlugPath
		if len(r.Procfile) == 0 {
			r.Procfile = b.Procfile
		}
	} else {
		r.Image = run.d.Options.Image
		r.ArtifactType = domain.ArtifactImage
	}
	run.release = r
	return r, nil
}

// 前置命令阶段

func (p *Pipeline) runHook(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	release, err := p.draftRelease(ctx, run)
	if err != nil {
		return failed("prepare release: %v", err)
	}

	now := p.now()
	cmd := &domain.Command{
		UUID:           uuid.New().String(),
		AppID:          run.app.UUID,
		Type:           domain.CommandPreReleaseHook,
		Command:        run.d.PreReleaseHook.Command,
		Status:         domain.CommandPending,
		ReleaseVersion: release.Version,
		DeploymentID:   run.d.UUID,
		StreamID:       run.d.Streams[domain.StreamPreReleaseCmd],
		Operator:       run.d.Options.Invoker,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.CommandRepo.Save(ctx, cmd); err != nil {
		return failed("create hook command: %v", err)
	}
	run.d.HookCommandID = cmd.UUID
	if out := p.saveDeployment(ctx, run); !out.IsSuccess() {
		return out
	}

	rc, err := p.Assembler.HookCommand(ctx, run.app, release, cmd, "", run.d.Options.ExtraEnvs)
	if err != nil {
		p.finishCommand(ctx, run, cmd, domain.CommandFailed, nil)
		return failed("assemble hook command: %v", err)
	}
	p.finishCommand(ctx, run, cmd, domain.CommandScheduled, nil)

	out := p.runPod(ctx, run, oneOffPod{
		start:      func(ctx context.Context) error { return p.Pods.RunCommand(ctx, rc) },
		name:       func() string { return rc.Name },
		writer:     run.writers[domain.StreamPreReleaseCmd],
		logTimeout: p.cfg.HookLogTimeout,
		runTimeout: p.cfg.HookTimeout,
	})
	switch out.Kind {
	case domain.OutcomeSuccess:
		zero := 0
		p.finishCommand(ctx, run, cmd, domain.CommandSuccessful, &zero)
	case domain.OutcomeInterrupted:
		p.finishCommand(ctx, run, cmd, domain.CommandInterrupted, out.ExitCode)
	default:
		p.finishCommand(ctx, run, cmd, domain.CommandFailed, out.ExitCode)
		out.Reason = "pre-release hook failed: " + out.Reason
	}
	return out
}

func (p *Pipeline) finishCommand(ctx context.Context, run *deployRun, cmd *domain.Command, status domain.CommandStatus, exitCode *int) {
	if err := cmd.Transit(status, exitCode, p.now()); err != nil {
		run.log.Warn("transit hook command failed", "command_id", cmd.UUID, "status", status, "error", err)
		return
	}
	if err := p.CommandRepo.Update(ctx, cmd); err != nil {
		run.log.Warn("update hook command failed", "command_id", cmd.UUID, "status", status, "error", err)
	}
}

// 发布阶段

func (p *Pipeline) createRelease(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	r, err := p.draftRelease(ctx, run)
	if err != nil {
		return failed("prepare release: %v", err)
	}
	if err := r.Validate(); err != nil {
		return domain.Failed(err.Error(), nil)
	}
	if err := p.ReleaseRepo.Create(ctx, r); err != nil {
		if errors.Is(err, domain.ErrReleaseVersionConflict) {
			return failed("release version %d conflicts with a concurrent release", r.Version)
		}
		return failed("create release: %v", err)
	}
	run.released = true
	run.d.ReleaseVersion = r.Version
	if r.IsDirtyLegacy() {
		_ = run.main().Stdout(ctx, "release has an empty procfile, no process will be deployed")
	}
	return p.saveDeployment(ctx, run)
}

func (p *Pipeline) deployProcesses(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	app, r := run.app, run.release
	var err error
	switch {
	case len(run.d.Processes) > 0:
		err = p.Processes.Sync(ctx, app.AppCode, app.ModuleName, run.d.Processes)
	case len(r.Procfile) > 0:
		err = p.Processes.SyncProcfile(ctx, app.AppCode, app.ModuleName, r.Procfile)
	}
	if err != nil {
		return failed("sync process specs: %v", err)
	}

	procs, err := p.Assembler.Assemble(ctx, app, r, run.d.Options.ExtraEnvs)
	if err != nil {
		return failed("assemble processes: %v", err)
	}
	run.procs = procs

	if app.IsCloudNative() {
		if err := p.BkApps.Upsert(ctx, BkAppFromProcesses(app, r, procs)); err != nil {
			return failed("apply bkapp: %v", err)
		}
		return domain.Success()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, proc := range procs {
		proc := proc
		g.Go(func() error {
			if err := p.Controller.Deploy(gctx, proc); err != nil {
				return fmt.Errorf("deploy process %s: %w", proc.Type, err)
			}
			if proc.Autoscaling != nil {
				return p.Controller.UpsertAutoscaling(gctx, &domain.ProcAutoscaling{App: app, ProcType: proc.Type, Config: *proc.Autoscaling})
			}
			return p.Controller.DeleteAutoscaling(gctx, app, proc.Type)
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Failed(err.Error(), nil)
	}
	for _, proc := range procs {
		_ = run.main().Stdout(ctx, fmt.Sprintf("process %s deployed, replicas: %d", proc.Type, proc.Replicas))
	}
	if r.IsDirtyLegacy() {
		return domain.Success()
	}
	return p.removeOrphans(ctx, run)
}

// removeOrphans 删除已不在本次发布中的进程及指向它们的入口。
func (p *Pipeline) removeOrphans(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	statuses, err := p.Controller.ListStatuses(ctx, run.app)
	if err != nil {
		return failed("list processes: %v", err)
	}
	keep := make(map[string]bool, len(run.procs))
	for _, proc := range run.procs {
		keep[proc.Type] = true
	}
	for _, st := range statuses {
		if keep[st.Type] {
			continue
		}
		if err := p.Controller.Delete(ctx, run.app, st.Type); err != nil {
			return failed("delete process %s: %v", st.Type, err)
		}
		if err := p.Entrance.DeleteForProcess(ctx, run.app, st.Type); err != nil {
			run.log.Warn("delete entrances of removed process failed", "process", st.Type, "error", err)
		}
		_ = run.main().Stdout(ctx, fmt.Sprintf("process %s removed", st.Type))
	}
	return domain.Success()
}

func defaultProcess(procs []*domain.Process) string {
	types := make([]string, 0, len(procs))
	for _, proc := range procs {
		types = append(types, proc.Type)
	}
	return domain.DefaultProcessType(types)
}

func (p *Pipeline) syncNetwork(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	if len(run.procs) == 0 {
		return domain.Success()
	}
	if err := p.Entrance.Sync(ctx, run.app, defaultProcess(run.procs)); err != nil {
		return failed("sync ingresses: %v", err)
	}
	return domain.Success()
}

func (p *Pipeline) waitReady(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	if run.app.IsCloudNative() {
		return domain.Success()
	}
	var types []string
	for _, proc := range run.procs {
		if proc.Replicas > 0 {
			types = append(types, proc.Type)
		}
	}
	if len(types) == 0 {
		return domain.Success()
	}

	ictx, stop := p.watchInterrupt(ctx, run)
	defer stop()
	err := p.Controller.WaitForRollout(ictx, run.app, types, p.cfg.ReleaseReadyTimeout)
	if err == nil {
		return domain.Success()
	}
	if p.interrupted(ctx, run) {
		return domain.Interrupted(domain.AbortMessage("interrupted by user"))
	}
	if errors.Is(err, domain.ErrReadTargetStatusTimeout) {
		return domain.Failed(domain.AbortMessage(fmt.Sprintf("processes not ready within %s", p.cfg.ReleaseReadyTimeout)), nil)
	}
	return domain.Failed(domain.AbortMessage(err.Error()), nil)
}

// collectLegacy 回收旧命名方案下的资源，失败只记录日志，不影响发布结果。
func (p *Pipeline) collectLegacy(ctx context.Context, run *deployRun) domain.PhaseOutcome {
	app := run.app
	if app.PrevMapperVersion == "" || app.PrevMapperVersion == app.MapperVersion || app.IsCloudNative() {
		return domain.Success()
	}
	types := make([]string, 0, len(run.procs))
	for _, proc := range run.procs {
		types = append(types, proc.Type)
	}
	if err := p.Controller.CollectLegacy(ctx, app, app.PrevMapperVersion, types); err != nil {
		run.log.Warn("collect legacy resources failed", "mapper_version", app.PrevMapperVersion, "error", err)
		_ = run.main().Stderr(ctx, fmt.Sprintf("collect %s resources failed: %v", app.PrevMapperVersion, err))
		return domain.Success()
	}
	app.PrevMapperVersion = ""
	app.UpdatedAt = p.now()
	if err := p.AppRepo.Update(ctx, app); err != nil {
		run.log.Warn("clear previous mapper version failed", "error", err)
	}
	return domain.Success()
}
