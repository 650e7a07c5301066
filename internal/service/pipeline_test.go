package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	app        *domain.WlApp
	apps       *stubAppRepo
	deploys    *stubDeployRepo
	streams    *stubStreamRepo
	builds     *stubBuildRepo
	bps        *stubBuildProcessRepo
	releases   *stubReleaseRepo
	commands   *stubCommandRepo
	namespaces *stubNamespaces
	pods       *stubPods
	controller *stubProcessController
	ingresses  *stubIngresses
	locker     *stubLocker
	pipeline   *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	app := testApp()
	appRepo := newStubAppRepo(app)
	appRepo.secrets["demo"] = "s3cret"
	clusterRepo := newStubClusterRepo(testCluster())
	specRepo := newStubSpecRepo()

	f := &pipelineFixture{
		app:        app,
		apps:       appRepo,
		deploys:    newStubDeployRepo(),
		streams:    newStubStreamRepo(),
		builds:     newStubBuildRepo(),
		bps:        newStubBuildProcessRepo(),
		releases:   &stubReleaseRepo{},
		commands:   newStubCommandRepo(),
		namespaces: &stubNamespaces{},
		pods:       &stubPods{},
		controller: newStubProcessController(),
		ingresses:  newStubIngresses(),
		locker:     newStubLocker(),
	}
	processes := NewProcessService(stubTx{}, specRepo, clusterRepo, f.controller, nil, 0)
	entrance := NewEntranceService(clusterRepo, appRepo, newStubAddressRepo(), &stubDomainRepo{}, specRepo, f.ingresses)
	envs := NewEnvResolver(appRepo, &stubConfigVarRepo{}, &stubAddonRepo{}, entrance, nil)
	blob := &stubBlob{}
	assembler := NewProcessAssembler(specRepo, clusterRepo, newStubStateRepo(), processes, envs, blob, nil,
		AssemblerConfig{SlugRunnerImage: "slugrunner:latest"})

	f.pipeline = NewPipeline(PipelineDeps{
		AppRepo:          appRepo,
		DeployRepo:       f.deploys,
		BuildRepo:        f.builds,
		BuildProcessRepo: f.bps,
		ReleaseRepo:      f.releases,
		CommandRepo:      f.commands,
		Namespaces:       f.namespaces,
		Pods:             f.pods,
		Controller:       f.controller,
		BkApps:           &stubBkApps{},
		Blob:             blob,
		Streams:          NewLogStreams(f.streams, nil),
		Coordinator:      NewCoordinator(f.locker, 0),
		Processes:        processes,
		Assembler:        assembler,
		Entrance:         entrance,
		Envs:             envs,
	}, PipelineConfig{
		SlugBuilderImage: "slugbuilder:latest",
		InterruptPoll:    10 * time.Millisecond,
	})
	return f
}

// deploy 保存部署记录并获取部署锁，与 DeployService.Create 的效果一致。
func (f *pipelineFixture) deploy(t *testing.T, d *domain.Deployment) *domain.Deployment {
	t.Helper()
	d.UUID = "deploy-1"
	d.AppID = f.app.UUID
	d.Status = domain.DeploymentPending
	d.Streams = map[domain.StreamKind]string{
		domain.StreamPreparation:   "s-prep",
		domain.StreamBuildProc:     "s-build",
		domain.StreamPreReleaseCmd: "s-hook",
		domain.StreamMain:          "s-main",
	}
	require.NoError(t, f.deploys.Save(context.Background(), d))
	ok, err := f.pipeline.Coordinator.TryAcquire(context.Background(), f.app.UUID, d.UUID)
	require.NoError(t, err)
	require.True(t, ok)
	return d
}

func (f *pipelineFixture) run(t *testing.T) *domain.Deployment {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.pipeline.Run(ctx, "deploy-1"))
	assert.False(t, f.locker.held("paas:deploy-lock:"+f.app.UUID), "deploy lock should be released")
	return f.deploys.get("deploy-1")
}

func imageDeployment() *domain.Deployment {
	return &domain.Deployment{
		Procfile: map[string]string{"web": "gunicorn app"},
		Options:  domain.AdvancedOptions{Image: "registry.example.com/demo:v1"},
	}
}

func sourceDeployment() *domain.Deployment {
	return &domain.Deployment{
		SourceTarPath:  "demo/default/source.tgz",
		SourceRevision: "main",
		Procfile:       map[string]string{"web": "gunicorn app"},
	}
}

// phases 返回状态更新序列中去掉连续重复后的结果。
func phases(updates []domain.DeploymentStatus) []domain.DeploymentStatus {
	var out []domain.DeploymentStatus
	for _, s := range updates {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	return out
}

func TestPipeline_ImageDeploySucceeds(t *testing.T) {
	f := newPipelineFixture(t)
	f.controller.statuses = []*domain.ProcessStatus{{Type: "worker"}}
	f.deploy(t, imageDeployment())

	d := f.run(t)

	assert.Equal(t, domain.DeploymentSuccessful, d.Status, d.ErrDetail)
	assert.Equal(t, []domain.DeploymentStatus{
		domain.DeploymentPreparation, domain.DeploymentBuild, domain.DeploymentRelease, domain.DeploymentSuccessful,
	}, phases(f.deploys.updates))
	assert.Equal(t, 1, d.ReleaseVersion)
	assert.NotNil(t, d.CompleteTime)

	rel, err := f.releases.FindByVersion(context.Background(), f.app.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ReleaseStatusSuccessful, rel.Status)
	assert.Equal(t, domain.ArtifactImage, rel.ArtifactType)

	web := f.controller.deployed["web"]
	require.NotNil(t, web)
	assert.Equal(t, "registry.example.com/demo:v1", web.Image)
	assert.Equal(t, 1, web.Replicas)
	assert.Equal(t, "s3cret", web.Envs[domain.EnvAppSecret])
	assert.Equal(t, []string{"worker"}, f.controller.deleted, "undeclared process should be removed")

	ings, _ := f.ingresses.List(context.Background(), f.app)
	require.Len(t, ings, 1)
	assert.Equal(t, "bkapp-demo-stag-web", ings[0].ServiceName)
	assert.Equal(t, "stag-dot-demo.bkapps.example.com", ings[0].Domains[0].Host)

	assert.Equal(t, 1, f.namespaces.ensured)
	assert.Len(t, f.namespaces.configMaps, 1)
	assert.Equal(t, 0, f.namespaces.secrets, "no registry configured")
}

func TestPipeline_SlugBuild(t *testing.T) {
	f := newPipelineFixture(t)
	f.pods.logs = []string{"-----> Python app detected", "-----> Done"}
	f.deploy(t, sourceDeployment())

	d := f.run(t)

	require.Equal(t, domain.DeploymentSuccessful, d.Status, d.ErrDetail)
	require.NotEmpty(t, d.BuildProcessID)
	require.NotEmpty(t, d.BuildID)

	bp, err := f.bps.FindByID(context.Background(), d.BuildProcessID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuildProcessSuccessful, bp.Status)
	assert.Equal(t, d.BuildID, bp.BuildID)

	require.Len(t, f.pods.builders, 1)
	envs := f.pods.builders[0].Envs
	assert.Contains(t, envs["TAR_PATH"], "demo/default/source.tgz")
	assert.Contains(t, envs["PUT_PATH"], "sig=UPLOAD")
	assert.Equal(t, "main", envs["REVISION"])

	assert.Equal(t, []string{"-----> Python app detected", "-----> Done"}, f.streams.linesOf("s-build"))

	web := f.controller.deployed["web"]
	require.NotNil(t, web)
	assert.Equal(t, "slugrunner:latest", web.Image)
	assert.Contains(t, web.Envs[domain.EnvSlugGetURL], "sig=DOWNLOAD")
}

func TestPipeline_BuildFailureKeepsExitCode(t *testing.T) {
	f := newPipelineFixture(t)
	f.pods.waitErr = &domain.PodNotSucceededError{PodName: "slug-builder-bkapp-demo-stag", ExitCode: 2, Reason: "Error"}
	f.deploy(t, sourceDeployment())

	d := f.run(t)

	assert.Equal(t, domain.DeploymentFailed, d.Status)
	assert.Contains(t, d.ErrDetail, "exit code: 2")
	bp, _ := f.bps.FindByID(context.Background(), d.BuildProcessID)
	assert.Equal(t, domain.BuildProcessFailed, bp.Status)
	assert.Empty(t, f.releases.releases, "no release after failed build")
	assert.Empty(t, f.controller.deployed)

	mainLines := f.streams.linesOf("s-main")
	assert.Equal(t, d.ErrDetail, mainLines[len(mainLines)-1], "failure reason is the last log line")
}

func TestPipeline_MissingSource(t *testing.T) {
	f := newPipelineFixture(t)
	f.pipeline.Blob = &stubBlob{missing: true}
	f.deploy(t, sourceDeployment())

	d := f.run(t)

	assert.Equal(t, domain.DeploymentFailed, d.Status)
	assert.Contains(t, d.ErrDetail, "not found")
	assert.Equal(t, 0, f.namespaces.ensured, "later steps must not run")
}

func TestPipeline_InterruptDuringBuild(t *testing.T) {
	f := newPipelineFixture(t)
	f.pods.block = true
	f.pods.onStart = func() { f.deploys.requestInterrupt("deploy-1") }
	f.deploy(t, sourceDeployment())

	d := f.run(t)

	assert.Equal(t, domain.DeploymentInterrupted, d.Status)
	bp, _ := f.bps.FindByID(context.Background(), d.BuildProcessID)
	assert.Equal(t, domain.BuildProcessInterrupted, bp.Status)
	assert.Equal(t, []string{"slug-builder-bkapp-demo-stag"}, f.pods.deleted, "interrupted pod should be deleted")
	assert.Empty(t, f.releases.releases)
}

func TestPipeline_InterruptBeforeStart(t *testing.T) {
	f := newPipelineFixture(t)
	d := imageDeployment()
	now := time.Now()
	d.IntRequestedAt = &now
	f.deploy(t, d)

	got := f.run(t)

	assert.Equal(t, domain.DeploymentInterrupted, got.Status)
	assert.Equal(t, 0, f.namespaces.ensured)
}

func TestPipeline_PreReleaseHook(t *testing.T) {
	tests := []struct {
		name        string
		waitErr     error
		wantStatus  domain.DeploymentStatus
		wantCommand domain.CommandStatus
		wantExit    int
		wantRelease bool
	}{
		{
			name:        "前置命令成功",
			wantStatus:  domain.DeploymentSuccessful,
			wantCommand: domain.CommandSuccessful,
			wantExit:    0,
			wantRelease: true,
		},
		{
			name:        "前置命令失败",
			waitErr:     &domain.PodNotSucceededError{PodName: "hook", ExitCode: 1, Reason: "Error"},
			wantStatus:  domain.DeploymentFailed,
			wantCommand: domain.CommandFailed,
			wantExit:    1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			f.pods.waitErr = tt.waitErr
			d := imageDeployment()
			d.PreReleaseHook = &domain.Hook{Enabled: true, Command: "python manage.py migrate"}
			f.deploy(t, d)

			got := f.run(t)

			assert.Equal(t, tt.wantStatus, got.Status, got.ErrDetail)
			require.NotEmpty(t, got.HookCommandID)
			cmd, err := f.commands.FindByID(context.Background(), got.HookCommandID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCommand, cmd.Status)
			require.NotNil(t, cmd.ExitCode)
			assert.Equal(t, tt.wantExit, *cmd.ExitCode)
			assert.Equal(t, 1, cmd.ReleaseVersion)

			require.Len(t, f.pods.commands, 1)
			assert.Equal(t, []string{"python manage.py migrate"}, f.pods.commands[0].Args)
			assert.Equal(t, "registry.example.com/demo:v1", f.pods.commands[0].Image)

			if tt.wantRelease {
				assert.Equal(t, 1, got.ReleaseVersion)
				assert.Contains(t, phases(f.deploys.updates), domain.DeploymentPreReleaseHook)
			} else {
				assert.True(t, strings.HasPrefix(got.ErrDetail, "pre-release hook failed: "), got.ErrDetail)
				assert.Empty(t, f.releases.releases)
			}
		})
	}
}

func TestPipeline_PreReleaseHookStillRunning(t *testing.T) {
	f := newPipelineFixture(t)
	f.pods.startErr = fmt.Errorf("pod ns/hook is still Running: %w", domain.ErrResourceDuplicate)
	d := imageDeployment()
	d.PreReleaseHook = &domain.Hook{Enabled: true, Command: "python manage.py migrate"}
	f.deploy(t, d)

	got := f.run(t)

	assert.Equal(t, domain.DeploymentFailed, got.Status)
	assert.Contains(t, got.ErrDetail, "is still running, please retry after")
	assert.Empty(t, f.releases.releases)
	cmd, err := f.commands.FindByID(context.Background(), got.HookCommandID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommandFailed, cmd.Status)
}

func TestPipeline_RolloutTimeoutFailsRelease(t *testing.T) {
	f := newPipelineFixture(t)
	f.controller.rolloutErr = domain.ErrReadTargetStatusTimeout
	f.deploy(t, imageDeployment())

	d := f.run(t)

	assert.Equal(t, domain.DeploymentFailed, d.Status)
	assert.True(t, strings.HasPrefix(d.ErrDetail, "Release aborted, reason: "), d.ErrDetail)
	rel, err := f.releases.FindByVersion(context.Background(), f.app.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ReleaseStatusFailed, rel.Status)
}

func TestPipeline_CollectsLegacyResources(t *testing.T) {
	f := newPipelineFixture(t)
	f.app.PrevMapperVersion = domain.MapperV1
	f.deploy(t, imageDeployment())

	d := f.run(t)

	require.Equal(t, domain.DeploymentSuccessful, d.Status, d.ErrDetail)
	assert.Equal(t, []domain.MapperVersion{domain.MapperV1}, f.controller.collected)
	assert.Empty(t, f.app.PrevMapperVersion, "previous mapper version is cleared after collection")
}

func TestPipeline_TerminalDeploymentIsSkipped(t *testing.T) {
	f := newPipelineFixture(t)
	require.NoError(t, f.deploys.Save(context.Background(), &domain.Deployment{
		UUID: "deploy-1", AppID: f.app.UUID, Status: domain.DeploymentSuccessful,
	}))

	require.NoError(t, f.pipeline.Run(context.Background(), "deploy-1"))
	assert.Empty(t, f.deploys.updates)
}

func TestPipeline_AbortBeforeStart(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *pipelineFixture)
		wantDetail string
	}{
		{
			name: "应用已删除",
			setup: func(f *pipelineFixture) {
				f.apps.mu.Lock()
				delete(f.apps.apps, f.app.UUID)
				f.apps.mu.Unlock()
			},
			wantDetail: "load app",
		},
		{
			name: "缺少主日志流",
			setup: func(f *pipelineFixture) {
				d := f.deploys.get("deploy-1")
				delete(d.Streams, domain.StreamMain)
				require.NoError(t, f.deploys.Save(context.Background(), d))
			},
			wantDetail: "no main stream",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			f.deploy(t, imageDeployment())
			tt.setup(f)

			d := f.run(t)
			assert.Equal(t, domain.DeploymentFailed, d.Status)
			assert.Contains(t, d.ErrDetail, tt.wantDetail)
			assert.NotNil(t, d.CompleteTime)
		})
	}
}
