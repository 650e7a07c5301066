package service

import (
	"context"
	"sort"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// slugURLExpiry 是运行时下载 slug 的签名有效期，长期闲置的应用重启时仍可下载。
const slugURLExpiry = 20 * 365 * 24 * time.Hour

// AssemblerConfig 是组装运行时描述所需的平台参数。
type AssemblerConfig struct {
	SlugRunnerImage string
	ImagePullPolicy string
}

// ProcessAssembler 把 Release 与进程声明组装为可下发到集群的运行时描述。
type ProcessAssembler struct {
	specRepo    port.ProcessSpecRepository
	clusterRepo port.ClusterRepository
	stateRepo   port.ClusterStateRepository
	processes   *ProcessService
	envs        *EnvResolver
	blob        port.BlobStore
	plans       domain.PlanTable
	cfg         AssemblerConfig
}

func NewProcessAssembler(
	specRepo port.ProcessSpecRepository,
	clusterRepo port.ClusterRepository,
	stateRepo port.ClusterStateRepository,
	processes *ProcessService,
	envs *EnvResolver,
	blob port.BlobStore,
	plans domain.PlanTable,
	cfg AssemblerConfig,
) *ProcessAssembler {
	if plans == nil {
		plans = domain.NewPlanTable(nil)
	}
	return &ProcessAssembler{
		specRepo:    specRepo,
		clusterRepo: clusterRepo,
		stateRepo:   stateRepo,
		processes:   processes,
		envs:        envs,
		blob:        blob,
		plans:       plans,
		cfg:         cfg,
	}
}

// runtimeBase 是同一次发布中所有 Pod 共用的部分。
type runtimeBase struct {
	cluster      *domain.Cluster
	image        string
	envs         map[string]string
	nodeSelector map[string]string
}

func (a *ProcessAssembler) base(ctx context.Context, app *domain.WlApp, release *domain.Release, extraEnvs map[string]string) (*runtimeBase, error) {
	cluster, err := a.clusterRepo.FindByName(ctx, app.ClusterName)
	if err != nil {
		return nil, err
	}
	binding, err := a.stateRepo.FindBinding(ctx, app.UUID)
	if err != nil {
		return nil, err
	}
	envs, err := a.envs.Resolve(ctx, app, extraEnvs)
	if err != nil {
		return nil, err
	}

	image := release.Image
	if release.ArtifactType == domain.ArtifactSlug {
		image = a.cfg.SlugRunnerImage
		url, err := a.blob.SignedURL(ctx, release.SlugPath, port.SignDownload, slugURLExpiry)
		if err != nil {
			return nil, err
		}
		envs[domain.EnvSlugGetURL] = url
	}
	return &runtimeBase{
		cluster:      cluster,
		image:        image,
		envs:         envs,
		nodeSelector: domain.FullNodeSelector(cluster, binding),
	}, nil
}

// Assemble 按 procfile 生成全部进程。procfile 为空的历史发布返回空集合。
func (a *ProcessAssembler) Assemble(ctx context.Context, app *domain.WlApp, release *domain.Release, extraEnvs map[string]string) ([]*domain.Process, error) {
	if len(release.Procfile) == 0 {
		return nil, nil
	}
	base, err := a.base(ctx, app, release, extraEnvs)
	if err != nil {
		return nil, err
	}
	specs, err := a.specRepo.FindByModule(ctx, app.AppCode, app.ModuleName)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*domain.ProcessSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}

	names := make([]string, 0, len(release.Procfile))
	for name := range release.Procfile {
		names = append(names, name)
	}
	sort.Strings(names)

	procs := make([]*domain.Process, 0, len(names))
	for _, name := range names {
		spec, ok := byName[name]
		if !ok {
			spec = &domain.ProcessSpec{Name: name}
		}
		var overlay *domain.ProcessSpecEnvOverlay
		replicas := domain.EffectiveReplicas(spec, nil, app.Environment)
		if spec.ID != "" {
			if replicas, overlay, err = a.processes.DesiredReplicas(ctx, app, spec); err != nil {
				return nil, err
			}
		}
		plan, err := a.plans.Lookup(domain.EffectivePlan(spec, overlay))
		if err != nil {
			return nil, err
		}
		command, args := domain.SplitProcCommand(release.Procfile[name])
		proc := &domain.Process{
			App:                 app,
			Type:                name,
			Version:             release.Version,
			Replicas:            replicas,
			Image:               base.image,
			ImagePullPolicy:     a.cfg.ImagePullPolicy,
			Command:             command,
			Args:                args,
			Envs:                base.envs,
			TargetPort:          domain.DefaultTargetPort,
			Resources:           plan.Requirements(),
			Probes:              spec.Probes,
			NodeSelector:        base.nodeSelector,
			Tolerations:         base.cluster.DefaultTolerations,
			ImagePullSecretName: app.ImagePullSecretName(),
		}
		enabled, cfg := domain.EffectiveAutoscaling(spec, overlay)
		if enabled && replicas > 0 && base.cluster.HasFeature(domain.FeatureAutoscaling) {
			proc.Autoscaling = cfg
		}
		procs = append(procs, proc)
	}
	return procs, nil
}

// HookCommand 组装发布前置命令的 Pod 描述，使用与进程相同的镜像与环境变量。
func (a *ProcessAssembler) HookCommand(ctx context.Context, app *domain.WlApp, release *domain.Release, cmd *domain.Command, podName string, extraEnvs map[string]string) (*domain.RuntimeCommand, error) {
	base, err := a.base(ctx, app, release, extraEnvs)
	if err != nil {
		return nil, err
	}
	plan, err := a.plans.Lookup(domain.DefaultPlanName)
	if err != nil {
		return nil, err
	}
	command, args := domain.SplitProcCommand(cmd.Command)
	return &domain.RuntimeCommand{
		App:                 app,
		Name:                podName,
		Type:                cmd.Type,
		Version:             release.Version,
		Image:               base.image,
		Command:             command,
		Args:                args,
		Envs:                base.envs,
		Resources:           plan.Requirements(),
		NodeSelector:        base.nodeSelector,
		Tolerations:         base.cluster.DefaultTolerations,
		ImagePullSecretName: app.ImagePullSecretName(),
	}, nil
}

// BkAppFromProcesses 把进程集合转换为云原生应用的 CRD 描述。
func BkAppFromProcesses(app *domain.WlApp, release *domain.Release, procs []*domain.Process) *domain.BkApp {
	bkapp := &domain.BkApp{App: app, Name: app.SafeName(), Version: release.Version}
	for i, p := range procs {
		if i == 0 {
			bkapp.Image = p.Image
			bkapp.PullPolicy = p.ImagePullPolicy
			bkapp.Envs = p.Envs
		}
		bkapp.Processes = append(bkapp.Processes, domain.BkAppProcess{
			Name:        p.Type,
			Replicas:    p.Replicas,
			Command:     p.Command,
			Args:        p.Args,
			TargetPort:  p.TargetPort,
			Resources:   p.Resources,
			Probes:      p.Probes,
			Autoscaling: p.Autoscaling,
		})
	}
	if bkapp.Image == "" {
		bkapp.Image = release.Image
	}
	return bkapp
}
