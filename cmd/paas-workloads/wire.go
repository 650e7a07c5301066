package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/blobstore"
	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes"
	"github.com/chiwei-platform/paas-workloads/internal/adapter/kubernetes/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/adapter/kvcache"
	"github.com/chiwei-platform/paas-workloads/internal/adapter/loki"
	"github.com/chiwei-platform/paas-workloads/internal/adapter/prometheus"
	"github.com/chiwei-platform/paas-workloads/internal/adapter/repository"
	"github.com/chiwei-platform/paas-workloads/internal/config"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/chiwei-platform/paas-workloads/internal/service"
	"github.com/gomodule/redigo/redis"
)

// components 是一次进程运行所需的全部服务。
type components struct {
	cfg *config.Config

	redis     *redis.Pool
	blob      *blobstore.Store
	instances *kubernetes.InstanceWatcher
	registry  *kubernetes.ClusterRegistry

	apps         *service.WlAppService
	clusters     *service.ClusterService
	clusterState *service.ClusterStateService
	processes    *service.ProcessService
	pipeline     *service.Pipeline
	deploys      *service.DeployService
	streams      *service.LogStreams
	offline      *service.OfflineService
	entrance     *service.EntranceService
	monitors     *service.MonitorService
	metrics      *service.ResourceMetricManager
	sandboxes    *service.SandboxService
	runtimeLogs  *service.RuntimeLogService
	cleaner      *service.OutputStreamCleaner
	idle         *service.IdleReporter
}

func wire(ctx context.Context, cfg *config.Config) (*components, error) {
	// 数据库
	db, err := repository.OpenDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	store := repository.NewStore(db)

	// 存储层
	appRepo := repository.NewWlAppRepo(db)
	clusterRepo := repository.NewClusterRepo(db)
	stateRepo := repository.NewClusterStateRepo(db)
	specRepo := repository.NewProcessSpecRepo(db)
	deployRepo := repository.NewDeploymentRepo(db)
	offlineRepo := repository.NewOfflineRepo(db)
	buildRepo := repository.NewBuildRepo(db)
	buildProcessRepo := repository.NewBuildProcessRepo(db)
	releaseRepo := repository.NewReleaseRepo(db)
	commandRepo := repository.NewCommandRepo(db)
	configVarRepo := repository.NewConfigVarRepo(db)
	addonRepo := repository.NewAddonRepo(db)
	domainRepo := repository.NewDomainRepo(db)
	addressRepo := repository.NewAddressRepo(db)
	monitorRepo := repository.NewMonitorRepo(db)
	streamRepo := repository.NewOutputStreamRepo(db)
	sandboxRepo := repository.NewSandboxRepo(db)

	for _, sd := range cfg.ServiceDiscoveries() {
		if err := addonRepo.SaveServiceDiscovery(ctx, sd); err != nil {
			return nil, fmt.Errorf("seed service discovery for %s/%s: %w", sd.AppCode, sd.ModuleName, err)
		}
	}

	// 共享缓存与对象存储
	pool := kvcache.NewPool(cfg.RedisURL)
	cache := kvcache.NewRedisCache(pool)

	blobCfg, err := cfg.Blobstore()
	if err != nil {
		return nil, err
	}
	blob, err := blobstore.Open(ctx, blobCfg)
	if err != nil {
		return nil, fmt.Errorf("open blobstore: %w", err)
	}

	querier, err := prometheus.NewQuerier(cfg.PrometheusURL, cfg.PrometheusUser, cfg.PrometheusPassword)
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}

	// 多集群客户端
	registry := kubernetes.NewClusterRegistry(clusterRepo, cache, kubernetes.DefaultFactory(kubernetes.ClientConfig{
		Cooldown: cfg.EndpointCooldown,
		QPS:      50,
		Burst:    100,
		Mapper: mapper.Options{
			RevisionHistoryLimit: int32(cfg.RevisionHistoryLimit),
			IngressPlugins:       cfg.IngressPluginList(),
		},
	}))
	instances, err := kubernetes.NewInstanceWatcher(registry, kubernetes.DefaultWatchedNamespaces)
	if err != nil {
		return nil, fmt.Errorf("create instance watcher: %w", err)
	}
	processController := kubernetes.NewProcessController(registry, instances)
	namespaces := kubernetes.NewNamespaceManager(registry, 0)

	plans := domain.NewPlanTable(cfg.Extras.Plans)

	// 服务层
	clusters := service.NewClusterService(clusterRepo, appRepo, registry)
	apps := service.NewWlAppService(appRepo, appRepo, clusters)
	entrance := service.NewEntranceService(clusterRepo, appRepo, addressRepo, domainRepo, specRepo, kubernetes.NewIngressController(registry))
	envs := service.NewEnvResolver(appRepo, configVarRepo, addonRepo, entrance, blobEnvs(blobCfg))
	processes := service.NewProcessService(store, specRepo, clusterRepo, processController, plans, cfg.ProcessOperationInterval)
	streams := service.NewLogStreams(streamRepo, cache)
	coordinator := service.NewCoordinator(cache, cfg.DeployLockTTL)

	assembler := service.NewProcessAssembler(specRepo, clusterRepo, stateRepo, processes, envs, blob, plans, service.AssemblerConfig{
		SlugRunnerImage: cfg.SlugRunnerImage,
	})
	pipeline := service.NewPipeline(service.PipelineDeps{
		AppRepo:          appRepo,
		DeployRepo:       deployRepo,
		BuildRepo:        buildRepo,
		BuildProcessRepo: buildProcessRepo,
		ReleaseRepo:      releaseRepo,
		CommandRepo:      commandRepo,
		Namespaces:       namespaces,
		Pods:             kubernetes.NewPodRunner(registry),
		Controller:       processController,
		BkApps:           kubernetes.NewBkAppController(registry),
		Blob:             blob,
		Streams:          streams,
		Coordinator:      coordinator,
		Processes:        processes,
		Assembler:        assembler,
		Entrance:         entrance,
		Envs:             envs,
	}, service.PipelineConfig{
		SlugBuilderImage:  cfg.SlugBuilderImage,
		DefaultBuildpacks: cfg.Extras.Buildpacks,
		Registry: port.RegistryCredential{
			Registry: cfg.ImageRegistry,
			Username: cfg.ImageRegistryUser,
			Password: cfg.ImageRegistryPassword,
		},
		BuildLogTimeout:     cfg.BuildLogTimeout,
		HookLogTimeout:      cfg.HookLogTimeout,
		ReleaseReadyTimeout: cfg.ReleaseReadyTimeout,
	})

	c := &components{
		cfg:          cfg,
		redis:        pool,
		blob:         blob,
		instances:    instances,
		registry:     registry,
		apps:         apps,
		clusters:     clusters,
		clusterState: service.NewClusterStateService(clusterRepo, stateRepo, appRepo, kubernetes.NewNodeController(registry)),
		processes:    processes,
		pipeline:     pipeline,
		deploys:      service.NewDeployService(store, appRepo, deployRepo, offlineRepo, commandRepo, streams, coordinator, pipeline),
		streams:      streams,
		offline:      service.NewOfflineService(store, appRepo, offlineRepo, deployRepo, namespaces, instances, entrance, coordinator),
		entrance:     entrance,
		monitors:     service.NewMonitorService(appRepo, monitorRepo, kubernetes.NewMonitorController(registry)),
		metrics:      service.NewResourceMetricManager(querier, instances),
		sandboxes:    service.NewSandboxService(appRepo, sandboxRepo, kubernetes.NewSandboxController(registry), envs, plans),
		runtimeLogs:  service.NewRuntimeLogService(appRepo, loki.NewClient(cfg.LokiURL)),
		cleaner:      service.NewOutputStreamCleaner(streamRepo),
		idle:         service.NewIdleReporter(appRepo, deployRepo, specRepo, instances, plans),
	}
	return c, nil
}

// blobEnvs 是注入到应用容器的对象存储位置，不包含平台凭证。
func blobEnvs(cfg blobstore.Config) map[string]string {
	envs := map[string]string{"BKREPO_BUCKET": cfg.Bucket}
	if cfg.Endpoint != "" {
		envs["BKREPO_ENDPOINT_URL"] = cfg.Endpoint
	}
	return envs
}

// close 等待进行中的部署结束后释放资源。
func (c *components) close() {
	c.pipeline.Wait()
	c.instances.Close()
	if err := c.redis.Close(); err != nil {
		slog.Warn("close redis pool failed", "error", err)
	}
	if err := c.blob.Close(); err != nil {
		slog.Warn("close blob bucket failed", "error", err)
	}
}
