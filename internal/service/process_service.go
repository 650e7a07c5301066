package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/metrics"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/google/uuid"
)

// DefaultOperationInterval 是同一进程两次操作之间的最小间隔。
const DefaultOperationInterval = 10 * time.Second

// ProcessService 维护模块的进程声明，并把扩缩容、启停操作落到集群。
type ProcessService struct {
	tx          port.Transactor
	specRepo    port.ProcessSpecRepository
	clusterRepo port.ClusterRepository
	controller  port.ProcessController
	plans       domain.PlanTable
	interval    time.Duration
	now         func() time.Time
}

func NewProcessService(
	tx port.Transactor,
	specRepo port.ProcessSpecRepository,
	clusterRepo port.ClusterRepository,
	controller port.ProcessController,
	plans domain.PlanTable,
	interval time.Duration,
) *ProcessService {
	if interval <= 0 {
		interval = DefaultOperationInterval
	}
	if plans == nil {
		plans = domain.NewPlanTable(nil)
	}
	return &ProcessService{
		tx:          tx,
		specRepo:    specRepo,
		clusterRepo: clusterRepo,
		controller:  controller,
		plans:       plans,
		interval:    interval,
		now:         time.Now,
	}
}

// Sync 把模块的进程声明调整为 tmpls，未出现在列表中的声明会被删除。
func (s *ProcessService) Sync(ctx context.Context, appCode, moduleName string, tmpls []domain.ProcessTmpl) error {
	declared := make(map[string]domain.ProcessTmpl, len(tmpls))
	for _, tmpl := range tmpls {
		name := strings.ToLower(tmpl.Name)
		if err := domain.ValidateProcessName(name); err != nil {
			return err
		}
		if _, dup := declared[name]; dup {
			return &domain.ValidationError{Field: "processes", Message: fmt.Sprintf("duplicated process %q", name)}
		}
		if err := s.validateTmpl(tmpl); err != nil {
			return err
		}
		declared[name] = tmpl
	}

	return s.tx.Transaction(ctx, func(ctx context.Context) error {
		existing, err := s.specRepo.FindByModule(ctx, appCode, moduleName)
		if err != nil {
			return err
		}
		byName := make(map[string]*domain.ProcessSpec, len(existing))
		for _, spec := range existing {
			byName[spec.Name] = spec
		}

		now := s.now()
		for name, tmpl := range declared {
			spec, found := byName[name]
			if !found {
				spec = &domain.ProcessSpec{
					ID:         uuid.New().String(),
					AppCode:    appCode,
					ModuleName: moduleName,
					Name:       name,
					CreatedAt:  now,
				}
			}
			applyTmpl(spec, tmpl)
			spec.UpdatedAt = now
			if found {
				err = s.specRepo.Update(ctx, spec)
			} else {
				err = s.specRepo.Save(ctx, spec)
			}
			if err != nil {
				return err
			}
		}
		for _, spec := range existing {
			if _, keep := declared[spec.Name]; keep {
				continue
			}
			if err := s.specRepo.Delete(ctx, spec.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// SyncProcfile 以 procfile 决定进程集合与命令，已有进程的副本数、资源方案、探针与扩缩容配置保持不变。
func (s *ProcessService) SyncProcfile(ctx context.Context, appCode, moduleName string, procfile map[string]string) error {
	existing, err := s.specRepo.FindByModule(ctx, appCode, moduleName)
	if err != nil {
		return err
	}
	byName := make(map[string]*domain.ProcessSpec, len(existing))
	for _, spec := range existing {
		byName[spec.Name] = spec
	}

	tmpls := make([]domain.ProcessTmpl, 0, len(procfile))
	for name, command := range procfile {
		tmpl := domain.ProcessTmpl{Name: name, Command: command}
		if spec, ok := byName[strings.ToLower(name)]; ok {
			probes := spec.Probes
			autoscaling := spec.Autoscaling
			tmpl.Replicas = spec.TargetReplicas
			tmpl.Plan = spec.Plan
			tmpl.Probes = &probes
			tmpl.Autoscaling = &autoscaling
			tmpl.ScalingConfig = spec.ScalingConfig
		}
		tmpls = append(tmpls, tmpl)
	}
	return s.Sync(ctx, appCode, moduleName, tmpls)
}

func (s *ProcessService) validateTmpl(tmpl domain.ProcessTmpl) error {
	if tmpl.Replicas != nil && *tmpl.Replicas < 0 {
		return &domain.ValidationError{Field: "replicas", Message: "must not be negative"}
	}
	if _, err := s.plans.Lookup(tmpl.Plan); err != nil {
		return err
	}
	if tmpl.ScalingConfig != nil {
		if err := tmpl.ScalingConfig.Validate(); err != nil {
			return err
		}
	}
	if tmpl.Probes != nil {
		for _, t := range []domain.ProbeType{domain.ProbeLiveness, domain.ProbeReadiness, domain.ProbeStartup} {
			if p := tmpl.Probes.Get(t); p != nil {
				if err := p.Validate(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// applyTmpl 用模板覆盖声明字段。探针整体替换，未提供的扩缩容配置保留旧值以便再次启用。
func applyTmpl(spec *domain.ProcessSpec, tmpl domain.ProcessTmpl) {
	spec.ProcCommand = tmpl.Command
	spec.Command, spec.Args = domain.SplitProcCommand(tmpl.Command)
	spec.TargetReplicas = tmpl.Replicas
	spec.Plan = tmpl.Plan
	spec.Probes = domain.ProbeSet{}
	if tmpl.Probes != nil {
		spec.Probes = *tmpl.Probes
	}
	spec.Autoscaling = tmpl.Autoscaling != nil && *tmpl.Autoscaling
	if tmpl.ScalingConfig != nil {
		cfg := *tmpl.ScalingConfig
		spec.ScalingConfig = &cfg
	}
}

// Scale 由运维显式指定副本数，优先级高于自动扩缩容，因此会关闭该环境的 HPA。
func (s *ProcessService) Scale(ctx context.Context, app *domain.WlApp, procType string, replicas int) error {
	if replicas < 0 {
		return &domain.ValidationError{Field: "target_replicas", Message: "must not be negative"}
	}
	return s.operate(ctx, app, procType, "scale", true, func(ctx context.Context, spec *domain.ProcessSpec, overlay *domain.ProcessSpecEnvOverlay) error {
		overlay.TargetReplicas = &replicas
		if replicas > 0 {
			overlay.TargetStatus = domain.ProcessStart
		}
		if enabled, _ := domain.EffectiveAutoscaling(spec, overlay); enabled {
			disabled := false
			overlay.Autoscaling = &disabled
			if err := s.controller.DeleteAutoscaling(ctx, app, procType); err != nil {
				return err
			}
		}
		return s.controller.Scale(ctx, app, procType, replicas)
	})
}

// Start 恢复到目标副本数，启用自动扩缩容时重新创建 HPA。
func (s *ProcessService) Start(ctx context.Context, app *domain.WlApp, procType string) error {
	return s.operate(ctx, app, procType, "start", true, func(ctx context.Context, spec *domain.ProcessSpec, overlay *domain.ProcessSpecEnvOverlay) error {
		overlay.TargetStatus = domain.ProcessStart
		replicas := domain.EffectiveReplicas(spec, overlay, app.Environment)
		if err := s.controller.Scale(ctx, app, procType, replicas); err != nil {
			return err
		}
		if enabled, cfg := domain.EffectiveAutoscaling(spec, overlay); enabled {
			return s.controller.UpsertAutoscaling(ctx, &domain.ProcAutoscaling{App: app, ProcType: procType, Config: *cfg})
		}
		return nil
	})
}

// Stop 把副本数置为 0，保存的目标副本数不变。
func (s *ProcessService) Stop(ctx context.Context, app *domain.WlApp, procType string) error {
	return s.operate(ctx, app, procType, "stop", true, func(ctx context.Context, _ *domain.ProcessSpec, overlay *domain.ProcessSpecEnvOverlay) error {
		overlay.TargetStatus = domain.ProcessStop
		if err := s.controller.DeleteAutoscaling(ctx, app, procType); err != nil {
			return err
		}
		return s.controller.Scale(ctx, app, procType, 0)
	})
}

// SetAutoscaling 开关环境的自动扩缩容。关闭时只删除 HPA，配置保留。
func (s *ProcessService) SetAutoscaling(ctx context.Context, app *domain.WlApp, procType string, enabled bool, cfg *domain.AutoscalingConfig) error {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if enabled {
		cluster, err := s.clusterRepo.FindByName(ctx, app.ClusterName)
		if err != nil {
			return err
		}
		if !cluster.HasFeature(domain.FeatureAutoscaling) {
			return &domain.ValidationError{
				Field:   "autoscaling",
				Message: fmt.Sprintf("cluster %s does not support autoscaling", cluster.Name),
			}
		}
	}
	return s.operate(ctx, app, procType, "autoscaling", false, func(ctx context.Context, spec *domain.ProcessSpec, overlay *domain.ProcessSpecEnvOverlay) error {
		overlay.Autoscaling = &enabled
		if cfg != nil {
			c := *cfg
			overlay.ScalingConfig = &c
		}
		on, effective := domain.EffectiveAutoscaling(spec, overlay)
		if enabled && !on {
			return &domain.ValidationError{Field: "scaling_config", Message: "scaling config is required to enable autoscaling"}
		}
		if on && overlay.TargetStatus != domain.ProcessStop {
			return s.controller.UpsertAutoscaling(ctx, &domain.ProcAutoscaling{App: app, ProcType: procType, Config: *effective})
		}
		return s.controller.DeleteAutoscaling(ctx, app, procType)
	})
}

type overlayOp func(ctx context.Context, spec *domain.ProcessSpec, overlay *domain.ProcessSpecEnvOverlay) error

// operate 在行锁内执行一次进程操作并更新环境覆盖配置。throttle 为 true 时检查操作频率。
func (s *ProcessService) operate(ctx context.Context, app *domain.WlApp, procType, op string, throttle bool, fn overlayOp) (err error) {
	defer func() {
		result := "success"
		var tooOften *domain.ProcessOperationTooOftenError
		switch {
		case errors.As(err, &tooOften):
			result = "throttled"
		case err != nil:
			result = "failed"
		}
		metrics.ProcessOperations.WithLabelValues(op, result).Inc()
	}()

	return s.tx.Transaction(ctx, func(ctx context.Context) error {
		spec, err := s.specRepo.FindByNameForUpdate(ctx, app.AppCode, app.ModuleName, procType)
		if err != nil {
			return err
		}
		overlay, err := s.specRepo.FindOverlay(ctx, spec.ID, app.Environment)
		if err != nil {
			return err
		}
		if overlay == nil {
			overlay = &domain.ProcessSpecEnvOverlay{
				SpecID:       spec.ID,
				Environment:  app.Environment,
				TargetStatus: domain.ProcessStart,
			}
		}

		now := s.now()
		if throttle && overlay.LastOperatedAt != nil {
			if elapsed := now.Sub(*overlay.LastOperatedAt); elapsed < s.interval {
				return &domain.ProcessOperationTooOftenError{ProcessType: procType, RetryAfter: s.interval - elapsed}
			}
		}
		if err := fn(ctx, spec, overlay); err != nil {
			return err
		}
		if throttle {
			overlay.LastOperatedAt = &now
		}
		overlay.UpdatedAt = now
		return s.specRepo.SaveOverlay(ctx, overlay)
	})
}

// ListProcesses 返回环境下每个进程的期望状态与实时实例，集群中残留的未声明进程排在最后。
func (s *ProcessService) ListProcesses(ctx context.Context, app *domain.WlApp) ([]*domain.ProcessStatus, error) {
	specs, err := s.specRepo.FindByModule(ctx, app.AppCode, app.ModuleName)
	if err != nil {
		return nil, err
	}
	statuses, err := s.controller.ListStatuses(ctx, app)
	if err != nil {
		return nil, err
	}
	live := make(map[string]*domain.ProcessStatus, len(statuses))
	for _, st := range statuses {
		live[st.Type] = st
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	out := make([]*domain.ProcessStatus, 0, len(specs)+len(statuses))
	for _, spec := range specs {
		overlay, err := s.specRepo.FindOverlay(ctx, spec.ID, app.Environment)
		if err != nil {
			return nil, err
		}
		st, ok := live[spec.Name]
		if !ok {
			st = &domain.ProcessStatus{Type: spec.Name, Instances: []domain.Instance{}}
		}
		delete(live, spec.Name)
		st.TargetReplicas = domain.EffectiveReplicas(spec, overlay, app.Environment)
		st.TargetStatus = domain.ProcessStart
		if overlay != nil && overlay.TargetStatus != "" {
			st.TargetStatus = overlay.TargetStatus
		}
		out = append(out, st)
	}
	for _, st := range statuses {
		if _, orphan := live[st.Type]; orphan {
			out = append(out, st)
		}
	}
	return out, nil
}

// DesiredReplicas 返回进程在环境下应运行的副本数，已停止的进程为 0。
func (s *ProcessService) DesiredReplicas(ctx context.Context, app *domain.WlApp, spec *domain.ProcessSpec) (int, *domain.ProcessSpecEnvOverlay, error) {
	overlay, err := s.specRepo.FindOverlay(ctx, spec.ID, app.Environment)
	if err != nil {
		return 0, nil, err
	}
	if overlay != nil && overlay.TargetStatus == domain.ProcessStop {
		return 0, overlay, nil
	}
	return domain.EffectiveReplicas(spec, overlay, app.Environment), overlay, nil
}
