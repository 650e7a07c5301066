package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/google/uuid"
)

const defaultSandboxDaemonPort = 8000

// SandboxService 管理独立于应用环境的沙箱与在线编辑器。
type SandboxService struct {
	appRepo    port.WlAppRepository
	repo       port.SandboxRepository
	controller port.SandboxController
	envs       *EnvResolver
	plans      domain.PlanTable
}

func NewSandboxService(
	appRepo port.WlAppRepository,
	repo port.SandboxRepository,
	controller port.SandboxController,
	envs *EnvResolver,
	plans domain.PlanTable,
) *SandboxService {
	if plans == nil {
		plans = domain.NewPlanTable(nil)
	}
	return &SandboxService{appRepo: appRepo, repo: repo, controller: controller, envs: envs, plans: plans}
}

type CreateSandboxRequest struct {
	Kind        domain.SandboxKind `json:"kind"`
	AppCode     string             `json:"app_code"`
	ModuleName  string             `json:"module_name"`
	Environment domain.Environment `json:"environment"`
	Image       string             `json:"image"`
	Envs        map[string]string  `json:"envs"`
	DaemonPort  int32              `json:"daemon_port"`
	Workdir     string             `json:"workdir"`
	Plan        string             `json:"plan"`
	NodePort    bool               `json:"node_port"`
	Operator    string             `json:"operator"`
}

// Create 使用模块环境的集群与环境变量创建沙箱。
func (s *SandboxService) Create(ctx context.Context, req CreateSandboxRequest) (*domain.Sandbox, error) {
	if req.Kind != domain.SandboxAgent && req.Kind != domain.SandboxCodeEditor {
		return nil, &domain.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown sandbox kind %q", req.Kind)}
	}
	if req.Image == "" {
		return nil, &domain.ValidationError{Field: "image", Message: "is required"}
	}
	plan, err := s.plans.Lookup(req.Plan)
	if err != nil {
		return nil, err
	}
	app, err := s.appRepo.FindByModuleEnv(ctx, req.AppCode, req.ModuleName, req.Environment)
	if err != nil {
		return nil, err
	}
	envs, err := s.envs.Resolve(ctx, app, req.Envs)
	if err != nil {
		return nil, err
	}

	daemonPort := req.DaemonPort
	if daemonPort == 0 {
		daemonPort = defaultSandboxDaemonPort
	}
	sbx := &domain.Sandbox{
		UUID:        uuid.New().String(),
		Kind:        req.Kind,
		AppCode:     app.AppCode,
		ModuleName:  app.ModuleName,
		Environment: app.Environment,
		ClusterName: app.ClusterName,
		Image:       req.Image,
		Envs:        envs,
		DaemonPort:  daemonPort,
		Workdir:     req.Workdir,
		Resources:   plan.Requirements(),
		NodePort:    req.NodePort,
		Status:      domain.SandboxPending,
		Operator:    req.Operator,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.Save(ctx, sbx); err != nil {
		return nil, err
	}
	if err := s.controller.Create(ctx, sbx); err != nil {
		sbx.Status = domain.SandboxFailed
		if uerr := s.repo.Update(ctx, sbx); uerr != nil {
			slog.Warn("mark sandbox failed", "sandbox_id", sbx.UUID, "error", uerr)
		}
		return nil, err
	}
	return sbx, nil
}

// Get 返回沙箱记录与实时状态，并把状态写回记录。
func (s *SandboxService) Get(ctx context.Context, id string) (*domain.Sandbox, *domain.SandboxRuntime, error) {
	sbx, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rt, err := s.controller.Get(ctx, sbx)
	if err != nil {
		return nil, nil, err
	}
	if rt.Status != sbx.Status {
		sbx.Status = rt.Status
		if err := s.repo.Update(ctx, sbx); err != nil {
			return nil, nil, err
		}
	}
	return sbx, rt, nil
}

// Delete 删除集群中的资源与记录，集群资源已不存在时视为成功。
func (s *SandboxService) Delete(ctx context.Context, id string) error {
	sbx, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.controller.Delete(ctx, sbx); err != nil && !errors.Is(err, domain.ErrResourceMissing) {
		return err
	}
	return s.repo.Delete(ctx, id)
}
