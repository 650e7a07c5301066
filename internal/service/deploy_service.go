package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/google/uuid"
)

// deploymentRunner 异步执行部署。
type deploymentRunner interface {
	Start(deploymentID string)
}

// DeployService 创建部署记录、获取环境部署锁并交给流水线执行。
type DeployService struct {
	tx          port.Transactor
	appRepo     port.WlAppRepository
	deployRepo  port.DeploymentRepository
	offlineRepo port.OfflineRepository
	commandRepo port.CommandRepository
	streams     *LogStreams
	coordinator *Coordinator
	runner      deploymentRunner
}

func NewDeployService(
	tx port.Transactor,
	appRepo port.WlAppRepository,
	deployRepo port.DeploymentRepository,
	offlineRepo port.OfflineRepository,
	commandRepo port.CommandRepository,
	streams *LogStreams,
	coordinator *Coordinator,
	runner deploymentRunner,
) *DeployService {
	return &DeployService{
		tx:          tx,
		appRepo:     appRepo,
		deployRepo:  deployRepo,
		offlineRepo: offlineRepo,
		commandRepo: commandRepo,
		streams:     streams,
		coordinator: coordinator,
		runner:      runner,
	}
}

type CreateDeploymentRequest struct {
	SourceTarPath      string                 `json:"source_tar_path"`
	SourceRevision     string                 `json:"source_revision"`
	Procfile           map[string]string      `json:"procfile"`
	Processes          []domain.ProcessTmpl   `json:"processes"`
	BuildpacksRequired []string               `json:"buildpacks_required"`
	PreReleaseHook     *domain.Hook           `json:"pre_release_hook"`
	Options            domain.AdvancedOptions `json:"advanced_options"`
}

func (s *DeployService) Create(ctx context.Context, appID string, req CreateDeploymentRequest) (*domain.Deployment, error) {
	app, err := s.appRepo.FindByUUID(ctx, appID)
	if err != nil {
		return nil, err
	}

	d := &domain.Deployment{
		UUID:               uuid.New().String(),
		AppID:              app.UUID,
		Status:             domain.DeploymentPending,
		SourceTarPath:      req.SourceTarPath,
		SourceRevision:     req.SourceRevision,
		Processes:          req.Processes,
		BuildpacksRequired: req.BuildpacksRequired,
		PreReleaseHook:     req.PreReleaseHook,
		Options:            req.Options,
	}
	if len(req.Procfile) > 0 {
		if d.Procfile, err = domain.ValidateProcfile(req.Procfile); err != nil {
			return nil, err
		}
	}
	if err := validateDeploymentSource(d); err != nil {
		return nil, err
	}

	d.Streams = make(map[domain.StreamKind]string, 4)
	for _, kind := range []domain.StreamKind{domain.StreamPreparation, domain.StreamBuildProc, domain.StreamPreReleaseCmd, domain.StreamMain} {
		id, err := s.streams.Create(ctx)
		if err != nil {
			return nil, err
		}
		d.Streams[kind] = id
	}

	// 下架与部署共用环境锁
	acquired, err := s.coordinator.TryAcquire(ctx, app.UUID, d.UUID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, s.lockHeldError(ctx, app.UUID)
	}

	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		pending, err := s.offlineRepo.FindPending(ctx, app.UUID)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return domain.ErrOfflineOperationExist
		}
		active, err := s.deployRepo.FindActive(ctx, app.UUID)
		if err != nil {
			return err
		}
		// 已拿到锁，说明未结束的记录没有存活的 worker
		if err := failLostDeployments(ctx, s.deployRepo, active); err != nil {
			return err
		}
		return s.deployRepo.Save(ctx, d)
	})
	if err != nil {
		if _, rerr := s.coordinator.Release(ctx, app.UUID, d.UUID); rerr != nil {
			err = fmt.Errorf("%w (release lock: %v)", err, rerr)
		}
		return nil, err
	}

	s.runner.Start(d.UUID)
	return d, nil
}

// lockHeldError 区分锁被下架还是部署占用。
func (s *DeployService) lockHeldError(ctx context.Context, appID string) error {
	pending, err := s.offlineRepo.FindPending(ctx, appID)
	if err == nil && len(pending) > 0 {
		return domain.ErrOfflineOperationExist
	}
	return domain.ErrDeployInProgress
}

// failLostDeployments 把 worker 已丢失的未结束部署标记为失败。
func failLostDeployments(ctx context.Context, repo port.DeploymentRepository, active []*domain.Deployment) error {
	for _, d := range active {
		now := time.Now()
		d.Status = domain.DeploymentFailed
		d.ErrDetail = "worker lost"
		d.CompleteTime = &now
		d.UpdatedAt = now
		if err := repo.Update(ctx, d); err != nil {
			return fmt.Errorf("fail lost deployment %s: %w", d.UUID, err)
		}
		slog.Warn("deployment worker lost", "deployment_id", d.UUID, "app_id", d.AppID)
	}
	return nil
}

func validateDeploymentSource(d *domain.Deployment) error {
	if d.Options.SmartTag != "" && d.Options.Image == "" {
		return &domain.ValidationError{Field: "advanced_options.image", Message: "image is required for s-mart deployment"}
	}
	if !d.RequireBuild() {
		return nil
	}
	if err := domain.ValidateObjectKey(d.SourceTarPath); err != nil {
		return err
	}
	return domain.ValidateRevision(d.SourceRevision)
}

func (s *DeployService) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	return s.deployRepo.FindByID(ctx, id)
}

// Interrupt 记录中断请求，运行中的阶段在下一个安全点转为 INTERRUPTED。
func (s *DeployService) Interrupt(ctx context.Context, id string) (*domain.Deployment, error) {
	var d *domain.Deployment
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		var err error
		if d, err = s.deployRepo.FindByIDForUpdate(ctx, id); err != nil {
			return err
		}
		if d.Status.IsTerminal() {
			return fmt.Errorf("deployment %s already finished: %w", id, domain.ErrConflict)
		}
		if d.InterruptRequested() {
			return nil
		}
		now := time.Now()
		d.IntRequestedAt = &now
		d.UpdatedAt = now
		if err := s.deployRepo.Update(ctx, d); err != nil {
			return err
		}
		if d.HookCommandID == "" {
			return nil
		}
		cmd, err := s.commandRepo.FindByID(ctx, d.HookCommandID)
		if err != nil {
			return err
		}
		if cmd.Status.IsTerminal() {
			return nil
		}
		cmd.IntRequestedAt = &now
		cmd.UpdatedAt = now
		return s.commandRepo.Update(ctx, cmd)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}
