package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	defaultOfflinePoll    = 3 * time.Second
	defaultOfflineTimeout = 5 * time.Minute
)

// OfflineService 下架模块环境：删除命名空间下的全部资源并等待实例全部退出。
type OfflineService struct {
	tx          port.Transactor
	appRepo     port.WlAppRepository
	offlineRepo port.OfflineRepository
	deployRepo  port.DeploymentRepository
	namespaces  port.NamespaceManager
	instances   port.InstanceLister
	entrance    *EntranceService
	coordinator *Coordinator
	poll        time.Duration
	timeout     time.Duration
	wg          sync.WaitGroup
}

func NewOfflineService(
	tx port.Transactor,
	appRepo port.WlAppRepository,
	offlineRepo port.OfflineRepository,
	deployRepo port.DeploymentRepository,
	namespaces port.NamespaceManager,
	instances port.InstanceLister,
	entrance *EntranceService,
	coordinator *Coordinator,
) *OfflineService {
	return &OfflineService{
		tx:          tx,
		appRepo:     appRepo,
		offlineRepo: offlineRepo,
		deployRepo:  deployRepo,
		namespaces:  namespaces,
		instances:   instances,
		entrance:    entrance,
		coordinator: coordinator,
		poll:        defaultOfflinePoll,
		timeout:     defaultOfflineTimeout,
	}
}

// Offline 获取环境锁、创建下架记录并在后台执行。已有进行中的下架或部署时拒绝。
func (s *OfflineService) Offline(ctx context.Context, appID, operator string) (*domain.OfflineOperation, error) {
	app, err := s.appRepo.FindByUUID(ctx, appID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	op := &domain.OfflineOperation{
		UUID:      uuid.New().String(),
		AppID:     app.UUID,
		Status:    domain.OfflinePending,
		Operator:  operator,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// 与部署共用环境锁，持有者为下架记录 ID
	acquired, err := s.coordinator.TryAcquire(ctx, app.UUID, op.UUID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		if pending, perr := s.offlineRepo.FindPending(ctx, app.UUID); perr == nil && len(pending) > 0 {
			return nil, domain.ErrOfflineOperationExist
		}
		return nil, domain.ErrDeployInProgress
	}
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
		if err := failLostDeployments(ctx, s.deployRepo, active); err != nil {
			return err
		}
		return s.offlineRepo.Save(ctx, op)
	})
	if err != nil {
		if _, rerr := s.coordinator.Release(ctx, app.UUID, op.UUID); rerr != nil {
			err = fmt.Errorf("%w (release lock: %v)", err, rerr)
		}
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(context.Background(), app, op)
	}()
	return op, nil
}

func (s *OfflineService) Get(ctx context.Context, id string) (*domain.OfflineOperation, error) {
	return s.offlineRepo.FindByID(ctx, id)
}

func (s *OfflineService) Wait() { s.wg.Wait() }

// Run 同步执行下架并把结果写回记录。
func (s *OfflineService) Run(ctx context.Context, app *domain.WlApp, op *domain.OfflineOperation) {
	log := slog.With("offline_id", op.UUID, "app", app.Name, "namespace", app.Namespace())
	stop := s.coordinator.KeepAlive(ctx, app.UUID, op.UUID)
	defer func() {
		stop()
		if ok, err := s.coordinator.Release(context.Background(), app.UUID, op.UUID); err != nil || !ok {
			log.Warn("release deploy lock failed", "released", ok, "error", err)
		}
	}()
	op.Status = domain.OfflineSuccessful
	if err := s.offline(ctx, app); err != nil {
		log.Error("offline failed", "error", err)
		op.Status = domain.OfflineFailed
		op.ErrDetail = err.Error()
	}
	op.UpdatedAt = time.Now()
	if err := s.offlineRepo.Update(ctx, op); err != nil {
		log.Error("update offline operation failed", "error", err)
		return
	}
	log.Info("offline finished", "status", op.Status)
}

func (s *OfflineService) offline(ctx context.Context, app *domain.WlApp) error {
	if app.IsCloudNative() && s.entrance != nil {
		if err := s.entrance.Delete(ctx, app); err != nil {
			return fmt.Errorf("delete entrances: %w", err)
		}
	}
	if err := s.namespaces.DeleteAllUnderNamespace(ctx, app); err != nil {
		return fmt.Errorf("delete resources: %w", err)
	}
	err := wait.PollUntilContextTimeout(ctx, s.poll, s.timeout, true, func(ctx context.Context) (bool, error) {
		instances, err := s.instances.ListInstances(ctx, app)
		if err != nil {
			slog.Warn("list instances failed, retry", "app", app.Name, "error", err)
			return false, nil
		}
		return len(instances) == 0, nil
	})
	if err != nil {
		return fmt.Errorf("wait instances to stop: %w", err)
	}
	return nil
}
