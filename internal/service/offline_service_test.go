package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

type offlineFixture struct {
	offline    *stubOfflineRepo
	deploys    *stubDeployRepo
	namespaces *stubNamespaces
	instances  *stubInstances
	ingresses  *stubIngresses
	locker     *stubLocker
	svc        *OfflineService
}

func newOfflineFixture(app *domain.WlApp) *offlineFixture {
	appRepo := newStubAppRepo(app)
	f := &offlineFixture{
		offline:    newStubOfflineRepo(),
		deploys:    newStubDeployRepo(),
		namespaces: &stubNamespaces{},
		instances:  &stubInstances{instances: []domain.Instance{{Name: "web-1", ProcessType: "web"}}},
		ingresses:  newStubIngresses(),
		locker:     newStubLocker(),
	}
	entrance := NewEntranceService(newStubClusterRepo(testCluster()), appRepo, newStubAddressRepo(), &stubDomainRepo{}, newStubSpecRepo(), f.ingresses)
	f.svc = NewOfflineService(stubTx{}, appRepo, f.offline, f.deploys, f.namespaces, f.instances, entrance, NewCoordinator(f.locker, 0))
	f.svc.poll = 5 * time.Millisecond
	f.svc.timeout = time.Second
	return f
}

func TestOfflineService_Offline(t *testing.T) {
	f := newOfflineFixture(testApp())
	f.namespaces.onDelete = func() { f.instances.set(nil) }

	op, err := f.svc.Offline(context.Background(), "app-1", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc.Wait()

	got, err := f.svc.Get(context.Background(), op.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OfflineSuccessful {
		t.Errorf("status = %q (%s), want successful", got.Status, got.ErrDetail)
	}
	if f.namespaces.deleted != 1 {
		t.Errorf("namespace cleanup called %d times, want 1", f.namespaces.deleted)
	}
	if f.locker.held("paas:deploy-lock:app-1") {
		t.Error("environment lock should be released after offline")
	}
}

func TestOfflineService_InstancesNeverStop(t *testing.T) {
	f := newOfflineFixture(testApp())
	f.svc.timeout = 30 * time.Millisecond

	op, err := f.svc.Offline(context.Background(), "app-1", "admin")
	if err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()

	got, _ := f.svc.Get(context.Background(), op.UUID)
	if got.Status != domain.OfflineFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.ErrDetail, "wait instances to stop") {
		t.Errorf("err detail = %q", got.ErrDetail)
	}
}

func TestOfflineService_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *offlineFixture)
		wantErr error
	}{
		{
			name: "已有下架进行中",
			setup: func(f *offlineFixture) {
				_ = f.offline.Save(context.Background(), &domain.OfflineOperation{UUID: "o0", AppID: "app-1", Status: domain.OfflinePending})
			},
			wantErr: domain.ErrOfflineOperationExist,
		},
		{
			name: "部署持有环境锁",
			setup: func(f *offlineFixture) {
				f.locker.holders["paas:deploy-lock:app-1"] = "d1"
				_ = f.deploys.Save(context.Background(), &domain.Deployment{UUID: "d1", AppID: "app-1", Status: domain.DeploymentBuild})
			},
			wantErr: domain.ErrDeployInProgress,
		},
		{
			name: "部署刚拿到锁尚未写入记录",
			setup: func(f *offlineFixture) {
				f.locker.holders["paas:deploy-lock:app-1"] = "d2"
			},
			wantErr: domain.ErrDeployInProgress,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOfflineFixture(testApp())
			tt.setup(f)
			_, err := f.svc.Offline(context.Background(), "app-1", "admin")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if f.namespaces.deleted != 0 {
				t.Error("resources must not be deleted")
			}
		})
	}
}

func TestOfflineService_FailsLostDeployment(t *testing.T) {
	f := newOfflineFixture(testApp())
	f.namespaces.onDelete = func() { f.instances.set(nil) }
	_ = f.deploys.Save(context.Background(), &domain.Deployment{UUID: "d1", AppID: "app-1", Status: domain.DeploymentRelease})

	if _, err := f.svc.Offline(context.Background(), "app-1", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc.Wait()

	got, _ := f.deploys.FindByID(context.Background(), "d1")
	if got.Status != domain.DeploymentFailed || got.ErrDetail != "worker lost" {
		t.Errorf("stale deployment = %q (%s), want FAILED (worker lost)", got.Status, got.ErrDetail)
	}
}

// 下架执行期间发起的部署必须被环境锁挡住。
func TestOfflineService_BlocksDeployWhileRunning(t *testing.T) {
	f := newOfflineFixture(testApp())
	release := make(chan struct{})
	f.namespaces.onDelete = func() {
		<-release
		f.instances.set(nil)
	}
	deploys := NewDeployService(stubTx{}, newStubAppRepo(testApp()), f.deploys, f.offline, newStubCommandRepo(),
		NewLogStreams(newStubStreamRepo(), nil), NewCoordinator(f.locker, 0), &stubRunner{})

	if _, err := f.svc.Offline(context.Background(), "app-1", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := deploys.Create(context.Background(), "app-1", sourceRequest())
	close(release)
	f.svc.Wait()

	if !errors.Is(err, domain.ErrOfflineOperationExist) {
		t.Fatalf("err = %v, want ErrOfflineOperationExist", err)
	}
	if _, err := deploys.Create(context.Background(), "app-1", sourceRequest()); err != nil {
		t.Errorf("deploy after offline finished: %v", err)
	}
}

func TestOfflineService_CloudNativeDeletesDomainGroupMapping(t *testing.T) {
	app := testApp()
	app.Type = domain.WlAppTypeCloudNative
	f := newOfflineFixture(app)
	f.instances.set(nil)

	op := &domain.OfflineOperation{UUID: "o1", AppID: app.UUID, Status: domain.OfflinePending}
	f.svc.Run(context.Background(), app, op)

	if op.Status != domain.OfflineSuccessful {
		t.Fatalf("status = %q (%s), want successful", op.Status, op.ErrDetail)
	}
	if len(f.ingresses.dgmDrops) != 1 || f.ingresses.dgmDrops[0] != app.SafeName() {
		t.Errorf("domain group mappings deleted = %v, want %s", f.ingresses.dgmDrops, app.SafeName())
	}
}
