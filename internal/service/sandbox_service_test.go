package service

import (
	"context"
	"errors"
	"testing"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSandboxService(repo *stubSandboxRepo, controller *stubSandboxController) *SandboxService {
	apps := newStubAppRepo(testApp())
	envs := NewEnvResolver(apps, &stubConfigVarRepo{}, &stubAddonRepo{}, stubURLs{}, nil)
	return NewSandboxService(apps, repo, controller, envs, nil)
}

func sandboxRequest() CreateSandboxRequest {
	return CreateSandboxRequest{
		Kind:        domain.SandboxAgent,
		AppCode:     "demo",
		ModuleName:  "default",
		Environment: domain.EnvStag,
		Image:       "agent:latest",
		Envs:        map[string]string{"FOO": "bar"},
		Plan:        "4C2G",
	}
}

func TestSandboxService_Create(t *testing.T) {
	repo := newStubSandboxRepo()
	controller := &stubSandboxController{}
	svc := newSandboxService(repo, controller)

	sbx, err := svc.Create(context.Background(), sandboxRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SandboxPending, sbx.Status)
	assert.Equal(t, "c1", sbx.ClusterName)
	assert.Equal(t, int32(8000), sbx.DaemonPort)
	assert.Equal(t, "bar", sbx.Envs["FOO"])
	assert.Equal(t, "demo", sbx.Envs[domain.EnvAppID])
	assert.Equal(t, "1Gi", sbx.Resources.Requests["memory"])
	assert.Equal(t, "bk-agent-sbx-demo", sbx.Namespace())

	require.Len(t, controller.created, 1)
	stored, err := repo.FindByID(context.Background(), sbx.UUID)
	require.NoError(t, err)
	assert.Equal(t, sbx.UUID, stored.UUID)
}

func TestSandboxService_CreateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *CreateSandboxRequest)
		wantErr error
	}{
		{name: "未知类型", mutate: func(r *CreateSandboxRequest) { r.Kind = "vm" }, wantErr: domain.ErrInvalidInput},
		{name: "缺少镜像", mutate: func(r *CreateSandboxRequest) { r.Image = "" }, wantErr: domain.ErrInvalidInput},
		{name: "未知资源方案", mutate: func(r *CreateSandboxRequest) { r.Plan = "64C" }, wantErr: domain.ErrInvalidInput},
		{name: "模块环境不存在", mutate: func(r *CreateSandboxRequest) { r.Environment = domain.EnvProd }, wantErr: domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubSandboxRepo()
			controller := &stubSandboxController{}
			req := sandboxRequest()
			tt.mutate(&req)

			_, err := newSandboxService(repo, controller).Create(context.Background(), req)
			assert.True(t, errors.Is(err, tt.wantErr), "err = %v", err)
			assert.Empty(t, controller.created)
			assert.Empty(t, repo.sandboxes)
		})
	}
}

func TestSandboxService_CreateFailureMarksFailed(t *testing.T) {
	repo := newStubSandboxRepo()
	controller := &stubSandboxController{createErr: errors.New("quota exceeded")}
	svc := newSandboxService(repo, controller)

	_, err := svc.Create(context.Background(), sandboxRequest())
	require.Error(t, err)
	require.Len(t, repo.sandboxes, 1)
	for _, sbx := range repo.sandboxes {
		assert.Equal(t, domain.SandboxFailed, sbx.Status)
	}
}

func TestSandboxService_GetSyncsStatus(t *testing.T) {
	repo := newStubSandboxRepo()
	controller := &stubSandboxController{runtime: &domain.SandboxRuntime{Status: domain.SandboxRunning, PodIP: "10.1.2.3"}}
	svc := newSandboxService(repo, controller)

	sbx, err := svc.Create(context.Background(), sandboxRequest())
	require.NoError(t, err)

	got, rt, err := svc.Get(context.Background(), sbx.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.SandboxRunning, got.Status)
	assert.Equal(t, "10.1.2.3", rt.PodIP)
	stored, _ := repo.FindByID(context.Background(), sbx.UUID)
	assert.Equal(t, domain.SandboxRunning, stored.Status)
}

func TestSandboxService_Delete(t *testing.T) {
	tests := []struct {
		name      string
		deleteErr error
		wantErr   bool
	}{
		{name: "正常删除"},
		{name: "集群资源已不存在", deleteErr: domain.ErrResourceMissing},
		{name: "集群删除失败", deleteErr: errors.New("apiserver down"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubSandboxRepo()
			controller := &stubSandboxController{}
			svc := newSandboxService(repo, controller)
			sbx, err := svc.Create(context.Background(), sandboxRequest())
			require.NoError(t, err)

			controller.deleteErr = tt.deleteErr
			err = svc.Delete(context.Background(), sbx.UUID)
			if tt.wantErr {
				require.Error(t, err)
				assert.Len(t, repo.sandboxes, 1, "record kept when cluster deletion fails")
				return
			}
			require.NoError(t, err)
			assert.Empty(t, repo.sandboxes)
		})
	}
}
