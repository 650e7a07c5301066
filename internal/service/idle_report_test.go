package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestIdleReporter_Report(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	idle := testApp()
	busy := testApp()
	busy.UUID = "app-2"
	busy.Name = "bkapp-demo-prod"
	busy.Environment = domain.EnvProd

	oldDone := now.AddDate(0, 0, -200)
	deploys := newStubDeployRepo(
		&domain.Deployment{UUID: "d1", AppID: idle.UUID, Status: domain.DeploymentSuccessful, CreatedAt: oldDone, CompleteTime: &oldDone},
		&domain.Deployment{UUID: "d2", AppID: busy.UUID, Status: domain.DeploymentSuccessful, CreatedAt: now.AddDate(0, 0, -3)},
	)
	specs := newStubSpecRepo(&domain.ProcessSpec{ID: "s-web", AppCode: "demo", ModuleName: "default", Name: "web", Plan: "4C2G"})
	instances := &stubInstances{instances: []domain.Instance{
		{Name: "web-1", ProcessType: "web", State: domain.InstanceRunning},
		{Name: "web-2", ProcessType: "web", State: domain.InstanceRunning},
		{Name: "web-3", ProcessType: "web", State: "Pending"},
	}}
	r := NewIdleReporter(newStubAppRepo(idle, busy), deploys, specs, instances, nil)

	got, err := r.Report(context.Background(), "c1", 0, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	item := got[0]
	assert.Equal(t, "bkapp-demo-stag", item.Namespace)
	assert.Equal(t, 2, item.RunningInstances)
	require.NotNil(t, item.LastDeployedAt)
	assert.True(t, item.LastDeployedAt.Equal(oldDone))
	assert.Equal(t, "400m", item.CPURequest.String())
	assert.Equal(t, "2Gi", item.MemRequest.String())
}

func TestIdleReporter_NeverDeployedWithoutInstances(t *testing.T) {
	r := NewIdleReporter(newStubAppRepo(testApp()), newStubDeployRepo(), newStubSpecRepo(), &stubInstances{}, nil)
	got, err := r.Report(context.Background(), "c1", 30, time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteIdleReport(t *testing.T) {
	deployed := time.Date(2023, 11, 1, 8, 30, 0, 0, time.UTC)
	items := []IdleApp{
		{AppCode: "demo", ModuleName: "default", Environment: domain.EnvStag, Namespace: "bkapp-demo-stag", LastDeployedAt: &deployed, RunningInstances: 2},
		{AppCode: "other", ModuleName: "api", Environment: domain.EnvProd, Namespace: "bkapp-other-prod", RunningInstances: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteIdleReport(&buf, items))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "namespace", rows[0][3])
	assert.Equal(t, []string{"demo", "default", "stag", "bkapp-demo-stag", "2023-11-01 08:30:00", "2", "0", "0"}, rows[1])
	assert.Equal(t, "never", rows[2][4])
}
