package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/xuri/excelize/v2"
	"k8s.io/apimachinery/pkg/api/resource"
)

// DefaultIdleDays 是判定闲置的默认天数。
const DefaultIdleDays = 180

// IdleApp 是一个闲置的模块环境：长期没有成功部署但仍有运行中的实例。
type IdleApp struct {
	AppCode          string
	ModuleName       string
	Environment      domain.Environment
	Namespace        string
	LastDeployedAt   *time.Time
	RunningInstances int
	CPURequest       resource.Quantity
	MemRequest       resource.Quantity
}

// IdleReporter 统计集群中的闲置应用。
type IdleReporter struct {
	appRepo    port.WlAppRepository
	deployRepo port.DeploymentRepository
	specRepo   port.ProcessSpecRepository
	instances  port.InstanceLister
	plans      domain.PlanTable
}

func NewIdleReporter(
	appRepo port.WlAppRepository,
	deployRepo port.DeploymentRepository,
	specRepo port.ProcessSpecRepository,
	instances port.InstanceLister,
	plans domain.PlanTable,
) *IdleReporter {
	if plans == nil {
		plans = domain.NewPlanTable(nil)
	}
	return &IdleReporter{appRepo: appRepo, deployRepo: deployRepo, specRepo: specRepo, instances: instances, plans: plans}
}

// Report 返回集群中最近一次成功部署早于 now-idleDays 且仍有运行实例的环境，按命名空间排序。
func (r *IdleReporter) Report(ctx context.Context, clusterName string, idleDays int, now time.Time) ([]IdleApp, error) {
	if idleDays <= 0 {
		idleDays = DefaultIdleDays
	}
	deadline := now.AddDate(0, 0, -idleDays)
	apps, err := r.appRepo.FindByCluster(ctx, clusterName)
	if err != nil {
		return nil, err
	}

	var idle []IdleApp
	for _, app := range apps {
		var lastDeployed *time.Time
		d, err := r.deployRepo.FindLatestSuccessful(ctx, app.UUID)
		switch {
		case err == nil:
			t := d.CreatedAt
			if d.CompleteTime != nil {
				t = *d.CompleteTime
			}
			if t.After(deadline) {
				continue
			}
			lastDeployed = &t
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}

		instances, err := r.instances.ListInstances(ctx, app)
		if err != nil {
			slog.Warn("list instances failed, skip app", "app", app.Name, "error", err)
			continue
		}
		running := make(map[string]int)
		total := 0
		for _, inst := range instances {
			if inst.State == domain.InstanceRunning {
				running[inst.ProcessType]++
				total++
			}
		}
		if total == 0 {
			continue
		}

		item := IdleApp{
			AppCode:          app.AppCode,
			ModuleName:       app.ModuleName,
			Environment:      app.Environment,
			Namespace:        app.Namespace(),
			LastDeployedAt:   lastDeployed,
			RunningInstances: total,
		}
		if err := r.sumRequests(ctx, app, running, &item); err != nil {
			return nil, err
		}
		idle = append(idle, item)
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].Namespace < idle[j].Namespace })
	return idle, nil
}

// sumRequests 按进程的资源方案与运行实例数累加资源请求量。
func (r *IdleReporter) sumRequests(ctx context.Context, app *domain.WlApp, running map[string]int, item *IdleApp) error {
	specs, err := r.specRepo.FindByModule(ctx, app.AppCode, app.ModuleName)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		n := running[spec.Name]
		if n == 0 {
			continue
		}
		overlay, err := r.specRepo.FindOverlay(ctx, spec.ID, app.Environment)
		if err != nil {
			return err
		}
		plan, err := r.plans.Lookup(domain.EffectivePlan(spec, overlay))
		if err != nil {
			plan = r.plans[domain.DefaultPlanName]
		}
		for i := 0; i < n; i++ {
			addQuantity(&item.CPURequest, plan.CPUReq)
			addQuantity(&item.MemRequest, plan.MemReq)
		}
	}
	return nil
}

func addQuantity(sum *resource.Quantity, value string) {
	q, err := resource.ParseQuantity(value)
	if err != nil {
		return
	}
	sum.Add(q)
}

var idleReportHeader = []any{"app_code", "module", "env", "namespace", "last_deployed_at", "running_instances", "cpu_request", "memory_request"}

// WriteIdleReport 把闲置应用写为 xlsx。
func WriteIdleReport(w io.Writer, apps []IdleApp) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	if err := f.SetSheetRow(sheet, "A1", &idleReportHeader); err != nil {
		return err
	}
	for i, app := range apps {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		lastDeployed := "never"
		if app.LastDeployedAt != nil {
			lastDeployed = app.LastDeployedAt.Format(time.DateTime)
		}
		row := []any{
			app.AppCode,
			app.ModuleName,
			string(app.Environment),
			app.Namespace,
			lastDeployed,
			app.RunningInstances,
			app.CPURequest.String(),
			app.MemRequest.String(),
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return f.Write(w)
}
