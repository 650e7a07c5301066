package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

const (
	metricsPortName        = "metrics"
	defaultMetricsPath     = "/metrics"
	defaultMetricsInterval = "30s"
)

// MonitorService 维护环境的指标采集配置，并同步到 ServiceMonitor。
type MonitorService struct {
	appRepo     port.WlAppRepository
	monitorRepo port.MonitorRepository
	controller  port.MonitorController
}

func NewMonitorService(appRepo port.WlAppRepository, monitorRepo port.MonitorRepository, controller port.MonitorController) *MonitorService {
	return &MonitorService{appRepo: appRepo, monitorRepo: monitorRepo, controller: controller}
}

type UpsertMonitorRequest struct {
	Port       int32  `json:"port"`
	TargetPort int32  `json:"target_port"`
	Path       string `json:"path"`
	Interval   string `json:"interval"`
	Enabled    bool   `json:"is_enabled"`
}

func (s *MonitorService) Upsert(ctx context.Context, appID string, req UpsertMonitorRequest) (*domain.AppMetricsMonitor, error) {
	if req.Port <= 0 || req.TargetPort <= 0 {
		return nil, &domain.ValidationError{Field: "port", Message: "port and target_port must be positive"}
	}
	app, err := s.appRepo.FindByUUID(ctx, appID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	m, err := s.monitorRepo.FindByApp(ctx, app.UUID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		m = &domain.AppMetricsMonitor{AppID: app.UUID, CreatedAt: now}
	case err != nil:
		return nil, err
	}
	m.Port = req.Port
	m.TargetPort = req.TargetPort
	m.Path = req.Path
	if m.Path == "" {
		m.Path = defaultMetricsPath
	}
	m.Interval = req.Interval
	if m.Interval == "" {
		m.Interval = defaultMetricsInterval
	}
	m.Enabled = req.Enabled
	m.UpdatedAt = now
	if err := s.monitorRepo.Save(ctx, m); err != nil {
		return nil, err
	}
	return m, s.Sync(ctx, app, m)
}

// Sync 让集群中的 ServiceMonitor 与配置一致：启用时创建或更新，关闭时删除。
func (s *MonitorService) Sync(ctx context.Context, app *domain.WlApp, m *domain.AppMetricsMonitor) error {
	if m == nil || !m.Enabled {
		return s.deleteServiceMonitor(ctx, app)
	}
	return s.controller.UpsertServiceMonitor(ctx, &domain.ServiceMonitor{
		App:         app,
		Port:        metricsPortName,
		Path:        m.Path,
		Interval:    m.Interval,
		MatchLabels: app.BaseLabels(),
	})
}

func (s *MonitorService) Delete(ctx context.Context, appID string) error {
	app, err := s.appRepo.FindByUUID(ctx, appID)
	if err != nil {
		return err
	}
	if err := s.monitorRepo.Delete(ctx, app.UUID); err != nil {
		return err
	}
	return s.deleteServiceMonitor(ctx, app)
}

func (s *MonitorService) deleteServiceMonitor(ctx context.Context, app *domain.WlApp) error {
	err := s.controller.DeleteServiceMonitor(ctx, app, "")
	if errors.Is(err, domain.ErrResourceMissing) {
		return nil
	}
	return err
}

// promQLTemplates 按资源与序列类别给出查询模板，参数依次为命名空间与 Pod 名正则。
var promQLTemplates = map[domain.MetricsResourceType]map[domain.MetricsSeriesType]string{
	domain.MetricsCPU: {
		domain.SeriesCurrent: `sum by (pod) (rate(container_cpu_usage_seconds_total{namespace="%s",pod=~"%s",container!="",container!="POD"}[1m]))`,
		domain.SeriesLimit:   `sum by (pod) (kube_pod_container_resource_limits{namespace="%s",pod=~"%s",resource="cpu"})`,
		domain.SeriesRequest: `sum by (pod) (kube_pod_container_resource_requests{namespace="%s",pod=~"%s",resource="cpu"})`,
	},
	domain.MetricsMemory: {
		domain.SeriesCurrent: `sum by (pod) (container_memory_working_set_bytes{namespace="%s",pod=~"%s",container!="",container!="POD"})`,
		domain.SeriesLimit:   `sum by (pod) (kube_pod_container_resource_limits{namespace="%s",pod=~"%s",resource="memory"})`,
		domain.SeriesRequest: `sum by (pod) (kube_pod_container_resource_requests{namespace="%s",pod=~"%s",resource="memory"})`,
	},
}

var allSeriesTypes = []domain.MetricsSeriesType{domain.SeriesCurrent, domain.SeriesLimit, domain.SeriesRequest}

// ResourceMetricManager 查询进程实例的资源用量。单条查询失败时返回空序列。
type ResourceMetricManager struct {
	querier   port.MetricsQuerier
	instances port.InstanceLister
}

func NewResourceMetricManager(querier port.MetricsQuerier, instances port.InstanceLister) *ResourceMetricManager {
	return &ResourceMetricManager{querier: querier, instances: instances}
}

func (m *ResourceMetricManager) Query(ctx context.Context, q domain.MetricsQuery) ([]domain.ResourceMetrics, error) {
	pods, err := m.podPattern(ctx, q)
	if err != nil {
		return nil, err
	}
	series := q.Series
	if len(series) == 0 {
		series = allSeriesTypes
	}
	step := q.Step
	if step <= 0 {
		step = time.Minute
	}

	out := make([]domain.ResourceMetrics, 0, len(q.Resources))
	for _, res := range q.Resources {
		templates, ok := promQLTemplates[res]
		if !ok {
			return nil, &domain.ValidationError{Field: "resources", Message: fmt.Sprintf("unsupported resource type %q", res)}
		}
		rm := domain.ResourceMetrics{Type: res, Results: []domain.InstanceSeries{}}
		if pods != "" {
			for _, st := range series {
				rm.Results = append(rm.Results, m.querySeries(ctx, q, fmt.Sprintf(templates[st], q.App.Namespace(), pods), st, step)...)
			}
		}
		out = append(out, rm)
	}
	return out, nil
}

func (m *ResourceMetricManager) querySeries(ctx context.Context, q domain.MetricsQuery, promql string, st domain.MetricsSeriesType, step time.Duration) []domain.InstanceSeries {
	result, err := m.querier.QueryRange(ctx, promql, q.Start, q.End, step)
	if err != nil {
		slog.Warn("query resource metrics failed", "app", q.App.Name, "process", q.ProcessType, "series", st, "error", err)
		return nil
	}
	out := make([]domain.InstanceSeries, 0, len(result))
	for _, s := range result {
		out = append(out, domain.InstanceSeries{Instance: s.Labels["pod"], Type: st, Points: s.Points})
	}
	return out
}

// podPattern 返回匹配目标实例的 Pod 名正则，进程没有实例时返回空串。
func (m *ResourceMetricManager) podPattern(ctx context.Context, q domain.MetricsQuery) (string, error) {
	if q.InstanceName != "" {
		return regexp.QuoteMeta(q.InstanceName), nil
	}
	instances, err := m.instances.ListInstances(ctx, q.App)
	if err != nil {
		return "", err
	}
	var names []string
	for _, inst := range instances {
		if inst.ProcessType == q.ProcessType {
			names = append(names, regexp.QuoteMeta(inst.Name))
		}
	}
	return strings.Join(names, "|"), nil
}
