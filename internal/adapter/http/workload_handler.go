package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/service"
	"github.com/go-chi/chi/v5"
)

type monitors interface {
	Upsert(ctx context.Context, appID string, req service.UpsertMonitorRequest) (*domain.AppMetricsMonitor, error)
	Delete(ctx context.Context, appID string) error
}

type resourceMetrics interface {
	Query(ctx context.Context, q domain.MetricsQuery) ([]domain.ResourceMetrics, error)
}

type sandboxes interface {
	Create(ctx context.Context, req service.CreateSandboxRequest) (*domain.Sandbox, error)
	Get(ctx context.Context, id string) (*domain.Sandbox, *domain.SandboxRuntime, error)
	Delete(ctx context.Context, id string) error
}

// WorkloadHandler 处理指标采集、资源指标查询与沙箱。
type WorkloadHandler struct {
	apps      appFinder
	monitors  monitors
	metrics   resourceMetrics
	sandboxes sandboxes
}

func NewWorkloadHandler(apps appFinder, monitors monitors, metrics resourceMetrics, sandboxes sandboxes) *WorkloadHandler {
	return &WorkloadHandler{apps: apps, monitors: monitors, metrics: metrics, sandboxes: sandboxes}
}

func (h *WorkloadHandler) UpsertMonitor(w http.ResponseWriter, r *http.Request) {
	var req service.UpsertMonitorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := h.monitors.Upsert(r.Context(), chi.URLParam(r, "app"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *WorkloadHandler) DeleteMonitor(w http.ResponseWriter, r *http.Request) {
	if err := h.monitors.Delete(r.Context(), chi.URLParam(r, "app")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Metrics 查询进程资源用量。
// 参数：resources=cpu,mem  series=current,limit  instance  start/end (RFC3339，默认最近 1 小时)  step (Go 时长)
func (h *WorkloadHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	app, err := h.apps.Get(r.Context(), chi.URLParam(r, "app"))
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := parseMetricsQuery(r, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	q.App = app
	q.ProcessType = chi.URLParam(r, "type")
	result, err := h.metrics.Query(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseMetricsQuery(r *http.Request, now time.Time) (domain.MetricsQuery, error) {
	values := r.URL.Query()
	q := domain.MetricsQuery{
		InstanceName: values.Get("instance"),
		Start:        now.Add(-time.Hour),
		End:          now,
	}
	for _, field := range []struct {
		name string
		dst  *time.Time
	}{{"start", &q.Start}, {"end", &q.End}} {
		raw := values.Get(field.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, &domain.ValidationError{Field: field.name, Message: "must be RFC3339"}
		}
		*field.dst = t
	}
	if !q.End.After(q.Start) {
		return q, &domain.ValidationError{Field: "end", Message: "must be after start"}
	}
	if raw := values.Get("step"); raw != "" {
		step, err := time.ParseDuration(raw)
		if err != nil {
			return q, &domain.ValidationError{Field: "step", Message: "must be a duration"}
		}
		q.Step = step
	}
	q.Resources = []domain.MetricsResourceType{domain.MetricsCPU, domain.MetricsMemory}
	if raw := values.Get("resources"); raw != "" {
		q.Resources = nil
		for _, v := range strings.Split(raw, ",") {
			q.Resources = append(q.Resources, domain.MetricsResourceType(strings.TrimSpace(v)))
		}
	}
	if raw := values.Get("series"); raw != "" {
		for _, v := range strings.Split(raw, ",") {
			q.Series = append(q.Series, domain.MetricsSeriesType(strings.TrimSpace(v)))
		}
	}
	return q, nil
}

func (h *WorkloadHandler) CreateSandbox(w http.ResponseWriter, r *http.Request) {
	var req service.CreateSandboxRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sbx, err := h.sandboxes.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sbx)
}

type sandboxView struct {
	*domain.Sandbox
	Runtime *domain.SandboxRuntime `json:"runtime"`
}

func (h *WorkloadHandler) GetSandbox(w http.ResponseWriter, r *http.Request) {
	sbx, rt, err := h.sandboxes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sandboxView{Sandbox: sbx, Runtime: rt})
}

func (h *WorkloadHandler) DeleteSandbox(w http.ResponseWriter, r *http.Request) {
	if err := h.sandboxes.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
