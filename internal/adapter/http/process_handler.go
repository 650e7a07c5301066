package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/go-chi/chi/v5"
)

type appFinder interface {
	Get(ctx context.Context, appID string) (*domain.WlApp, error)
}

type processes interface {
	ListProcesses(ctx context.Context, app *domain.WlApp) ([]*domain.ProcessStatus, error)
	Scale(ctx context.Context, app *domain.WlApp, procType string, replicas int) error
	Start(ctx context.Context, app *domain.WlApp, procType string) error
	Stop(ctx context.Context, app *domain.WlApp, procType string) error
	SetAutoscaling(ctx context.Context, app *domain.WlApp, procType string, enabled bool, cfg *domain.AutoscalingConfig) error
}

type runtimeLogs interface {
	Query(ctx context.Context, appID, procType, since string, limit int) (string, error)
}

type ProcessHandler struct {
	apps appFinder
	svc  processes
	logs runtimeLogs
}

func NewProcessHandler(apps appFinder, svc processes, logs runtimeLogs) *ProcessHandler {
	return &ProcessHandler{apps: apps, svc: svc, logs: logs}
}

type scaleRequest struct {
	Replicas *int `json:"replicas"`
}

type autoscalingRequest struct {
	Enabled bool                      `json:"enabled"`
	Config  *domain.AutoscalingConfig `json:"config"`
}

func (h *ProcessHandler) List(w http.ResponseWriter, r *http.Request) {
	app, err := h.apps.Get(r.Context(), chi.URLParam(r, "app"))
	if err != nil {
		writeError(w, err)
		return
	}
	procs, err := h.svc.ListProcesses(r.Context(), app)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, procs)
}

func (h *ProcessHandler) Scale(w http.ResponseWriter, r *http.Request) {
	var req scaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Replicas == nil {
		writeError(w, &domain.ValidationError{Field: "replicas", Message: "is required"})
		return
	}
	h.operate(w, r, func(ctx context.Context, app *domain.WlApp, procType string) error {
		return h.svc.Scale(ctx, app, procType, *req.Replicas)
	})
}

func (h *ProcessHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.operate(w, r, h.svc.Start)
}

func (h *ProcessHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.operate(w, r, h.svc.Stop)
}

func (h *ProcessHandler) SetAutoscaling(w http.ResponseWriter, r *http.Request) {
	var req autoscalingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.operate(w, r, func(ctx context.Context, app *domain.WlApp, procType string) error {
		return h.svc.SetAutoscaling(ctx, app, procType, req.Enabled, req.Config)
	})
}

func (h *ProcessHandler) operate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, app *domain.WlApp, procType string) error) {
	app, err := h.apps.Get(r.Context(), chi.URLParam(r, "app"))
	if err != nil {
		writeError(w, err)
		return
	}
	procType := chi.URLParam(r, "type")
	if err := fn(r.Context(), app, procType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"process_type": procType})
}

func (h *ProcessHandler) Logs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, &domain.ValidationError{Field: "limit", Message: "must be an integer"})
			return
		}
		limit = v
	}
	logs, err := h.logs.Query(r.Context(), chi.URLParam(r, "app"), chi.URLParam(r, "type"), r.URL.Query().Get("since"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}
