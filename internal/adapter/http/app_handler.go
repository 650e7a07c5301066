package http

import (
	"context"
	"net/http"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/go-chi/chi/v5"
)

type offliner interface {
	Offline(ctx context.Context, appID, operator string) (*domain.OfflineOperation, error)
	Get(ctx context.Context, id string) (*domain.OfflineOperation, error)
}

type entrances interface {
	Addresses(ctx context.Context, app *domain.WlApp) ([]domain.Address, error)
	SwitchTarget(ctx context.Context, app *domain.WlApp, procType string) error
}

type AppHandler struct {
	apps     appFinder
	offline  offliner
	entrance entrances
}

func NewAppHandler(apps appFinder, offline offliner, entrance entrances) *AppHandler {
	return &AppHandler{apps: apps, offline: offline, entrance: entrance}
}

type offlineRequest struct {
	Operator string `json:"operator"`
}

func (h *AppHandler) Get(w http.ResponseWriter, r *http.Request) {
	app, err := h.apps.Get(r.Context(), chi.URLParam(r, "app"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *AppHandler) Offline(w http.ResponseWriter, r *http.Request) {
	var req offlineRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	op, err := h.offline.Offline(r.Context(), chi.URLParam(r, "app"), req.Operator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (h *AppHandler) GetOffline(w http.ResponseWriter, r *http.Request) {
	op, err := h.offline.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

type addressView struct {
	domain.Address
	URL string `json:"url"`
}

func (h *AppHandler) Addresses(w http.ResponseWriter, r *http.Request) {
	app, err := h.apps.Get(r.Context(), chi.URLParam(r, "app"))
	if err != nil {
		writeError(w, err)
		return
	}
	addrs, err := h.entrance.Addresses(r.Context(), app)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]addressView, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, addressView{Address: a, URL: a.URL()})
	}
	writeJSON(w, http.StatusOK, out)
}

type ingressTargetRequest struct {
	ProcessType string `json:"process_type"`
}

// SwitchIngressTarget 把环境入口切到指定进程。
func (h *AppHandler) SwitchIngressTarget(w http.ResponseWriter, r *http.Request) {
	var req ingressTargetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ProcessType == "" {
		writeError(w, &domain.ValidationError{Field: "process_type", Message: "is required"})
		return
	}
	app, err := h.apps.Get(r.Context(), chi.URLParam(r, "app"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.entrance.SwitchTarget(r.Context(), app, req.ProcessType); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
