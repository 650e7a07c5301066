package http

import (
	"context"
	"net/http"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/service"
	"github.com/go-chi/chi/v5"
)

type deployments interface {
	Create(ctx context.Context, appID string, req service.CreateDeploymentRequest) (*domain.Deployment, error)
	Get(ctx context.Context, id string) (*domain.Deployment, error)
	Interrupt(ctx context.Context, id string) (*domain.Deployment, error)
}

type DeploymentHandler struct {
	svc deployments
}

func NewDeploymentHandler(svc deployments) *DeploymentHandler {
	return &DeploymentHandler{svc: svc}
}

func (h *DeploymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateDeploymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := h.svc.Create(r.Context(), chi.URLParam(r, "app"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *DeploymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DeploymentHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Interrupt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}
