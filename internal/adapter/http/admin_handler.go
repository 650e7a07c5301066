package http

import (
	"context"
	"net/http"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/service"
	"github.com/go-chi/chi/v5"
)

type clusterAdmin interface {
	Upsert(ctx context.Context, cluster *domain.Cluster) error
	Delete(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (*domain.Cluster, error)
}

type appProvisioner interface {
	Provision(ctx context.Context, req service.ProvisionRequest) (*domain.WlApp, error)
	MigrateMapperVersion(ctx context.Context, appID string, target domain.MapperVersion) (*domain.WlApp, error)
}

type stateBinder interface {
	Bind(ctx context.Context, appID string) (*domain.RCStateAppBinding, error)
	Unbind(ctx context.Context, appID string) error
}

// AdminHandler 处理平台管理员的集群与 WlApp 管理操作。
type AdminHandler struct {
	clusters clusterAdmin
	apps     appProvisioner
	states   stateBinder
}

func NewAdminHandler(clusters clusterAdmin, apps appProvisioner, states stateBinder) *AdminHandler {
	return &AdminHandler{clusters: clusters, apps: apps, states: states}
}

func (h *AdminHandler) UpsertCluster(w http.ResponseWriter, r *http.Request) {
	var cluster domain.Cluster
	if err := decodeJSON(r, &cluster); err != nil {
		writeError(w, err)
		return
	}
	cluster.Name = chi.URLParam(r, "name")
	if err := h.clusters.Upsert(r.Context(), &cluster); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactCluster(&cluster))
}

func (h *AdminHandler) GetCluster(w http.ResponseWriter, r *http.Request) {
	cluster, err := h.clusters.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactCluster(cluster))
}

// redactCluster 返回去掉凭证的副本。
func redactCluster(c *domain.Cluster) domain.Cluster {
	out := *c
	out.Auth = domain.ClusterAuth{}
	out.APIServers = make([]domain.APIServer, len(c.APIServers))
	for i, s := range c.APIServers {
		s.Auth = nil
		out.APIServers[i] = s
	}
	return out
}

func (h *AdminHandler) DeleteCluster(w http.ResponseWriter, r *http.Request) {
	if err := h.clusters.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ProvisionApp(w http.ResponseWriter, r *http.Request) {
	var req service.ProvisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.apps.Provision(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

type mapperVersionRequest struct {
	Version domain.MapperVersion `json:"version"`
}

func (h *AdminHandler) MigrateMapperVersion(w http.ResponseWriter, r *http.Request) {
	var req mapperVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.apps.MigrateMapperVersion(r.Context(), chi.URLParam(r, "app"), req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *AdminHandler) BindClusterState(w http.ResponseWriter, r *http.Request) {
	binding, err := h.states.Bind(r.Context(), chi.URLParam(r, "app"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

func (h *AdminHandler) UnbindClusterState(w http.ResponseWriter, r *http.Request) {
	if err := h.states.Unbind(r.Context(), chi.URLParam(r, "app")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
