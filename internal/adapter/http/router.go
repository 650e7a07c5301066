package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(
	appH *AppHandler,
	deployH *DeploymentHandler,
	processH *ProcessHandler,
	streamH *StreamHandler,
	adminH *AdminHandler,
	workloadH *WorkloadHandler,
	apiToken string,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)
	r.Use(bodySizeLimitMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(apiToken))
		// Clusters
		r.Route("/clusters/{name}", func(r chi.Router) {
			r.Get("/", adminH.GetCluster)
			r.Put("/", adminH.UpsertCluster)
			r.Delete("/", adminH.DeleteCluster)
		})

		// Apps
		r.Post("/apps", adminH.ProvisionApp)
		r.Route("/apps/{app}", func(r chi.Router) {
			r.Get("/", appH.Get)
			r.Get("/addresses", appH.Addresses)
			r.Put("/ingress-target", appH.SwitchIngressTarget)
			r.Post("/offline", appH.Offline)
			r.Post("/deployments", deployH.Create)
			r.Put("/mapper-version", adminH.MigrateMapperVersion)
			r.Post("/cluster-state-binding", adminH.BindClusterState)
			r.Delete("/cluster-state-binding", adminH.UnbindClusterState)
			r.Put("/monitor", workloadH.UpsertMonitor)
			r.Delete("/monitor", workloadH.DeleteMonitor)

			r.Route("/processes", func(r chi.Router) {
				r.Get("/", processH.List)
				r.Route("/{type}", func(r chi.Router) {
					r.Post("/scale", processH.Scale)
					r.Post("/start", processH.Start)
					r.Post("/stop", processH.Stop)
					r.Put("/autoscaling", processH.SetAutoscaling)
					r.Get("/logs", processH.Logs)
					r.Get("/metrics", workloadH.Metrics)
				})
			})
		})

		// Deployments
		r.Route("/deployments/{id}", func(r chi.Router) {
			r.Get("/", deployH.Get)
			r.Post("/interrupt", deployH.Interrupt)
		})

		// Sandboxes
		r.Post("/sandboxes", workloadH.CreateSandbox)
		r.Route("/sandboxes/{id}", func(r chi.Router) {
			r.Get("/", workloadH.GetSandbox)
			r.Delete("/", workloadH.DeleteSandbox)
		})

		r.Get("/offline-operations/{id}", appH.GetOffline)
		r.Get("/streams/{id}/tail", streamH.Tail)
	})

	return r
}
