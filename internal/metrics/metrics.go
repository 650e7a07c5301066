// Package metrics 汇总进程内的 Prometheus 指标，由 /metrics 暴露。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointFailovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paas_workloads_endpoint_failovers_total",
		Help: "API server endpoint failures that triggered a failover, by cluster",
	}, []string{"cluster"})

	Deployments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paas_workloads_deployments_total",
		Help: "Finished deployments by final status",
	}, []string{"status"})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paas_workloads_phase_duration_seconds",
		Help:    "Deployment phase duration by phase and outcome",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"phase", "outcome"})

	ProcessOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paas_workloads_process_operations_total",
		Help: "Process operations by operation and result",
	}, []string{"operation", "result"})

	LogLinesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paas_workloads_log_lines_written_total",
		Help: "Output stream lines persisted",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paas_workloads_http_request_duration_seconds",
		Help:    "Operator API request duration by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
