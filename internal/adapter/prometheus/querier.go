package prometheus

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

var _ port.MetricsQuerier = (*Querier)(nil)

// Querier 通过 Prometheus HTTP API 执行区间查询。
type Querier struct {
	api promv1.API
}

// NewQuerier 创建查询客户端，username 非空时附带 Basic Auth。
func NewQuerier(address, username, password string) (*Querier, error) {
	var rt http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if username != "" {
		rt = &basicAuthTransport{username: username, password: password, next: rt}
	}
	client, err := api.NewClient(api.Config{Address: address, RoundTripper: rt})
	if err != nil {
		return nil, fmt.Errorf("prometheus: create client: %w", err)
	}
	return &Querier{api: promv1.NewAPI(client)}, nil
}

func (q *Querier) QueryRange(ctx context.Context, promql string, start, end time.Time, step time.Duration) ([]domain.MetricSeries, error) {
	value, warnings, err := q.api.QueryRange(ctx, promql, promv1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, fmt.Errorf("prometheus: query range: %w", err)
	}
	if len(warnings) > 0 {
		slog.Warn("prometheus query returned warnings", "query", promql, "warnings", warnings)
	}
	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("prometheus: unexpected result type %s", value.Type())
	}
	return matrixToSeries(matrix), nil
}

func matrixToSeries(matrix model.Matrix) []domain.MetricSeries {
	out := make([]domain.MetricSeries, 0, len(matrix))
	for _, stream := range matrix {
		labels := make(map[string]string, len(stream.Metric))
		for k, v := range stream.Metric {
			labels[string(k)] = string(v)
		}
		points := make([]domain.MetricPoint, 0, len(stream.Values))
		for _, p := range stream.Values {
			points = append(points, domain.MetricPoint{Timestamp: p.Timestamp.Unix(), Value: float64(p.Value)})
		}
		out = append(out, domain.MetricSeries{Labels: labels, Points: points})
	}
	return out
}

type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	return t.next.RoundTrip(req)
}
