package port

import (
	"context"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// MetricsQuerier 执行 PromQL 区间查询。
type MetricsQuerier interface {
	QueryRange(ctx context.Context, promql string, start, end time.Time, step time.Duration) ([]domain.MetricSeries, error)
}
