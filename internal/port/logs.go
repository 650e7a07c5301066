package port

import (
	"context"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// RuntimeLogQuerier 查询进程容器的运行时日志。
type RuntimeLogQuerier interface {
	QueryProcessLogs(ctx context.Context, app *domain.WlApp, procType string, start, end time.Time, limit int) (string, error)
}
