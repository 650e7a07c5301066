package service

import (
	"context"
	"fmt"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

const (
	defaultLogSince = time.Hour
	defaultLogLimit = 1000
	maxLogLimit     = 5000
)

type RuntimeLogService struct {
	appRepo    port.WlAppRepository
	logQuerier port.RuntimeLogQuerier
	now        func() time.Time
}

func NewRuntimeLogService(appRepo port.WlAppRepository, logQuerier port.RuntimeLogQuerier) *RuntimeLogService {
	return &RuntimeLogService{appRepo: appRepo, logQuerier: logQuerier, now: time.Now}
}

// Query 查询进程运行时日志。since 为 Go duration 字符串（如 "1h"），为空时取 1h；limit 上限 5000。
func (s *RuntimeLogService) Query(ctx context.Context, appID, procType, since string, limit int) (string, error) {
	app, err := s.appRepo.FindByUUID(ctx, appID)
	if err != nil {
		return "", err
	}
	if procType == "" {
		return "", &domain.ValidationError{Field: "process_type", Message: "is required"}
	}

	duration := defaultLogSince
	if since != "" {
		duration, err = time.ParseDuration(since)
		if err != nil {
			return "", &domain.ValidationError{Field: "since", Message: fmt.Sprintf("invalid duration %q: %v", since, err)}
		}
		if duration <= 0 {
			return "", &domain.ValidationError{Field: "since", Message: "must be positive"}
		}
	}

	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	end := s.now()
	return s.logQuerier.QueryProcessLogs(ctx, app, procType, end.Add(-duration), end, limit)
}
