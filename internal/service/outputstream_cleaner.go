package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"golang.org/x/time/rate"
)

// cleanRecordsPerSecond 限制压缩速度：每处理 1000 行休眠 1 秒。
const cleanRecordsPerSecond = 1000

// CleanResult 汇总一次压缩的结果。
type CleanResult struct {
	Streams int
	Lines   int64
}

// OutputStreamCleaner 把早于截止时间的部署日志替换为一行占位，保留行数与时间范围。
type OutputStreamCleaner struct {
	repo    port.OutputStreamRepository
	limiter *rate.Limiter
}

func NewOutputStreamCleaner(repo port.OutputStreamRepository) *OutputStreamCleaner {
	return &OutputStreamCleaner{
		repo:    repo,
		limiter: rate.NewLimiter(rate.Limit(cleanRecordsPerSecond), cleanRecordsPerSecond),
	}
}

// Clean 分批处理全部含有过期日志的流，dryRun 时只统计不修改。
func (c *OutputStreamCleaner) Clean(ctx context.Context, before time.Time, batchSize int, dryRun bool) (CleanResult, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	var result CleanResult
	after := ""
	for {
		ids, err := c.repo.StreamsWithLinesBefore(ctx, before, after, batchSize)
		if err != nil {
			return result, err
		}
		for _, id := range ids {
			summary, err := c.repo.SummarizeLinesBefore(ctx, id, before)
			if err != nil {
				return result, err
			}
			if summary.Count == 0 {
				continue
			}
			retired := summary.Count
			if !dryRun {
				placeholder := domain.RetiredLine(summary.Count, summary.First, summary.Last)
				if retired, err = c.repo.RetireLinesBefore(ctx, id, before, placeholder); err != nil {
					return result, err
				}
			}
			result.Streams++
			result.Lines += retired
			if err := c.throttle(ctx, retired); err != nil {
				return result, err
			}
		}
		if len(ids) < batchSize {
			break
		}
		after = ids[len(ids)-1]
	}
	slog.Info("output streams compacted", "before", before, "streams", result.Streams, "lines", result.Lines, "dry_run", dryRun)
	return result, nil
}

func (c *OutputStreamCleaner) throttle(ctx context.Context, n int64) error {
	for n > 0 {
		chunk := n
		if chunk > cleanRecordsPerSecond {
			chunk = cleanRecordsPerSecond
		}
		if err := c.limiter.WaitN(ctx, int(chunk)); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
