package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// DefaultDeployLockTTL 保证崩溃的 worker 持有的锁最终会过期。
const DefaultDeployLockTTL = 15 * time.Minute

// Coordinator 是环境级的部署互斥锁，持有者为部署 ID，非持有者无法续期或释放。
type Coordinator struct {
	locker port.Locker
	ttl    time.Duration
}

func NewCoordinator(locker port.Locker, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultDeployLockTTL
	}
	return &Coordinator{locker: locker, ttl: ttl}
}

func deployLockKey(appID string) string {
	return "paas:deploy-lock:" + appID
}

func (c *Coordinator) TryAcquire(ctx context.Context, appID, holder string) (bool, error) {
	return c.locker.TryAcquire(ctx, deployLockKey(appID), holder, c.ttl)
}

func (c *Coordinator) Heartbeat(ctx context.Context, appID, holder string) (bool, error) {
	return c.locker.Heartbeat(ctx, deployLockKey(appID), holder, c.ttl)
}

func (c *Coordinator) Release(ctx context.Context, appID, holder string) (bool, error) {
	return c.locker.Release(ctx, deployLockKey(appID), holder)
}

// KeepAlive 在后台按 TTL 的三分之一续期，返回的函数停止续期。
func (c *Coordinator) KeepAlive(ctx context.Context, appID, holder string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := c.Heartbeat(ctx, appID, holder)
				if err != nil {
					slog.Warn("deploy lock heartbeat failed", "app_id", appID, "holder", holder, "error", err)
					continue
				}
				if !ok {
					slog.Error("deploy lock lost", "app_id", appID, "holder", holder)
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
