package port

import (
	"context"
	"time"
)

// KVCache 是共享 k/v 缓存：读写与发布订阅。
type KVCache interface {
	// Get 在 key 不存在时返回 domain.ErrNotFound。
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription 是一个频道订阅。
type Subscription interface {
	// Receive 等待下一条消息，超时返回 ErrReceiveTimeout。
	Receive(timeout time.Duration) (string, error)
	Close() error
}

// Locker 是基于 TTL 的分布式锁，holder 标识持有者，只有持有者能续期或释放。
type Locker interface {
	TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Heartbeat(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holder string) (bool, error)
}
