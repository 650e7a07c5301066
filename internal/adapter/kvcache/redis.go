package kvcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/gomodule/redigo/redis"
)

var (
	_ port.KVCache = (*RedisCache)(nil)
	_ port.Locker  = (*RedisCache)(nil)
)

// NewPool 按 redis:// URL 创建连接池。
func NewPool(rawURL string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     16,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(rawURL, redis.DialConnectTimeout(5*time.Second))
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// RedisCache 同时提供缓存、发布订阅与分布式锁。
type RedisCache struct {
	pool *redis.Pool
}

func NewRedisCache(pool *redis.Pool) *RedisCache {
	return &RedisCache{pool: pool}
}

func (c *RedisCache) do(ctx context.Context, cmd string, args ...any) (any, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get redis conn: %w", err)
	}
	defer conn.Close()
	return conn.Do(cmd, args...)
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := redis.String(c.do(ctx, "GET", key))
	if errors.Is(err, redis.ErrNil) {
		return "", domain.ErrNotFound
	}
	return v, err
}

// Set 写入 key，ttl 为 0 表示永不过期。
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	args := []any{key, value}
	if ttl > 0 {
		args = append(args, "PX", ttl.Milliseconds())
	}
	_, err := c.do(ctx, "SET", args...)
	return err
}

func (c *RedisCache) Publish(ctx context.Context, channel, message string) error {
	_, err := c.do(ctx, "PUBLISH", channel, message)
	return err
}

// Subscribe 独占一个连接，订阅确认后才返回，避免丢失紧随其后的消息。
func (c *RedisCache) Subscribe(ctx context.Context, channel string) (port.Subscription, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get redis conn: %w", err)
	}
	psc := redis.PubSubConn{Conn: conn}
	if err := psc.Subscribe(channel); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	switch v := psc.Receive().(type) {
	case redis.Subscription:
	case error:
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, v)
	default:
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: unexpected reply %T", channel, v)
	}

	sub := &subscription{
		psc:      psc,
		channel:  channel,
		messages: make(chan string, 256),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go sub.loop()
	return sub, nil
}

type subscription struct {
	psc      redis.PubSubConn
	channel  string
	messages chan string
	done     chan struct{}
	stopped  chan struct{}
	err      error
	once     sync.Once
}

func (s *subscription) loop() {
	defer close(s.stopped)
	defer close(s.messages)
	for {
		switch v := s.psc.Receive().(type) {
		case redis.Message:
			select {
			case s.messages <- string(v.Data):
			case <-s.done:
				return
			}
		case redis.Subscription:
			if v.Count == 0 {
				return
			}
		case error:
			select {
			case <-s.done:
			default:
				slog.Warn("redis subscription broken", "channel", s.channel, "error", v)
				s.err = v
			}
			return
		}
	}
}

// Receive 等待下一条消息。订阅连接断开后返回底层错误。
func (s *subscription) Receive(timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-s.messages:
		if !ok {
			if s.err != nil {
				return "", s.err
			}
			return "", errors.New("subscription closed")
		}
		return msg, nil
	case <-timer.C:
		return "", port.ErrReceiveTimeout
	}
}

// Close 退订并等待读循环退出后再归还连接，连接同一时刻只允许一个读者。
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if uerr := s.psc.Unsubscribe(); uerr == nil {
			<-s.stopped
		}
		err = s.psc.Close()
	})
	return err
}

// 只有持有者才能续期或释放锁。
var (
	heartbeatScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

func (c *RedisCache) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	_, err := redis.String(c.do(ctx, "SET", key, holder, "NX", "PX", ttl.Milliseconds()))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) Heartbeat(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	return c.runScript(ctx, heartbeatScript, key, holder, ttl.Milliseconds())
}

func (c *RedisCache) Release(ctx context.Context, key, holder string) (bool, error) {
	return c.runScript(ctx, releaseScript, key, holder)
}

func (c *RedisCache) runScript(ctx context.Context, script *redis.Script, keysAndArgs ...any) (bool, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("get redis conn: %w", err)
	}
	defer conn.Close()
	n, err := redis.Int(script.Do(conn, keysAndArgs...))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
