package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/metrics"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/google/uuid"
)

const (
	// DefaultTailIdleTimeout 是订阅空闲多久后重新订阅并从存储补齐。
	DefaultTailIdleTimeout = 300 * time.Second
	tailPollSlice          = time.Second
	tailBackfillBatch      = 500
)

func streamChannel(streamID string) string {
	return "paas:outputstream:" + streamID
}

// streamMessage 是发布到订阅频道的一条消息，Event 为 close 表示日志流结束。
type streamMessage struct {
	Event string                   `json:"event,omitempty"`
	Line  *domain.OutputStreamLine `json:"line,omitempty"`
}

const eventClose = "close"

// LogStreams 创建日志流并提供写入器与实时读取。
type LogStreams struct {
	repo        port.OutputStreamRepository
	cache       port.KVCache
	idleTimeout time.Duration
}

func NewLogStreams(repo port.OutputStreamRepository, cache port.KVCache) *LogStreams {
	return &LogStreams{repo: repo, cache: cache, idleTimeout: DefaultTailIdleTimeout}
}

func (s *LogStreams) Create(ctx context.Context) (string, error) {
	stream := &domain.OutputStream{UUID: uuid.New().String(), CreatedAt: time.Now()}
	if err := s.repo.CreateStream(ctx, stream); err != nil {
		return "", err
	}
	return stream.UUID, nil
}

func (s *LogStreams) Writer(streamID string) *StreamWriter {
	return &StreamWriter{repo: s.repo, cache: s.cache, streamID: streamID}
}

// StreamWriter 把日志行写入存储并镜像到订阅频道。存储是唯一可信来源，发布失败只记录告警。
type StreamWriter struct {
	repo     port.OutputStreamRepository
	cache    port.KVCache
	streamID string
}

func (w *StreamWriter) StreamID() string { return w.streamID }

func (w *StreamWriter) Write(ctx context.Context, stream, line string) error {
	l := &domain.OutputStreamLine{
		StreamID:  w.streamID,
		Stream:    stream,
		Line:      domain.PolishLine(line),
		CreatedAt: time.Now(),
	}
	if err := w.repo.AppendLine(ctx, l); err != nil {
		return err
	}
	metrics.LogLinesWritten.Inc()
	w.publish(ctx, streamMessage{Line: l})
	return nil
}

func (w *StreamWriter) Stdout(ctx context.Context, line string) error {
	return w.Write(ctx, domain.StreamStdout, line)
}

func (w *StreamWriter) Stderr(ctx context.Context, line string) error {
	return w.Write(ctx, domain.StreamStderr, line)
}

func (w *StreamWriter) Title(ctx context.Context, title string) error {
	return w.Write(ctx, domain.StreamTitle, title)
}

// Close 通知订阅方日志流已结束。
func (w *StreamWriter) Close(ctx context.Context) {
	w.publish(ctx, streamMessage{Event: eventClose})
}

func (w *StreamWriter) publish(ctx context.Context, msg streamMessage) {
	if w.cache == nil {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal stream message failed", "stream_id", w.streamID, "error", err)
		return
	}
	if err := w.cache.Publish(ctx, streamChannel(w.streamID), string(raw)); err != nil {
		slog.Warn("publish stream line failed", "stream_id", w.streamID, "error", err)
	}
}

// Open 返回日志流的迭代器：先回放已存储的行，再跟随实时消息。
func (s *LogStreams) Open(ctx context.Context, streamID string) (*ChunkIterator, error) {
	if _, err := s.repo.FindStream(ctx, streamID); err != nil {
		return nil, err
	}
	it := &ChunkIterator{
		repo:        s.repo,
		cache:       s.cache,
		streamID:    streamID,
		idleTimeout: s.idleTimeout,
	}
	// 先订阅再回放，避免两者之间写入的行丢失
	if err := it.subscribe(ctx); err != nil {
		return nil, err
	}
	if err := it.backfill(ctx); err != nil {
		it.Close()
		return nil, err
	}
	return it, nil
}

// ChunkIterator 按块读取日志流。日志流结束后 Next 返回 io.EOF。
type ChunkIterator struct {
	repo        port.OutputStreamRepository
	cache       port.KVCache
	streamID    string
	idleTimeout time.Duration

	sub     port.Subscription
	pending []*domain.OutputStreamLine
	lastID  int64
	closed  bool
}

func (it *ChunkIterator) subscribe(ctx context.Context) error {
	sub, err := it.cache.Subscribe(ctx, streamChannel(it.streamID))
	if err != nil {
		return err
	}
	it.sub = sub
	return nil
}

func (it *ChunkIterator) backfill(ctx context.Context) error {
	for {
		lines, err := it.repo.ListLines(ctx, it.streamID, it.afterID(), tailBackfillBatch)
		if err != nil {
			return err
		}
		it.pending = append(it.pending, lines...)
		if len(lines) < tailBackfillBatch {
			return nil
		}
	}
}

func (it *ChunkIterator) afterID() int64 {
	if n := len(it.pending); n > 0 {
		return it.pending[n-1].ID
	}
	return it.lastID
}

// Next 返回下一批日志行，ctx 取消时返回 ctx.Err()。
func (it *ChunkIterator) Next(ctx context.Context) ([]*domain.OutputStreamLine, error) {
	if len(it.pending) > 0 {
		chunk := it.pending
		it.pending = nil
		it.lastID = chunk[len(chunk)-1].ID
		return chunk, nil
	}
	if it.closed {
		return nil, io.EOF
	}

	var idle time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := it.sub.Receive(tailPollSlice)
		if errors.Is(err, port.ErrReceiveTimeout) {
			idle += tailPollSlice
			if idle >= it.idleTimeout {
				if err := it.resubscribe(ctx); err != nil {
					return nil, err
				}
				idle = 0
				if len(it.pending) > 0 {
					return it.Next(ctx)
				}
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		var msg streamMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			slog.Warn("drop malformed stream message", "stream_id", it.streamID, "error", err)
			continue
		}
		if msg.Event == eventClose {
			it.closed = true
			return nil, io.EOF
		}
		if msg.Line == nil || msg.Line.ID <= it.lastID {
			continue
		}
		it.lastID = msg.Line.ID
		return []*domain.OutputStreamLine{msg.Line}, nil
	}
}

// resubscribe 重建订阅并从存储补齐期间错过的行。
func (it *ChunkIterator) resubscribe(ctx context.Context) error {
	if err := it.sub.Close(); err != nil {
		slog.Warn("close idle subscription failed", "stream_id", it.streamID, "error", err)
	}
	if err := it.subscribe(ctx); err != nil {
		return err
	}
	return it.backfill(ctx)
}

func (it *ChunkIterator) Close() error {
	if it.sub == nil {
		return nil
	}
	return it.sub.Close()
}
