package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
)

type streamOpener interface {
	Open(ctx context.Context, streamID string) (*service.ChunkIterator, error)
}

// StreamHandler 通过 websocket 推送部署日志流。
type StreamHandler struct {
	streams  streamOpener
	upgrader websocket.Upgrader
}

func NewStreamHandler(streams streamOpener) *StreamHandler {
	return &StreamHandler{
		streams: streams,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 调用方已通过 X-API-Key 认证
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

type tailMessage struct {
	Event string                     `json:"event"`
	Lines []*domain.OutputStreamLine `json:"lines,omitempty"`
	Error string                     `json:"error,omitempty"`
}

// Tail 先回放已有日志，再推送实时日志，日志流结束时发送 close 事件并断开。
func (h *StreamHandler) Tail(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	it, err := h.streams.Open(ctx, streamID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer it.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "stream_id", streamID, "error", err)
		return
	}
	defer conn.Close()

	go readUntilClosed(conn, cancel)
	go pingLoop(ctx, conn)

	for {
		lines, err := it.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			_ = writeMessage(conn, tailMessage{Event: "close"})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"), time.Now().Add(wsWriteTimeout))
			return
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			slog.Warn("tail stream failed", "stream_id", streamID, "error", err)
			_ = writeMessage(conn, tailMessage{Event: "error", Error: err.Error()})
			return
		}
		if err := writeMessage(conn, tailMessage{Event: "lines", Lines: lines}); err != nil {
			return
		}
	}
}

// writeMessage 只在 Tail 所在 goroutine 调用，ping 走并发安全的 WriteControl。
func writeMessage(conn *websocket.Conn, msg tailMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}

// readUntilClosed 读取并丢弃客户端消息，连接断开时取消推送。
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
