package binancefutures

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// rawStream dials a single combined-stream WebSocket endpoint and passes
// decoded `data` payloads to a callback, auto-reconnecting with exponential
// backoff (1s→30s) until ctx is cancelled. Server pings are answered with a
// pong echoing the payload, per §6.
type rawStream struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func newRawStream(url string, logger *slog.Logger) *rawStream {
	return &rawStream{url: url, logger: logger}
}

// run connects and maintains the connection, invoking onMessage for every
// decoded data payload and sending a non-blocking signal on closed when a
// connection attempt drops, so callers can detect the gap and resync.
func (s *rawStream) run(ctx context.Context, onMessage func(data []byte), closed chan<- struct{}) {
	backoff := time.Second

	for {
		err := s.connectAndRead(ctx, onMessage)
		select {
		case closed <- struct{}{}:
		default:
		}
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("stream disconnected, reconnecting", "url", s.url, "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (s *rawStream) connectAndRead(ctx context.Context, onMessage func(data []byte)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		conn.Close()
		s.conn = nil
		s.mu.Unlock()
	}()

	conn.SetPingHandler(func(payload string) error {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(payload))
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		data := msg
		var envelope struct {
			Stream string          `json:"stream"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(msg, &envelope); err == nil && envelope.Stream != "" {
			data = envelope.Data
		}
		onMessage(data)
	}
}

func (s *rawStream) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func combinedStreamURL(base string, streams ...string) string {
	return strings.TrimRight(base, "/") + "/stream?streams=" + strings.Join(streams, "/")
}
