package display

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

const (
	wsDialTimeout  = 5 * time.Second
	wsWriteTimeout = 2 * time.Second
)

// WebsocketRenderer sends each command as one JSON frame to a remote eye
// display. A failed write triggers a single redial before giving up.
type WebsocketRenderer struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebsocketRenderer(url string) *WebsocketRenderer {
	return &WebsocketRenderer{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: wsDialTimeout},
	}
}

func (r *WebsocketRenderer) Name() string { return "websocket" }

func (r *WebsocketRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectLocked(ctx)
}

func (r *WebsocketRenderer) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	defer cancel()
	conn, _, err := r.dialer.DialContext(dialCtx, r.url, nil)
	if err != nil {
		return fmt.Errorf("dial display %s: %w", r.url, err)
	}
	r.conn = conn
	logger.InfoCF("display", "Connected to eye display", map[string]interface{}{"url": r.url})
	return nil
}

func (r *WebsocketRenderer) Render(ctx context.Context, cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		err := r.writeLocked(cmd)
		if err == nil {
			return nil
		}
		logger.WarnCF("display", "Display write failed, reconnecting", map[string]interface{}{
			"error": err.Error(),
		})
		_ = r.conn.Close()
		r.conn = nil
	}
	if err := r.connectLocked(ctx); err != nil {
		return err
	}
	return r.writeLocked(cmd)
}

func (r *WebsocketRenderer) writeLocked(cmd Command) error {
	if err := r.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return r.conn.WriteJSON(cmd)
}

func (r *WebsocketRenderer) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	_ = r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	err := r.conn.Close()
	r.conn = nil
	return err
}
