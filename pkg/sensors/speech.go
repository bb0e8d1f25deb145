package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

const (
	defaultDialTimeout    = 5 * time.Second
	defaultReconnectDelay = 2 * time.Second
)

// recognitionMessage is one result frame of the recognition server. Partial
// and final results are forwarded alike.
type recognitionMessage struct {
	Partial string `json:"partial"`
	Text    string `json:"text"`
}

func (m recognitionMessage) fragment() string {
	if t := strings.TrimSpace(m.Text); t != "" {
		return t
	}
	return strings.TrimSpace(m.Partial)
}

// SpeechStream reads recognized fragments from a websocket speech server and
// pushes them into the fragment queue consumed by the fusion loop.
type SpeechStream struct {
	url            string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewSpeechStream(url string) *SpeechStream {
	return &SpeechStream{
		url:            url,
		dialer:         &websocket.Dialer{HandshakeTimeout: defaultDialTimeout},
		reconnectDelay: defaultReconnectDelay,
	}
}

// Connect opens the first connection. Failing here is a startup error.
func (s *SpeechStream) Connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	return nil
}

// Close releases a connection opened by Connect that Run has not taken over.
// Run closes its own connections when its context ends.
func (s *SpeechStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// takeConn hands the connection opened by Connect to the caller.
func (s *SpeechStream) takeConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	s.conn = nil
	return conn
}

func (s *SpeechStream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	conn, _, err := s.dialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial speech server %s: %w", s.url, err)
	}
	return conn, nil
}

// Run forwards fragments into out until ctx is cancelled, reconnecting after
// a dropped connection.
func (s *SpeechStream) Run(ctx context.Context, out *bus.Queue[string]) error {
	conn := s.takeConn()
	for {
		if conn == nil {
			var err error
			conn, err = s.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.WarnCF("speech", "Speech server unavailable, retrying", map[string]interface{}{
					"error": err.Error(),
				})
				if !sleepCtx(ctx, s.reconnectDelay) {
					return nil
				}
				continue
			}
		}

		err := s.readLoop(ctx, conn, out)
		_ = conn.Close()
		conn = nil
		if ctx.Err() != nil {
			return nil
		}
		logger.WarnCF("speech", "Speech stream interrupted", map[string]interface{}{
			"error": fmt.Sprint(err),
		})
		if !sleepCtx(ctx, s.reconnectDelay) {
			return nil
		}
	}
}

func (s *SpeechStream) readLoop(ctx context.Context, conn *websocket.Conn, out *bus.Queue[string]) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg recognitionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.DebugCF("speech", "Ignoring malformed recognition frame", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if fragment := msg.fragment(); fragment != "" {
			out.Publish(fragment)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
