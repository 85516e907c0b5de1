package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"feedsync/client/internal/model"

	"github.com/gorilla/websocket"
)

// WebSocketConfig websocket 推送通道配置
type WebSocketConfig struct {
	URL              string // 例如 ws://localhost:8000/ws，身份以 userId 查询参数传递
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
}

// WebSocketSource 通过 websocket 接收通知。
type WebSocketSource struct {
	config WebSocketConfig
	dialer *websocket.Dialer
	logger *log.Logger
}

func NewWebSocketSource(config WebSocketConfig, logger *log.Logger) *WebSocketSource {
	if logger == nil {
		logger = log.Default()
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 20 * time.Second
	}
	return &WebSocketSource{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		logger: logger,
	}
}

// Open 立即返回句柄，拨号在后台进行，结果以 connect/error 事件送达。
func (s *WebSocketSource) Open(ctx context.Context, id model.Identity) (Handle, error) {
	if !id.Valid() {
		return nil, errors.New("websocket: empty identity")
	}
	target, err := url.Parse(s.config.URL)
	if err != nil {
		return nil, fmt.Errorf("websocket: parse url: %w", err)
	}
	q := target.Query()
	q.Set("userId", id.String())
	target.RawQuery = q.Encode()

	h := &wsHandle{
		baseHandle: newBaseHandle(ctx, id),
		url:        target.String(),
		source:     s,
	}
	h.onClose = h.closeConn
	h.run(h.loop)
	return h, nil
}

type wsHandle struct {
	*baseHandle
	url    string
	source *WebSocketSource

	conn     *websocket.Conn
	connLock sync.Mutex
}

func (h *wsHandle) loop() {
	logger := h.source.logger
	logger.Printf("[WebSocket:%s] Connecting to: %s", h.identity, h.url)

	conn, resp, err := h.source.dialer.DialContext(h.ctx, h.url, nil)
	if err != nil {
		if h.closed() {
			return
		}
		if resp != nil {
			err = fmt.Errorf("dial: status=%d: %w", resp.StatusCode, err)
		}
		logger.Printf("[WebSocket:%s] ❌ Dial failed: %v", h.identity, err)
		h.emit(Event{Kind: EventError, Err: err})
		return
	}

	h.connLock.Lock()
	if h.closed() {
		h.connLock.Unlock()
		_ = conn.Close()
		return
	}
	h.conn = conn
	h.connLock.Unlock()

	logger.Printf("[WebSocket:%s] ✅ Connected", h.identity)
	if !h.emit(Event{Kind: EventConnect}) {
		return
	}

	if h.source.config.PingInterval > 0 {
		h.wg.Add(1)
		go h.pingLoop(conn)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if h.closed() {
				return
			}
			reason := "transport error"
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				reason = fmt.Sprintf("server close: %d %s", ce.Code, ce.Text)
			}
			logger.Printf("[WebSocket:%s] Disconnected: %s (%v)", h.identity, reason, err)
			h.emit(Event{Kind: EventDisconnect, Reason: reason})
			return
		}

		msg, ok := DecodeNotification(data, time.Now())
		if !ok {
			logger.Printf("[WebSocket:%s] Ignoring non-notification frame (%d bytes)", h.identity, len(data))
			continue
		}
		if !h.emit(Event{Kind: EventNotification, Notification: msg}) {
			return
		}
	}
}

func (h *wsHandle) pingLoop(conn *websocket.Conn) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.source.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.connLock.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			h.connLock.Unlock()
			if err != nil {
				// 读循环会感知到连接断开并上报
				return
			}
		}
	}
}

func (h *wsHandle) closeConn() {
	h.connLock.Lock()
	defer h.connLock.Unlock()
	if h.conn != nil {
		_ = h.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(time.Second))
		_ = h.conn.Close()
		h.conn = nil
	}
}
