package channel

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"feedsync/client/internal/model"
)

// EventKind 推送通道的生命周期/消息事件类型
type EventKind string

const (
	EventConnect      EventKind = "connect"
	EventDisconnect   EventKind = "disconnect"
	EventError        EventKind = "error"
	EventNotification EventKind = "notification"
)

// Event 是通道按到达顺序送出的一个事件。
type Event struct {
	Kind         EventKind
	Reason       string // disconnect 原因
	Err          error  // error 详情
	Notification model.NotificationMessage
}

// Handle 代表一条已打开（或正在打开）的推送通道。
//
// 契约：
// - Events() 按到达顺序送出事件，通道结束后关闭。
// - Close() 幂等；返回后不会再有新的事件写入。
type Handle interface {
	Identity() model.Identity
	Events() <-chan Event
	Close() error
}

// Source 是推送传输的抽象：按身份打开一条通道。
// Open 不等待握手完成，握手结果以 connect/error 事件送达。
type Source interface {
	Open(ctx context.Context, id model.Identity) (Handle, error)
}

const eventBufferSize = 16

// baseHandle 是各传输实现共用的事件投递与关闭逻辑。
type baseHandle struct {
	identity model.Identity
	events   chan Event

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	// onClose 在取消后、等待 goroutine 退出前调用，用于打断阻塞中的读。
	onClose func()
}

func newBaseHandle(ctx context.Context, id model.Identity) *baseHandle {
	// 通道生命周期不跟随 Open 调用方的 ctx（通常是一次请求），只保留其中的值。
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &baseHandle{
		identity: id,
		events:   make(chan Event, eventBufferSize),
		ctx:      hctx,
		cancel:   cancel,
	}
}

func (h *baseHandle) Identity() model.Identity { return h.identity }

func (h *baseHandle) Events() <-chan Event { return h.events }

// run 启动读循环；loop 退出后关闭事件通道。
func (h *baseHandle) run(loop func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(h.events)
		loop()
	}()
}

// emit 投递事件；通道已关闭时返回 false。
func (h *baseHandle) emit(ev Event) bool {
	select {
	case <-h.ctx.Done():
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *baseHandle) closed() bool {
	return h.ctx.Err() != nil
}

func (h *baseHandle) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		if h.onClose != nil {
			h.onClose()
		}
		h.wg.Wait()
	})
	return nil
}

// DecodeNotification 解析通知负载：优先按 JSON {message, kind} 解析，
// 兼容 {event:"notification", data:{...}} 包装，否则整段文本作为 message。
func DecodeNotification(payload []byte, now time.Time) (model.NotificationMessage, bool) {
	msg := model.NotificationMessage{ReceivedAt: now}

	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return msg, false
	}
	if !strings.HasPrefix(trimmed, "{") {
		msg.Message = trimmed
		return msg, true
	}

	var frame struct {
		Event   string          `json:"event"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
		Kind    string          `json:"kind"`
	}
	if err := json.Unmarshal([]byte(trimmed), &frame); err != nil {
		msg.Message = trimmed
		return msg, true
	}
	if len(frame.Data) > 0 {
		if frame.Event != "" && frame.Event != string(EventNotification) {
			return msg, false
		}
		var data struct {
			Message string `json:"message"`
			Kind    string `json:"kind"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return msg, false
		}
		msg.Message, msg.Kind = data.Message, data.Kind
		return msg, msg.Message != "" || msg.Kind != ""
	}
	msg.Message, msg.Kind = frame.Message, frame.Kind
	return msg, msg.Message != "" || msg.Kind != ""
}
