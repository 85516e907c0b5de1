package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"feedsync/client/internal/model"
)

// MemorySource 是进程内的通道实现，用于测试与本地演示。
// 它记录 open/close 顺序，并允许调用方手动注入生命周期事件。
type MemorySource struct {
	mu      sync.Mutex
	handles []*MemoryHandle
	journal []string

	// FailOpen 非空时 Open 直接返回该错误。
	FailOpen error
}

func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

func (s *MemorySource) Open(ctx context.Context, id model.Identity) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailOpen != nil {
		return nil, s.FailOpen
	}
	if !id.Valid() {
		return nil, errors.New("memory: empty identity")
	}

	h := &MemoryHandle{
		baseHandle: newBaseHandle(ctx, id),
		source:     s,
		inbox:      make(chan Event, 64),
	}
	h.run(h.loop)
	s.handles = append(s.handles, h)
	s.journal = append(s.journal, "open:"+id.String())
	return h, nil
}

// Handles 返回所有打开过的句柄（按打开顺序）。
func (s *MemorySource) Handles() []*MemoryHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MemoryHandle, len(s.handles))
	copy(out, s.handles)
	return out
}

// Last 返回最近一次打开的句柄。
func (s *MemorySource) Last() *MemoryHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[len(s.handles)-1]
}

// Journal 返回 open/close 记录，例如 ["open:u1", "close:u1", "open:u2"]。
func (s *MemorySource) Journal() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.journal))
	copy(out, s.journal)
	return out
}

// Live 返回尚未关闭的句柄数。
func (s *MemorySource) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.handles {
		if !h.closed() {
			n++
		}
	}
	return n
}

func (s *MemorySource) record(entry string) {
	s.mu.Lock()
	s.journal = append(s.journal, entry)
	s.mu.Unlock()
}

// MemoryHandle 由测试驱动的通道句柄。
type MemoryHandle struct {
	*baseHandle
	source *MemorySource
	inbox  chan Event

	recordOnce sync.Once
}

func (h *MemoryHandle) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev := <-h.inbox:
			if !h.emit(ev) {
				return
			}
		}
	}
}

func (h *MemoryHandle) push(ev Event) {
	select {
	case h.inbox <- ev:
	case <-h.ctx.Done():
	}
}

// Connect 模拟握手成功。
func (h *MemoryHandle) Connect() { h.push(Event{Kind: EventConnect}) }

// Drop 模拟传输层断开。
func (h *MemoryHandle) Drop(reason string) { h.push(Event{Kind: EventDisconnect, Reason: reason}) }

// Fail 模拟传输层错误。
func (h *MemoryHandle) Fail(err error) { h.push(Event{Kind: EventError, Err: err}) }

// Notify 模拟服务端下发一条通知。
func (h *MemoryHandle) Notify(message string) {
	h.push(Event{Kind: EventNotification, Notification: model.NotificationMessage{
		Message:    message,
		ReceivedAt: time.Now(),
	}})
}

// Closed 句柄是否已关闭。
func (h *MemoryHandle) Closed() bool { return h.closed() }

func (h *MemoryHandle) Close() error {
	err := h.baseHandle.Close()
	h.recordOnce.Do(func() { h.source.record("close:" + h.identity.String()) })
	return err
}
