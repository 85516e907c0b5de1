package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"feedsync/client/internal/channel"
	"feedsync/client/internal/metrics"
	"feedsync/client/internal/model"
)

// ErrSuperseded 等待的通道已被断开或替换。
var ErrSuperseded = errors.New("supervisor: channel superseded")

// StateChange 描述一次连接状态转移。
type StateChange struct {
	Identity model.Identity
	From     model.ConnectionState
	To       model.ConnectionState
	Reason   string // 传输层给出的断开原因
	Err      error  // 传输层错误
	// Requested 为 true 表示由本地 Connect/Disconnect 触发，而不是传输层上报。
	Requested bool
}

type StateListener func(StateChange)

type NotificationListener func(id model.Identity, msg model.NotificationMessage)

// Connector 是 SessionGate 依赖的连接能力，Supervisor 与 Reconnector 都实现它。
type Connector interface {
	Connect(ctx context.Context, id model.Identity) (channel.Handle, error)
	Disconnect()
	State() model.ConnectionState
}

// Supervisor 管理当前身份的推送通道生命周期。
//
// 职责与契约：
// - 同一时刻最多一条活跃通道：Connect 总是先 Disconnect。
// - 连接状态只由最新的通道事件推导（见 Reduce），不自行计算。
// - Disconnect 先摘除监听再关闭句柄，返回后不会再投递任何事件。
// - 自身不做重试；重试策略见 Reconnector。
//
// 监听回调在投递路径上同步执行，回调内不要同步调用 Connect/Disconnect。
type Supervisor struct {
	source  channel.Source
	logger  *log.Logger
	metrics *metrics.Metrics

	// opMu 串行化 Connect/Disconnect
	opMu sync.Mutex
	// deliverMu 是投递屏障：Disconnect 摘除句柄后等待正在进行的投递结束
	deliverMu sync.Mutex

	mu              sync.Mutex
	current         channel.Handle
	state           model.ConnectionState
	changed         chan struct{}
	stateListeners  []StateListener
	notifyListeners []NotificationListener
}

func New(source channel.Source, logger *log.Logger, m *metrics.Metrics) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		source:  source,
		logger:  logger,
		metrics: m,
		state:   model.StateDisconnected,
		changed: make(chan struct{}),
	}
}

// OnStateChange 注册状态监听。
func (s *Supervisor) OnStateChange(fn StateListener) {
	s.mu.Lock()
	s.stateListeners = append(s.stateListeners, fn)
	s.mu.Unlock()
}

// OnNotification 注册通知订阅。
func (s *Supervisor) OnNotification(fn NotificationListener) {
	s.mu.Lock()
	s.notifyListeners = append(s.notifyListeners, fn)
	s.mu.Unlock()
}

// State 返回当前连接状态。
func (s *Supervisor) State() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity 返回当前通道绑定的身份，没有通道时为空。
func (s *Supervisor) Identity() model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return model.None
	}
	return s.current.Identity()
}

// Connect 为 id 打开通道。总是先断开已有通道，保证不会出现重复连接。
func (s *Supervisor) Connect(ctx context.Context, id model.Identity) (channel.Handle, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.disconnectLocked()

	if !id.Valid() {
		return nil, &model.ValidationError{Field: "identity", Reason: "empty"}
	}

	s.logger.Printf("[Supervisor] Connecting channel for %s", id)
	s.transition(nil, StateChange{Identity: id, To: model.StateConnecting, Requested: true})

	h, err := s.source.Open(ctx, id)
	if err != nil {
		s.logger.Printf("[Supervisor] ❌ Open channel for %s failed: %v", id, err)
		s.transition(nil, StateChange{Identity: id, To: model.StateErrored, Err: err})
		return nil, &model.ChannelError{Identity: id, Err: err}
	}

	s.mu.Lock()
	s.current = h
	s.mu.Unlock()

	go s.pump(h)
	return h, nil
}

// Disconnect 关闭当前通道；没有通道时是空操作。
func (s *Supervisor) Disconnect() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.disconnectLocked()
}

func (s *Supervisor) disconnectLocked() {
	s.mu.Lock()
	h := s.current
	s.current = nil
	s.mu.Unlock()

	if h == nil {
		return
	}

	// 等待进行中的投递结束：此后 deliver 看到的 current 已不是 h
	s.deliverMu.Lock()
	s.deliverMu.Unlock()

	s.logger.Printf("[Supervisor] 🔌 Disconnecting channel for %s", h.Identity())
	if err := h.Close(); err != nil {
		s.logger.Printf("[Supervisor] close channel for %s: %v", h.Identity(), err)
	}
	s.transition(nil, StateChange{Identity: h.Identity(), To: model.StateDisconnected, Reason: "client disconnect", Requested: true})
}

// pump 按到达顺序把句柄事件交给 deliver，直到句柄关闭。
func (s *Supervisor) pump(h channel.Handle) {
	for ev := range h.Events() {
		s.deliver(h, ev)
	}
}

func (s *Supervisor) deliver(h channel.Handle, ev channel.Event) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.current != h {
		s.mu.Unlock()
		return
	}
	if ev.Kind == channel.EventNotification {
		listeners := append([]NotificationListener(nil), s.notifyListeners...)
		s.mu.Unlock()
		for _, fn := range listeners {
			fn(h.Identity(), ev.Notification)
		}
		return
	}
	next := Reduce(s.state, ev)
	s.mu.Unlock()

	switch ev.Kind {
	case channel.EventConnect:
		s.logger.Printf("[Supervisor] ✅ Channel connected for %s", h.Identity())
	case channel.EventDisconnect:
		s.logger.Printf("[Supervisor] ❌ Channel for %s disconnected: %s", h.Identity(), ev.Reason)
	case channel.EventError:
		s.logger.Printf("[Supervisor] ❌ Channel for %s error: %v", h.Identity(), ev.Err)
	}

	s.transition(h, StateChange{Identity: h.Identity(), To: next, Reason: ev.Reason, Err: ev.Err})
}

// transition 设置新状态并通知监听者。h 非空时仅在 h 仍为当前通道时生效。
func (s *Supervisor) transition(h channel.Handle, change StateChange) {
	s.mu.Lock()
	if h != nil && s.current != h {
		s.mu.Unlock()
		return
	}
	change.From = s.state
	if change.From == change.To {
		s.mu.Unlock()
		return
	}
	s.state = change.To
	close(s.changed)
	s.changed = make(chan struct{})
	listeners := append([]StateListener(nil), s.stateListeners...)
	s.mu.Unlock()

	s.metrics.SetConnectionState(change.To)
	for _, fn := range listeners {
		fn(change)
	}
}

// AwaitConnected 等待 h 的握手结果：connected 返回 nil；
// errored/disconnected 或 h 被替换时返回错误。
func (s *Supervisor) AwaitConnected(ctx context.Context, h channel.Handle) error {
	for {
		s.mu.Lock()
		if s.current != h {
			s.mu.Unlock()
			return ErrSuperseded
		}
		state := s.state
		changed := s.changed
		s.mu.Unlock()

		switch state {
		case model.StateConnected:
			return nil
		case model.StateErrored, model.StateDisconnected:
			return fmt.Errorf("channel for %s is %s", h.Identity(), state)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
