package supervisor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"feedsync/client/internal/channel"
	"feedsync/client/internal/metrics"
	"feedsync/client/internal/model"

	"github.com/avast/retry-go/v4"
)

var errIdentityGone = errors.New("reconnect: identity torn down")

// ReconnectPolicy 指数退避 + 抖动 + 最大尝试次数。
type ReconnectPolicy struct {
	Attempts     uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxJitter    time.Duration
}

// Reconnector 在 Supervisor 外层增加断线重连。
// 只对传输层上报的断开/错误生效；本地主动 Disconnect 不会触发重连。
type Reconnector struct {
	sup     *Supervisor
	policy  ReconnectPolicy
	logger  *log.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	identity model.Identity
	base     context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewReconnector(sup *Supervisor, policy ReconnectPolicy, logger *log.Logger, m *metrics.Metrics) *Reconnector {
	if logger == nil {
		logger = log.Default()
	}
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}
	r := &Reconnector{
		sup:     sup,
		policy:  policy,
		logger:  logger,
		metrics: m,
		base:    context.Background(),
	}
	sup.OnStateChange(r.onStateChange)
	return r
}

func (r *Reconnector) Connect(ctx context.Context, id model.Identity) (channel.Handle, error) {
	r.stop()

	r.mu.Lock()
	r.identity = id
	r.base = context.WithoutCancel(ctx)
	r.mu.Unlock()

	return r.sup.Connect(ctx, id)
}

func (r *Reconnector) Disconnect() {
	r.mu.Lock()
	r.identity = model.None
	r.mu.Unlock()

	r.stop()
	r.sup.Disconnect()
}

func (r *Reconnector) State() model.ConnectionState {
	return r.sup.State()
}

// stop 取消进行中的重连并等待其退出。
func (r *Reconnector) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *Reconnector) onStateChange(change StateChange) {
	if change.Requested {
		return
	}
	if change.To != model.StateDisconnected && change.To != model.StateErrored {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if change.Identity != r.identity || r.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.base)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, change.Identity, r.done)
}

func (r *Reconnector) loop(ctx context.Context, id model.Identity, done chan struct{}) {
	defer close(done)

	err := retry.Do(
		func() error {
			if !r.wants(id) {
				return retry.Unrecoverable(errIdentityGone)
			}
			h, err := r.sup.Connect(ctx, id)
			if err == nil {
				err = r.sup.AwaitConnected(ctx, h)
			}
			r.metrics.ObserveReconnect(err)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(r.policy.Attempts),
		retry.Delay(r.policy.InitialDelay),
		retry.MaxDelay(r.policy.MaxDelay),
		retry.MaxJitter(r.policy.MaxJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Printf("[Reconnector] attempt %d for %s failed: %v", n+1, id, err)
		}),
	)

	if err != nil {
		r.logger.Printf("[Reconnector] ❌ giving up on %s: %v", id, err)
	} else {
		r.logger.Printf("[Reconnector] ✅ reconnected %s", id)
	}

	// 正常结束时清理自身；被 stop 取消时 stop 已经清理过
	r.mu.Lock()
	if r.done == done {
		r.cancel()
		r.cancel, r.done = nil, nil
	}
	r.mu.Unlock()
}

func (r *Reconnector) wants(id model.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity == id
}
