package gate

import (
	"context"
	"log"
	"sync"

	"feedsync/client/internal/model"
	"feedsync/client/internal/router"
	"feedsync/client/internal/supervisor"
	"feedsync/client/internal/syncer"

	"github.com/sourcegraph/conc"
)

// Gate 把推送通道、本地视图和通知路由都挂在一个已解析的身份上。
//
// 身份变化时的顺序：
// 1. 关闭旧通道（同步，返回后不再有旧会话的通知）
// 2. 关闭旧会话的通知队列，取消旧会话的在途请求
// 3. 切换视图会话并清空（在途的旧请求结果会被忽略）
// 4. 清空最近通知
// 5. 新身份非空：并发执行两次初始拉取，然后为它打开通道
//
// 1-4 在 opMu 内完成；第 5 步的拉取在锁外进行，打开通道前重新确认会话仍然有效。
type Gate struct {
	connector supervisor.Connector
	syncer    *syncer.Synchronizer
	router    *router.Router
	logger    *log.Logger

	// opMu 串行化会话切换与打开通道
	opMu   sync.Mutex
	epoch  uint64
	cancel context.CancelFunc

	// idMu 只保护 current，读取不等待会话切换
	idMu    sync.RWMutex
	current model.Identity

	// qMu 只保护 queue，通知投递路径只拿这把锁
	qMu   sync.Mutex
	queue *router.Queue
}

func New(connector supervisor.Connector, s *syncer.Synchronizer, r *router.Router, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.Default()
	}
	return &Gate{
		connector: connector,
		syncer:    s,
		router:    r,
		logger:    logger,
	}
}

// Current 返回当前生效的身份。
func (g *Gate) Current() model.Identity {
	g.idMu.RLock()
	defer g.idMu.RUnlock()
	return g.current
}

// OnIdentityChange 响应身份变化。身份不变时什么也不做。
// 返回值只反映通道打开失败；初始拉取失败只记录日志，不阻塞另一项拉取和通道。
// 初始拉取期间身份再次变化时，本次调用不会打开通道，返回 nil。
func (g *Gate) OnIdentityChange(ctx context.Context, id model.Identity) error {
	return g.Switch(ctx, id, nil)
}

// Switch 与 OnIdentityChange 相同，另外在旧会话拆除之后、新会话第一个请求之前
// 调用 activate（用于切换凭证）。身份不变时 activate 仍会执行，会话保持不动。
func (g *Gate) Switch(ctx context.Context, id model.Identity, activate func()) error {
	epoch, sessionCtx, ok := g.transition(ctx, id, activate)
	if !ok || !id.Valid() {
		return nil
	}

	g.logger.Printf("[Gate] 🚀 starting session %q", id)

	var wg conc.WaitGroup
	wg.Go(func() {
		if _, err := g.syncer.RefreshTimeline(sessionCtx); err != nil {
			g.logger.Printf("[Gate] initial timeline fetch failed: %v", err)
		}
	})
	wg.Go(func() {
		if _, err := g.syncer.RefreshUsers(sessionCtx); err != nil {
			g.logger.Printf("[Gate] initial users fetch failed: %v", err)
		}
	})
	wg.Wait()

	g.opMu.Lock()
	defer g.opMu.Unlock()
	if g.epoch != epoch {
		g.logger.Printf("[Gate] session %q ended before its channel opened", id)
		return nil
	}
	if _, err := g.connector.Connect(ctx, id); err != nil {
		g.logger.Printf("[Gate] ❌ channel for %q failed: %v", id, err)
		return err
	}
	return nil
}

// transition 在 opMu 内完成旧会话的拆除和新会话的登记。
// 身份未变化时 ok 为 false。
func (g *Gate) transition(ctx context.Context, id model.Identity, activate func()) (uint64, context.Context, bool) {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	prev := g.Current()
	if id == prev {
		if activate != nil {
			activate()
		}
		return 0, nil, false
	}
	if prev.Valid() {
		g.logger.Printf("[Gate] tearing down session %q", prev)
	}
	g.teardown(id)
	if activate != nil {
		activate()
	}

	g.epoch++
	g.idMu.Lock()
	g.current = id
	g.idMu.Unlock()

	if !id.Valid() {
		return g.epoch, nil, true
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.qMu.Lock()
	g.queue = router.NewQueue(id, g.router.Route, g.logger)
	g.qMu.Unlock()

	return g.epoch, sessionCtx, true
}

// teardown 断开通道后丢弃旧会话的所有本地状态。调用方持有 opMu。
func (g *Gate) teardown(next model.Identity) {
	g.connector.Disconnect()

	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}

	g.qMu.Lock()
	q := g.queue
	g.queue = nil
	g.qMu.Unlock()
	if q != nil {
		_ = q.Close()
	}

	g.syncer.Reset(next)
	g.router.Clear()
}

// HandleNotification 接收 Supervisor 投递的通知，按到达顺序交给当前会话的队列。
func (g *Gate) HandleNotification(id model.Identity, msg model.NotificationMessage) {
	g.qMu.Lock()
	defer g.qMu.Unlock()

	if g.queue == nil {
		return
	}
	if err := g.queue.Enqueue(msg); err != nil {
		g.logger.Printf("[Gate] notification for %q dropped: %v", id, err)
	}
}

// QueueStats 返回当前会话通知队列的统计；没有会话时 ok 为 false。
func (g *Gate) QueueStats() (router.Stats, bool) {
	g.qMu.Lock()
	defer g.qMu.Unlock()
	if g.queue == nil {
		return router.Stats{}, false
	}
	return g.queue.Stats(), true
}

// Close 结束当前会话（退出登录或进程关闭）。
func (g *Gate) Close() {
	_ = g.OnIdentityChange(context.Background(), model.None)
}
