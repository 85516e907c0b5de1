package router

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"feedsync/client/internal/model"
)

// Handler 处理单条通知
type Handler func(ctx context.Context, msg model.NotificationMessage) error

// Queue 为单个会话提供串行通知处理（Actor Model）
// 解决问题：
// 1. 通道事件严格按到达顺序交给 Router
// 2. 投递方（Supervisor 的投递路径）不会被一次慢刷新阻塞
type Queue struct {
	identity model.Identity
	handler  Handler
	eventCh  chan *queuedMessage
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *log.Logger

	// 统计信息
	mu        sync.Mutex
	total     int64
	processed int64
	dropped   int64
}

type queuedMessage struct {
	msg       model.NotificationMessage
	timestamp time.Time
}

const (
	// 队列容量：超过此值的通知将被丢弃（背压控制）
	defaultQueueCapacity = 100
	// 单条通知处理超时
	defaultHandleTimeout = 10 * time.Second
)

// NewQueue 创建通知队列并启动处理循环
func NewQueue(identity model.Identity, handler Handler, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		identity: identity,
		handler:  handler,
		eventCh:  make(chan *queuedMessage, defaultQueueCapacity),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}

	q.wg.Add(1)
	go q.processLoop()

	return q
}

// Enqueue 将通知加入队列（非阻塞）
func (q *Queue) Enqueue(msg model.NotificationMessage) error {
	select {
	case <-q.ctx.Done():
		return fmt.Errorf("notification queue closed")
	default:
	}

	select {
	case q.eventCh <- &queuedMessage{msg: msg, timestamp: time.Now()}:
		q.mu.Lock()
		q.total++
		q.mu.Unlock()
		return nil
	default:
		// 队列已满：通知本来就是尽力而为的
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		q.logger.Printf("[Queue:%s] ⚠️  Queue full, dropping notification: %q", q.identity, msg.Message)
		return fmt.Errorf("notification queue full")
	}
}

// processLoop 串行处理通知（单 goroutine）
func (q *Queue) processLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case item := <-q.eventCh:
			q.process(item)
		}
	}
}

func (q *Queue) process(item *queuedMessage) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(q.ctx, defaultHandleTimeout)
	defer cancel()

	err := q.handler(ctx, item.msg)

	if err != nil {
		q.logger.Printf("[Queue:%s] ❌ Notification handling failed: %v queue_latency=%v processing_time=%v",
			q.identity, err, start.Sub(item.timestamp), time.Since(start))
	}

	q.mu.Lock()
	q.processed++
	q.mu.Unlock()
}

// Close 停止处理循环并等待进行中的通知处理结束；未处理的通知被丢弃。
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	total, processed, dropped := q.total, q.processed, q.dropped
	q.mu.Unlock()

	q.logger.Printf("[Queue:%s] Closed: total=%d processed=%d dropped=%d pending=%d",
		q.identity, total, processed, dropped, len(q.eventCh))
	return nil
}

// Stats 队列统计信息
type Stats struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Total:     q.total,
		Processed: q.processed,
		Dropped:   q.dropped,
		Pending:   len(q.eventCh),
	}
}
