package router

import (
	"context"
	"log"
	"strings"

	"feedsync/client/internal/metrics"
	"feedsync/client/internal/model"
)

// DefaultRefreshPattern 通知文本中出现该片段即视为“有新帖子”。
const DefaultRefreshPattern = "created a new post"

// TimelineRefresher 是路由所需的刷新能力（由 syncer.Synchronizer 实现）。
type TimelineRefresher interface {
	RefreshTimeline(ctx context.Context) ([]model.Post, error)
}

// Router 对每条推送通知做两件事：
// 1. 无条件记入最近通知日志（仅展示用）。
// 2. 若通知意味着有新帖子，触发一次时间线全量刷新。
//
// 不做去重：重复通知只会导致重复的全量读取，结果幂等。
type Router struct {
	recent    *RecentLog
	refresher TimelineRefresher
	pattern   string
	logger    *log.Logger
	metrics   *metrics.Metrics
}

func New(refresher TimelineRefresher, recent *RecentLog, pattern string, logger *log.Logger, m *metrics.Metrics) *Router {
	if recent == nil {
		recent = NewRecentLog(DefaultRecentCapacity)
	}
	if pattern == "" {
		pattern = DefaultRefreshPattern
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		recent:    recent,
		refresher: refresher,
		pattern:   pattern,
		logger:    logger,
		metrics:   m,
	}
}

// ImpliesRefresh 判断通知是否意味着时间线有变化。
// 文本匹配是脆弱的启发式；服务端下发结构化 kind 时优先使用 kind。
func (r *Router) ImpliesRefresh(msg model.NotificationMessage) bool {
	if msg.Kind == model.NotificationKindPostCreated {
		return true
	}
	return strings.Contains(msg.Message, r.pattern)
}

// Route 处理一条通知。刷新失败时返回错误，本地时间线保持不变。
func (r *Router) Route(ctx context.Context, msg model.NotificationMessage) error {
	r.recent.Add(msg)

	if !r.ImpliesRefresh(msg) {
		r.metrics.ObserveNotification("log")
		return nil
	}

	r.metrics.ObserveNotification("refresh")
	r.logger.Printf("[Router] 📧 %q implies new posts, refreshing timeline", msg.Message)
	if _, err := r.refresher.RefreshTimeline(ctx); err != nil {
		r.logger.Printf("[Router] ❌ timeline refresh failed: %v", err)
		return err
	}
	return nil
}

// Recent 返回最近通知，最新的在前。
func (r *Router) Recent() []Entry {
	return r.recent.List()
}

// Clear 清空最近通知（身份切换时调用）。
func (r *Router) Clear() {
	r.recent.Clear()
}
