package syncer

import (
	"context"
	"errors"
	"log"
	"strings"

	"feedsync/client/internal/metrics"
	"feedsync/client/internal/model"
)

// API 是同步层依赖的远端调用（由 remote.Client 实现）。
type API interface {
	Timeline(ctx context.Context) ([]model.Post, error)
	Users(ctx context.Context) ([]model.UserSummary, error)
	Following(ctx context.Context, userID string) ([]model.UserSummary, error)
	NotFollowing(ctx context.Context, userID string) ([]model.UserSummary, error)
	CreatePost(ctx context.Context, title, description string) error
	Follow(ctx context.Context, userID string) error
	Unfollow(ctx context.Context, userID string) error
}

// ErrStale 表示结果属于已结束的会话，已被丢弃。
// 只用于日志和测试判断，公开操作不会把它返回给调用方。
var ErrStale = errors.New("syncer: result belongs to a previous session")

// Synchronizer 持有本地视图，并定义它如何随远端变化：
// 每次读取都是全量替换；写操作不预测结果，只通过再次读取对齐。
type Synchronizer struct {
	api     API
	view    *View
	logger  *log.Logger
	metrics *metrics.Metrics
}

func New(api API, logger *log.Logger, m *metrics.Metrics) *Synchronizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Synchronizer{
		api:     api,
		view:    NewView(),
		logger:  logger,
		metrics: m,
	}
}

// Reset 切换会话并清空视图；之后到达的旧请求结果都会被忽略。
func (s *Synchronizer) Reset(id model.Identity) {
	gen := s.view.Reset(id)
	s.logger.Printf("[Syncer] 🔄 view reset for %q (epoch %d)", id, gen.Epoch)
}

// Identity 返回当前视图所属的身份。
func (s *Synchronizer) Identity() model.Identity {
	return s.view.Generation().Identity
}

func (s *Synchronizer) Timeline() []model.Post {
	return s.view.Timeline()
}

func (s *Synchronizer) Users() []model.UserSummary {
	return s.view.Users()
}

// RefreshTimeline 拉取时间线。成功且会话未变时整体替换本地时间线；
// 失败时本地时间线保持不变，错误返回给调用方。
func (s *Synchronizer) RefreshTimeline(ctx context.Context) ([]model.Post, error) {
	gen := s.view.Generation()

	posts, err := s.api.Timeline(ctx)
	s.metrics.ObserveFetch("timeline", err)
	if err != nil {
		s.logger.Printf("[Syncer] ❌ timeline fetch failed: %v", err)
		return nil, err
	}

	if !s.view.ReplaceTimeline(gen, posts) {
		s.metrics.ObserveStale("timeline")
		s.logger.Printf("[Syncer] discarding timeline fetched for %q: %v", gen.Identity, ErrStale)
		return s.view.Timeline(), nil
	}
	return s.view.Timeline(), nil
}

// RefreshUsers 拉取可发现用户，策略同 RefreshTimeline。
func (s *Synchronizer) RefreshUsers(ctx context.Context) ([]model.UserSummary, error) {
	gen := s.view.Generation()

	users, err := s.api.Users(ctx)
	s.metrics.ObserveFetch("users", err)
	if err != nil {
		s.logger.Printf("[Syncer] ❌ users fetch failed: %v", err)
		return nil, err
	}

	if !s.view.ReplaceUsers(gen, users) {
		s.metrics.ObserveStale("users")
		s.logger.Printf("[Syncer] discarding users fetched for %q: %v", gen.Identity, ErrStale)
		return s.view.Users(), nil
	}
	return s.view.Users(), nil
}

// CreatePost 提交新帖子。返回 nil 表示“已排队”，不代表已可见：
// 本地时间线不在这里修改，之后的推送通知会触发刷新。
func (s *Synchronizer) CreatePost(ctx context.Context, title, description string) error {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" {
		return &model.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if description == "" {
		return &model.ValidationError{Field: "description", Reason: "must not be empty"}
	}

	err := s.api.CreatePost(ctx, title, description)
	s.metrics.ObserveMutation("create_post", err)
	if err != nil {
		s.logger.Printf("[Syncer] ❌ create post failed: %v", err)
		return err
	}
	s.logger.Printf("[Syncer] ✅ post %q queued", title)
	return nil
}

// FollowUser 关注用户，无论成功与否随后都刷新一次用户列表。
func (s *Synchronizer) FollowUser(ctx context.Context, userID string) error {
	return s.mutateRelationship(ctx, "follow", userID, s.api.Follow)
}

// UnfollowUser 取消关注，对齐方式同 FollowUser。
func (s *Synchronizer) UnfollowUser(ctx context.Context, userID string) error {
	return s.mutateRelationship(ctx, "unfollow", userID, s.api.Unfollow)
}

func (s *Synchronizer) mutateRelationship(ctx context.Context, kind, userID string, call func(context.Context, string) error) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &model.ValidationError{Field: "userId", Reason: "must not be empty"}
	}

	err := call(ctx, userID)
	s.metrics.ObserveMutation(kind, err)
	if err != nil {
		s.logger.Printf("[Syncer] ❌ %s %s failed: %v", kind, userID, err)
	}

	// 写操作的响应不携带关系状态，用户列表是唯一的事实来源
	if _, refreshErr := s.RefreshUsers(ctx); refreshErr != nil {
		s.logger.Printf("[Syncer] users reconcile after %s failed: %v", kind, refreshErr)
	}
	return err
}

// Following 直接查询远端，不进入本地视图。
func (s *Synchronizer) Following(ctx context.Context, userID string) ([]model.UserSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &model.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	return s.api.Following(ctx, userID)
}

func (s *Synchronizer) NotFollowing(ctx context.Context, userID string) ([]model.UserSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &model.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	return s.api.NotFollowing(ctx, userID)
}
