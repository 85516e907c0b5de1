package syncer

import (
	"context"
	"sync"

	"feedsync/client/internal/model"
)

// MockAPI 用于测试的远端服务替身
type MockAPI struct {
	mu sync.Mutex

	// 控制返回内容
	Posts        []model.Post
	UserList     []model.UserSummary
	TimelineErr  error
	UsersErr     error
	CreateErr    error
	FollowErr    error
	UnfollowErr  error
	Relationship []model.UserSummary

	calls        map[string]int
	created      [][2]string
	timelineHold chan struct{}
}

// NewMockAPI 创建 Mock API
func NewMockAPI() *MockAPI {
	return &MockAPI{calls: make(map[string]int)}
}

func (m *MockAPI) record(op string) {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()
}

// Calls 返回某个操作被调用的次数
func (m *MockAPI) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Created 返回收到的 (title, description)
func (m *MockAPI) Created() [][2]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][2]string, len(m.created))
	copy(out, m.created)
	return out
}

// SetPosts 并发安全地替换时间线数据
func (m *MockAPI) SetPosts(posts []model.Post) {
	m.mu.Lock()
	m.Posts = posts
	m.mu.Unlock()
}

// HoldTimeline 让之后的 Timeline 调用在返回前阻塞，直到调用返回的 release。
// 返回的数据在调用发生时就已确定。
func (m *MockAPI) HoldTimeline() (release func()) {
	hold := make(chan struct{})
	var once sync.Once
	m.mu.Lock()
	m.timelineHold = hold
	m.mu.Unlock()
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.timelineHold == hold {
				m.timelineHold = nil
			}
			m.mu.Unlock()
			close(hold)
		})
	}
}

func (m *MockAPI) Timeline(ctx context.Context) ([]model.Post, error) {
	m.mu.Lock()
	m.calls["timeline"]++
	posts := append([]model.Post{}, m.Posts...)
	err := m.TimelineErr
	hold := m.timelineHold
	m.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return posts, nil
}

func (m *MockAPI) Users(ctx context.Context) ([]model.UserSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["users"]++
	if m.UsersErr != nil {
		return nil, m.UsersErr
	}
	return append([]model.UserSummary{}, m.UserList...), nil
}

func (m *MockAPI) Following(ctx context.Context, userID string) ([]model.UserSummary, error) {
	m.record("following")
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.UserSummary{}, m.Relationship...), nil
}

func (m *MockAPI) NotFollowing(ctx context.Context, userID string) ([]model.UserSummary, error) {
	m.record("not_following")
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.UserSummary{}, m.Relationship...), nil
}

func (m *MockAPI) CreatePost(ctx context.Context, title, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["create_post"]++
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.created = append(m.created, [2]string{title, description})
	return nil
}

func (m *MockAPI) Follow(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["follow"]++
	return m.FollowErr
}

func (m *MockAPI) Unfollow(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["unfollow"]++
	return m.UnfollowErr
}
