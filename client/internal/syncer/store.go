package syncer

import (
	"sync"

	"feedsync/client/internal/model"
)

// Generation 标记一次会话：身份加上每次 Reset 递增的序号。
// 同一身份退出再登录也会得到新的 Generation，旧会话发出的请求不会写进新会话。
type Generation struct {
	Identity model.Identity
	Epoch    uint64
}

// View 是内存中的本地视图：时间线与可发现用户。
// 两个集合都只被整体替换，从不做字段级合并。
type View struct {
	mu       sync.RWMutex
	gen      Generation
	timeline []model.Post
	users    []model.UserSummary
}

func NewView() *View {
	return &View{
		timeline: []model.Post{},
		users:    []model.UserSummary{},
	}
}

// Generation 返回当前会话标记，发起请求时读取。
func (v *View) Generation() Generation {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gen
}

// Reset 切换到新身份并立即清空两个集合。
func (v *View) Reset(id model.Identity) Generation {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen = Generation{Identity: id, Epoch: v.gen.Epoch + 1}
	v.timeline = []model.Post{}
	v.users = []model.UserSummary{}
	return v.gen
}

// ReplaceTimeline 仅当 gen 仍是当前会话时整体替换时间线，返回是否生效。
func (v *View) ReplaceTimeline(gen Generation, posts []model.Post) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return false
	}
	v.timeline = clonePosts(posts)
	return true
}

// ReplaceUsers 与 ReplaceTimeline 相同的策略。
func (v *View) ReplaceUsers(gen Generation, users []model.UserSummary) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return false
	}
	v.users = cloneUsers(users)
	return true
}

// Timeline 返回副本，避免调用方修改内部数据。
func (v *View) Timeline() []model.Post {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return clonePosts(v.timeline)
}

func (v *View) Users() []model.UserSummary {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return cloneUsers(v.users)
}

func clonePosts(in []model.Post) []model.Post {
	out := make([]model.Post, len(in))
	copy(out, in)
	return out
}

func cloneUsers(in []model.UserSummary) []model.UserSummary {
	out := make([]model.UserSummary, len(in))
	copy(out, in)
	return out
}
