package router

import (
	"crypto/rand"
	"sync"
	"time"

	"feedsync/client/internal/model"

	"github.com/oklog/ulid/v2"
)

// DefaultRecentCapacity 最近通知的保留条数
const DefaultRecentCapacity = 10

// Entry 是最近通知日志中的一条记录。ID 按到达顺序单调递增。
type Entry struct {
	ID           ulid.ULID                 `json:"id"`
	Notification model.NotificationMessage `json:"notification"`
}

// RecentLog 有界的最近通知日志：最新的在前，超出容量时淘汰最旧的。
// 仅用于展示，与同步正确性无关。
type RecentLog struct {
	mu       sync.RWMutex
	capacity int
	entries  []Entry
	entropy  *ulid.MonotonicEntropy
	// lastMs 是上一个 ID 用的毫秒时间戳，ID 的时间部分不会回退
	lastMs uint64
}

func NewRecentLog(capacity int) *RecentLog {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &RecentLog{
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

// Add 追加一条通知并返回它的记录。
func (l *RecentLog) Add(msg model.NotificationMessage) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	at := msg.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	ms := ulid.Timestamp(at)
	if ms < l.lastMs {
		ms = l.lastMs
	}
	l.lastMs = ms
	entry := Entry{
		ID:           ulid.MustNew(ms, l.entropy),
		Notification: msg,
	}

	// 头插，截断尾部
	keep := len(l.entries)
	if keep >= l.capacity {
		keep = l.capacity - 1
	}
	next := make([]Entry, 0, l.capacity)
	next = append(next, entry)
	next = append(next, l.entries[:keep]...)
	l.entries = next
	return entry
}

// List 返回日志副本，最新的在前。
func (l *RecentLog) List() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Messages 只返回文本，最新的在前。
func (l *RecentLog) Messages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Notification.Message
	}
	return out
}

func (l *RecentLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *RecentLog) Clear() {
	l.mu.Lock()
	l.entries = l.entries[:0:0]
	l.mu.Unlock()
}
