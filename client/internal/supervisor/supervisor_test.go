package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"feedsync/client/internal/channel"
	"feedsync/client/internal/model"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func memoryHandle(t *testing.T, h channel.Handle) *channel.MemoryHandle {
	t.Helper()
	mh, ok := h.(*channel.MemoryHandle)
	if !ok {
		t.Fatalf("expected memory handle, got %T", h)
	}
	return mh
}

func TestConnectLifecycle(t *testing.T) {
	src := channel.NewMemorySource()
	sup := New(src, nil, nil)

	if sup.State() != model.StateDisconnected {
		t.Fatalf("expected initial disconnected, got %s", sup.State())
	}

	h, err := sup.Connect(context.Background(), "u1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sup.State() != model.StateConnecting {
		t.Fatalf("expected connecting, got %s", sup.State())
	}

	memoryHandle(t, h).Connect()
	if err := sup.AwaitConnected(context.Background(), h); err != nil {
		t.Fatalf("await connected: %v", err)
	}
	if sup.Identity() != "u1" {
		t.Fatalf("expected identity u1, got %q", sup.Identity())
	}

	memoryHandle(t, h).Drop("transport close")
	waitFor(t, "disconnected", func() bool { return sup.State() == model.StateDisconnected })
}

func TestConnectTransportError(t *testing.T) {
	src := channel.NewMemorySource()
	sup := New(src, nil, nil)

	h, err := sup.Connect(context.Background(), "u1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	memoryHandle(t, h).Fail(errors.New("xhr poll error"))
	waitFor(t, "errored", func() bool { return sup.State() == model.StateErrored })

	if err := sup.AwaitConnected(context.Background(), h); err == nil {
		t.Fatalf("expected await to fail after error")
	}
}

// TestConnectTwiceKeepsSingleChannel 验证 connect(u1) 后 connect(u2) 只留下一条绑定 u2 的通道，
// 且第一条在第二条打开之前被关闭。
func TestConnectTwiceKeepsSingleChannel(t *testing.T) {
	src := channel.NewMemorySource()
	sup := New(src, nil, nil)

	if _, err := sup.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("connect u1: %v", err)
	}
	if _, err := sup.Connect(context.Background(), "u2"); err != nil {
		t.Fatalf("connect u2: %v", err)
	}

	if got := strings.Join(src.Journal(), ","); got != "open:u1,close:u1,open:u2" {
		t.Fatalf("unexpected journal %s", got)
	}
	if src.Live() != 1 {
		t.Fatalf("expected exactly one live channel, got %d", src.Live())
	}
	if sup.Identity() != "u2" {
		t.Fatalf("expected live channel bound to u2, got %q", sup.Identity())
	}
}

func TestConnectSameIdentityTwice(t *testing.T) {
	src := channel.NewMemorySource()
	sup := New(src, nil, nil)

	_, _ = sup.Connect(context.Background(), "u1")
	_, _ = sup.Connect(context.Background(), "u1")

	if src.Live() != 1 {
		t.Fatalf("expected one live channel, got %d", src.Live())
	}
	if got := strings.Join(src.Journal(), ","); got != "open:u1,close:u1,open:u1" {
		t.Fatalf("unexpected journal %s", got)
	}
}

func TestDisconnectWithoutChannelIsNoop(t *testing.T) {
	sup := New(channel.NewMemorySource(), nil, nil)
	var changes int
	sup.OnStateChange(func(StateChange) { changes++ })

	sup.Disconnect()
	sup.Disconnect()

	if changes != 0 {
		t.Fatalf("expected no state changes, got %d", changes)
	}
	if sup.State() != model.StateDisconnected {
		t.Fatalf("expected disconnected, got %s", sup.State())
	}
}

func TestOpenFailureIsChannelError(t *testing.T) {
	src := channel.NewMemorySource()
	src.FailOpen = errors.New("refused")
	sup := New(src, nil, nil)

	_, err := sup.Connect(context.Background(), "u1")
	var ce *model.ChannelError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ChannelError, got %v", err)
	}
	if sup.State() != model.StateErrored {
		t.Fatalf("expected errored, got %s", sup.State())
	}
}

func TestNoNotificationsAfterDisconnect(t *testing.T) {
	src := channel.NewMemorySource()
	sup := New(src, nil, nil)

	var mu sync.Mutex
	var got []string
	sup.OnNotification(func(id model.Identity, msg model.NotificationMessage) {
		mu.Lock()
		got = append(got, id.String()+":"+msg.Message)
		mu.Unlock()
	})

	h, _ := sup.Connect(context.Background(), "u1")
	mh := memoryHandle(t, h)
	mh.Connect()
	mh.Notify("first")
	waitFor(t, "first notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	sup.Disconnect()
	mh.Notify("late")
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "u1:first" {
		t.Fatalf("expected only the first notification, got %v", got)
	}
	if !mh.Closed() {
		t.Fatalf("expected handle closed after disconnect")
	}
}

func TestStateChangesAreReported(t *testing.T) {
	src := channel.NewMemorySource()
	sup := New(src, nil, nil)

	var mu sync.Mutex
	var changes []StateChange
	sup.OnStateChange(func(c StateChange) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	h, _ := sup.Connect(context.Background(), "u1")
	memoryHandle(t, h).Connect()
	waitFor(t, "connected", func() bool { return sup.State() == model.StateConnected })
	sup.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 3 {
		t.Fatalf("expected 3 transitions, got %+v", changes)
	}
	want := []model.ConnectionState{model.StateConnecting, model.StateConnected, model.StateDisconnected}
	for i, c := range changes {
		if c.To != want[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, want[i], c.To)
		}
	}
	if !changes[2].Requested {
		t.Fatalf("expected local disconnect to be marked as requested")
	}
}

func TestReconnectorRedialsAfterDrop(t *testing.T) {
	src := channel.NewMemorySource()
	sup := New(src, nil, nil)
	rc := NewReconnector(sup, ReconnectPolicy{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil, nil)

	h, err := rc.Connect(context.Background(), "u1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	memoryHandle(t, h).Connect()
	waitFor(t, "connected", func() bool { return rc.State() == model.StateConnected })

	memoryHandle(t, h).Drop("transport close")
	waitFor(t, "redial", func() bool { return len(src.Handles()) == 2 })

	src.Last().Connect()
	waitFor(t, "reconnected", func() bool { return rc.State() == model.StateConnected })
	if src.Live() != 1 {
		t.Fatalf("expected one live channel, got %d", src.Live())
	}

	rc.Disconnect()
	if rc.State() != model.StateDisconnected {
		t.Fatalf("expected disconnected, got %s", rc.State())
	}
	time.Sleep(20 * time.Millisecond)
	if len(src.Handles()) != 2 {
		t.Fatalf("requested disconnect must not redial, got %d handles", len(src.Handles()))
	}
}

func TestReconnectorGivesUp(t *testing.T) {
	src := channel.NewMemorySource()
	sup := New(src, nil, nil)
	rc := NewReconnector(sup, ReconnectPolicy{Attempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, nil, nil)

	h, _ := rc.Connect(context.Background(), "u1")
	src.FailOpen = errors.New("refused")
	memoryHandle(t, h).Fail(errors.New("boom"))

	waitFor(t, "reconnect loop to finish", func() bool {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		return rc.done == nil && rc.State() == model.StateErrored
	})
	if len(src.Handles()) != 1 {
		t.Fatalf("failed opens should not create handles, got %d", len(src.Handles()))
	}
	rc.Disconnect()
}
