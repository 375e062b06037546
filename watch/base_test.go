package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return n.err
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.notes...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestBaseWatcher_AddRemoveSubscription(t *testing.T) {
	b := NewBaseWatcher("test")

	sub := &Subscription{ID: "test_1"}
	b.AddSubscription(sub)

	if !b.HasSubscriptions() {
		t.Error("expected HasSubscriptions to be true")
	}

	removed := b.RemoveSubscription("test_1")
	if removed == nil {
		t.Fatal("expected removed subscription")
	}
	if removed.ID != "test_1" {
		t.Errorf("expected ID test_1, got %s", removed.ID)
	}

	if b.HasSubscriptions() {
		t.Error("expected HasSubscriptions to be false")
	}

	removed = b.RemoveSubscription("nonexistent")
	if removed != nil {
		t.Error("expected nil for non-existent subscription")
	}
}

func TestBaseWatcher_GenerateID(t *testing.T) {
	b := NewBaseWatcher("cm")

	a, c := b.GenerateID(), b.GenerateID()
	if !strings.HasPrefix(a, "cm_") {
		t.Errorf("expected cm_ prefix, got %s", a)
	}
	if a == c {
		t.Error("expected unique IDs")
	}
}

func TestBaseWatcher_CleanupConnection(t *testing.T) {
	b := NewBaseWatcher("test")
	b.AddSubscription(&Subscription{ID: "a", ConnID: "conn-1"})
	b.AddSubscription(&Subscription{ID: "b", ConnID: "conn-1"})
	b.AddSubscription(&Subscription{ID: "c", ConnID: "conn-2"})

	if got := len(b.GetSubscriptionsByConnID("conn-1")); got != 2 {
		t.Errorf("expected 2 subscriptions for conn-1, got %d", got)
	}

	b.CleanupConnection("conn-1")

	if b.GetSubscription("a") != nil || b.GetSubscription("b") != nil {
		t.Error("conn-1 subscriptions should be removed")
	}
	if b.GetSubscription("c") == nil {
		t.Error("conn-2 subscription should remain")
	}
}

func TestBaseWatcher_NotifyAllContinuesAfterError(t *testing.T) {
	b := NewBaseWatcher("test")
	failing := &recordingNotifier{err: errors.New("closed")}
	ok := &recordingNotifier{}
	b.AddSubscription(&Subscription{ID: "a", Notifier: failing})
	b.AddSubscription(&Subscription{ID: "b", Notifier: ok})

	n := b.NotifyAll("thing.changed", func(sub *Subscription) any { return sub.ID })

	if n != 2 {
		t.Errorf("expected 2 notified, got %d", n)
	}
	notes := ok.all()
	if len(notes) != 1 || notes[0].Method != "thing.changed" || notes[0].Params != "b" {
		t.Errorf("unexpected notifications: %+v", notes)
	}
}
