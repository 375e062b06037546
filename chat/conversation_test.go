package chat

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pitchy/client/apitest"
)

type entryRecorder struct {
	mu        sync.Mutex
	snapshots [][]Entry
}

func (r *entryRecorder) record(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, entries)
}

func (r *entryRecorder) all() [][]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]Entry(nil), r.snapshots...)
}

func statuses(entries []Entry) []Status {
	out := make([]Status, len(entries))
	for i, e := range entries {
		out[i] = e.Status
	}
	return out
}

func equalStatuses(got, want []Status) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func newConversationFixture(t *testing.T, opts ...apitest.Option) (*fixture, *Conversation) {
	t.Helper()
	f := newFixture(t, opts...)
	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Pricing"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return f, f.repo.Conversation(created.ID)
}

func TestConversation_SharedPerSession(t *testing.T) {
	f, conv := newConversationFixture(t)
	if f.repo.Conversation(conv.SessionID()) != conv {
		t.Error("expected the same conversation for the same session")
	}
}

func TestConversation_SendEchoIsConfirmed(t *testing.T) {
	f, conv := newConversationFixture(t)

	entry, err := conv.Send(bgCtx, "hello", f.cred)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if entry.Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", entry.Status)
	}
	if entry.Message.ID == 0 {
		t.Error("confirmed echo should carry the server ID")
	}

	entries := conv.Entries()
	if len(entries) != 1 || entries[0].LocalID != entry.LocalID {
		t.Errorf("entries = %+v", entries)
	}
}

func TestConversation_SendAssistantAppendsReply(t *testing.T) {
	f, conv := newConversationFixture(t, apitest.WithReplyMode(apitest.ReplyAssistant))

	if _, err := conv.Send(bgCtx, "How should I price?", f.cred); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	entries := conv.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected user and assistant entries, got %+v", entries)
	}
	if entries[0].Message.Role != RoleUser || entries[0].Message.Content != "How should I price?" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Message.Role != RoleAssistant || entries[1].Status != StatusConfirmed {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestConversation_SubscriberSeesPendingThenConfirmed(t *testing.T) {
	f, conv := newConversationFixture(t)
	rec := &entryRecorder{}
	unsubscribe := conv.Subscribe(rec.record)
	defer unsubscribe()

	if _, err := conv.Send(bgCtx, "hello", f.cred); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	snaps := rec.all()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(snaps))
	}
	if !equalStatuses(statuses(snaps[0]), []Status{StatusPending}) {
		t.Errorf("first notification = %v, want [pending]", statuses(snaps[0]))
	}
	if !equalStatuses(statuses(snaps[1]), []Status{StatusConfirmed}) {
		t.Errorf("second notification = %v, want [confirmed]", statuses(snaps[1]))
	}
}

func TestConversation_FailureRetryDismiss(t *testing.T) {
	f, conv := newConversationFixture(t)
	path := sessionPath(conv.SessionID()) + "/messages"
	f.srv.Fail(http.MethodPost, path, http.StatusServiceUnavailable, `{"detail":"Model unavailable"}`)

	failed, err := conv.Send(bgCtx, "first", f.cred)
	if err == nil || err.Error() != "Model unavailable" {
		t.Fatalf("expected Model unavailable, got %v", err)
	}
	if failed.Status != StatusFailed || failed.Error != "Model unavailable" {
		t.Errorf("entry = %+v, want failed with error", failed)
	}

	if _, err := conv.Retry(bgCtx, failed.LocalID, f.cred); err == nil {
		t.Fatal("retry against a failing server should fail")
	}

	f.srv.Recover(http.MethodPost, path)
	retried, err := conv.Retry(bgCtx, failed.LocalID, f.cred)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if retried.Status != StatusConfirmed || retried.LocalID != failed.LocalID {
		t.Errorf("retried entry = %+v", retried)
	}
	if _, err := conv.Retry(bgCtx, failed.LocalID, f.cred); !errors.Is(err, ErrNotFailed) {
		t.Errorf("retrying a confirmed entry: expected ErrNotFailed, got %v", err)
	}

	f.srv.Fail(http.MethodPost, path, http.StatusInternalServerError, "oops")
	second, err := conv.Send(bgCtx, "second", f.cred)
	if err == nil || err.Error() != "Request failed" {
		t.Fatalf("expected fallback message, got %v", err)
	}
	if err := conv.Dismiss(second.LocalID); err != nil {
		t.Fatalf("Dismiss failed: %v", err)
	}
	if err := conv.Dismiss(second.LocalID); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}
	if err := conv.Dismiss(retried.LocalID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("dismissing a confirmed entry: expected ErrNotFailed, got %v", err)
	}

	entries := conv.Entries()
	if len(entries) != 1 || entries[0].Message.Content != "first" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestConversation_ConfirmedBeforeFailed(t *testing.T) {
	f, conv := newConversationFixture(t)
	path := sessionPath(conv.SessionID()) + "/messages"

	f.srv.Fail(http.MethodPost, path, http.StatusBadGateway, `{"detail":"down"}`)
	if _, err := conv.Send(bgCtx, "lost", f.cred); err == nil {
		t.Fatal("expected failure")
	}
	f.srv.Recover(http.MethodPost, path)
	if _, err := conv.Send(bgCtx, "kept", f.cred); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	entries := conv.Entries()
	if !equalStatuses(statuses(entries), []Status{StatusConfirmed, StatusFailed}) {
		t.Fatalf("statuses = %v, want [confirmed failed]", statuses(entries))
	}
	if entries[0].Message.Content != "kept" || entries[1].Message.Content != "lost" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestConversation_ConcurrentSends(t *testing.T) {
	f, conv := newConversationFixture(t)
	f.srv.Delay(http.MethodPost, sessionPath(conv.SessionID())+"/messages", 50*time.Millisecond)

	var wg sync.WaitGroup
	for _, content := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := conv.Send(bgCtx, content, f.cred); err != nil {
				t.Errorf("Send(%s) failed: %v", content, err)
			}
		}()
	}
	wg.Wait()

	entries := conv.Entries()
	if !equalStatuses(statuses(entries), []Status{StatusConfirmed, StatusConfirmed}) {
		t.Fatalf("statuses = %v", statuses(entries))
	}
	if entries[0].Message.ID == entries[1].Message.ID {
		t.Error("entries should carry distinct server IDs")
	}
	if got := len(f.srv.Messages(conv.SessionID())); got != 2 {
		t.Errorf("server has %d messages, want 2", got)
	}
}

func TestConversation_RefreshKeepsFailedEntries(t *testing.T) {
	f := newFixture(t, apitest.WithReplyMode(apitest.ReplyAssistant))
	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Pricing", InitialMessage: "seed"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	conv := f.repo.Conversation(created.ID)
	path := sessionPath(created.ID) + "/messages"

	if _, err := conv.Send(bgCtx, "ok", f.cred); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	f.srv.Fail(http.MethodPost, path, http.StatusBadGateway, `{"detail":"down"}`)
	if _, err := conv.Send(bgCtx, "lost", f.cred); err == nil {
		t.Fatal("expected failure")
	}

	if err := conv.Refresh(bgCtx, f.cred); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	entries := conv.Entries()
	var contents []string
	for _, e := range entries {
		contents = append(contents, string(e.Status)+":"+e.Message.Content)
	}
	want := []string{
		"confirmed:seed",
		"confirmed:ok",
		"confirmed:Analyst reply to: ok",
		"failed:lost",
	}
	if len(contents) != len(want) {
		t.Fatalf("entries = %v, want %v", contents, want)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("entries = %v, want %v", contents, want)
			break
		}
	}
}

func TestConversation_RefreshKeepsSendConfirmedDuringFetch(t *testing.T) {
	f, conv := newConversationFixture(t, apitest.WithReplyMode(apitest.ReplyAssistant))
	path := sessionPath(conv.SessionID())
	f.srv.Delay(http.MethodGet, path, 300*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- conv.Refresh(bgCtx, f.cred) }()

	// The server list is computed before the message below is stored.
	waitFor(t, func() bool { return f.srv.Produced(http.MethodGet, path) == 1 })
	if _, err := conv.Send(bgCtx, "hello", f.cred); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	want := []string{"confirmed:user:hello", "confirmed:assistant:Analyst reply to: hello"}
	check := func(stage string) {
		t.Helper()
		var got []string
		for _, e := range conv.Entries() {
			got = append(got, string(e.Status)+":"+string(e.Message.Role)+":"+e.Message.Content)
		}
		if len(got) != len(want) {
			t.Fatalf("%s: entries = %v, want %v", stage, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: entries = %v, want %v", stage, got, want)
			}
		}
	}
	check("after concurrent refresh")

	// A later refresh sees both messages on the server and does not duplicate them.
	f.srv.Delay(http.MethodGet, path, 0)
	if err := conv.Refresh(bgCtx, f.cred); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	check("after second refresh")
	if n := len(f.srv.Messages(conv.SessionID())); n != 2 {
		t.Errorf("server has %d messages, want 2", n)
	}
}

func TestConversation_RefreshAcrossResetIsDropped(t *testing.T) {
	f, conv := newConversationFixture(t)
	if _, err := conv.Send(bgCtx, "old user", f.cred); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	path := sessionPath(conv.SessionID())
	f.srv.Delay(http.MethodGet, path, 200*time.Millisecond)

	var rec entryRecorder
	unsubscribe := f.repo.SubscribeConversations(func(_ int64, entries []Entry) { rec.record(entries) })
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- conv.Refresh(bgCtx, f.cred) }()
	waitFor(t, func() bool { return f.srv.Produced(http.MethodGet, path) == 1 })
	f.repo.Reset()
	if err := <-done; err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if got := conv.Entries(); len(got) != 0 {
		t.Errorf("entries after reset = %+v", got)
	}
	snapshots := rec.all()
	if len(snapshots) == 0 || len(snapshots[len(snapshots)-1]) != 0 {
		t.Errorf("last notification should be the empty reset, got %+v", snapshots)
	}
}

func TestConversation_EmptyMessage(t *testing.T) {
	f, conv := newConversationFixture(t)
	if _, err := conv.Send(bgCtx, "  ", f.cred); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if len(conv.Entries()) != 0 {
		t.Error("empty message must not create an entry")
	}
}

func TestConversation_DeleteSessionResetsEntries(t *testing.T) {
	f, conv := newConversationFixture(t)
	if _, err := conv.Send(bgCtx, "hello", f.cred); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if err := f.repo.DeleteSession(bgCtx, conv.SessionID(), f.cred); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if len(conv.Entries()) != 0 {
		t.Errorf("expected no entries after delete, got %+v", conv.Entries())
	}
	if f.repo.Conversation(conv.SessionID()) == conv {
		t.Error("deleted session should get a fresh conversation")
	}
}

func TestRepository_SubscribeConversations(t *testing.T) {
	f, conv := newConversationFixture(t)

	var mu sync.Mutex
	seen := map[int64]int{}
	unsubscribe := f.repo.SubscribeConversations(func(sessionID int64, entries []Entry) {
		mu.Lock()
		defer mu.Unlock()
		seen[sessionID]++
	})

	if _, err := conv.Send(bgCtx, "hello", f.cred); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	unsubscribe()
	if _, err := conv.Send(bgCtx, "again", f.cred); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[conv.SessionID()] != 2 {
		t.Errorf("saw %d changes, want 2 (pending and confirmed)", seen[conv.SessionID()])
	}
}
