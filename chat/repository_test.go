package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pitchy/client/api"
	"github.com/pitchy/client/apitest"
	"github.com/pitchy/client/auth"
)

var bgCtx = context.Background()

type fixture struct {
	srv  *apitest.Server
	repo *Repository
	cred auth.Credential
}

func newFixture(t *testing.T, opts ...apitest.Option) *fixture {
	t.Helper()
	srv := apitest.NewServer(opts...)
	t.Cleanup(srv.Close)
	token := srv.SeedUser("Ann", "ann@example.com", "password1")
	return &fixture{
		srv:  srv,
		repo: NewRepository(api.NewClient(srv.URL)),
		cred: auth.Bearer(token),
	}
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

func TestCreateSession_InitialMessageIsFirstUserMessage(t *testing.T) {
	f := newFixture(t)

	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "T", InitialMessage: "M"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if len(created.Messages) != 1 {
		t.Fatalf("created session has %d messages, want 1", len(created.Messages))
	}

	got, err := f.repo.GetSession(bgCtx, created.ID, f.cred)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(got.Messages) == 0 {
		t.Fatal("expected at least one message")
	}
	first := got.Messages[0]
	if first.Role != RoleUser || first.Content != "M" {
		t.Errorf("first message = {%s %q}, want {user \"M\"}", first.Role, first.Content)
	}
}

func TestCreateSession_WithoutInitialMessage(t *testing.T) {
	f := newFixture(t)

	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Pricing"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if created.Messages == nil || len(created.Messages) != 0 {
		t.Errorf("expected empty non-nil messages, got %#v", created.Messages)
	}

	sessions := f.repo.CachedSessions()
	if len(sessions) != 1 || sessions[0].ID != created.ID {
		t.Errorf("cached sessions = %+v, want the created session", sessions)
	}
}

func TestAppendMessage_ConcurrentAppendsAreBothStored(t *testing.T) {
	f := newFixture(t)
	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Go to market", InitialMessage: "hello"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	before := len(f.srv.Messages(created.ID))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, content := range []string{"first", "second"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.repo.AppendMessage(bgCtx, created.ID, content, f.cred)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}
	if got := len(f.srv.Messages(created.ID)); got != before+2 {
		t.Errorf("server has %d messages, want %d", got, before+2)
	}

	got, err := f.repo.GetSession(bgCtx, created.ID, f.cred)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(got.Messages) != before+2 {
		t.Errorf("session has %d messages, want %d", len(got.Messages), before+2)
	}
	cached, err := f.repo.CachedSession(created.ID)
	if err != nil {
		t.Fatalf("CachedSession failed: %v", err)
	}
	if len(cached.Messages) != before+2 {
		t.Errorf("cache has %d messages, want %d", len(cached.Messages), before+2)
	}
}

func TestAppendMessage_AssistantReply(t *testing.T) {
	f := newFixture(t, apitest.WithReplyMode(apitest.ReplyAssistant))
	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Pricing"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	reply, err := f.repo.AppendMessage(bgCtx, created.ID, "How should I price?", f.cred)
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if reply.Role != RoleAssistant {
		t.Errorf("reply role = %s, want assistant", reply.Role)
	}
	if got := len(f.srv.Messages(created.ID)); got != 2 {
		t.Errorf("server has %d messages, want 2", got)
	}
}

func TestListSessions_DiscardsStaleResponse(t *testing.T) {
	f := newFixture(t)
	path := "/chat/sessions"
	f.srv.Delay(http.MethodGet, path, 200*time.Millisecond)

	type result struct {
		sessions []Session
		err      error
	}
	done := make(chan result, 1)
	go func() {
		sessions, err := f.repo.ListSessions(bgCtx, f.cred)
		done <- result{sessions, err}
	}()

	// The list has been computed without the session created below.
	waitFor(t, func() bool { return f.srv.Produced(http.MethodGet, path) == 1 })
	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Fresh"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("ListSessions failed: %v", res.err)
	}
	if len(res.sessions) != 0 {
		t.Errorf("caller gets the response as sent, got %d sessions", len(res.sessions))
	}
	cached := f.repo.CachedSessions()
	if len(cached) != 1 || cached[0].ID != created.ID {
		t.Errorf("stale list was applied: cached = %+v", cached)
	}
}

func TestGetSession_StaleResponseKeepsNewTitleAndMessages(t *testing.T) {
	f := newFixture(t)
	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Old title", InitialMessage: "one"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	path := sessionPath(created.ID)
	f.srv.Delay(http.MethodGet, path, 200*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := f.repo.GetSession(bgCtx, created.ID, f.cred)
		done <- err
	}()
	waitFor(t, func() bool { return f.srv.Produced(http.MethodGet, path) == 1 })

	if _, err := f.repo.RenameSession(bgCtx, created.ID, "New title", f.cred); err != nil {
		t.Fatalf("RenameSession failed: %v", err)
	}
	if _, err := f.repo.AppendMessage(bgCtx, created.ID, "two", f.cred); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}

	cached, err := f.repo.CachedSession(created.ID)
	if err != nil {
		t.Fatalf("CachedSession failed: %v", err)
	}
	if cached.Title != "New title" {
		t.Errorf("title = %q, want New title", cached.Title)
	}
	if len(cached.Messages) != 2 {
		t.Errorf("cache has %d messages, want 2", len(cached.Messages))
	}
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	a, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Keep"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	b, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Drop"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := f.repo.DeleteSession(bgCtx, b.ID, f.cred); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := f.repo.CachedSession(b.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	cached := f.repo.CachedSessions()
	if len(cached) != 1 || cached[0].ID != a.ID {
		t.Errorf("cached sessions = %+v, want only %d", cached, a.ID)
	}

	_, err = f.repo.GetSession(bgCtx, b.ID, f.cred)
	var reqErr *api.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 RequestError, got %v", err)
	}
	if reqErr.Message != "Chat session not found" {
		t.Errorf("message = %q", reqErr.Message)
	}
}

func TestListSessions_NewestFirst(t *testing.T) {
	f := newFixture(t)
	for _, title := range []string{"First", "Second", "Third"} {
		if _, err := f.repo.CreateSession(bgCtx, CreateParams{Title: title}, f.cred); err != nil {
			t.Fatalf("CreateSession(%s) failed: %v", title, err)
		}
	}

	sessions, err := f.repo.ListSessions(bgCtx, f.cred)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	var titles []string
	for _, s := range sessions {
		titles = append(titles, s.Title)
	}
	want := []string{"Third", "Second", "First"}
	if len(titles) != len(want) {
		t.Fatalf("titles = %v, want %v", titles, want)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Errorf("titles = %v, want %v", titles, want)
			break
		}
	}
}

func TestSearchMessages(t *testing.T) {
	f := newFixture(t)
	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Pricing", InitialMessage: "What about Usage Based pricing?"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	hits, err := f.repo.SearchMessages(bgCtx, "usage based", f.cred)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(hits) != 1 || hits[0].SessionID != created.ID || hits[0].Title != "Pricing" {
		t.Errorf("hits = %+v", hits)
	}

	before := len(f.srv.Requests())
	hits, err = f.repo.SearchMessages(bgCtx, "   ", f.cred)
	if err != nil {
		t.Fatalf("blank search failed: %v", err)
	}
	if hits == nil || len(hits) != 0 {
		t.Errorf("blank search = %#v, want empty", hits)
	}
	if len(f.srv.Requests()) != before {
		t.Error("blank search must not reach the server")
	}
}

func TestListMessages(t *testing.T) {
	f := newFixture(t)
	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Pricing", InitialMessage: "hi"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := f.repo.AppendMessage(bgCtx, created.ID, "again", f.cred); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	msgs, err := f.repo.ListMessages(bgCtx, created.ID, f.cred)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hi" || msgs[1].Content != "again" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestRepository_ResetDropsCache(t *testing.T) {
	f := newFixture(t)
	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Pricing"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	f.repo.Reset()

	if got := f.repo.CachedSessions(); len(got) != 0 {
		t.Errorf("expected empty cache after reset, got %+v", got)
	}
	if _, err := f.repo.CachedSession(created.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRepository_ResetDiscardsCreateInFlight(t *testing.T) {
	f := newFixture(t)
	f.srv.Delay(http.MethodPost, "/chat/sessions", 200*time.Millisecond)

	type result struct {
		detail SessionDetail
		err    error
	}
	done := make(chan result, 1)
	go func() {
		detail, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "Old user"}, f.cred)
		done <- result{detail, err}
	}()

	waitFor(t, func() bool { return f.srv.Produced(http.MethodPost, "/chat/sessions") == 1 })
	f.repo.Reset()

	res := <-done
	if res.err != nil {
		t.Fatalf("CreateSession failed: %v", res.err)
	}
	if res.detail.Title != "Old user" {
		t.Errorf("caller gets the response as sent, got %+v", res.detail)
	}
	if got := f.repo.CachedSessions(); len(got) != 0 {
		t.Errorf("session created before reset was cached: %+v", got)
	}
	if _, err := f.repo.CachedSession(res.detail.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	// Requests issued after the reset are applied again.
	created, err := f.repo.CreateSession(bgCtx, CreateParams{Title: "New user"}, f.cred)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if got := f.repo.CachedSessions(); len(got) != 1 || got[0].ID != created.ID {
		t.Errorf("cached = %+v", got)
	}
}

func TestMergeMessages(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := []Message{
		{ID: 1, Content: "a", CreatedAt: base},
		{ID: 3, Content: "c", CreatedAt: base.Add(2 * time.Second)},
	}
	incoming := []Message{
		{ID: 2, Content: "b", CreatedAt: base.Add(time.Second)},
		{ID: 3, Content: "c2", CreatedAt: base.Add(2 * time.Second)},
		{ID: 5, Content: "e", CreatedAt: base.Add(3 * time.Second)},
		{ID: 4, Content: "d", CreatedAt: base.Add(3 * time.Second)},
	}

	merged := mergeMessages(existing, incoming)

	want := []struct {
		id      int64
		content string
	}{{1, "a"}, {2, "b"}, {3, "c2"}, {4, "d"}, {5, "e"}}
	if len(merged) != len(want) {
		t.Fatalf("merged %d messages, want %d", len(merged), len(want))
	}
	for i, w := range want {
		if merged[i].ID != w.id || merged[i].Content != w.content {
			t.Errorf("merged[%d] = {%d %q}, want {%d %q}", i, merged[i].ID, merged[i].Content, w.id, w.content)
		}
	}
}

func TestAsk(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	client := api.NewClient(srv.URL)

	reply, err := Ask(bgCtx, client, []Turn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleUser, Content: "is my idea good?"},
	}, auth.None())
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if reply != "Re: is my idea good?" {
		t.Errorf("reply = %q", reply)
	}

	_, err = Ask(bgCtx, client, nil, auth.None())
	var reqErr *api.RequestError
	if !errors.As(err, &reqErr) || reqErr.Message != "messages is required" {
		t.Errorf("expected detail message, got %v", err)
	}
}
