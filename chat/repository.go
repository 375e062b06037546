// Package chat mediates between callers and the server-held chat sessions.
//
// Repository wraps the session endpoints and keeps a read-through cache of
// what it has seen. Responses are stamped with a sequence number when their
// request is issued; a response older than the last applied write to the same
// cache slot is still returned to its caller but is not applied. Messages are
// append-only on the server, so cached message lists are merged by ID and a
// stale fetch can never drop an acknowledged message.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pitchy/client/api"
	"github.com/pitchy/client/auth"
)

var ErrSessionNotFound = errors.New("session not found")

type cachedDetail struct {
	detail  SessionDetail
	version uint64
	deleted bool
}

type Repository struct {
	client *api.Client
	seq    atomic.Uint64

	mu          sync.RWMutex
	sessions    []Session
	listVersion uint64
	details     map[int64]*cachedDetail
	// floor discards responses to requests issued before the last Reset.
	floor uint64

	convMu        sync.Mutex
	conversations map[int64]*Conversation

	listenerMu   sync.Mutex
	listeners    map[int]func(sessionID int64, entries []Entry)
	nextListener int
}

func NewRepository(client *api.Client) *Repository {
	return &Repository{
		client:        client,
		details:       make(map[int64]*cachedDetail),
		conversations: make(map[int64]*Conversation),
		listeners:     make(map[int]func(int64, []Entry)),
	}
}

func sessionPath(id int64) string {
	return fmt.Sprintf("/chat/sessions/%d", id)
}

// ListSessions returns the user's sessions in server order (newest first).
func (r *Repository) ListSessions(ctx context.Context, cred auth.Credential) ([]Session, error) {
	seq := r.seq.Add(1)
	sessions, err := api.Do[[]Session](ctx, r.client, http.MethodGet, "/chat/sessions", nil, cred)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []Session{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq <= r.floor || seq <= r.listVersion {
		slog.Debug("discarding stale session list", "seq", seq, "applied", r.listVersion)
		return sessions, nil
	}
	r.sessions = slices.Clone(sessions)
	r.listVersion = seq
	return sessions, nil
}

// GetSession returns one session with its full ordered message list.
func (r *Repository) GetSession(ctx context.Context, id int64, cred auth.Credential) (SessionDetail, error) {
	seq := r.seq.Add(1)
	detail, err := api.Do[SessionDetail](ctx, r.client, http.MethodGet, sessionPath(id), nil, cred)
	if err != nil {
		return SessionDetail{}, err
	}
	if detail.Messages == nil {
		detail.Messages = []Message{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq > r.floor {
		r.applyDetailLocked(detail, seq)
	}
	return detail, nil
}

// CreateSession creates a session, optionally seeded with a first user
// message, and returns it with its messages.
func (r *Repository) CreateSession(ctx context.Context, params CreateParams, cred auth.Credential) (SessionDetail, error) {
	seq := r.seq.Add(1)
	detail, err := api.Do[SessionDetail](ctx, r.client, http.MethodPost, "/chat/sessions", params, cred)
	if err != nil {
		return SessionDetail{}, err
	}
	if detail.Messages == nil {
		detail.Messages = []Message{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq <= r.floor {
		slog.Debug("discarding session created before reset", "sessionId", detail.ID)
		return detail, nil
	}
	version := r.seq.Add(1)
	if !slices.ContainsFunc(r.sessions, func(s Session) bool { return s.ID == detail.ID }) {
		r.sessions = append([]Session{detail.Session}, r.sessions...)
	}
	r.listVersion = version
	r.details[detail.ID] = &cachedDetail{
		detail:  cloneDetail(detail),
		version: version,
	}
	return detail, nil
}

// AppendMessage sends a user message and returns the single message the
// server answers with: an assistant reply or the stored user message.
func (r *Repository) AppendMessage(ctx context.Context, sessionID int64, content string, cred auth.Credential) (Message, error) {
	seq := r.seq.Add(1)
	msg, err := api.Do[Message](ctx, r.client, http.MethodPost, sessionPath(sessionID)+"/messages", appendRequest{Content: content}, cred)
	if err != nil {
		return Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.details[sessionID]; ok && !c.deleted && seq > r.floor {
		c.detail.Messages = mergeMessages(c.detail.Messages, []Message{msg})
	}
	return msg, nil
}

func (r *Repository) RenameSession(ctx context.Context, id int64, title string, cred auth.Credential) (Session, error) {
	seq := r.seq.Add(1)
	session, err := api.Do[Session](ctx, r.client, http.MethodPatch, sessionPath(id), renameRequest{Title: title}, cred)
	if err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq <= r.floor {
		return session, nil
	}
	version := r.seq.Add(1)
	for i := range r.sessions {
		if r.sessions[i].ID == id {
			r.sessions[i] = session
			r.listVersion = version
		}
	}
	if c, ok := r.details[id]; ok && !c.deleted {
		c.detail.Session = session
		c.version = version
	}
	return session, nil
}

func (r *Repository) DeleteSession(ctx context.Context, id int64, cred auth.Credential) error {
	if _, err := api.Do[struct{}](ctx, r.client, http.MethodDelete, sessionPath(id), nil, cred); err != nil {
		return err
	}

	r.mu.Lock()
	version := r.seq.Add(1)
	r.sessions = slices.DeleteFunc(r.sessions, func(s Session) bool { return s.ID == id })
	r.listVersion = version
	r.details[id] = &cachedDetail{version: version, deleted: true}
	r.mu.Unlock()

	r.convMu.Lock()
	conv, ok := r.conversations[id]
	delete(r.conversations, id)
	r.convMu.Unlock()
	if ok {
		conv.reset()
	}
	return nil
}

// ListMessages fetches the message list of a session without its metadata.
func (r *Repository) ListMessages(ctx context.Context, sessionID int64, cred auth.Credential) ([]Message, error) {
	seq := r.seq.Add(1)
	msgs, err := api.Do[[]Message](ctx, r.client, http.MethodGet, sessionPath(sessionID)+"/messages", nil, cred)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.details[sessionID]; ok && !c.deleted && seq > r.floor {
		c.detail.Messages = mergeMessages(c.detail.Messages, msgs)
	}
	return msgs, nil
}

// SearchMessages runs a full-text search over the user's messages. A blank
// query matches nothing and is not sent.
func (r *Repository) SearchMessages(ctx context.Context, query string, cred auth.Credential) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchHit{}, nil
	}
	hits, err := api.Do[[]SearchHit](ctx, r.client, http.MethodGet, "/chat/messages/search?query="+url.QueryEscape(query), nil, cred)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []SearchHit{}
	}
	return hits, nil
}

// CachedSessions returns the last applied session list.
func (r *Repository) CachedSessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.sessions)
}

// CachedSession returns the cached detail of a session, with messages sorted
// by creation time.
func (r *Repository) CachedSession(id int64) (SessionDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.details[id]
	if !ok || c.deleted {
		return SessionDetail{}, ErrSessionNotFound
	}
	return cloneDetail(c.detail), nil
}

// Conversation returns the shared conversation state of a session.
func (r *Repository) Conversation(sessionID int64) *Conversation {
	r.convMu.Lock()
	defer r.convMu.Unlock()
	conv, ok := r.conversations[sessionID]
	if !ok {
		conv = newConversation(r, sessionID)
		r.conversations[sessionID] = conv
	}
	return conv
}

// SubscribeConversations registers fn to receive the entries of any
// conversation of this repository after every change, including
// conversations created after the call.
func (r *Repository) SubscribeConversations(fn func(sessionID int64, entries []Entry)) (unsubscribe func()) {
	r.listenerMu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	r.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.listenerMu.Lock()
			delete(r.listeners, id)
			r.listenerMu.Unlock()
		})
	}
}

func (r *Repository) conversationChanged(sessionID int64, entries []Entry) {
	r.listenerMu.Lock()
	fns := make([]func(int64, []Entry), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenerMu.Unlock()

	for _, fn := range fns {
		fn(sessionID, slices.Clone(entries))
	}
}

// Reset forgets everything cached, for use when the user signs out.
// Responses to requests issued before the reset are not applied.
func (r *Repository) Reset() {
	r.mu.Lock()
	r.floor = r.seq.Add(1)
	r.sessions = nil
	r.listVersion = r.floor
	r.details = make(map[int64]*cachedDetail)
	r.mu.Unlock()

	r.convMu.Lock()
	convs := r.conversations
	r.conversations = make(map[int64]*Conversation)
	r.convMu.Unlock()
	for _, conv := range convs {
		conv.reset()
	}
}

func (r *Repository) applyDetailLocked(detail SessionDetail, seq uint64) {
	c, ok := r.details[detail.ID]
	if !ok {
		r.details[detail.ID] = &cachedDetail{detail: cloneDetail(detail), version: seq}
		return
	}
	if seq <= c.version {
		slog.Debug("discarding stale session", "sessionId", detail.ID, "seq", seq, "applied", c.version)
		if !c.deleted {
			c.detail.Messages = mergeMessages(c.detail.Messages, detail.Messages)
		}
		return
	}
	c.detail.Session = detail.Session
	c.detail.Messages = mergeMessages(c.detail.Messages, detail.Messages)
	c.version = seq
	c.deleted = false
}

func cloneDetail(d SessionDetail) SessionDetail {
	d.Messages = mergeMessages(nil, d.Messages)
	return d
}

// mergeMessages returns the union of both lists by ID, ordered by creation
// time and then ID. Incoming entries replace existing ones with the same ID.
func mergeMessages(existing, incoming []Message) []Message {
	byID := make(map[int64]int, len(existing)+len(incoming))
	merged := make([]Message, 0, len(existing)+len(incoming))
	for _, list := range [][]Message{existing, incoming} {
		for _, m := range list {
			if i, ok := byID[m.ID]; ok {
				merged[i] = m
				continue
			}
			byID[m.ID] = len(merged)
			merged = append(merged, m)
		}
	}
	slices.SortStableFunc(merged, compareMessages)
	return merged
}

func compareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
