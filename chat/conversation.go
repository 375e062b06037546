package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pitchy/client/auth"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrNotFailed     = errors.New("entry has not failed")
	ErrEmptyMessage  = errors.New("message is empty")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Entry is one message as the local user sees it. Entries created by Send
// start pending and become confirmed or failed when the server answers.
type Entry struct {
	LocalID string  `json:"local_id"`
	Message Message `json:"message"`
	Status  Status  `json:"status"`
	Error   string  `json:"error,omitempty"`
}

// Conversation is the optimistic view of one session.
//
// Confirmed entries come first in acknowledgment order. Pending and failed
// entries trail in the order they were sent or retried. Refresh replaces the
// confirmed entries with the server's list, keeping acknowledged entries the
// list does not contain yet.
type Conversation struct {
	repo      *Repository
	sessionID int64

	mu      sync.Mutex
	entries []Entry
	// resets counts reset calls so a fetch that straddles one is dropped.
	resets uint64

	notifyMu     sync.Mutex
	listenerMu   sync.Mutex
	listeners    map[int]func([]Entry)
	nextListener int
}

func newConversation(repo *Repository, sessionID int64) *Conversation {
	return &Conversation{
		repo:      repo,
		sessionID: sessionID,
		listeners: make(map[int]func([]Entry)),
	}
}

func (c *Conversation) SessionID() int64 { return c.sessionID }

func (c *Conversation) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// Subscribe registers fn to receive the full entry list after every change.
// Calls are serialized. fn must not call Send, Retry, Dismiss or Refresh
// synchronously.
func (c *Conversation) Subscribe(fn func([]Entry)) (unsubscribe func()) {
	c.listenerMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenerMu.Lock()
			delete(c.listeners, id)
			c.listenerMu.Unlock()
		})
	}
}

// Send inserts a pending user entry and delivers it. On failure the entry
// stays in the conversation marked failed and the request error is returned.
func (c *Conversation) Send(ctx context.Context, content string, cred auth.Credential) (Entry, error) {
	if strings.TrimSpace(content) == "" {
		return Entry{}, ErrEmptyMessage
	}

	entry := Entry{
		LocalID: uuid.NewString(),
		Status:  StatusPending,
		Message: Message{Role: RoleUser, Content: content, CreatedAt: time.Now()},
	}
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
	c.notify()

	return c.deliver(ctx, entry.LocalID, content, cred)
}

// Retry sends a failed entry again. It moves to the end of the conversation
// as pending.
func (c *Conversation) Retry(ctx context.Context, localID string, cred auth.Credential) (Entry, error) {
	c.mu.Lock()
	idx := c.indexLocked(localID)
	if idx < 0 {
		c.mu.Unlock()
		return Entry{}, ErrEntryNotFound
	}
	entry := c.entries[idx]
	if entry.Status != StatusFailed {
		c.mu.Unlock()
		return Entry{}, fmt.Errorf("retry %s: %w", localID, ErrNotFailed)
	}
	entry.Status = StatusPending
	entry.Error = ""
	c.entries = append(slices.Delete(c.entries, idx, idx+1), entry)
	c.mu.Unlock()
	c.notify()

	return c.deliver(ctx, localID, entry.Message.Content, cred)
}

// Dismiss drops a failed entry.
func (c *Conversation) Dismiss(localID string) error {
	c.mu.Lock()
	idx := c.indexLocked(localID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrEntryNotFound
	}
	if c.entries[idx].Status != StatusFailed {
		c.mu.Unlock()
		return fmt.Errorf("dismiss %s: %w", localID, ErrNotFailed)
	}
	c.entries = slices.Delete(c.entries, idx, idx+1)
	c.mu.Unlock()
	c.notify()
	return nil
}

// Refresh fetches the session and replaces the confirmed entries with the
// server's messages. Pending and failed entries are kept, and so are entries
// confirmed while the fetch was in flight that the server list does not show
// yet.
func (c *Conversation) Refresh(ctx context.Context, cred auth.Credential) error {
	c.mu.Lock()
	resets := c.resets
	known := make(map[string]bool, len(c.entries))
	for _, e := range c.entries {
		if e.Status == StatusConfirmed {
			known[e.LocalID] = true
		}
	}
	c.mu.Unlock()

	detail, err := c.repo.GetSession(ctx, c.sessionID, cred)
	if err != nil {
		return err
	}
	fetched := make(map[int64]bool, len(detail.Messages))
	for _, m := range detail.Messages {
		fetched[m.ID] = true
	}

	c.mu.Lock()
	if c.resets != resets {
		c.mu.Unlock()
		return nil
	}
	entries := make([]Entry, 0, len(detail.Messages)+len(c.entries))
	for _, m := range detail.Messages {
		entries = append(entries, confirmedEntry(m))
	}
	var unconfirmed []Entry
	for i, e := range c.entries {
		switch {
		case e.Status != StatusConfirmed:
			unconfirmed = append(unconfirmed, e)
		case known[e.LocalID]:
		case e.Message.ID != 0:
			if !fetched[e.Message.ID] {
				entries = append(entries, e)
			}
		case !c.replyFetchedLocked(i, fetched):
			entries = append(entries, e)
		}
	}
	c.entries = append(entries, unconfirmed...)
	c.mu.Unlock()
	c.notify()
	return nil
}

// replyFetchedLocked reports whether the assistant reply confirmed right
// after the user entry at idx is in fetched. The server stores a message
// before its reply, so the user message is then in the list too.
func (c *Conversation) replyFetchedLocked(idx int, fetched map[int64]bool) bool {
	if idx+1 >= len(c.entries) {
		return false
	}
	next := c.entries[idx+1]
	return next.Status == StatusConfirmed && next.Message.Role == RoleAssistant && fetched[next.Message.ID]
}

func (c *Conversation) deliver(ctx context.Context, localID, content string, cred auth.Credential) (Entry, error) {
	reply, err := c.repo.AppendMessage(ctx, c.sessionID, content, cred)

	c.mu.Lock()
	idx := c.indexLocked(localID)
	if idx < 0 {
		// Dropped by a reset while in flight.
		c.mu.Unlock()
		if err != nil {
			return Entry{}, err
		}
		return Entry{LocalID: localID, Message: reply, Status: StatusConfirmed}, nil
	}
	if err != nil {
		c.entries[idx].Status = StatusFailed
		c.entries[idx].Error = err.Error()
		failed := c.entries[idx]
		c.mu.Unlock()
		c.notify()
		return failed, err
	}
	confirmed := c.confirmLocked(idx, reply)
	c.mu.Unlock()
	c.notify()
	return confirmed, nil
}

// confirmLocked moves the entry at idx to the end of the confirmed block,
// followed by the assistant reply if the server sent one.
func (c *Conversation) confirmLocked(idx int, reply Message) Entry {
	entry := c.entries[idx]
	c.entries = slices.Delete(c.entries, idx, idx+1)
	entry.Status = StatusConfirmed
	entry.Error = ""

	var insert []Entry
	if reply.Role == RoleUser {
		entry.Message = reply
		if !c.hasMessageLocked(reply.ID) {
			insert = append(insert, entry)
		}
	} else {
		insert = append(insert, entry)
		if !c.hasMessageLocked(reply.ID) {
			insert = append(insert, confirmedEntry(reply))
		}
	}

	at := slices.IndexFunc(c.entries, func(e Entry) bool { return e.Status != StatusConfirmed })
	if at < 0 {
		at = len(c.entries)
	}
	c.entries = slices.Insert(c.entries, at, insert...)
	return entry
}

func (c *Conversation) hasMessageLocked(id int64) bool {
	return slices.ContainsFunc(c.entries, func(e Entry) bool {
		return e.Status == StatusConfirmed && e.Message.ID == id
	})
}

func (c *Conversation) indexLocked(localID string) int {
	return slices.IndexFunc(c.entries, func(e Entry) bool { return e.LocalID == localID })
}

func (c *Conversation) reset() {
	c.mu.Lock()
	c.entries = nil
	c.resets++
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	entries := c.Entries()
	c.listenerMu.Lock()
	fns := make([]func([]Entry), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn(slices.Clone(entries))
	}
	c.repo.conversationChanged(c.sessionID, entries)
}

func confirmedEntry(m Message) Entry {
	return Entry{
		LocalID: fmt.Sprintf("msg-%d", m.ID),
		Message: m,
		Status:  StatusConfirmed,
	}
}
