package watch

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/pitchy/client/chat"
	"github.com/pitchy/client/rpc"
)

type conversationChange struct {
	sessionID int64
	entries   []chat.Entry
}

// ChatMessagesWatcher manages subscriptions to the optimistic message list of
// a session. Every notification carries the whole list, so a subscriber that
// misses one is corrected by the next.
type ChatMessagesWatcher struct {
	*BaseWatcher
	repo        *chat.Repository
	eventCh     chan conversationChange
	unsubscribe func()

	sessionMu    sync.RWMutex
	sessionToIDs map[int64][]string // sessionID -> subscription IDs
	idToSession  map[string]int64   // subscription ID -> sessionID
}

var _ Watcher = (*ChatMessagesWatcher)(nil)

func NewChatMessagesWatcher(repo *chat.Repository) *ChatMessagesWatcher {
	return &ChatMessagesWatcher{
		BaseWatcher:  NewBaseWatcher("cm"),
		repo:         repo,
		eventCh:      make(chan conversationChange, 256),
		sessionToIDs: make(map[int64][]string),
		idToSession:  make(map[string]int64),
	}
}

func (w *ChatMessagesWatcher) Start() error {
	w.unsubscribe = w.repo.SubscribeConversations(w.onConversationChange)
	go w.eventLoop()
	slog.Info("ChatMessagesWatcher started")
	return nil
}

func (w *ChatMessagesWatcher) Stop() {
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
	w.Cancel()
	slog.Info("ChatMessagesWatcher stopped")
}

// onConversationChange is called on the conversation's notification path and
// must not block.
func (w *ChatMessagesWatcher) onConversationChange(sessionID int64, entries []chat.Entry) {
	if w.Context().Err() != nil {
		return
	}

	w.sessionMu.RLock()
	watched := len(w.sessionToIDs[sessionID]) > 0
	w.sessionMu.RUnlock()
	if !watched {
		return
	}

	select {
	case w.eventCh <- conversationChange{sessionID: sessionID, entries: entries}:
	default:
		slog.Warn("chat message change dropped (buffer full)", "sessionId", sessionID)
	}
}

func (w *ChatMessagesWatcher) eventLoop() {
	for {
		select {
		case <-w.Context().Done():
			return
		case change := <-w.eventCh:
			w.notifyChange(change)
		}
	}
}

func (w *ChatMessagesWatcher) notifyChange(change conversationChange) {
	w.sessionMu.RLock()
	ids := slices.Clone(w.sessionToIDs[change.sessionID])
	w.sessionMu.RUnlock()

	for _, id := range ids {
		sub := w.GetSubscription(id)
		if sub == nil {
			continue
		}
		w.notify(sub, "chat.messages.changed", rpc.ChatMessagesChangedParams{
			ID:        sub.ID,
			SessionID: change.sessionID,
			Entries:   change.entries,
		})
	}
}

// Subscribe registers a subscriber for a specific session.
// Returns subscription ID and the current entries.
func (w *ChatMessagesWatcher) Subscribe(notifier Notifier, connID string, sessionID int64) (string, []chat.Entry) {
	id := w.GenerateID()

	// Lock order: sessionMu → subMu (consistent with Unsubscribe/CleanupConnection)
	w.sessionMu.Lock()
	w.sessionToIDs[sessionID] = append(w.sessionToIDs[sessionID], id)
	w.idToSession[id] = sessionID
	w.sessionMu.Unlock()

	// Register before reading entries so no change is lost in between.
	w.AddSubscription(&Subscription{ID: id, ConnID: connID, Notifier: notifier})

	entries := w.repo.Conversation(sessionID).Entries()
	if entries == nil {
		entries = []chat.Entry{}
	}
	return id, entries
}

// Unsubscribe removes a subscription.
func (w *ChatMessagesWatcher) Unsubscribe(id string) {
	w.sessionMu.Lock()
	w.removeSessionMapping(id)
	w.sessionMu.Unlock()

	w.RemoveSubscription(id)
}

// CleanupConnection removes all subscriptions for a connection.
func (w *ChatMessagesWatcher) CleanupConnection(connID string) {
	subs := w.GetSubscriptionsByConnID(connID)
	if len(subs) == 0 {
		return
	}

	w.sessionMu.Lock()
	for _, sub := range subs {
		w.removeSessionMapping(sub.ID)
	}
	w.sessionMu.Unlock()

	w.BaseWatcher.CleanupConnection(connID)
}

// removeSessionMapping removes session mapping for a subscription. Caller must hold sessionMu.
func (w *ChatMessagesWatcher) removeSessionMapping(id string) {
	sessionID, ok := w.idToSession[id]
	if !ok {
		return
	}

	delete(w.idToSession, id)
	w.sessionToIDs[sessionID] = slices.DeleteFunc(w.sessionToIDs[sessionID], func(v string) bool { return v == id })
	if len(w.sessionToIDs[sessionID]) == 0 {
		delete(w.sessionToIDs, sessionID)
	}
}
