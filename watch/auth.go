package watch

import (
	"log/slog"
	"sync"

	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/rpc"
)

// AuthWatcher notifies subscribers when the credential changes, including
// sign-ins and sign-outs made by other processes.
// Uses a channel-based async notification pattern so the auth store's
// listeners never wait on network I/O.
type AuthWatcher struct {
	*BaseWatcher
	store       *auth.Store
	eventCh     chan auth.Credential
	unsubscribe func()

	onChangeMu sync.RWMutex
	onChange   func(auth.Credential)
}

var _ Watcher = (*AuthWatcher)(nil)

func NewAuthWatcher(store *auth.Store) *AuthWatcher {
	return &AuthWatcher{
		BaseWatcher: NewBaseWatcher("au"),
		store:       store,
		eventCh:     make(chan auth.Credential, 16),
	}
}

func (w *AuthWatcher) Start() error {
	w.unsubscribe = w.store.Subscribe(w.onAuthChange)
	go w.eventLoop()
	slog.Info("AuthWatcher started")
	return nil
}

func (w *AuthWatcher) Stop() {
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
	w.Cancel()
	slog.Info("AuthWatcher stopped")
}

// SetOnChange sets a callback that is invoked when the credential changes.
func (w *AuthWatcher) SetOnChange(fn func(auth.Credential)) {
	w.onChangeMu.Lock()
	defer w.onChangeMu.Unlock()
	w.onChange = fn
}

func (w *AuthWatcher) eventLoop() {
	for {
		select {
		case <-w.Context().Done():
			return
		case c := <-w.eventCh:
			w.notifyChange(c)
		}
	}
}

func (w *AuthWatcher) notifyChange(c auth.Credential) {
	w.onChangeMu.RLock()
	onChange := w.onChange
	w.onChangeMu.RUnlock()
	if onChange != nil {
		onChange(c)
	}

	if !w.HasSubscriptions() {
		return
	}

	state := rpc.NewAuthState(c)
	w.NotifyAll("auth.changed", func(sub *Subscription) any {
		return rpc.AuthChangedParams{ID: sub.ID, State: state}
	})

	slog.Debug("notified auth change", "state", c)
}

// Subscribe registers a subscriber and returns the subscription ID along with
// the current state.
func (w *AuthWatcher) Subscribe(notifier Notifier, connID string) (string, rpc.AuthState) {
	id := w.GenerateID()
	w.AddSubscription(&Subscription{ID: id, ConnID: connID, Notifier: notifier})
	return id, rpc.NewAuthState(w.store.Snapshot())
}

// onAuthChange runs on the auth store's notification path, so it must not
// block.
func (w *AuthWatcher) onAuthChange(c auth.Credential) {
	if w.Context().Err() != nil {
		return
	}

	select {
	case w.eventCh <- c:
	default:
		slog.Warn("auth change event dropped (buffer full)")
	}
}
