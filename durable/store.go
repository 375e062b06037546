// Package durable provides per-profile persistent key-value storage shared by
// every process that opens the same data directory, with change notification
// across those processes.
package durable

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
)

var (
	ErrInvalidKey = errors.New("invalid storage key")
	ErrClosed     = errors.New("store closed")
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Change describes a value that was modified by another store instance.
// Present is false when the key was removed.
type Change struct {
	Key     string
	Value   string
	Present bool
}

// Store is a string key-value store. Watch callbacks fire only for changes
// made through other instances on the same backing, the same way a browser
// delivers storage events only to the other tabs of an origin.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	Watch(fn func(Change)) (cancel func())
	Close() error
}

// Open opens the named backend rooted at dataDir.
func Open(backend, dataDir string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(dataDir)
	case BackendSQLite:
		return NewSQLiteStore(dataDir)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]*$`)

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

type entry struct {
	value   string
	present bool
}

// watchers holds the registered callbacks of one store instance.
type watchers struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]func(Change)
}

func (w *watchers) add(fn func(Change)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fns == nil {
		w.fns = make(map[int]func(Change))
	}
	id := w.nextID
	w.nextID++
	w.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.fns, id)
			w.mu.Unlock()
		})
	}
}

// dispatch runs callbacks outside the lock so they may call back into the store.
func (w *watchers) dispatch(c Change) {
	w.mu.RLock()
	fns := make([]func(Change), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
