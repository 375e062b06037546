package durable

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 50 * time.Millisecond

// FileStore keeps one file per key under dataDir/storage and watches that
// directory with fsnotify so writes from other processes surface as Changes.
type FileStore struct {
	dir string

	mu      sync.Mutex
	known   map[string]entry // last value this instance wrote or observed
	watcher *fsnotify.Watcher
	closed  bool
	done    chan struct{}

	timerMu  sync.Mutex
	timerMap map[string]*time.Timer

	watchers watchers
}

func NewFileStore(dataDir string) (*FileStore, error) {
	dir := filepath.Join(dataDir, "storage")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{
		dir:      dir,
		known:    make(map[string]entry),
		done:     make(chan struct{}),
		timerMap: make(map[string]*time.Timer),
	}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key)
}

func (s *FileStore) read(key string) (entry, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return entry{}, nil
	}
	if err != nil {
		return entry{}, err
	}
	return entry{value: string(data), present: true}, nil
}

func (s *FileStore) Get(key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	e, err := s.read(key)
	if err != nil {
		return "", false, err
	}
	return e.value, e.present, nil
}

func (s *FileStore) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	// Atomic write: write to temp file then rename
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+key+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		os.Remove(tmpPath)
		return err
	}

	s.known[key] = entry{value: value, present: true}
	return nil
}

func (s *FileStore) Remove(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	s.known[key] = entry{}
	return nil
}

// Watch registers fn and starts the fsnotify watch on first use.
func (s *FileStore) Watch(fn func(Change)) func() {
	if err := s.startWatcher(); err != nil {
		slog.Error("failed to start storage watcher", "dir", s.dir, "error", err)
	}
	return s.watchers.add(fn)
}

func (s *FileStore) startWatcher() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return err
	}

	// Seed the baseline so the first event compares against current contents.
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		watcher.Close()
		return err
	}
	for _, de := range entries {
		key := de.Name()
		if de.IsDir() || validateKey(key) != nil {
			continue
		}
		if _, ok := s.known[key]; ok {
			continue
		}
		if e, err := s.read(key); err == nil {
			s.known[key] = e
		}
	}

	s.watcher = watcher
	go s.eventLoop(watcher)
	slog.Debug("storage watcher started", "dir", s.dir)
	return nil
}

func (s *FileStore) eventLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("fsnotify error", "error", err)
		}
	}
}

func (s *FileStore) handleEvent(event fsnotify.Event) {
	key := filepath.Base(event.Name)
	if strings.HasPrefix(key, ".") || validateKey(key) != nil {
		return
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if timer, exists := s.timerMap[key]; exists {
		timer.Stop()
	}
	s.timerMap[key] = time.AfterFunc(debounceInterval, func() {
		s.timerMu.Lock()
		delete(s.timerMap, key)
		s.timerMu.Unlock()
		s.checkKey(key)
	})
}

// checkKey re-reads key and dispatches a Change if it differs from what this
// instance last saw. Reading the current value rather than trusting the event
// collapses bursts of writes into their final state.
func (s *FileStore) checkKey(key string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	current, err := s.read(key)
	if err != nil {
		s.mu.Unlock()
		slog.Warn("failed to read changed storage key", "key", key, "error", err)
		return
	}
	if s.known[key] == current {
		s.mu.Unlock()
		return
	}
	s.known[key] = current
	s.mu.Unlock()

	s.watchers.dispatch(Change{Key: key, Value: current.value, Present: current.present})
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	watcher := s.watcher
	s.mu.Unlock()

	s.timerMu.Lock()
	for _, timer := range s.timerMap {
		timer.Stop()
	}
	s.timerMap = make(map[string]*time.Timer)
	s.timerMu.Unlock()

	if watcher != nil {
		return watcher.Close()
	}
	return nil
}
