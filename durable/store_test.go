package durable

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// changeRecorder collects Changes delivered to a Watch callback.
type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) record(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) last() (Change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return Change{}, false
	}
	return r.changes[len(r.changes)-1], true
}

func (r *changeRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// storeFactory opens two instances on the same backing.
type storeFactory func(t *testing.T) (Store, Store)

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"file": func(t *testing.T) (Store, Store) {
			dir := t.TempDir()
			a, err := NewFileStore(dir)
			if err != nil {
				t.Fatalf("NewFileStore failed: %v", err)
			}
			b, err := NewFileStore(dir)
			if err != nil {
				t.Fatalf("NewFileStore failed: %v", err)
			}
			t.Cleanup(func() { a.Close(); b.Close() })
			return a, b
		},
		"sqlite": func(t *testing.T) (Store, Store) {
			dir := t.TempDir()
			a, err := NewSQLiteStore(dir, WithPollInterval(20*time.Millisecond))
			if err != nil {
				t.Fatalf("NewSQLiteStore failed: %v", err)
			}
			b, err := NewSQLiteStore(dir, WithPollInterval(20*time.Millisecond))
			if err != nil {
				t.Fatalf("NewSQLiteStore failed: %v", err)
			}
			t.Cleanup(func() { a.Close(); b.Close() })
			return a, b
		},
		"memory": func(t *testing.T) (Store, Store) {
			backing := NewMemoryBacking()
			a, b := backing.Open(), backing.Open()
			t.Cleanup(func() { a.Close(); b.Close() })
			return a, b
		},
	}
}

func TestStore_GetSetRemove(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			a, _ := open(t)

			if _, ok, err := a.Get("missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v, err %v; want absent", ok, err)
			}

			if err := a.Set("vi_auth_state", "1"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			v, ok, err := a.Get("vi_auth_state")
			if err != nil || !ok || v != "1" {
				t.Fatalf("Get = (%q, %v, %v), want (\"1\", true, nil)", v, ok, err)
			}

			if err := a.Set("vi_auth_state", "2"); err != nil {
				t.Fatalf("overwrite failed: %v", err)
			}
			if v, _, _ := a.Get("vi_auth_state"); v != "2" {
				t.Errorf("expected overwritten value 2, got %q", v)
			}

			if err := a.Remove("vi_auth_state"); err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			if _, ok, _ := a.Get("vi_auth_state"); ok {
				t.Error("expected key removed")
			}

			if err := a.Remove("vi_auth_state"); err != nil {
				t.Errorf("removing a missing key should succeed, got %v", err)
			}
		})
	}
}

func TestStore_SharedBacking(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			a, b := open(t)

			if err := a.Set("draft", `{"values":{"name":"Acme"}}`); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			v, ok, err := b.Get("draft")
			if err != nil || !ok {
				t.Fatalf("sibling Get failed: ok %v err %v", ok, err)
			}
			if v != `{"values":{"name":"Acme"}}` {
				t.Errorf("sibling saw %q", v)
			}
		})
	}
}

func TestStore_WatchSeesSiblingWrites(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			a, b := open(t)

			rec := &changeRecorder{}
			cancel := b.Watch(rec.record)
			defer cancel()

			if err := a.Set("vi_auth_state", "1"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			waitFor(t, func() bool {
				c, ok := rec.last()
				return ok && c.Key == "vi_auth_state" && c.Present && c.Value == "1"
			})

			if err := a.Remove("vi_auth_state"); err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			waitFor(t, func() bool {
				c, ok := rec.last()
				return ok && c.Key == "vi_auth_state" && !c.Present
			})
		})
	}
}

func TestStore_WatchIgnoresOwnWrites(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			a, _ := open(t)

			rec := &changeRecorder{}
			cancel := a.Watch(rec.record)
			defer cancel()

			if err := a.Set("vi_auth_state", "1"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			time.Sleep(200 * time.Millisecond)

			if n := rec.len(); n != 0 {
				t.Errorf("expected no self notifications, got %d", n)
			}
		})
	}
}

func TestStore_CancelWatch(t *testing.T) {
	backing := NewMemoryBacking()
	a, b := backing.Open(), backing.Open()

	rec := &changeRecorder{}
	cancel := b.Watch(rec.record)
	cancel()
	cancel()

	a.Set("k", "v")
	if n := rec.len(); n != 0 {
		t.Errorf("expected no notifications after cancel, got %d", n)
	}
}

func TestStore_InvalidKey(t *testing.T) {
	s := NewMemoryStore()
	for _, key := range []string{"", ".hidden", "a/b", "../escape"} {
		if err := s.Set(key, "x"); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Set(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestFileStore_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer s.Close()

	if err := s.Set("vi_cookies", "secret"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "storage", "vi_cookies"))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("file permissions = %o, want no group/other access", perm)
	}
}

func TestFileStore_ClosedRejectsWrites(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	s.Close()

	if err := s.Set("k", "v"); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after Close = %v, want ErrClosed", err)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("redis", t.TempDir()); err == nil {
		t.Error("expected error for unknown backend")
	}
}
