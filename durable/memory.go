package durable

import "sync"

// MemoryBacking is an in-process stand-in for a shared data directory.
// Every MemoryStore opened on the same backing sees the same keys and is
// notified of writes made through its siblings.
type MemoryBacking struct {
	mu     sync.Mutex
	data   map[string]string
	stores map[*MemoryStore]struct{}
}

func NewMemoryBacking() *MemoryBacking {
	return &MemoryBacking{
		data:   make(map[string]string),
		stores: make(map[*MemoryStore]struct{}),
	}
}

// Open returns a new store instance on this backing.
func (b *MemoryBacking) Open() *MemoryStore {
	s := &MemoryStore{backing: b}
	b.mu.Lock()
	b.stores[s] = struct{}{}
	b.mu.Unlock()
	return s
}

type MemoryStore struct {
	backing  *MemoryBacking
	watchers watchers
}

// NewMemoryStore returns a store on a private backing.
func NewMemoryStore() *MemoryStore {
	return NewMemoryBacking().Open()
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	s.backing.mu.Lock()
	defer s.backing.mu.Unlock()

	if _, open := s.backing.stores[s]; !open {
		return "", false, ErrClosed
	}
	v, ok := s.backing.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.mutate(func(data map[string]string) (Change, bool) {
		if old, ok := data[key]; ok && old == value {
			return Change{}, false
		}
		data[key] = value
		return Change{Key: key, Value: value, Present: true}, true
	})
}

func (s *MemoryStore) Remove(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.mutate(func(data map[string]string) (Change, bool) {
		if _, ok := data[key]; !ok {
			return Change{}, false
		}
		delete(data, key)
		return Change{Key: key}, true
	})
}

// mutate applies fn under the backing lock and then notifies sibling stores
// synchronously, in the calling goroutine, after the lock is released.
func (s *MemoryStore) mutate(fn func(map[string]string) (Change, bool)) error {
	b := s.backing
	b.mu.Lock()
	if _, open := b.stores[s]; !open {
		b.mu.Unlock()
		return ErrClosed
	}
	change, changed := fn(b.data)
	var siblings []*MemoryStore
	if changed {
		for other := range b.stores {
			if other != s {
				siblings = append(siblings, other)
			}
		}
	}
	b.mu.Unlock()

	for _, other := range siblings {
		other.watchers.dispatch(change)
	}
	return nil
}

func (s *MemoryStore) Watch(fn func(Change)) func() {
	return s.watchers.add(fn)
}

func (s *MemoryStore) Close() error {
	s.backing.mu.Lock()
	delete(s.backing.stores, s)
	s.backing.mu.Unlock()
	return nil
}
