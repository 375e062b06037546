package durable

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const defaultPollInterval = 200 * time.Millisecond

// SQLiteStore keeps keys in a single SQLite table. Commits made by other
// processes are detected by polling PRAGMA data_version, which only changes
// when another connection writes to the database file.
type SQLiteStore struct {
	db           *sql.DB
	pollInterval time.Duration

	mu          sync.Mutex
	known       map[string]entry
	polling     bool
	dataVersion int64
	closed      bool
	done        chan struct{}
	wg          sync.WaitGroup

	watchers watchers
}

type SQLiteOption func(*SQLiteStore)

// WithPollInterval sets how often other processes' commits are checked for.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func NewSQLiteStore(dataDir string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := filepath.Join(dataDir, "storage.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// data_version is per connection; pin a single one so our own commits
	// never register as foreign changes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{
		db:           db,
		pollInterval: defaultPollInterval,
		known:        make(map[string]entry),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`)
	return err
}

func (s *SQLiteStore) Get(key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(`
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	s.known[key] = entry{value: value, present: true}
	return nil
}

func (s *SQLiteStore) Remove(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	s.known[key] = entry{}
	return nil
}

func (s *SQLiteStore) Watch(fn func(Change)) func() {
	if err := s.startPolling(); err != nil {
		slog.Error("failed to start storage poller", "error", err)
	}
	return s.watchers.add(fn)
}

func (s *SQLiteStore) startPolling() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.polling {
		return nil
	}

	rows, err := s.loadAll()
	if err != nil {
		return err
	}
	for key, e := range rows {
		if _, ok := s.known[key]; !ok {
			s.known[key] = e
		}
	}
	version, err := s.readDataVersion()
	if err != nil {
		return err
	}
	s.dataVersion = version
	s.polling = true

	s.wg.Add(1)
	go s.pollLoop()
	return nil
}

func (s *SQLiteStore) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			for _, c := range s.poll() {
				s.watchers.dispatch(c)
			}
		}
	}
}

// poll returns the changes committed by other connections since the last poll.
func (s *SQLiteStore) poll() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	version, err := s.readDataVersion()
	if err != nil {
		slog.Warn("failed to read sqlite data_version", "error", err)
		return nil
	}
	if version == s.dataVersion {
		return nil
	}
	s.dataVersion = version

	rows, err := s.loadAll()
	if err != nil {
		slog.Warn("failed to reload storage after foreign commit", "error", err)
		return nil
	}

	var changes []Change
	for key, e := range rows {
		if s.known[key] != e {
			s.known[key] = e
			changes = append(changes, Change{Key: key, Value: e.value, Present: true})
		}
	}
	for key, e := range s.known {
		if _, ok := rows[key]; !ok && e.present {
			s.known[key] = entry{}
			changes = append(changes, Change{Key: key})
		}
	}
	return changes
}

func (s *SQLiteStore) readDataVersion() (int64, error) {
	var version int64
	if err := s.db.QueryRow(`PRAGMA data_version`).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *SQLiteStore) loadAll() (map[string]entry, error) {
	rows, err := s.db.Query(`SELECT key, value FROM kv`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]entry)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = entry{value: value, present: true}
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}
