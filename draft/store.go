package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pitchy/client/api"
	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/durable"
)

// StateKey is the durable key of the single draft slot.
const StateKey = "startup_analysis_state"

type Store struct {
	kv durable.Store
	mu sync.Mutex
}

func NewStore(kv durable.Store) *Store {
	return &Store{kv: kv}
}

// Load returns the stored draft, or the default when nothing usable is
// stored. It never fails.
func (s *Store) Load() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Save overwrites the form values and keeps the last result.
func (s *Store) Save(values AnalysisDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.loadLocked()
	state.Values = values
	return s.saveLocked(state)
}

// SaveResult replaces the last result. A nil result clears it.
func (s *Store) SaveResult(result *api.AnalyzeResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.loadLocked()
	state.Result = result
	return s.saveLocked(state)
}

func (s *Store) loadLocked() State {
	raw, ok, err := s.kv.Get(StateKey)
	if err != nil {
		slog.Warn("failed to read draft", "error", err)
		return Default()
	}
	if !ok {
		return Default()
	}

	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		// Fall back to default for corrupted JSON
		slog.Warn("ignoring corrupted draft", "error", err)
		return Default()
	}
	return state
}

func (s *Store) saveLocked(state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.kv.Set(StateKey, string(data)); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Analyze submits the stored draft. An authenticated caller gets a saved
// analysis; anyone else gets a one-off assessment. The result is stored with
// the draft either way.
func Analyze(ctx context.Context, client *api.Client, store *Store, cred auth.Credential) (api.AnalyzeResponse, error) {
	values := store.Load().Values
	if err := values.Validate(); err != nil {
		return api.AnalyzeResponse{}, err
	}
	if err := store.SaveResult(nil); err != nil {
		slog.Warn("failed to clear previous result", "error", err)
	}

	var result api.AnalyzeResponse
	if cred.IsAuthenticated() {
		saved, err := client.CreateAnalysis(ctx, values.Request(), cred)
		if err != nil {
			return api.AnalyzeResponse{}, err
		}
		result = saved.AnalyzeResponse
	} else {
		resp, err := client.AnalyzeStartup(ctx, values.Summary())
		if err != nil {
			return api.AnalyzeResponse{}, err
		}
		result = resp
	}

	if err := store.SaveResult(&result); err != nil {
		slog.Warn("failed to store analysis result", "error", err)
	}
	return result, nil
}
