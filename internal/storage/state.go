package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"nelculobot/pkg/logx"
)

// State is the small persisted config blob:
//
//	{"interval_minutes": 30}
//
// Zero values mean "not set".
type State struct {
	IntervalMinutes int `json:"interval_minutes,omitempty"`
}

// StateStore persists State as a JSON object. Keys it does not know about
// are kept on rewrite.
type StateStore struct {
	path string
	log  logx.Logger
	mu   sync.Mutex
}

func OpenState(path string, log logx.Logger) (*StateStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("state path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &StateStore{path: path, log: log.With(logx.String("comp", "state"))}, nil
}

func (s *StateStore) Path() string { return s.path }

// Load returns the persisted state. Missing or corrupt files yield the zero
// State; malformed values for a known key are ignored individually.
func (s *StateStore) Load(ctx context.Context) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := s.readLocked()
	var st State
	if v, ok := raw["interval_minutes"]; ok {
		if err := json.Unmarshal(v, &st.IntervalMinutes); err != nil || st.IntervalMinutes < 0 {
			s.log.Warn("state interval_minutes malformed; ignoring", logx.String("value", string(v)))
			st.IntervalMinutes = 0
		}
	}
	return st
}

// Update applies fn to the current state and persists the result.
func (s *StateStore) Update(ctx context.Context, fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := s.readLocked()

	var st State
	if v, ok := raw["interval_minutes"]; ok {
		_ = json.Unmarshal(v, &st.IntervalMinutes)
	}
	fn(&st)

	if st.IntervalMinutes > 0 {
		b, _ := json.Marshal(st.IntervalMinutes)
		raw["interval_minutes"] = b
	} else {
		delete(raw, "interval_minutes")
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("state write: %w", err)
	}
	return nil
}

func (s *StateStore) readLocked() map[string]json.RawMessage {
	raw := map[string]json.RawMessage{}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("state read failed; using defaults", logx.String("path", s.path), logx.Err(err))
		}
		return raw
	}
	if err := json.Unmarshal(b, &raw); err != nil || raw == nil {
		s.log.Warn("state file malformed; using defaults", logx.String("path", s.path))
		return map[string]json.RawMessage{}
	}
	return raw
}
