// Package routing persists the durable mapping from session scope to bound
// container name. The state file is a single versioned JSON document,
// written atomically (temp file + rename) so concurrent readers never
// observe a partial write, grounded on the teacher's
// internal/session.WriteStatusEvent idiom.
package routing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/falleco/opencode-sandbox/internal/logging"
)

// schemaVersion is the on-disk schema version this build writes and expects
// on read. A mismatch is treated as an empty state.
const schemaVersion = 1

// Entry is the durable binding of one scope to a container.
type Entry struct {
	Container string `json:"container"`
	UpdatedAt int64  `json:"updatedAt"`
}

// state is the on-disk document shape.
type state struct {
	Version  int              `json:"version"`
	Sessions map[string]Entry `json:"sessions"`
}

// Store is a single-process-owned durable routing table. All mutating and
// reading operations serialise through mu; Store is safe for concurrent use
// within one process but assumes single-writer-per-file across processes.
type Store struct {
	path string

	mu   sync.Mutex
	data state

	now func() int64
}

// Open loads the routing state from path, if present. A missing, corrupt,
// or version-mismatched file yields a fresh empty store without touching
// disk; the next write will create or replace it.
func Open(path string) *Store {
	s := &Store{
		path: path,
		data: state{Version: schemaVersion, Sessions: map[string]Entry{}},
		now:  func() int64 { return time.Now().UnixMilli() },
	}
	s.load()
	return s
}

func (s *Store) load() {
	log := logging.ForComponent(logging.CompRoutingState)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("routing_state_read_failed", "path", s.path, "error", err.Error())
		}
		return
	}

	var loaded state
	if err := json.Unmarshal(raw, &loaded); err != nil {
		log.Warn("routing_state_corrupt", "path", s.path, "error", err.Error())
		return
	}
	if loaded.Version != schemaVersion {
		log.Warn("routing_state_version_mismatch", "path", s.path, "want", schemaVersion, "got", loaded.Version)
		return
	}
	if loaded.Sessions == nil {
		loaded.Sessions = map[string]Entry{}
	}
	s.data = loaded
}

// Get returns the container bound to scopeId, or "" if none.
func (s *Store) Get(scopeID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data.Sessions[scopeID]
	if !ok {
		return "", false
	}
	return e.Container, true
}

// Set binds scopeId to containerName, updating its timestamp, and persists
// the full state atomically.
func (s *Store) Set(scopeID, containerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Sessions[scopeID] = Entry{
		Container: containerName,
		UpdatedAt: s.now(),
	}
	return s.persist()
}

// GetEntry returns the full binding entry for scopeId, including when it was
// last set, for callers that need to display binding age.
func (s *Store) GetEntry(scopeID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data.Sessions[scopeID]
	return e, ok
}

// Clear removes the binding for scopeId, returning the container it was
// bound to (if any) before removal.
func (s *Store) Clear(scopeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data.Sessions[scopeID]
	if !ok {
		return "", nil
	}
	delete(s.data.Sessions, scopeID)
	if err := s.persist(); err != nil {
		return "", err
	}
	return e.Container, nil
}

// persist serialises the full state and atomically renames it into place.
// Caller must hold mu.
func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	raw, err := json.Marshal(s.data)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
