// Package syncstate persists the per-session sync position between runs: the
// last seen session sequence number, the per-entity catch-up sequences and
// the profile ETag. A valid record lets the next connection attempt a delta
// sync instead of a full resync.
package syncstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Version identifies the record layout. Records written by a different
// version are discarded rather than migrated.
const Version = 1

// MaxAge bounds how stale a persisted record may be and still seed a delta
// sync; beyond it the server may have pruned the update log.
const MaxAge = 24 * time.Hour

// EntitySeq holds the highest applied sequence number per entity category.
type EntitySeq struct {
	Sessions  int64 `json:"sessions"`
	Machines  int64 `json:"machines"`
	Artifacts int64 `json:"artifacts"`
}

// Record is the persisted sync position.
type Record struct {
	Version int `json:"version"`
	// Timestamp is when the record was written, ms since epoch.
	Timestamp int64 `json:"timestamp"`
	// SessionLastSeq maps session id to the last message sequence applied
	// for that session.
	SessionLastSeq map[string]int64 `json:"sessionLastSeq,omitempty"`
	// ProfileETag revalidates the cached user profile.
	ProfileETag string `json:"profileETag,omitempty"`
	// FeedCursor is the pagination cursor of the last applied feed page.
	FeedCursor string    `json:"feedCursor,omitempty"`
	EntitySeq  EntitySeq `json:"entitySeq"`
}

// Store reads and writes one record file.
type Store struct {
	path string
}

// NewStore creates a store persisting to path, creating parent directories
// as needed.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Load returns the persisted record, or ok=false when no usable record
// exists. A missing file, a parse failure, a version mismatch or a record
// older than MaxAge all mean "start fresh"; none of them is an error.
func (s *Store) Load(now time.Time) (Record, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false
	}
	if rec.Version != Version {
		return Record{}, false
	}
	written := time.UnixMilli(rec.Timestamp)
	if now.Sub(written) > MaxAge || written.After(now) {
		return Record{}, false
	}
	return rec, true
}

// Save writes the record atomically, stamping it with now and the current
// version.
func (s *Store) Save(rec Record, now time.Time) error {
	rec.Version = Version
	rec.Timestamp = now.UnixMilli()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sync state: %w", err)
	}

	// Temp file plus rename so a crash mid-write never leaves a truncated
	// record behind.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write sync state: %w", err)
	}
	if f, err := os.Open(tmp); err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace sync state: %w", err)
	}
	return nil
}

// Clear removes the persisted record. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear sync state: %w", err)
	}
	return nil
}
