// Package metastore provides the durable, crash-safe path->FileMeta map used
// to detect file changes between indexing runs: atomic tmp-then-rename
// writes, tmp-file recovery, and a serialized save queue that self-heals
// after a failed save.
package metastore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/osgrep/osgrep-core/internal/changeset"
)

// rawEntry is the on-disk shape, tolerant of legacy string-only entries and
// missing numeric fields.
type rawEntry struct {
	Hash    string `json:"hash"`
	MtimeMs int64  `json:"mtimeMs"`
	Size    int64  `json:"size"`
}

// Store is a durable key(path)->FileMeta map backed by a single JSON file.
// Saves are serialized onto a single background actor goroutine so
// concurrent callers queue rather than race on the tmp file, and a failed
// save never wedges the queue for subsequent callers.
type Store struct {
	path string
	lock *flock.Flock

	mu      sync.RWMutex
	entries map[string]changeset.FileMeta

	saveCh  chan chan error
	closeCh chan struct{}
	once    sync.Once
}

// Open loads path (recovering from a tmp file if the main file is missing or
// corrupt) and starts the save actor.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		lock:    flock.New(path + ".lock"),
		entries: map[string]changeset.FileMeta{},
		saveCh:  make(chan chan error),
		closeCh: make(chan struct{}),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	go s.runSaveActor()
	return s, nil
}

// Close stops the save actor. Safe to call once.
func (s *Store) Close() {
	s.once.Do(func() { close(s.closeCh) })
}

func (s *Store) tmpPath() string { return s.path + ".tmp" }

// load reads the main file; if it is missing or fails to parse, it falls
// back to the tmp file and promotes it by copy on success. If neither exists
// or parses, Store starts empty rather than erroring — a corrupt meta file
// must never panic the caller.
func (s *Store) load() error {
	if data, err := os.ReadFile(s.path); err == nil {
		if parsed, perr := parse(data); perr == nil {
			s.entries = parsed
			return nil
		}
		slog.Warn("meta store main file corrupt, attempting tmp recovery", slog.String("path", s.path))
	}

	data, err := os.ReadFile(s.tmpPath())
	if err != nil {
		s.entries = map[string]changeset.FileMeta{}
		return nil
	}

	parsed, err := parse(data)
	if err != nil {
		s.entries = map[string]changeset.FileMeta{}
		return nil
	}

	s.entries = parsed
	// Promote the recovered tmp file by copying it into place.
	if werr := os.WriteFile(s.path, data, 0o644); werr != nil {
		slog.Warn("failed to promote recovered meta tmp file", slog.String("error", werr.Error()))
	}
	return nil
}

// parse normalizes raw JSON into FileMeta entries, accepting legacy
// string-only entries ({"path": "<hash>"}) and missing numeric fields.
func parse(data []byte) (map[string]changeset.FileMeta, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]changeset.FileMeta, len(raw))
	for k, v := range raw {
		var entry rawEntry
		if err := json.Unmarshal(v, &entry); err == nil {
			out[k] = changeset.FileMeta{Hash: entry.Hash, MtimeMs: entry.MtimeMs, Size: entry.Size}
			continue
		}
		var legacyHash string
		if err := json.Unmarshal(v, &legacyHash); err == nil {
			out[k] = changeset.FileMeta{Hash: legacyHash}
			continue
		}
		// Unknown shape: ignore this entry rather than fail the whole load.
	}
	return out, nil
}

// Get returns the entry for path, if present.
func (s *Store) Get(path string) (changeset.FileMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.entries[path]
	return m, ok
}

// Set upserts path's entry. Callers must call Save to persist.
func (s *Store) Set(path string, entry changeset.FileMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = entry
}

// Delete removes path's entry, if present.
func (s *Store) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

// DeleteByPrefix removes every key starting with prefix, treated as a
// directory: it is suffixed with the platform separator if absent (spec
// §4.9), used to purge a deleted directory's records in one call.
func (s *Store) DeleteByPrefix(prefix string) {
	if prefix != "" && !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
}

// All returns a copy of every entry, for the change detector to diff
// against a fresh traversal.
func (s *Store) All() map[string]changeset.FileMeta {
	return s.snapshot()
}

// snapshot returns a copy of the current entries for serialization.
func (s *Store) snapshot() map[string]changeset.FileMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]changeset.FileMeta, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Save queues a durable write and blocks until it completes. Concurrent
// callers are serialized on a single background actor; a failed save
// reports its error to its caller without blocking the next queued save.
func (s *Store) Save() error {
	reply := make(chan error, 1)
	select {
	case s.saveCh <- reply:
	case <-s.closeCh:
		return nil
	}
	return <-reply
}

func (s *Store) runSaveActor() {
	for {
		select {
		case reply := <-s.saveCh:
			reply <- s.doSave()
		case <-s.closeCh:
			return
		}
	}
}

// doSave performs the actual atomic write: write tmp, then rename over the
// main file. Cross-process writers are additionally serialized with an
// flock-based lock on a sibling lock file.
func (s *Store) doSave() error {
	if err := s.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = s.lock.Unlock() }()

	raw := make(map[string]rawEntry, len(s.entries))
	for k, v := range s.snapshot() {
		raw[k] = rawEntry{Hash: v.Hash, MtimeMs: v.MtimeMs, Size: v.Size}
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := s.tmpPath()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return nil
}
