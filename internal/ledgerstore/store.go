// Package ledgerstore persists the job ledger to a per-user slot.
//
// Each user identity owns one JSON blob of shape {"results": [...]} in a
// file under the data directory. Writes replace the file atomically; a
// single active writer per identity is assumed.
package ledgerstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"geoexport/internal/export"
)

// FileStore keeps one ledger slot per user identity on the local filesystem.
type FileStore struct {
	dir string
}

// New creates a file store rooted at dir, creating the directory if needed.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Check verifies the data directory is still present and writable. Used by
// the readiness probe.
func (s *FileStore) Check() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("stat data directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", s.dir)
	}
	return nil
}

// slot is the persisted shape of a ledger.
type slot struct {
	Results []export.Job `json:"results"`
}

// Save serializes the full ledger into the user's slot.
func (s *FileStore) Save(user string, jobs []export.Job) error {
	if user == "" {
		return fmt.Errorf("empty user identity")
	}
	data, err := json.Marshal(slot{Results: jobs})
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	dest := s.path(user)
	tmp, err := os.CreateTemp(s.dir, ".ledger-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", dest, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", dest, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", dest, err)
	}
	return nil
}

// Load restores the user's ledger. A missing slot is an empty ledger, not an
// error. Previously-pending jobs are dropped: a restore means their polling
// subscription was lost, so they can never resolve.
func (s *FileStore) Load(user string) ([]export.Job, error) {
	if user == "" {
		return nil, fmt.Errorf("empty user identity")
	}
	data, err := os.ReadFile(s.path(user))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger slot: %w", err)
	}

	var st slot
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode ledger slot: %w", err)
	}

	jobs := st.Results[:0:0]
	for _, job := range st.Results {
		if job.Status == export.StatusPending {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// path namespaces the slot file by user identity.
func (s *FileStore) path(user string) string {
	return filepath.Join(s.dir, sanitize(user)+".json")
}

// sanitize keeps slot names filesystem-safe without losing uniqueness for
// ordinary identities.
func sanitize(user string) string {
	var b strings.Builder
	for _, r := range user {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "_%04x", r)
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
