// Package savefile writes finished download artifacts to disk.
package savefile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Dir saves artifacts under a base directory, replacing atomically via a
// temp file so a crashed write never leaves a truncated artifact.
type Dir struct {
	base string
}

// NewDir creates a saver rooted at base, creating the directory if needed.
func NewDir(base string) (*Dir, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory %s: %w", base, err)
	}
	return &Dir{base: base}, nil
}

// Save writes the reader's bytes to filename under the base directory and
// returns the final path. Path separators in the name are rejected.
func (d *Dir) Save(filename string, r io.Reader) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) || filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid artifact name %q", filename)
	}
	dest := filepath.Join(d.base, filename)

	tmp, err := os.CreateTemp(d.base, ".geoexport-tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", dest, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("chmod %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close %s: %w", dest, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("replace %s: %w", dest, err)
	}
	return dest, nil
}
