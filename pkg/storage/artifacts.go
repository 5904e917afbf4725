// Package storage keeps downloaded schedule documents on local disk.
//
// Layout under the data directory:
//
//	pdf/<group>/<file>.pdf   latest copy of each schedule document
//	temp/                    scratch space, cleared by maintenance
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	scheduleDir = "pdf"
	tempDir     = "temp"
)

// ArtifactStore manages the data directory.
type ArtifactStore struct {
	root string
}

// NewArtifactStore returns a store rooted at dataDir. Directories are created
// on first write.
func NewArtifactStore(dataDir string) *ArtifactStore {
	return &ArtifactStore{root: dataDir}
}

// Root returns the data directory.
func (s *ArtifactStore) Root() string {
	return s.root
}

// SchedulePath returns where a group's schedule document is kept.
// Slashes in group labels would otherwise create nested directories.
func (s *ArtifactStore) SchedulePath(group, filename string) string {
	return filepath.Join(s.root, scheduleDir, strings.ReplaceAll(group, "/", "_"), filepath.Base(filename))
}

// Save writes data to path atomically: the bytes go to a temp file first and
// are renamed into place.
func (s *ArtifactStore) Save(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmpDir := filepath.Join(s.root, tempDir)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	tmp, err := os.CreateTemp(tmpDir, "artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// Exists reports whether path is an existing file.
func (s *ArtifactStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// PruneSchedules deletes schedule documents last modified before cutoff and
// returns how many were removed. Only pdf/<group>/*.pdf files are considered.
func (s *ArtifactStore) PruneSchedules(cutoff time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, scheduleDir, "*", "*.pdf"))
	if err != nil {
		return 0, fmt.Errorf("failed to list schedule documents: %w", err)
	}

	removed := 0
	var errs []error
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// ClearTemp removes everything inside the temp directory and returns the
// number of top-level entries removed. A missing directory is not an error.
func (s *ArtifactStore) ClearTemp() (int, error) {
	dir := filepath.Join(s.root, tempDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list temp directory: %w", err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
