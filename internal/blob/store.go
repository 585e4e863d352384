// Package blob stores opaque byte blobs on disk keyed by generated ids.
// One instance holds uploaded source images, another the produced SVG
// artifacts.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("blob not found")

type Store struct {
	dataDir string
}

// NewStore creates the data directory if needed.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// Write streams r to disk and returns the blob id. The blob becomes visible
// under the id only after the data is fully durable: write goes to a temp
// file, fsync, then atomic rename. A failed write leaves nothing behind.
func (s *Store) Write(r io.Reader) (string, error) {
	id := uuid.New().String()
	fullPath := filepath.Join(s.dataDir, id)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write blob: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("fsync blob: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close blob: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename blob: %w", err)
	}

	return id, nil
}

// Open returns a reader for the blob. Caller closes it.
func (s *Store) Open(id string) (io.ReadCloser, error) {
	path, err := s.safePath(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob %s: %w", id, err)
	}
	return f, nil
}

// Delete removes the blob. Deleting a missing id is not an error.
func (s *Store) Delete(id string) error {
	path, err := s.safePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

// safePath rejects ids that would escape the data directory.
func (s *Store) safePath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid blob id %q", id)
	}
	return filepath.Join(s.dataDir, id), nil
}
