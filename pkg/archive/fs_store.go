package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FSStore keeps bundles as files under a directory.
type FSStore struct {
	dir string
	mu  sync.RWMutex
}

func NewFSStore(dir string) (*FSStore, error) {
	//nolint:gosec // G301: evidence directory is shared with auditors
	if err := os.MkdirAll(filepath.Join(dir, "bundles"), 0755); err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(digest string) (string, error) {
	key, err := objectKey("", digest)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

func (s *FSStore) Put(_ context.Context, bundle []byte) (string, error) {
	digest := Digest(bundle)
	path, err := s.path(digest)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}
	tmp := path + ".tmp"
	//nolint:gosec // G306: bundles are meant to be readable
	if err := os.WriteFile(tmp, bundle, 0644); err != nil {
		return "", fmt.Errorf("archive: write bundle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("archive: commit bundle: %w", err)
	}
	return digest, nil
}

func (s *FSStore) Get(_ context.Context, digest string) ([]byte, error) {
	path, err := s.path(digest)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(path) //nolint:gosec // path derived from a validated digest
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	return b, err
}

func (s *FSStore) Has(_ context.Context, digest string) (bool, error) {
	path, err := s.path(digest)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *FSStore) Remove(_ context.Context, digest string) error {
	path, err := s.path(digest)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
