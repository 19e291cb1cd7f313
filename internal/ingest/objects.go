package ingest

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"kgraph/internal/kgerrors"
)

// ObjectStore keeps raw ingested bytes (image documents) on the local
// filesystem under a data directory. Keys are relative slash paths minted
// by the intake layer, e.g. "objects/d_ab12cd34ef56.png".
type ObjectStore struct {
	root   string
	logger *zap.Logger
}

// NewObjectStore creates the backing directory if needed.
func NewObjectStore(root string, logger *zap.Logger) (*ObjectStore, error) {
	if root == "" {
		root = "data"
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, kgerrors.Internal(err, "create object store dir %s", root)
	}
	return &ObjectStore{root: root, logger: logger}, nil
}

// Put writes data under key, creating parent directories as needed.
func (s *ObjectStore) Put(key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return kgerrors.Internal(err, "object store: mkdir for %s", key)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return kgerrors.Internal(err, "object store: write %s", key)
	}
	s.logger.Debug("stored object", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// Get reads the object at key.
func (s *ObjectStore) Get(key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, kgerrors.NotFound("object", key)
	}
	if err != nil {
		return nil, kgerrors.Internal(err, "object store: read %s", key)
	}
	return data, nil
}

// Delete removes the object at key. Missing objects are not an error.
func (s *ObjectStore) Delete(key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return kgerrors.Internal(err, "object store: delete %s", key)
	}
	return nil
}

// resolve maps a key to an absolute path and refuses escapes from the root.
func (s *ObjectStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", kgerrors.Validation("invalid object key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}
