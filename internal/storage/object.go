package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitalstream/backend/internal/models"
)

// ObjectStore holds durable original file bytes and hands out
// client-facing URLs for them. Reads go through Path; the files
// endpoint serves stored objects straight off the filesystem.
type ObjectStore interface {
	Save(name, contentType string, r io.Reader) (*models.StoredObject, error)
	Path(key string) (string, error)
	Delete(key string) error
	URLFor(key string) string
}

// LocalObjectStore implements ObjectStore on the local filesystem,
// one uuid-keyed file per object.
type LocalObjectStore struct {
	mu      sync.RWMutex
	baseDir string
	objects map[string]*models.StoredObject
}

// NewLocalObjectStore creates a store rooted at baseDir.
func NewLocalObjectStore(baseDir string) (*LocalObjectStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating object directory: %w", err)
	}
	return &LocalObjectStore{
		baseDir: baseDir,
		objects: make(map[string]*models.StoredObject),
	}, nil
}

// Save writes the object bytes under a fresh uuid key.
func (s *LocalObjectStore) Save(name, contentType string, r io.Reader) (*models.StoredObject, error) {
	key := uuid.New().String()
	path := filepath.Join(s.baseDir, key)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating object file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing object file: %w", err)
	}

	obj := &models.StoredObject{
		Key:         key,
		Name:        name,
		Size:        size,
		ContentType: contentType,
		UploadedAt:  time.Now(),
	}

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()

	return obj, nil
}

// Path returns the absolute path of a stored object.
func (s *LocalObjectStore) Path(key string) (string, error) {
	path := filepath.Join(s.baseDir, key)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("object not found: %s", key)
	}
	return path, nil
}

// Delete removes the stored bytes and metadata.
func (s *LocalObjectStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()

	path := filepath.Join(s.baseDir, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// URLFor returns the client-facing URL for a stored object. A
// signed-URL generator in front of an object storage service would
// slot in here; the local store serves through the files endpoint.
func (s *LocalObjectStore) URLFor(key string) string {
	return "/api/files/" + key
}

var _ ObjectStore = (*LocalObjectStore)(nil)
