package receipt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Storage buckets mirror the review workflow: files land in BucketNew and
// move once a reviewer decides, or to BucketFailed when the pipeline gives up.
const (
	BucketNew      = "new"
	BucketApproved = "approved"
	BucketRejected = "rejected"
	BucketFailed   = "failed"
)

// Storage defines the interface for receipt file storage
type Storage interface {
	// Save writes a file into a bucket and returns its storage path
	Save(bucket, filename string, data []byte) (string, error)

	// Get retrieves a file by its storage path
	Get(path string) ([]byte, error)

	// Move relocates a stored file to another bucket and returns the new path
	Move(path, bucket string) (string, error)

	// Delete removes a stored file
	Delete(path string) error
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a LocalStorage rooted at basePath, creating the
// bucket directories if they don't exist.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	for _, bucket := range []string{BucketNew, BucketApproved, BucketRejected, BucketFailed} {
		if err := os.MkdirAll(filepath.Join(basePath, bucket), 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes a file into a bucket under a timestamped name so repeated
// uploads of the same filename never collide.
func (l *LocalStorage) Save(bucket, filename string, data []byte) (string, error) {
	name := time.Now().Format("20060102_150405") + "_" + filepath.Base(filename)
	path := filepath.Join(bucket, name)
	full, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return path, nil
}

// Get retrieves a file by its storage path
func (l *LocalStorage) Get(path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Move relocates a stored file to another bucket, keeping its name
func (l *LocalStorage) Move(path, bucket string) (string, error) {
	oldFull, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	newPath := filepath.Join(bucket, filepath.Base(path))
	if newPath == path {
		return path, nil
	}
	if err := os.Rename(oldFull, filepath.Join(l.basePath, newPath)); err != nil {
		return "", fmt.Errorf("moving file: %w", err)
	}
	return newPath, nil
}

// Delete removes a stored file
func (l *LocalStorage) Delete(path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// resolve maps a storage path to a filesystem path, refusing traversal
// outside the storage root.
func (l *LocalStorage) resolve(path string) (string, error) {
	if path == "" || strings.Contains(path, "..") {
		return "", fmt.Errorf("invalid storage path %q", path)
	}
	return filepath.Join(l.basePath, path), nil
}
