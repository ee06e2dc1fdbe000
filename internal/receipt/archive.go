package receipt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// Archiver keeps a durable off-site copy of approved receipt images.
type Archiver interface {
	// Archive uploads the file and returns its archive location
	Archive(ctx context.Context, filename string, data []byte) (string, error)
	// Close releases the archiver's resources
	Close() error
}

// GCSArchive implements Archiver against a Google Cloud Storage bucket.
// It assumes Application Default Credentials are configured.
type GCSArchive struct {
	client *storage.Client
	bucket string
}

// NewGCSArchive creates a GCSArchive writing to the named bucket
func NewGCSArchive(ctx context.Context, bucket string) (*GCSArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &GCSArchive{
		client: client,
		bucket: bucket,
	}, nil
}

// Archive uploads the file under receipts/<date>/<uuid>_<filename> and
// returns its gs:// URI.
func (g *GCSArchive) Archive(ctx context.Context, filename string, data []byte) (string, error) {
	objectName := path.Join("receipts",
		time.Now().UTC().Format("2006-01-02"),
		uuid.New().String()+"_"+path.Base(filename))

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return "", fmt.Errorf("uploading to archive: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucket, objectName), nil
}

// Close releases the underlying storage client
func (g *GCSArchive) Close() error {
	return g.client.Close()
}

// NoopArchive is used when no archive bucket is configured.
type NoopArchive struct{}

// Archive does nothing and returns an empty location
func (NoopArchive) Archive(ctx context.Context, filename string, data []byte) (string, error) {
	return "", nil
}

// Close does nothing
func (NoopArchive) Close() error {
	return nil
}
