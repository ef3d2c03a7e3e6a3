// Package gcs archives report artifacts in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// DefaultCacheControl keeps archived reports out of shared caches.
const DefaultCacheControl = "private, max-age=0"

// Config names the destination bucket and object headers.
type Config struct {
	Bucket       string
	CacheControl string
}

// BlobStore writes report objects to a single bucket.
type BlobStore struct {
	client       *storage.Client
	bucket       string
	cacheControl string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = DefaultCacheControl
	}
	return &BlobStore{client: client, bucket: bucket, cacheControl: cfg.CacheControl}, nil
}

// PutObject uploads r to objectPath and returns its gs:// URI. Objects are
// served as attachments named after the last path segment.
func (s *BlobStore) PutObject(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error) {
	objectPath = strings.TrimPrefix(strings.TrimSpace(objectPath), "/")
	if objectPath == "" {
		return "", errors.New("path is required")
	}
	w := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = s.cacheControl
	w.ContentDisposition = fmt.Sprintf("attachment; filename=%q", path.Base(objectPath))

	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("upload %s: %w (close writer: %v)", objectPath, err, closeErr)
		}
		return "", fmt.Errorf("upload %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", objectPath, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectPath), nil
}
