// Package gcs archives artifacts in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object path.
	Prefix string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage.bucket is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// NewFromEnv builds a client with application default credentials.
func NewFromEnv(ctx context.Context, cfg Config) (*BlobStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// ObjectName joins the configured prefix and path.
func (s *BlobStore) ObjectName(path string) string {
	path = strings.TrimLeft(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	name := s.ObjectName(path)
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// Close releases the client.
func (s *BlobStore) Close() error {
	return s.client.Close()
}
