//go:build gcp

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore keeps bundles in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore authenticates with application default credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func openGCS(ctx context.Context, cfg Config) (Store, error) {
	return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
}

func (s *GCSStore) object(digest string) (*storage.ObjectHandle, error) {
	key, err := objectKey(s.prefix, digest)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(s.bucket).Object(key), nil
}

func (s *GCSStore) Put(ctx context.Context, bundle []byte) (string, error) {
	digest := Digest(bundle)
	obj, err := s.object(digest)
	if err != nil {
		return "", err
	}
	if _, err := obj.Attrs(ctx); err == nil {
		return digest, nil
	}

	// DoesNotExist makes concurrent writers of the same bundle race safely.
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(bundle); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: gcs commit: %w", err)
	}
	return digest, nil
}

func (s *GCSStore) Get(ctx context.Context, digest string) ([]byte, error) {
	obj, err := s.object(digest)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: gcs read: %w", err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSStore) Has(ctx context.Context, digest string) (bool, error) {
	obj, err := s.object(digest)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *GCSStore) Remove(ctx context.Context, digest string) error {
	obj, err := s.object(digest)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("archive: gcs delete: %w", err)
	}
	return nil
}
