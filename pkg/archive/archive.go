// Package archive keeps exported audit evidence bundles in immutable,
// digest-addressed storage.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("bundle not found in archive")
	ErrInvalidDigest = errors.New("invalid bundle digest")
)

const digestPrefix = "sha256:"

// Store persists bundles under the SHA-256 digest of their bytes. Put is
// idempotent: storing the same bytes twice yields the same digest.
type Store interface {
	Put(ctx context.Context, bundle []byte) (string, error)
	Get(ctx context.Context, digest string) ([]byte, error)
	Has(ctx context.Context, digest string) (bool, error)
	Remove(ctx context.Context, digest string) error
}

// Digest returns the "sha256:<hex>" digest of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// objectKey maps a digest to its key under prefix.
func objectKey(prefix, digest string) (string, error) {
	raw, ok := strings.CutPrefix(digest, digestPrefix)
	if !ok || len(raw) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidDigest, digest)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDigest, digest)
	}
	return prefix + "bundles/" + raw + ".json", nil
}

// Backend names an archive implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Backend  Backend
	Dir      string // fs
	Bucket   string // s3, gcs
	Prefix   string // s3, gcs
	Region   string // s3
	Endpoint string // s3-compatible endpoints such as MinIO
}

// Open builds the Store described by cfg. The GCS backend needs the gcp
// build tag.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "data/evidence"
		}
		return NewFSStore(dir)
	case BackendS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("archive: bucket is required for s3")
		}
		return NewS3Store(ctx, S3Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix, Region: cfg.Region, Endpoint: cfg.Endpoint})
	case BackendGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("archive: bucket is required for gcs")
		}
		return openGCS(ctx, cfg)
	default:
		return nil, fmt.Errorf("archive: unsupported backend %q", cfg.Backend)
	}
}
