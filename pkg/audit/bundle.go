package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/failsafe/pkg/archive"
	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

const BundleVersion = "1"

var (
	ErrInvalidTimeRange = errors.New("audit: since must not be after until")
	ErrBundleTampered   = errors.New("audit: bundle hash mismatch")
)

// EvidenceBundle is a self-verifying export of audit records.
type EvidenceBundle struct {
	BundleID    string             `json:"bundle_id"`
	Version     string             `json:"version"`
	CreatedAt   time.Time          `json:"created_at"`
	Since       *time.Time         `json:"since,omitempty"`
	Until       *time.Time         `json:"until,omitempty"`
	RecordCount int                `json:"record_count"`
	Records     []contracts.Record `json:"records"`
	// BundleHash commits to every other field in canonical JSON form.
	BundleHash string `json:"bundle_hash,omitempty"`
}

func (b *EvidenceBundle) computeHash() (string, error) {
	unhashed := *b
	unhashed.BundleHash = ""
	return canonicalHash(&unhashed)
}

// VerifyBundle recomputes the bundle hash.
func VerifyBundle(b *EvidenceBundle) error {
	if b.RecordCount != len(b.Records) {
		return fmt.Errorf("%w: record_count %d but %d records", ErrBundleTampered, b.RecordCount, len(b.Records))
	}
	h, err := b.computeHash()
	if err != nil {
		return err
	}
	if h != b.BundleHash {
		return fmt.Errorf("%w: computed %s, stored %s", ErrBundleTampered, h, b.BundleHash)
	}
	return nil
}

// ExportBundle packages the records matching f. Limit is ignored so a
// bundle always covers the whole window.
func (l *Logger) ExportBundle(ctx context.Context, f Filter) (*EvidenceBundle, error) {
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Since.After(f.Until) {
		return nil, ErrInvalidTimeRange
	}
	f.Limit = 0
	records, err := l.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit: list records: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	b := &EvidenceBundle{
		BundleID:    uuid.New().String(),
		Version:     BundleVersion,
		CreatedAt:   l.clock().UTC(),
		RecordCount: len(records),
		Records:     records,
	}
	if !f.Since.IsZero() {
		since := f.Since.UTC()
		b.Since = &since
	}
	if !f.Until.IsZero() {
		until := f.Until.UTC()
		b.Until = &until
	}
	if b.BundleHash, err = b.computeHash(); err != nil {
		return nil, fmt.Errorf("audit: hash bundle: %w", err)
	}
	return b, nil
}

// Archive writes b to store and returns its content digest.
func Archive(ctx context.Context, store archive.Store, b *EvidenceBundle) (string, error) {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: encode bundle: %w", err)
	}
	return store.Put(ctx, raw)
}

// LoadBundle reads and verifies an archived bundle.
func LoadBundle(ctx context.Context, store archive.Store, digest string) (*EvidenceBundle, error) {
	raw, err := store.Get(ctx, digest)
	if err != nil {
		return nil, err
	}
	var b EvidenceBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("audit: decode bundle %s: %w", digest, err)
	}
	if err := VerifyBundle(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
