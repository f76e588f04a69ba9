package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/failsafe/pkg/archive"
)

func TestExportBundle_ArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLogger(nil, WithClock(func() time.Time { return t0.Add(time.Hour) }))
	seed(t, l)

	b, err := l.ExportBundle(ctx, Filter{Agent: "research", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, b.RecordCount)
	assert.Equal(t, BundleVersion, b.Version)
	assert.NotEmpty(t, b.BundleID)
	assert.Contains(t, b.BundleHash, "sha256:")
	require.NoError(t, VerifyBundle(b))

	store, err := archive.NewFSStore(t.TempDir())
	require.NoError(t, err)
	digest, err := Archive(ctx, store, b)
	require.NoError(t, err)

	again, err := Archive(ctx, store, b)
	require.NoError(t, err)
	assert.Equal(t, digest, again)

	loaded, err := LoadBundle(ctx, store, digest)
	require.NoError(t, err)
	assert.Equal(t, b.BundleHash, loaded.BundleHash)
	assert.Equal(t, "h4", loaded.Records[2].HandoffID)
}

func TestExportBundle_TimeWindow(t *testing.T) {
	ctx := context.Background()
	l := NewLogger(nil)
	seed(t, l)

	b, err := l.ExportBundle(ctx, Filter{Since: t0.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 2, b.RecordCount)
	require.NotNil(t, b.Since)
	assert.Nil(t, b.Until)

	_, err = l.ExportBundle(ctx, Filter{Since: t0.Add(time.Hour), Until: t0})
	assert.ErrorIs(t, err, ErrInvalidTimeRange)

	_, err = l.ExportBundle(ctx, Filter{Agent: "nobody"})
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestVerifyBundle_DetectsTampering(t *testing.T) {
	l := NewLogger(nil)
	seed(t, l)
	b, err := l.ExportBundle(context.Background(), Filter{})
	require.NoError(t, err)

	b.Records[3].Blocked = false
	assert.ErrorIs(t, VerifyBundle(b), ErrBundleTampered)

	b.Records[3].Blocked = true
	require.NoError(t, VerifyBundle(b))

	b.Records = b.Records[:4]
	assert.ErrorIs(t, VerifyBundle(b), ErrBundleTampered)
}
