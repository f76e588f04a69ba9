package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/Mindburn-Labs/failsafe/pkg/archive"
	"github.com/Mindburn-Labs/failsafe/pkg/audit"
	"github.com/Mindburn-Labs/failsafe/pkg/config"
)

// runVerifyCmd implements `failsafe verify`.
//
// Exit codes:
//
//	0 = bundle intact
//	1 = bundle missing or tampered
//	2 = usage or runtime error
func runVerifyCmd(args []string, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		digest string
		dir    string
	)
	cmd.StringVar(&digest, "digest", "", "Digest printed by export (REQUIRED)")
	cmd.StringVar(&dir, "dir", "", "Read from this local directory instead of the configured archive")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if digest == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --digest is required")
		return 2
	}

	ctx := context.Background()
	a := &app{cfg: cfg, logger: logger}
	store, err := a.archive(ctx, dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	bundle, err := audit.LoadBundle(ctx, store, digest)
	switch {
	case errors.Is(err, audit.ErrBundleTampered):
		_, _ = fmt.Fprintf(stderr, "FAIL: %v\n", err)
		return 1
	case errors.Is(err, archive.ErrNotFound):
		_, _ = fmt.Fprintf(stderr, "FAIL: %v\n", err)
		return 1
	case err != nil:
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "OK: bundle %s holds %d records (%s)\n", bundle.BundleID, bundle.RecordCount, bundle.BundleHash)
	return 0
}
