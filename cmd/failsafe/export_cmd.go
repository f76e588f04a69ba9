package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/Mindburn-Labs/failsafe/pkg/audit"
	"github.com/Mindburn-Labs/failsafe/pkg/config"
)

type exportSummary struct {
	Digest      string `json:"digest"`
	BundleID    string `json:"bundle_id"`
	RecordCount int    `json:"record_count"`
}

// runExportCmd implements `failsafe export`.
//
// Exit codes:
//
//	0 = bundle archived
//	1 = no records matched
//	2 = usage or runtime error
func runExportCmd(args []string, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		outDir  string
		filters filterFlags
	)
	cmd.StringVar(&outDir, "out", "", "Archive into this local directory instead of the configured archive")
	filters.bind(cmd)

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	f, err := filters.filter()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, "")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = a.close(ctx) }()

	bundle, err := a.audit.ExportBundle(ctx, f)
	if errors.Is(err, audit.ErrNoRecords) {
		_, _ = fmt.Fprintln(stderr, "No audit records match the filter.")
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	store, err := a.archive(ctx, outDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	digest, err := audit.Archive(ctx, store, bundle)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	logger.Info("evidence bundle archived", "digest", digest, "records", bundle.RecordCount)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(exportSummary{Digest: digest, BundleID: bundle.BundleID, RecordCount: bundle.RecordCount})
	return 0
}
