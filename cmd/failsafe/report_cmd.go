package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/Mindburn-Labs/failsafe/pkg/config"
)

// runReportCmd implements `failsafe report`.
func runReportCmd(args []string, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("report", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		format  string
		filters filterFlags
	)
	cmd.StringVar(&format, "format", "json", "Output format: json or text")
	filters.bind(cmd)

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if format != "json" && format != "text" {
		_, _ = fmt.Fprintf(stderr, "Error: unknown format %q\n", format)
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

	report, err := a.audit.Report(ctx, f)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if format == "text" {
		err = report.WriteText(stdout)
	} else {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(report)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}
