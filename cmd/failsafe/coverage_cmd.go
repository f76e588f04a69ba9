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

// runCoverageCmd implements `failsafe coverage`: for every ordered pair of
// agents named in a contract, whether a contract covers it.
func runCoverageCmd(args []string, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("coverage", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var contractsDir string
	cmd.StringVar(&contractsDir, "contracts", cfg.ContractsDir, "Directory of contract documents")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, contractsDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = a.close(ctx) }()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a.registry.CoverageMatrix()); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}
