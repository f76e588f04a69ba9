// Command failsafe validates agent handoffs against registered contracts
// and reports on the audit trail.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Mindburn-Labs/failsafe/pkg/config"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success (validation pass or warn)
//	1 = validation failed or bundle did not verify
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: config: %v\n", err)
		return 2
	}
	logger := newLogger(cfg, stderr)
	logger.Debug("configuration loaded",
		"audit_driver", cfg.Audit.Driver,
		"archive", cfg.Archive.Type,
		"policy_packs", cfg.PolicyPacks,
		"strict", cfg.Strict,
	)

	switch args[1] {
	case "validate":
		return runValidateCmd(args[2:], cfg, logger, stdout, stderr)
	case "report":
		return runReportCmd(args[2:], cfg, logger, stdout, stderr)
	case "coverage":
		return runCoverageCmd(args[2:], cfg, logger, stdout, stderr)
	case "export":
		return runExportCmd(args[2:], cfg, logger, stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], cfg, logger, stdout, stderr)
	case "publish":
		return runPublishCmd(args[2:], cfg, logger, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, `Usage: failsafe <command> [flags]

Commands:
  validate   Validate one handoff request and record it in the audit trail
  report     Print the compliance summary of the audit trail
  coverage   Print the contract coverage matrix
  export     Archive an evidence bundle of audit records
  verify     Verify an archived evidence bundle
  publish    Store contract documents in the Postgres registry
  help       Show this message

Configuration comes from the environment (LOG_LEVEL, LOG_FORMAT,
FAILSAFE_*), an optional .env file and the YAML file in FAILSAFE_CONFIG.
`)
}

// newLogger installs and returns the process logger.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
