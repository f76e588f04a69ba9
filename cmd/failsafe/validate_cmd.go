package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mindburn-Labs/failsafe/pkg/config"
	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
	"github.com/Mindburn-Labs/failsafe/pkg/interceptor"
)

// validateRequest is the JSON document read by the validate command.
// With Envelope set, the request is an agent-to-agent message and Data
// and Metadata are ignored.
type validateRequest struct {
	Consumer  string         `json:"consumer"`
	Provider  string         `json:"provider"`
	Direction string         `json:"direction,omitempty"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Envelope  map[string]any `json:"a2a,omitempty"`
}

// runValidateCmd implements `failsafe validate`.
//
// Exit codes:
//
//	0 = pass or warn
//	1 = fail
//	2 = usage or runtime error
func runValidateCmd(args []string, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		contractsDir string
		requestPath  string
		direction    string
		metricsFile  string
	)
	cmd.StringVar(&contractsDir, "contracts", cfg.ContractsDir, "Directory of contract documents")
	cmd.StringVar(&requestPath, "request", "", "Handoff request JSON file, or - for stdin (REQUIRED)")
	cmd.StringVar(&direction, "direction", "", "request or response (overrides the request file)")
	cmd.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if requestPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --request is required")
		return 2
	}

	req, err := readRequest(requestPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if direction != "" {
		req.Direction = direction
	}
	d := contracts.Direction(req.Direction)
	switch d {
	case "":
		d = contracts.DirectionRequest
	case contracts.DirectionRequest, contracts.DirectionResponse:
	default:
		_, _ = fmt.Fprintf(stderr, "Error: unknown direction %q\n", req.Direction)
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, contractsDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var (
		result *contracts.HandoffValidationResult
		out    any
	)
	switch {
	case req.Envelope != nil:
		var envelope map[string]any
		result, envelope = a.interceptor.WrapA2AMessage(ctx, req.Consumer, req.Provider, req.Envelope)
		out = envelope
	case d == contracts.DirectionResponse:
		result = a.interceptor.ValidateIncoming(ctx, req.Consumer, req.Provider, req.Data, req.Metadata)
		out = result.Record()
	default:
		guard := a.interceptor.Guard(req.Consumer, req.Provider, interceptor.WithRaiseOnBlock(cfg.Strict))
		var blocked *interceptor.HandoffBlockedError
		result, err = guard.Send(ctx, req.Data, req.Metadata)
		if errors.As(err, &blocked) {
			_, _ = fmt.Fprintf(stderr, "%v\n", blocked)
		}
		out = result.Record()
	}

	if err := a.close(ctx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, a.metrics); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: write metrics: %v\n", err)
			return 2
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stderr, result.Summary())

	if result.OverallResult() == contracts.OutcomeFail {
		return 1
	}
	return 0
}

func readRequest(path string) (*validateRequest, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path) //nolint:gosec // operator-supplied path
	}
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	var req validateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if req.Consumer == "" || req.Provider == "" {
		return nil, errors.New("request needs consumer and provider")
	}
	return &req, nil
}
