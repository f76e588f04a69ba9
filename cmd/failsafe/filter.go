package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/failsafe/pkg/audit"
	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

// filterFlags binds the audit query flags shared by report and export.
type filterFlags struct {
	agent      string
	contractID string
	result     string
	since      string
	until      string
}

func (f *filterFlags) bind(cmd *flag.FlagSet) {
	cmd.StringVar(&f.agent, "agent", "", "Only handoffs where this agent is consumer or provider")
	cmd.StringVar(&f.contractID, "contract", "", "Only handoffs under this contract ID")
	cmd.StringVar(&f.result, "result", "", "Only handoffs with this result (pass, warn, fail)")
	cmd.StringVar(&f.since, "since", "", "Start of the window, RFC 3339")
	cmd.StringVar(&f.until, "until", "", "End of the window, RFC 3339")
}

func (f *filterFlags) filter() (audit.Filter, error) {
	out := audit.Filter{
		Agent:      f.agent,
		ContractID: f.contractID,
		Result:     contracts.Outcome(f.result),
	}
	var err error
	if f.since != "" {
		if out.Since, err = time.Parse(time.RFC3339, f.since); err != nil {
			return out, fmt.Errorf("--since: %w", err)
		}
	}
	if f.until != "" {
		if out.Until, err = time.Parse(time.RFC3339, f.until); err != nil {
			return out, fmt.Errorf("--until: %w", err)
		}
	}
	return out, nil
}
