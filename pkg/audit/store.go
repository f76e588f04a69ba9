// Package audit keeps an append-only trail of handoff validation results
// and computes compliance reports from it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

var (
	ErrRecordNotFound = errors.New("audit record not found")
	ErrChainBroken    = errors.New("hash chain is broken")
	ErrNoRecords      = errors.New("no audit records match filter")
)

// Store is durable append-only storage for validation records. Appends
// are ordered; List returns records in append order.
type Store interface {
	Append(ctx context.Context, rec contracts.Record) error
	Get(ctx context.Context, handoffID string) (contracts.Record, error)
	List(ctx context.Context, f Filter) ([]contracts.Record, error)
}

// Filter narrows a List. Zero fields match everything.
type Filter struct {
	Agent      string // consumer or provider
	ContractID string
	Result     contracts.Outcome
	Blocked    *bool
	Since      time.Time // inclusive
	Until      time.Time // inclusive
	Limit      int
}

func (f Filter) Matches(rec contracts.Record) bool {
	if f.Agent != "" && rec.Consumer != f.Agent && rec.Provider != f.Agent {
		return false
	}
	if f.ContractID != "" && rec.ContractID != f.ContractID {
		return false
	}
	if f.Result != "" && rec.Result != f.Result {
		return false
	}
	if f.Blocked != nil && rec.Blocked != *f.Blocked {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// where renders the filter as a SQL WHERE clause. placeholder returns the
// driver's bind marker for the n-th (1-based) argument; ts converts times
// to the column's stored form.
func (f Filter) where(placeholder func(n int) string, ts func(time.Time) any) (string, []any) {
	var clauses []string
	var args []any
	add := func(expr string, vals ...any) {
		for _, v := range vals {
			args = append(args, v)
			expr = strings.Replace(expr, "?", placeholder(len(args)), 1)
		}
		clauses = append(clauses, expr)
	}

	if f.Agent != "" {
		add("(consumer = ? OR provider = ?)", f.Agent, f.Agent)
	}
	if f.ContractID != "" {
		add("contract_id = ?", f.ContractID)
	}
	if f.Result != "" {
		add("result = ?", string(f.Result))
	}
	if f.Blocked != nil {
		add("blocked = ?", *f.Blocked)
	}
	if !f.Since.IsZero() {
		add("timestamp >= ?", ts(f.Since))
	}
	if !f.Until.IsZero() {
		add("timestamp <= ?", ts(f.Until))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}
