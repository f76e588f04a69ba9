package contracts

import (
	"fmt"
	"strings"
	"time"
)

// HandoffValidationResult is the outcome of validating one handoff.
type HandoffValidationResult struct {
	HandoffID            string
	Timestamp            time.Time
	ContractID           string
	Consumer             string
	Provider             string
	Direction            Direction
	SchemaViolations     []PolicyViolation
	PolicyViolations     []PolicyViolation
	AuthorityViolations  []PolicyViolation
	ValidationDurationMs float64
	// Payload is an optional snapshot kept for audit.
	Payload *HandoffPayload
}

// AllViolations returns schema, authority and policy violations in that order.
func (r *HandoffValidationResult) AllViolations() []PolicyViolation {
	out := make([]PolicyViolation, 0, r.TotalViolations())
	out = append(out, r.SchemaViolations...)
	out = append(out, r.AuthorityViolations...)
	out = append(out, r.PolicyViolations...)
	return out
}

func (r *HandoffValidationResult) TotalViolations() int {
	return len(r.SchemaViolations) + len(r.PolicyViolations) + len(r.AuthorityViolations)
}

// OverallResult is fail on any high or critical violation, warn on any
// medium, pass otherwise.
func (r *HandoffValidationResult) OverallResult() Outcome {
	worst := -1
	for _, v := range r.AllViolations() {
		if rank := v.Severity.Rank(); rank > worst {
			worst = rank
		}
	}
	switch {
	case worst >= severityRank[SeverityHigh]:
		return OutcomeFail
	case worst == severityRank[SeverityMedium]:
		return OutcomeWarn
	default:
		return OutcomePass
	}
}

// IsBlocked is derived from the violations so it can never disagree with them.
func (r *HandoffValidationResult) IsBlocked() bool {
	for _, v := range r.AllViolations() {
		if v.Blocking() {
			return true
		}
	}
	return false
}

// Passed reports a pass outcome.
func (r *HandoffValidationResult) Passed() bool {
	return r.OverallResult() == OutcomePass
}

// Summary renders a one-line description for logs and CLI output.
func (r *HandoffValidationResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s -> %s: %s", r.Consumer, r.Provider, strings.ToUpper(string(r.OverallResult())))
	if n := r.TotalViolations(); n > 0 {
		fmt.Fprintf(&b, " (%d violations", n)
		if r.IsBlocked() {
			b.WriteString(", blocked")
		}
		b.WriteString(")")
	}
	return b.String()
}

// Violations groups the three violation layers on the wire.
type Violations struct {
	Schema    []PolicyViolation `json:"schema"`
	Policy    []PolicyViolation `json:"policy"`
	Authority []PolicyViolation `json:"authority"`
}

// Record is the stable serialized form of a result, shared by the audit
// stores, the CLI and the message adapter.
type Record struct {
	HandoffID            string         `json:"handoff_id"`
	Timestamp            time.Time      `json:"timestamp"`
	ContractID           string         `json:"contract_id"`
	Consumer             string         `json:"consumer"`
	Provider             string         `json:"provider"`
	Direction            Direction      `json:"direction"`
	Result               Outcome        `json:"result"`
	Blocked              bool           `json:"blocked"`
	Violations           Violations     `json:"violations"`
	TotalViolations      int            `json:"total_violations"`
	ValidationDurationMs float64        `json:"validation_duration_ms"`
	Payload              map[string]any `json:"payload,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

func nonNil(v []PolicyViolation) []PolicyViolation {
	if v == nil {
		return []PolicyViolation{}
	}
	return v
}

// Record converts r to its wire form.
func (r *HandoffValidationResult) Record() Record {
	rec := Record{
		HandoffID:  r.HandoffID,
		Timestamp:  r.Timestamp,
		ContractID: r.ContractID,
		Consumer:   r.Consumer,
		Provider:   r.Provider,
		Direction:  r.Direction,
		Result:     r.OverallResult(),
		Blocked:    r.IsBlocked(),
		Violations: Violations{
			Schema:    nonNil(r.SchemaViolations),
			Policy:    nonNil(r.PolicyViolations),
			Authority: nonNil(r.AuthorityViolations),
		},
		TotalViolations:      r.TotalViolations(),
		ValidationDurationMs: r.ValidationDurationMs,
	}
	if r.Payload != nil {
		rec.Payload = r.Payload.Data
		rec.Metadata = r.Payload.Metadata
	}
	return rec
}

// ValidationResult rebuilds a result from a stored record.
func (rec Record) ValidationResult() *HandoffValidationResult {
	r := &HandoffValidationResult{
		HandoffID:            rec.HandoffID,
		Timestamp:            rec.Timestamp,
		ContractID:           rec.ContractID,
		Consumer:             rec.Consumer,
		Provider:             rec.Provider,
		Direction:            rec.Direction,
		SchemaViolations:     rec.Violations.Schema,
		PolicyViolations:     rec.Violations.Policy,
		AuthorityViolations:  rec.Violations.Authority,
		ValidationDurationMs: rec.ValidationDurationMs,
	}
	if rec.Payload != nil || rec.Metadata != nil {
		r.Payload = &HandoffPayload{
			HandoffID: rec.HandoffID,
			Timestamp: rec.Timestamp,
			Data:      rec.Payload,
			Metadata:  rec.Metadata,
		}
	}
	return r
}

// AllViolations returns every violation of the record.
func (rec Record) AllViolations() []PolicyViolation {
	out := make([]PolicyViolation, 0, rec.TotalViolations)
	out = append(out, rec.Violations.Schema...)
	out = append(out, rec.Violations.Authority...)
	out = append(out, rec.Violations.Policy...)
	return out
}

// Agents returns the distinct agent names involved in the record.
func (rec Record) Agents() []string {
	if rec.Consumer == rec.Provider {
		return []string{rec.Consumer}
	}
	return []string{rec.Consumer, rec.Provider}
}
