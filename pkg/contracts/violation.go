package contracts

// Violation categories (validation layers).
const (
	CategorySchema    = "schema"
	CategoryAuthority = "authority"
	CategoryPolicy    = "policy"
)

// PolicyViolation is a single rule failure.
type PolicyViolation struct {
	RuleID     string   `json:"rule_id"`
	RuleName   string   `json:"rule_name"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	FieldPath  string   `json:"field_path,omitempty"`
	Expected   any      `json:"expected,omitempty"`
	Actual     any      `json:"actual,omitempty"`
	PolicyPack string   `json:"policy_pack,omitempty"`
}

// Key identifies a rule for aggregation, e.g. "SCHEMA_001: required_field_missing".
func (v PolicyViolation) Key() string {
	return v.RuleID + ": " + v.RuleName
}

// Blocking reports whether v alone is enough to block a handoff.
func (v PolicyViolation) Blocking() bool {
	return v.Severity.Blocking()
}
