package governance

import "github.com/Mindburn-Labs/failsafe/pkg/contracts"

// RuleInfo names a built-in rule.
type RuleInfo struct {
	ID       string
	Name     string
	Severity contracts.Severity
}

func (r RuleInfo) violation(message, fieldPath string) contracts.PolicyViolation {
	return contracts.PolicyViolation{
		RuleID:    r.ID,
		RuleName:  r.Name,
		Severity:  r.Severity,
		Message:   message,
		FieldPath: fieldPath,
	}
}

var (
	RuleMissingContract = RuleInfo{"CONTRACT_001", "missing_contract", contracts.SeverityCritical}

	RuleRequiredFieldMissing = RuleInfo{"SCHEMA_001", "required_field_missing", contracts.SeverityHigh}
	RuleTypeMismatch         = RuleInfo{"SCHEMA_002", "type_mismatch", contracts.SeverityHigh}
	RulePatternMismatch      = RuleInfo{"SCHEMA_003", "pattern_mismatch", contracts.SeverityHigh}
	RuleInvalidEnumValue     = RuleInfo{"SCHEMA_004", "invalid_enum_value", contracts.SeverityHigh}
	RuleBelowMinimum         = RuleInfo{"SCHEMA_005", "below_minimum", contracts.SeverityHigh}
	RuleAboveMaximum         = RuleInfo{"SCHEMA_006", "above_maximum", contracts.SeverityHigh}
	RuleExceedsMaxLength     = RuleInfo{"SCHEMA_007", "exceeds_max_length", contracts.SeverityMedium}
	RuleUnexpectedField      = RuleInfo{"SCHEMA_008", "unexpected_field", contracts.SeverityMedium}

	RuleUnregisteredAgent          = RuleInfo{"AUTH_001", "unregistered_agent", contracts.SeverityCritical}
	RuleInsufficientAuthority      = RuleInfo{"AUTH_002", "insufficient_authority", contracts.SeverityCritical}
	RuleDataClassificationExceeded = RuleInfo{"AUTH_003", "data_classification_exceeded", contracts.SeverityCritical}
	RuleProhibitedAction           = RuleInfo{"AUTH_004", "prohibited_action", contracts.SeverityCritical}
	RuleUnauthorizedAction         = RuleInfo{"AUTH_005", "unauthorized_action", contracts.SeverityHigh}
	RuleMissingComplianceScope     = RuleInfo{"AUTH_006", "missing_compliance_scope", contracts.SeverityHigh}
)
