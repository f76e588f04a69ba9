package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdering(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())

	assert.False(t, SeverityMedium.Blocking())
	assert.True(t, SeverityHigh.Blocking())
	assert.True(t, SeverityCritical.Blocking())
	assert.False(t, Severity("bogus").Blocking())

	assert.True(t, AuthorityExecute.AtLeast(AuthorityReadWrite))
	assert.False(t, AuthorityReadOnly.AtLeast(AuthorityReadWrite))
	assert.Less(t, ClassificationInternal.Rank(), ClassificationRestricted.Rank())
}

func TestOverallResultAndBlocking(t *testing.T) {
	tests := []struct {
		name    string
		result  HandoffValidationResult
		outcome Outcome
		blocked bool
	}{
		{"empty", HandoffValidationResult{}, OutcomePass, false},
		{"low only", HandoffValidationResult{PolicyViolations: []PolicyViolation{{Severity: SeverityLow}}}, OutcomePass, false},
		{"medium", HandoffValidationResult{SchemaViolations: []PolicyViolation{{Severity: SeverityMedium}}}, OutcomeWarn, false},
		{"high", HandoffValidationResult{AuthorityViolations: []PolicyViolation{{Severity: SeverityHigh}}}, OutcomeFail, true},
		{"mixed", HandoffValidationResult{
			SchemaViolations: []PolicyViolation{{Severity: SeverityMedium}},
			PolicyViolations: []PolicyViolation{{Severity: SeverityCritical}},
		}, OutcomeFail, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.outcome, tt.result.OverallResult())
			assert.Equal(t, tt.blocked, tt.result.IsBlocked())
		})
	}
}

func TestRecordWireShape(t *testing.T) {
	p := NewPayload(map[string]any{"symbol": "AAPL"}, map[string]any{"action": "recommend"})
	r := &HandoffValidationResult{
		HandoffID:  p.HandoffID,
		Timestamp:  p.Timestamp,
		ContractID: "trade-001",
		Consumer:   "research",
		Provider:   "trader",
		Direction:  DirectionRequest,
		SchemaViolations: []PolicyViolation{{
			RuleID: "SCHEMA_001", RuleName: "required_field_missing", Severity: SeverityHigh,
			Message: "Required field 'amount' is missing", FieldPath: "amount",
		}},
		Payload: &p,
	}

	raw, err := json.Marshal(r.Record())
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "fail", wire["result"])
	assert.Equal(t, true, wire["blocked"])
	assert.EqualValues(t, 1, wire["total_violations"])

	violations := wire["violations"].(map[string]any)
	assert.Len(t, violations["schema"], 1)
	assert.NotNil(t, violations["policy"], "empty layers serialize as []")
	v := violations["schema"].([]any)[0].(map[string]any)
	assert.Equal(t, "SCHEMA_001", v["rule_id"])
	assert.Equal(t, "amount", v["field_path"])

	var back Record
	require.NoError(t, json.Unmarshal(raw, &back))
	rebuilt := back.ValidationResult()
	assert.Equal(t, OutcomeFail, rebuilt.OverallResult())
	assert.Equal(t, "AAPL", rebuilt.Payload.Data["symbol"])
	assert.Equal(t, "recommend", rebuilt.Payload.Action())
}

func TestSummary(t *testing.T) {
	r := &HandoffValidationResult{Consumer: "a", Provider: "b"}
	assert.Equal(t, "a -> b: PASS", r.Summary())

	r.PolicyViolations = []PolicyViolation{{Severity: SeverityCritical}}
	assert.Equal(t, "a -> b: FAIL (1 violations, blocked)", r.Summary())
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, DirectionRequest, d)

	d, err = ParseDirection("response")
	require.NoError(t, err)
	assert.Equal(t, DirectionResponse, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}
