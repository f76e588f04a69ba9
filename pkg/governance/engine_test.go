package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
	"github.com/Mindburn-Labs/failsafe/pkg/policypack"
	"github.com/Mindburn-Labs/failsafe/pkg/policypack/finance"
	"github.com/Mindburn-Labs/failsafe/pkg/registry"
)

func ptr[T any](v T) *T { return &v }

func tradeRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, r.RegisterAgent(&contracts.AgentIdentity{
		Name:                  "research",
		AuthorityLevel:        contracts.AuthorityReadWrite,
		MaxDataClassification: contracts.ClassificationConfidential,
		ComplianceScopes:      []string{"SOX"},
	}))
	require.NoError(t, r.RegisterAgent(&contracts.AgentIdentity{Name: "trader", AuthorityLevel: contracts.AuthorityExecute}))
	_, err := r.RegisterContract(&contracts.HandoffContract{
		ContractID:    "trade-001",
		ConsumerAgent: "research",
		ProviderAgent: "trader",
		RequestSchema: []contracts.FieldContract{
			{Name: "symbol", Type: contracts.FieldString, Required: true, Pattern: "^[A-Z]{1,5}$"},
			{Name: "amount", Type: contracts.FieldNumber, Required: true, MinValue: ptr(0.0), MaxValue: ptr(100000.0)},
			{Name: "side", Type: contracts.FieldString, EnumValues: []any{"buy", "sell"}},
			{Name: "note", Type: contracts.FieldString, MaxLength: ptr(5)},
			{Name: "lots", Type: contracts.FieldNumber, EnumValues: []any{1, 10, 100}},
		},
		ResponseSchema: []contracts.FieldContract{
			{Name: "order_id", Type: contracts.FieldString, Required: true},
		},
		RequiredAuthority:        contracts.AuthorityReadWrite,
		AllowedActions:           []string{"recommend", "quote"},
		ProhibitedActions:        []string{"execute_order"},
		RequiredComplianceScopes: []string{"SOX"},
	})
	require.NoError(t, err)
	return r
}

func validate(e *Engine, data, meta map[string]any) *contracts.HandoffValidationResult {
	return e.ValidateHandoff(context.Background(), "research", "trader", contracts.NewPayload(data, meta), contracts.DirectionRequest)
}

func ruleNames(vs []contracts.PolicyViolation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.RuleName)
	}
	return out
}

func TestHappyPath(t *testing.T) {
	e := NewEngine(tradeRegistry(t))
	res := validate(e, map[string]any{"symbol": "AAPL", "amount": 5000}, nil)

	assert.Equal(t, contracts.OutcomePass, res.OverallResult())
	assert.False(t, res.IsBlocked())
	assert.Zero(t, res.TotalViolations())
	assert.Equal(t, "trade-001", res.ContractID)
	assert.NotEmpty(t, res.HandoffID)
	assert.GreaterOrEqual(t, res.ValidationDurationMs, 0.0)
}

func TestMissingRequiredField(t *testing.T) {
	e := NewEngine(tradeRegistry(t))
	res := validate(e, map[string]any{"symbol": "AAPL"}, nil)

	assert.Equal(t, contracts.OutcomeFail, res.OverallResult())
	require.Len(t, res.SchemaViolations, 1)
	assert.Equal(t, "required_field_missing", res.SchemaViolations[0].RuleName)
	assert.Equal(t, "amount", res.SchemaViolations[0].FieldPath)
	assert.Equal(t, "SCHEMA_001", res.SchemaViolations[0].RuleID)
}

func TestMissingContract(t *testing.T) {
	e := NewEngine(tradeRegistry(t), WithPolicyPacks(finance.New()))
	res := e.ValidateHandoff(context.Background(), "trader", "research", contracts.NewPayload(map[string]any{"note": "SSN 123-45-6789"}, nil), "")

	assert.Equal(t, contracts.OutcomeFail, res.OverallResult())
	assert.True(t, res.IsBlocked())
	require.Len(t, res.SchemaViolations, 1)
	assert.Equal(t, "missing_contract", res.SchemaViolations[0].RuleName)
	assert.Equal(t, contracts.SeverityCritical, res.SchemaViolations[0].Severity)
	assert.Empty(t, res.AuthorityViolations)
	assert.Empty(t, res.PolicyViolations)
	assert.Equal(t, contracts.DirectionRequest, res.Direction)
}

func TestSchemaChecks(t *testing.T) {
	e := NewEngine(tradeRegistry(t))

	tests := []struct {
		name  string
		data  map[string]any
		rules []string
	}{
		{"type mismatch stops further checks", map[string]any{"symbol": 42, "amount": 1}, []string{"type_mismatch"}},
		{"bool is not a number", map[string]any{"symbol": "A", "amount": true}, []string{"type_mismatch"}},
		{"pattern is prefix anchored", map[string]any{"symbol": "aapl", "amount": 1}, []string{"pattern_mismatch"}},
		{"below minimum", map[string]any{"symbol": "A", "amount": -1}, []string{"below_minimum"}},
		{"above maximum", map[string]any{"symbol": "A", "amount": 100001.5}, []string{"above_maximum"}},
		{"enum", map[string]any{"symbol": "A", "amount": 1, "side": "hold"}, []string{"invalid_enum_value"}},
		{"numeric enum compares by value", map[string]any{"symbol": "A", "amount": 1, "lots": 10.0}, nil},
		{"max length counts runes", map[string]any{"symbol": "A", "amount": 1, "note": "héllo"}, nil},
		{"max length", map[string]any{"symbol": "A", "amount": 1, "note": "toolong"}, []string{"exceeds_max_length"}},
		{"unexpected fields sorted", map[string]any{"symbol": "A", "amount": 1, "zeta": 1, "alpha": 2}, []string{"unexpected_field", "unexpected_field"}},
		{"nil counts as absent", map[string]any{"symbol": "A", "amount": nil}, []string{"required_field_missing"}},
		{"pattern must match whole symbol", map[string]any{"symbol": "ABCDEFG", "amount": 1}, []string{"pattern_mismatch"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := validate(e, tt.data, nil)
			if tt.rules == nil {
				assert.Empty(t, res.SchemaViolations)
				return
			}
			assert.Equal(t, tt.rules, ruleNames(res.SchemaViolations))
		})
	}

	res := validate(e, map[string]any{"symbol": "A", "amount": 1, "zeta": 1, "alpha": 2}, nil)
	assert.Equal(t, "alpha", res.SchemaViolations[0].FieldPath)
	assert.Equal(t, "zeta", res.SchemaViolations[1].FieldPath)
}

func TestResponseDirectionUsesResponseSchema(t *testing.T) {
	e := NewEngine(tradeRegistry(t))
	res := e.ValidateHandoff(context.Background(), "research", "trader", contracts.NewPayload(map[string]any{"order_id": "o-1"}, nil), contracts.DirectionResponse)
	assert.Empty(t, res.SchemaViolations)

	res = e.ValidateHandoff(context.Background(), "research", "trader", contracts.NewPayload(map[string]any{}, nil), contracts.DirectionResponse)
	assert.Equal(t, []string{"required_field_missing"}, ruleNames(res.SchemaViolations))
}

func TestAuthorityChecks(t *testing.T) {
	ok := map[string]any{"symbol": "AAPL", "amount": 10}

	t.Run("unregistered agent short-circuits", func(t *testing.T) {
		r := tradeRegistry(t)
		_, err := r.RegisterContract(&contracts.HandoffContract{ContractID: "ghost", ConsumerAgent: "ghost", ProviderAgent: "trader"})
		require.NoError(t, err)
		res := NewEngine(r).ValidateHandoff(context.Background(), "ghost", "trader", contracts.NewPayload(nil, nil), "")
		assert.Equal(t, []string{"unregistered_agent"}, ruleNames(res.AuthorityViolations))
		assert.Equal(t, []string{"ghost"}, res.AuthorityViolations[0].Actual)
	})

	t.Run("insufficient authority and classification", func(t *testing.T) {
		r := tradeRegistry(t)
		require.NoError(t, r.RegisterAgent(&contracts.AgentIdentity{Name: "research", ComplianceScopes: []string{"SOX"}}))
		res := validate(NewEngine(r), ok, nil)
		assert.Equal(t, []string{"insufficient_authority", "data_classification_exceeded"}, ruleNames(res.AuthorityViolations))
		assert.True(t, res.IsBlocked())
	})

	t.Run("prohibited action", func(t *testing.T) {
		res := validate(NewEngine(tradeRegistry(t)), ok, map[string]any{"action": "execute_order"})
		assert.Equal(t, []string{"prohibited_action", "unauthorized_action"}, ruleNames(res.AuthorityViolations))
	})

	t.Run("unauthorized action", func(t *testing.T) {
		res := validate(NewEngine(tradeRegistry(t)), ok, map[string]any{"action": "cancel"})
		assert.Equal(t, []string{"unauthorized_action"}, ruleNames(res.AuthorityViolations))
		assert.Equal(t, contracts.SeverityHigh, res.AuthorityViolations[0].Severity)
	})

	t.Run("data action does not collide with metadata action", func(t *testing.T) {
		data := map[string]any{"symbol": "AAPL", "amount": 10, "side": "buy"}
		res := validate(NewEngine(tradeRegistry(t)), data, map[string]any{"action": "recommend"})
		assert.Zero(t, res.TotalViolations())
	})

	t.Run("missing compliance scope", func(t *testing.T) {
		r := tradeRegistry(t)
		c, err := r.ContractFor("research", "trader")
		require.NoError(t, err)
		c.RequiredComplianceScopes = []string{"SOX", "SEC", "FINRA"}
		_, err = r.RegisterContract(c)
		require.NoError(t, err)

		res := validate(NewEngine(r), ok, nil)
		require.Equal(t, []string{"missing_compliance_scope"}, ruleNames(res.AuthorityViolations))
		assert.Equal(t, []string{"FINRA", "SEC"}, res.AuthorityViolations[0].Actual)
	})
}

func TestMediumOnlyWarns(t *testing.T) {
	e := NewEngine(tradeRegistry(t))
	res := validate(e, map[string]any{"symbol": "AAPL", "amount": 10, "extra": "x", "note": "way too long"}, nil)

	assert.Equal(t, contracts.OutcomeWarn, res.OverallResult())
	assert.False(t, res.IsBlocked())
	assert.Len(t, res.SchemaViolations, 2)
}

type failingPack struct{ panics bool }

func (p failingPack) Name() string { return "broken" }

func (p failingPack) Evaluate(context.Context, *contracts.HandoffContract, contracts.HandoffPayload, *contracts.AgentIdentity, *contracts.AgentIdentity) ([]contracts.PolicyViolation, error) {
	if p.panics {
		panic("rule exploded")
	}
	return nil, errors.New("rule failed")
}

func TestPolicyPackFailuresContributeNothing(t *testing.T) {
	flag := policypack.Rule{ID: "T-1", Name: "flag", Severity: contracts.SeverityLow}
	flag.Check = func(policypack.Input) []contracts.PolicyViolation {
		return []contracts.PolicyViolation{flag.Violation("noted", "")}
	}
	e := NewEngine(tradeRegistry(t), WithPolicyPacks(
		failingPack{panics: true},
		policypack.NewPack("first", []policypack.Rule{flag}),
		failingPack{},
		policypack.NewPack("second", []policypack.Rule{flag}),
	))
	assert.Equal(t, []string{"broken", "first", "broken", "second"}, e.PolicyPacks())

	res := validate(e, map[string]any{"symbol": "AAPL", "amount": 10}, nil)
	require.Len(t, res.PolicyViolations, 2)
	assert.Equal(t, "first", res.PolicyViolations[0].PolicyPack)
	assert.Equal(t, "second", res.PolicyViolations[1].PolicyPack)
	assert.Equal(t, contracts.OutcomePass, res.OverallResult())
}

func TestFinancePackThroughEngine(t *testing.T) {
	e := NewEngine(tradeRegistry(t), WithPolicyPacks(finance.New()))
	meta := map[string]any{"request_id": "r-1", "timestamp": "t", "initiator": "ops"}

	res := validate(e, map[string]any{"symbol": "AAPL", "amount": 5000, "note": "123-45-6789"}, meta)
	assert.Contains(t, ruleNames(res.PolicyViolations), "ssn_in_payload")
	assert.True(t, res.IsBlocked())

	res = validate(e, map[string]any{"symbol": "AAPL", "amount": 50000}, meta)
	assert.Equal(t, []string{"large_transaction_no_approval"}, ruleNames(res.PolicyViolations))

	meta["human_approved"] = true
	res = validate(e, map[string]any{"symbol": "AAPL", "amount": 50000}, meta)
	assert.Empty(t, res.PolicyViolations)
}

func TestCancelledContextKeepsPolicyLayer(t *testing.T) {
	e := NewEngine(tradeRegistry(t), WithPolicyPacks(finance.New()))
	payload := func() contracts.HandoffPayload {
		return contracts.NewPayload(map[string]any{"symbol": "AAPL", "amount": 5000, "memo": "Client SSN 123-45-6789"}, nil)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Minute))
	defer cancelExpired()

	live := e.ValidateHandoff(context.Background(), "research", "trader", payload(), contracts.DirectionRequest)
	require.Contains(t, ruleNames(live.PolicyViolations), "ssn_in_payload")
	require.True(t, live.IsBlocked())

	for name, ctx := range map[string]context.Context{"cancelled": cancelled, "expired": expired} {
		t.Run(name, func(t *testing.T) {
			res := e.ValidateHandoff(ctx, "research", "trader", payload(), contracts.DirectionRequest)
			assert.ElementsMatch(t, live.AllViolations(), res.AllViolations())
			assert.True(t, res.IsBlocked())
			assert.Equal(t, contracts.OutcomeFail, res.OverallResult())
		})
	}
}

func TestTypedCollectionsReachPolicyLayer(t *testing.T) {
	e := NewEngine(tradeRegistry(t), WithPolicyPacks(finance.New()))
	for name, extra := range map[string]any{
		"string map":           map[string]string{"ssn": "123-45-6789"},
		"slice of maps":        []map[string]any{{"ssn": "123-45-6789"}},
		"slice of string maps": []map[string]string{{"ssn": "123-45-6789"}},
	} {
		t.Run(name, func(t *testing.T) {
			res := validate(e, map[string]any{"symbol": "AAPL", "amount": 5000, "extra": extra}, nil)
			assert.Contains(t, ruleNames(res.PolicyViolations), "ssn_in_payload")
			assert.True(t, res.IsBlocked())
		})
	}
}

type partialPack struct{ v contracts.PolicyViolation }

func (p partialPack) Name() string { return "partial" }

func (p partialPack) Evaluate(context.Context, *contracts.HandoffContract, contracts.HandoffPayload, *contracts.AgentIdentity, *contracts.AgentIdentity) ([]contracts.PolicyViolation, error) {
	return []contracts.PolicyViolation{p.v}, errors.New("later rule failed")
}

func TestPackErrorKeepsCollectedViolations(t *testing.T) {
	v := contracts.PolicyViolation{RuleID: "P-1", RuleName: "leak", Severity: contracts.SeverityCritical, PolicyPack: "partial"}
	e := NewEngine(tradeRegistry(t), WithPolicyPacks(partialPack{v: v}, failingPack{}))

	res := validate(e, map[string]any{"symbol": "AAPL", "amount": 10}, nil)
	assert.Equal(t, []contracts.PolicyViolation{v}, res.PolicyViolations)
	assert.True(t, res.IsBlocked())
}

func TestSeverityRule(t *testing.T) {
	tests := []struct {
		name       string
		severities []contracts.Severity
		want       contracts.Outcome
		blocked    bool
	}{
		{"none", nil, contracts.OutcomePass, false},
		{"low", []contracts.Severity{contracts.SeverityLow}, contracts.OutcomePass, false},
		{"medium", []contracts.Severity{contracts.SeverityLow, contracts.SeverityMedium}, contracts.OutcomeWarn, false},
		{"high", []contracts.Severity{contracts.SeverityMedium, contracts.SeverityHigh}, contracts.OutcomeFail, true},
		{"critical", []contracts.Severity{contracts.SeverityLow, contracts.SeverityCritical}, contracts.OutcomeFail, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rules []policypack.Rule
			for i, sev := range tt.severities {
				r := policypack.Rule{ID: "S-" + string(rune('1'+i)), Name: string(sev), Severity: sev}
				r.Check = func(policypack.Input) []contracts.PolicyViolation {
					return []contracts.PolicyViolation{r.Violation("flagged", "")}
				}
				rules = append(rules, r)
			}
			e := NewEngine(tradeRegistry(t), WithPolicyPacks(policypack.NewPack("severity", rules)))

			res := validate(e, map[string]any{"symbol": "AAPL", "amount": 10}, nil)
			assert.Len(t, res.PolicyViolations, len(tt.severities))
			assert.Equal(t, tt.want, res.OverallResult())
			assert.Equal(t, tt.blocked, res.IsBlocked())
		})
	}
}

func TestPayloadSnapshotIsIsolated(t *testing.T) {
	e := NewEngine(tradeRegistry(t))
	data := map[string]any{"symbol": "AAPL", "amount": 5000}
	res := validate(e, data, nil)
	data["symbol"] = "MSFT"

	require.NotNil(t, res.Payload)
	assert.Equal(t, "AAPL", res.Payload.Data["symbol"])
}

func TestDeclaredOnly(t *testing.T) {
	r := tradeRegistry(t)
	c, err := r.ContractFor("research", "trader")
	require.NoError(t, err)

	state := map[string]any{"symbol": "AAPL", "amount": 1, "from_earlier_hop": true}
	filtered := DeclaredOnly(c, contracts.DirectionRequest, state)
	assert.Equal(t, map[string]any{"symbol": "AAPL", "amount": 1}, filtered)

	res := validate(NewEngine(r), filtered, nil)
	assert.Zero(t, res.TotalViolations())
}

func TestIdempotentAndMonotonic(t *testing.T) {
	r := tradeRegistry(t)
	require.NoError(t, r.RegisterAgent(&contracts.AgentIdentity{Name: "research", ComplianceScopes: []string{"SOX"}, MaxDataClassification: contracts.ClassificationRestricted}))
	e := NewEngine(r, WithPolicyPacks(finance.New()))
	data := map[string]any{"symbol": "AAPL", "amount": 20000, "x": 1}

	a, b := validate(e, data, nil), validate(e, data, nil)
	assert.ElementsMatch(t, a.AllViolations(), b.AllViolations())
	assert.Equal(t, a.OverallResult(), b.OverallResult())
	assert.Contains(t, ruleNames(a.AuthorityViolations), "insufficient_authority")

	require.NoError(t, r.RegisterAgent(&contracts.AgentIdentity{Name: "research", AuthorityLevel: contracts.AuthorityExecute, ComplianceScopes: []string{"SOX"}, MaxDataClassification: contracts.ClassificationRestricted}))
	c := validate(e, data, nil)
	assert.NotContains(t, ruleNames(c.AuthorityViolations), "insufficient_authority")
}
