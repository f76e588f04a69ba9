package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func violation(id, name string, sev contracts.Severity) contracts.PolicyViolation {
	return contracts.PolicyViolation{RuleID: id, RuleName: name, Severity: sev, Message: name}
}

// result builds a validation result at t0 + offset minutes.
func result(id, consumer, provider string, offset int, policy ...contracts.PolicyViolation) *contracts.HandoffValidationResult {
	return &contracts.HandoffValidationResult{
		HandoffID:            id,
		Timestamp:            t0.Add(time.Duration(offset) * time.Minute),
		ContractID:           consumer + "-" + provider,
		Consumer:             consumer,
		Provider:             provider,
		Direction:            contracts.DirectionRequest,
		PolicyViolations:     policy,
		ValidationDurationMs: 1.5,
		Payload: &contracts.HandoffPayload{
			HandoffID: id,
			Data:      map[string]any{"symbol": "AAPL"},
			Metadata:  map[string]any{},
		},
	}
}

func crit() contracts.PolicyViolation {
	return violation("FIN-PII-002", "ssn_in_payload", contracts.SeverityCritical)
}

func seed(t *testing.T, l *Logger) {
	t.Helper()
	ctx := context.Background()
	l.Log(ctx, result("h1", "research", "trader", 0))
	l.Log(ctx, result("h2", "research", "trader", 1))
	l.Log(ctx, result("h3", "trader", "settlement", 2))
	l.Log(ctx, result("h4", "research", "trader", 3, crit()))
	l.Log(ctx, result("h5", "trader", "settlement", 4, crit(), violation("SCHEMA_001", "required_field_missing", contracts.SeverityHigh)))
}

func TestSummaryReport_PassRate(t *testing.T) {
	l := NewLogger(nil, WithClock(func() time.Time { return t0.Add(time.Hour) }))
	seed(t, l)

	report, err := l.GenerateSummaryReport(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Summary.TotalHandoffs)
	assert.Equal(t, 3, report.Summary.Passed)
	assert.Equal(t, 2, report.Summary.Failed)
	assert.Equal(t, 0, report.Summary.Warned)
	assert.Equal(t, 2, report.Summary.Blocked)
	assert.Equal(t, "60.0%", report.Summary.PassRate)
	assert.Equal(t, "40.0%", report.Summary.BlockRate)

	require.NotNil(t, report.Period)
	assert.Equal(t, t0, report.Period.Start)
	assert.Equal(t, t0.Add(4*time.Minute), report.Period.End)
	assert.Equal(t, 1.5, report.Performance.AvgValidationMs)

	assert.Equal(t, 3, report.Violations.Total)
	assert.Equal(t, 2, report.Violations.BySeverity[contracts.SeverityCritical])
	assert.Equal(t, 1, report.Violations.BySeverity[contracts.SeverityHigh])
	assert.Equal(t, []RuleCount{
		{Rule: "FIN-PII-002: ssn_in_payload", Count: 2},
		{Rule: "SCHEMA_001: required_field_missing", Count: 1},
	}, report.Violations.TopViolations)

	assert.Equal(t, AgentStats{Total: 3, Passed: 2, Failed: 1, Blocked: 1}, report.Agents["research"])
	assert.Equal(t, AgentStats{Total: 5, Passed: 3, Failed: 2, Blocked: 2}, report.Agents["trader"])
	assert.Equal(t, AgentStats{Total: 2, Passed: 1, Failed: 1, Blocked: 1}, report.Agents["settlement"])
}

func TestSummaryReport_Empty(t *testing.T) {
	report := Summarize(nil, t0)
	assert.Equal(t, "No handoffs recorded", report.Message)
	assert.Equal(t, 0, report.Summary.TotalHandoffs)
	assert.Nil(t, report.Period)

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	assert.Contains(t, buf.String(), "No handoffs recorded")
}

func TestSummaryReport_SelfHandoffCountsOnce(t *testing.T) {
	report := Summarize([]contracts.Record{result("h1", "loop", "loop", 0).Record()}, t0)
	assert.Equal(t, AgentStats{Total: 1, Passed: 1}, report.Agents["loop"])
}

func TestSummaryReport_TopViolationsCapped(t *testing.T) {
	var records []contracts.Record
	for i := 0; i < 12; i++ {
		var vs []contracts.PolicyViolation
		for j := 0; j <= i; j++ {
			vs = append(vs, violation(fmt.Sprintf("R%02d", j), "rule", contracts.SeverityLow))
		}
		records = append(records, result(fmt.Sprintf("h%d", i), "a", "b", i, vs...).Record())
	}
	report := Summarize(records, t0)
	require.Len(t, report.Violations.TopViolations, 10)
	assert.Equal(t, RuleCount{Rule: "R00: rule", Count: 12}, report.Violations.TopViolations[0])
	assert.Equal(t, RuleCount{Rule: "R09: rule", Count: 3}, report.Violations.TopViolations[9])
	assert.Equal(t, "100.0%", report.Summary.PassRate)
}

func TestSummaryReport_JSONShape(t *testing.T) {
	l := NewLogger(nil)
	seed(t, l)
	report, err := l.GenerateSummaryReport(context.Background())
	require.NoError(t, err)

	raw, err := json.Marshal(report)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	for _, key := range []string{"report_generated", "period", "summary", "violations", "agents", "performance"} {
		assert.Contains(t, doc, key)
	}
	summary := doc["summary"].(map[string]any)
	assert.Equal(t, "60.0%", summary["pass_rate"])
	assert.EqualValues(t, 5, summary["total_handoffs"])
}

func TestSummaryReport_WriteText(t *testing.T) {
	l := NewLogger(nil)
	seed(t, l)
	report, err := l.GenerateSummaryReport(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "Total Handoffs:  5")
	assert.Contains(t, out, "Pass Rate:       60.0%")
	assert.Contains(t, out, "CRITICAL: 2")
	assert.Contains(t, out, "[2x] FIN-PII-002: ssn_in_payload")
	assert.Contains(t, out, "research: 3 handoffs, 67% pass rate")
}

func TestLogger_Queries(t *testing.T) {
	ctx := context.Background()
	l := NewLogger(NewMemoryStore())
	seed(t, l)

	ids := func(recs []contracts.Record, err error) []string {
		require.NoError(t, err)
		out := make([]string, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.HandoffID)
		}
		return out
	}

	assert.Equal(t, []string{"h1", "h2", "h4"}, ids(l.ByAgent(ctx, "research")))
	assert.Equal(t, []string{"h1", "h2", "h3", "h4", "h5"}, ids(l.ByAgent(ctx, "trader")))
	assert.Equal(t, []string{"h3", "h5"}, ids(l.ByContract(ctx, "trader-settlement")))
	assert.Equal(t, []string{"h4", "h5"}, ids(l.Failures(ctx)))
	assert.Equal(t, []string{"h4", "h5"}, ids(l.Blocked(ctx)))
	assert.Equal(t, []string{"h1", "h2", "h3"}, ids(l.ByResult(ctx, contracts.OutcomePass)))
	assert.Equal(t, []string{"h2", "h3"}, ids(l.Records(ctx, Filter{Since: t0.Add(time.Minute), Until: t0.Add(2 * time.Minute)})))
	assert.Equal(t, []string{"h1", "h2"}, ids(l.Records(ctx, Filter{Limit: 2})))

	rec, err := l.Get(ctx, "h4")
	require.NoError(t, err)
	assert.True(t, rec.Blocked)
	assert.Equal(t, "AAPL", rec.Payload["symbol"])

	_, err = l.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

type failingStore struct{ Store }

func (failingStore) Append(context.Context, contracts.Record) error {
	return errors.New("disk full")
}

type recordingSink struct {
	got []string
	err error
}

func (s *recordingSink) Publish(_ context.Context, rec contracts.Record) error {
	s.got = append(s.got, rec.HandoffID)
	return s.err
}

func TestLogger_AppendFailureIsCountedNotRaised(t *testing.T) {
	sink := &recordingSink{}
	l := NewLogger(failingStore{NewMemoryStore()}, WithSink(sink))

	l.Log(context.Background(), result("h1", "a", "b", 0))
	l.Log(context.Background(), result("h2", "a", "b", 1))

	assert.EqualValues(t, 2, l.AppendErrors())
	assert.Empty(t, sink.got, "sinks only see stored records")
}

func TestLogger_SinkFailureIgnored(t *testing.T) {
	sink := &recordingSink{err: errors.New("unreachable")}
	store := NewMemoryStore()
	l := NewLogger(store, WithSink(sink))

	l.Log(context.Background(), result("h1", "a", "b", 0))
	l.Log(context.Background(), nil)

	assert.Equal(t, []string{"h1"}, sink.got)
	assert.Equal(t, 1, store.Size())
	assert.Zero(t, l.AppendErrors())
}
