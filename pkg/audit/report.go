package audit

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

const topViolationLimit = 10

// SummaryReport is the compliance summary over a set of audit records.
type SummaryReport struct {
	ReportGenerated time.Time             `json:"report_generated"`
	Message         string                `json:"message,omitempty"`
	Period          *Period               `json:"period,omitempty"`
	Summary         Totals                `json:"summary"`
	Violations      ViolationStats        `json:"violations"`
	Agents          map[string]AgentStats `json:"agents"`
	Performance     Performance           `json:"performance"`
}

type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Totals struct {
	TotalHandoffs int    `json:"total_handoffs"`
	Passed        int    `json:"passed"`
	Warned        int    `json:"warned"`
	Failed        int    `json:"failed"`
	Blocked       int    `json:"blocked"`
	PassRate      string `json:"pass_rate"`
	BlockRate     string `json:"block_rate"`
}

type ViolationStats struct {
	Total         int                        `json:"total"`
	BySeverity    map[contracts.Severity]int `json:"by_severity"`
	TopViolations []RuleCount                `json:"top_violations"`
}

// RuleCount counts occurrences of one "ruleId: ruleName" pair.
type RuleCount struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

type AgentStats struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
}

type Performance struct {
	AvgValidationMs float64 `json:"avg_validation_ms"`
}

func percent(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(n)/float64(total)*100)
}

// Summarize computes the report for records. Agent statistics count each
// handoff once per distinct agent involved, so a self-handoff where consumer
// and provider are the same agent adds one handoff to that agent, not two.
func Summarize(records []contracts.Record, now time.Time) *SummaryReport {
	report := &SummaryReport{
		ReportGenerated: now.UTC(),
		Violations: ViolationStats{
			BySeverity:    map[contracts.Severity]int{},
			TopViolations: []RuleCount{},
		},
		Agents: map[string]AgentStats{},
	}
	total := len(records)
	report.Summary.TotalHandoffs = total
	if total == 0 {
		report.Message = "No handoffs recorded"
		report.Summary.PassRate = percent(0, 0)
		report.Summary.BlockRate = percent(0, 0)
		return report
	}

	period := &Period{Start: records[0].Timestamp, End: records[0].Timestamp}
	ruleCounts := map[string]int{}
	var ruleOrder []string
	var duration float64

	for _, rec := range records {
		if rec.Timestamp.Before(period.Start) {
			period.Start = rec.Timestamp
		}
		if rec.Timestamp.After(period.End) {
			period.End = rec.Timestamp
		}

		switch rec.Result {
		case contracts.OutcomePass:
			report.Summary.Passed++
		case contracts.OutcomeWarn:
			report.Summary.Warned++
		case contracts.OutcomeFail:
			report.Summary.Failed++
		}
		if rec.Blocked {
			report.Summary.Blocked++
		}
		duration += rec.ValidationDurationMs

		for _, v := range rec.AllViolations() {
			report.Violations.Total++
			report.Violations.BySeverity[v.Severity]++
			key := v.Key()
			if _, seen := ruleCounts[key]; !seen {
				ruleOrder = append(ruleOrder, key)
			}
			ruleCounts[key]++
		}

		for _, name := range rec.Agents() {
			st := report.Agents[name]
			st.Total++
			switch rec.Result {
			case contracts.OutcomePass:
				st.Passed++
			case contracts.OutcomeFail:
				st.Failed++
			}
			if rec.Blocked {
				st.Blocked++
			}
			report.Agents[name] = st
		}
	}

	report.Period = period
	report.Summary.PassRate = percent(report.Summary.Passed, total)
	report.Summary.BlockRate = percent(report.Summary.Blocked, total)
	report.Performance.AvgValidationMs = math.Round(duration/float64(total)*100) / 100

	// Stable sort keeps first-seen order among equal counts.
	sort.SliceStable(ruleOrder, func(i, j int) bool {
		return ruleCounts[ruleOrder[i]] > ruleCounts[ruleOrder[j]]
	})
	if len(ruleOrder) > topViolationLimit {
		ruleOrder = ruleOrder[:topViolationLimit]
	}
	for _, key := range ruleOrder {
		report.Violations.TopViolations = append(report.Violations.TopViolations, RuleCount{Rule: key, Count: ruleCounts[key]})
	}
	return report
}

// WriteText renders a human-readable report.
func (r *SummaryReport) WriteText(w io.Writer) error {
	if r.Summary.TotalHandoffs == 0 {
		_, err := fmt.Fprintln(w, "No handoffs recorded yet.")
		return err
	}

	rule := strings.Repeat("=", 60)
	sub := "  " + strings.Repeat("-", 40)
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line("%s", rule)
	line("  Failsafe Compliance Report")
	line("%s", rule)
	line("  Generated: %s", r.ReportGenerated.Format(time.RFC3339))
	if r.Period != nil {
		line("  Period: %s -> %s", r.Period.Start.Format(time.DateTime), r.Period.End.Format(time.DateTime))
	}
	line("")
	line("  SUMMARY")
	line("%s", sub)
	line("  Total Handoffs:  %d", r.Summary.TotalHandoffs)
	line("  Passed:          %d", r.Summary.Passed)
	line("  Warned:          %d", r.Summary.Warned)
	line("  Failed:          %d", r.Summary.Failed)
	line("  Blocked:         %d", r.Summary.Blocked)
	line("  Pass Rate:       %s", r.Summary.PassRate)
	line("  Block Rate:      %s", r.Summary.BlockRate)
	line("")

	if r.Violations.Total > 0 {
		line("  VIOLATIONS")
		line("%s", sub)
		for _, sev := range []contracts.Severity{contracts.SeverityCritical, contracts.SeverityHigh, contracts.SeverityMedium, contracts.SeverityLow} {
			if n := r.Violations.BySeverity[sev]; n > 0 {
				line("  %s: %d", strings.ToUpper(string(sev)), n)
			}
		}
		line("")
		if len(r.Violations.TopViolations) > 0 {
			line("  TOP VIOLATIONS")
			line("%s", sub)
			for i, item := range r.Violations.TopViolations {
				if i == 5 {
					break
				}
				line("  [%dx] %s", item.Count, item.Rule)
			}
			line("")
		}
	}

	line("  AGENT STATISTICS")
	line("%s", sub)
	names := make([]string, 0, len(r.Agents))
	for name := range r.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := r.Agents[name]
		rate := 0.0
		if st.Total > 0 {
			rate = float64(st.Passed) / float64(st.Total) * 100
		}
		line("  %s: %d handoffs, %.0f%% pass rate", name, st.Total, rate)
	}
	line("")
	line("  Avg validation time: %.2fms", r.Performance.AvgValidationMs)
	line("%s", rule)

	_, err := io.WriteString(w, b.String())
	return err
}
