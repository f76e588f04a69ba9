// Package finance is the reference policy pack for SOX, SEC, FINRA and
// PCI-DSS governed handoffs.
package finance

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
	"github.com/Mindburn-Labs/failsafe/pkg/policypack"
)

const (
	PackName    = "finance_v1"
	PackVersion = "1.0.0"

	// DefaultApprovalThreshold is the amount above which a human approval
	// flag is required.
	DefaultApprovalThreshold = 10000.0

	DomainPII              = "pii"
	DomainFinancialRecords = "financial_records"
	domainMaxAmountPrefix  = "max_amount:"
)

// Scopes that activate the pack.
var Scopes = []string{"SOX", "SEC", "FINRA", "PCI-DSS"}

var (
	ssnPattern     = regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`)
	accountPattern = regexp.MustCompile(`^\d{8,}$`)

	tradeActions = map[string]bool{
		"buy": true, "sell": true, "trade": true,
		"execute_order": true, "place_order": true, "transfer": true,
	}

	mnpiIndicators = []string{
		"earnings", "merger", "acquisition", "insider", "material",
		"non-public", "nonpublic", "pre-release", "guidance",
	}

	auditMetadata = []string{contracts.MetaRequestID, contracts.MetaTimestamp, contracts.MetaInitiator}

	money = message.NewPrinter(language.English)
)

type options struct {
	approvalThreshold float64
	logger            *slog.Logger
}

type Option func(*options)

// WithApprovalThreshold overrides DefaultApprovalThreshold.
func WithApprovalThreshold(v float64) Option {
	return func(o *options) { o.approvalThreshold = v }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds the finance pack.
func New(opts ...Option) *policypack.Pack {
	o := options{approvalThreshold: DefaultApprovalThreshold}
	for _, fn := range opts {
		fn(&o)
	}

	packOpts := []policypack.PackOption{
		policypack.WithVersion(PackVersion),
		policypack.WithGate(applies),
	}
	if o.logger != nil {
		packOpts = append(packOpts, policypack.WithLogger(o.logger))
	}
	return policypack.NewPack(PackName, rules(o.approvalThreshold), packOpts...)
}

func applies(in policypack.Input) bool {
	for _, s := range Scopes {
		if in.Contract.HasScope(s) {
			return true
		}
	}
	return false
}

func rules(threshold float64) []policypack.Rule {
	return []policypack.Rule{
		withCheck(piiExposure, checkPIIExposure),
		withCheck(amountLimit, checkAmountLimit),
		withCheck(accountMasking, checkAccountMasking),
		withCheck(tradeAuthorization, checkTradeAuthorization),
		withCheck(segregationOfDuties, checkSegregationOfDuties),
		withCheck(auditTrailMetadata, checkAuditTrailMetadata),
		withCheck(ssnExposure, checkSSN),
		withCheck(financialBoundary, checkFinancialBoundary),
		withCheck(mnpi, checkMNPI),
		withCheck(approvalRequired, checkApprovalThreshold(threshold)),
	}
}

var piiExposure = policypack.Rule{
	ID:          "FIN-PII-001",
	Name:        "pii_exposure_to_unauthorized_agent",
	Severity:    contracts.SeverityCritical,
	Description: "PII fields may only reach agents cleared for the pii domain",
	Applies:     func(in policypack.Input) bool { return in.Consumer != nil },
}

var ssnExposure = policypack.Rule{
	ID:          "FIN-PII-002",
	Name:        "ssn_in_payload",
	Severity:    contracts.SeverityCritical,
	Description: "SSN-shaped text anywhere in the payload",
}

var accountMasking = policypack.Rule{
	ID:          "FIN-PII-003",
	Name:        "unmasked_account_number",
	Severity:    contracts.SeverityHigh,
	Description: "account fields must be masked to the last four digits",
}

var amountLimit = policypack.Rule{
	ID:          "FIN-AUTH-001",
	Name:        "amount_exceeds_agent_limit",
	Severity:    contracts.SeverityCritical,
	Description: "amount above the consumer's max_amount domain limit",
}

var tradeAuthorization = policypack.Rule{
	ID:          "FIN-AUTH-002",
	Name:        "trade_without_execute_authority",
	Severity:    contracts.SeverityCritical,
	Description: "trade actions require execute authority or above",
	Applies:     func(in policypack.Input) bool { return in.Consumer != nil },
}

var segregationOfDuties = policypack.Rule{
	ID:          "FIN-AUDIT-002",
	Name:        "segregation_of_duties_violation",
	Severity:    contracts.SeverityCritical,
	Description: "an agent may not approve what it executes",
	Applies:     func(in policypack.Input) bool { return in.Contract.HasScope("SOX") },
}

var auditTrailMetadata = policypack.Rule{
	ID:          "FIN-AUDIT-001",
	Name:        "missing_audit_metadata",
	Severity:    contracts.SeverityHigh,
	Description: "SOX handoffs carry request_id, timestamp and initiator metadata",
	Applies:     func(in policypack.Input) bool { return in.Contract.HasScope("SOX") },
}

var financialBoundary = policypack.Rule{
	ID:          "FIN-DATA-001",
	Name:        "financial_data_boundary_violation",
	Severity:    contracts.SeverityCritical,
	Description: "financial fields may only reach agents cleared for financial_records",
	Applies:     func(in policypack.Input) bool { return in.Consumer != nil && in.Provider != nil },
}

var mnpi = policypack.Rule{
	ID:          "FIN-SEC-001",
	Name:        "potential_mnpi_unflagged",
	Severity:    contracts.SeverityHigh,
	Description: "market-sensitive wording requires an mnpi_reviewed flag",
	Applies:     func(in policypack.Input) bool { return in.Contract.HasScope("SEC") },
}

func withCheck(r policypack.Rule, check func(in policypack.Input) []contracts.PolicyViolation) policypack.Rule {
	r.Check = check
	return r
}

func one(v contracts.PolicyViolation) []contracts.PolicyViolation {
	return []contracts.PolicyViolation{v}
}

func checkPIIExposure(in policypack.Input) []contracts.PolicyViolation {
	if in.Consumer.HasDomain(DomainPII) {
		return nil
	}
	for _, f := range in.Contract.RequestSchema {
		if f.PII && policypack.Truthy(in.Payload.Data[f.Name]) {
			return one(piiExposure.Violation(
				fmt.Sprintf("PII field '%s' is being passed to agent '%s' which is not authorized for PII data", f.Name, in.Consumer.Name),
				f.Name))
		}
	}
	return nil
}

func checkSSN(in policypack.Input) []contracts.PolicyViolation {
	var hit []contracts.PolicyViolation
	policypack.WalkStrings(in.Payload.Data, "", func(path, s string) bool {
		if ssnPattern.MatchString(s) {
			hit = one(ssnExposure.Violation(fmt.Sprintf("SSN pattern detected in field '%s'", path), path))
			return false
		}
		return true
	})
	return hit
}

func checkAccountMasking(in policypack.Input) []contracts.PolicyViolation {
	keys := make([]string, 0, len(in.Payload.Data))
	for k := range in.Payload.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !strings.Contains(strings.ToLower(k), "account") {
			continue
		}
		s, ok := in.Payload.Data[k].(string)
		if ok && accountPattern.MatchString(policypack.Normalize(s)) {
			return one(accountMasking.Violation(
				fmt.Sprintf("Account number in field '%s' appears unmasked. Must show only last 4 digits.", k), k))
		}
	}
	return nil
}

// amount reads data.amount, falling back to data.transaction_amount when
// amount is absent or zero-valued.
func amount(data map[string]any) (any, bool) {
	if v := data["amount"]; policypack.Truthy(v) {
		return v, true
	}
	if v, ok := data["transaction_amount"]; ok && v != nil {
		return v, true
	}
	return nil, false
}

func agentLimit(a *contracts.AgentIdentity) (float64, bool) {
	if a == nil {
		return 0, false
	}
	for _, d := range a.AllowedDomains {
		if rest, ok := strings.CutPrefix(d, domainMaxAmountPrefix); ok {
			if v, err := strconv.ParseFloat(rest, 64); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

func checkAmountLimit(in policypack.Input) []contracts.PolicyViolation {
	raw, ok := amount(in.Payload.Data)
	if !ok {
		return nil
	}
	amt, ok := policypack.ToFloat(raw)
	if !ok {
		v := amountLimit.Violation("Financial amount is not a valid number", "amount")
		v.RuleName = "invalid_amount_format"
		v.Severity = contracts.SeverityHigh
		v.Actual = raw
		return one(v)
	}
	limit, ok := agentLimit(in.Consumer)
	if !ok || limit <= 0 || amt <= limit {
		return nil
	}
	v := amountLimit.Violation(
		money.Sprintf("Amount $%.2f exceeds agent's authorized limit of $%.2f", amt, limit), "amount")
	v.Expected = fmt.Sprintf("<= %g", limit)
	v.Actual = amt
	return one(v)
}

func checkTradeAuthorization(in policypack.Input) []contracts.PolicyViolation {
	action := in.Payload.Action()
	if !tradeActions[strings.ToLower(action)] {
		return nil
	}
	if in.Consumer.AuthorityLevel.AtLeast(contracts.AuthorityExecute) {
		return nil
	}
	v := tradeAuthorization.Violation(fmt.Sprintf("Trade action '%s' requires execute-level authority", action), "")
	v.Expected = "execute or admin"
	v.Actual = string(in.Consumer.AuthorityLevel)
	return one(v)
}

var approvalRequired = policypack.Rule{
	ID:          "FIN-AUTH-003",
	Name:        "large_transaction_no_approval",
	Severity:    contracts.SeverityHigh,
	Description: "transactions above the approval threshold need human_approved metadata",
}

func checkApprovalThreshold(threshold float64) func(in policypack.Input) []contracts.PolicyViolation {
	return func(in policypack.Input) []contracts.PolicyViolation {
		raw, ok := amount(in.Payload.Data)
		if !ok {
			return nil
		}
		amt, ok := policypack.ToFloat(raw)
		if !ok || amt <= threshold {
			return nil
		}
		if approved, _ := in.Payload.Meta(contracts.MetaHumanApproved); policypack.Truthy(approved) {
			return nil
		}
		return one(approvalRequired.Violation(
			money.Sprintf("Transaction amount $%.2f exceeds $%.2f threshold and requires human approval", amt, threshold),
			"amount"))
	}
}

func checkAuditTrailMetadata(in policypack.Input) []contracts.PolicyViolation {
	var out []contracts.PolicyViolation
	for _, key := range auditMetadata {
		if _, ok := in.Payload.Metadata[key]; ok {
			continue
		}
		out = append(out, auditTrailMetadata.Violation(
			fmt.Sprintf("SOX requires '%s' in handoff metadata for audit trail", key), "metadata."+key))
	}
	return out
}

func checkSegregationOfDuties(in policypack.Input) []contracts.PolicyViolation {
	if in.Consumer == nil {
		return nil
	}
	approver, _ := in.Payload.Metadata[contracts.MetaApprovedBy].(string)
	if approver == "" || approver != in.Consumer.Name {
		return nil
	}
	return one(segregationOfDuties.Violation(
		fmt.Sprintf("SOX violation: Agent '%s' cannot both approve and execute the same transaction", approver), ""))
}

func checkFinancialBoundary(in policypack.Input) []contracts.PolicyViolation {
	if in.Consumer.HasDomain(DomainFinancialRecords) {
		return nil
	}
	for _, f := range in.Contract.RequestSchema {
		if f.FinancialData && policypack.Truthy(in.Payload.Data[f.Name]) {
			return one(financialBoundary.Violation(
				fmt.Sprintf("Financial data field '%s' is being passed to agent '%s' which is not authorized for financial records", f.Name, in.Consumer.Name),
				f.Name))
		}
	}
	return nil
}

func checkMNPI(in policypack.Input) []contracts.PolicyViolation {
	found := policypack.Keywords(in.Payload.Data, mnpiIndicators)
	if len(found) == 0 {
		return nil
	}
	if reviewed, _ := in.Payload.Meta(contracts.MetaMNPIReviewed); policypack.Truthy(reviewed) {
		return nil
	}
	v := mnpi.Violation(fmt.Sprintf(
		"Payload may contain material non-public information (indicators: %s). Must be flagged with 'mnpi_reviewed' metadata.",
		strings.Join(found, ", ")), "")
	v.Actual = found
	return one(v)
}
