// Package policypack defines pluggable bundles of domain compliance rules
// evaluated as the third validation layer.
package policypack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

// PolicyPack is a named bundle of rules. Implementations must not mutate
// their inputs and must be safe for concurrent use.
type PolicyPack interface {
	Name() string
	Evaluate(ctx context.Context, contract *contracts.HandoffContract, payload contracts.HandoffPayload, consumer, provider *contracts.AgentIdentity) ([]contracts.PolicyViolation, error)
}

// Input bundles the values a rule is evaluated against. Consumer and
// Provider are nil when the agent is not registered.
type Input struct {
	Contract *contracts.HandoffContract
	Payload  contracts.HandoffPayload
	Consumer *contracts.AgentIdentity
	Provider *contracts.AgentIdentity
}

// Rule is one independent check. Applies may be nil, meaning always.
type Rule struct {
	ID          string
	Name        string
	Severity    contracts.Severity
	Description string
	Applies     func(in Input) bool
	Check       func(in Input) []contracts.PolicyViolation
}

// Pack is a PolicyPack assembled from rules.
type Pack struct {
	name    string
	version string
	gate    func(in Input) bool
	rules   []Rule
	logger  *slog.Logger
}

type PackOption func(*Pack)

// WithGate makes the whole pack skip handoffs for which gate returns false.
func WithGate(gate func(in Input) bool) PackOption {
	return func(p *Pack) { p.gate = gate }
}

func WithVersion(v string) PackOption {
	return func(p *Pack) { p.version = v }
}

func WithLogger(l *slog.Logger) PackOption {
	return func(p *Pack) { p.logger = l }
}

func NewPack(name string, rules []Rule, opts ...PackOption) *Pack {
	p := &Pack{
		name:   name,
		rules:  rules,
		logger: slog.Default().With("component", "policypack", "pack", name),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pack) Name() string    { return p.name }
func (p *Pack) Version() string { return p.version }

// Rules returns the rule descriptors of the pack in evaluation order.
func (p *Pack) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

// Evaluate runs every applicable rule to completion, whatever the state of
// ctx. A rule that panics contributes no violations; the panic is logged.
func (p *Pack) Evaluate(_ context.Context, contract *contracts.HandoffContract, payload contracts.HandoffPayload, consumer, provider *contracts.AgentIdentity) ([]contracts.PolicyViolation, error) {
	in := Input{Contract: contract, Payload: payload, Consumer: consumer, Provider: provider}
	if p.gate != nil && !p.gate(in) {
		return nil, nil
	}

	var out []contracts.PolicyViolation
	for _, r := range p.rules {
		vs, err := p.run(r, in)
		if err != nil {
			p.logger.Warn("policy rule failed", "rule_id", r.ID, "error", err)
			continue
		}
		for _, v := range vs {
			if v.PolicyPack == "" {
				v.PolicyPack = p.name
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (p *Pack) run(r Rule, in Input) (vs []contracts.PolicyViolation, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			vs, err = nil, fmt.Errorf("panic in rule %s: %v", r.ID, rec)
		}
	}()
	if r.Applies != nil && !r.Applies(in) {
		return nil, nil
	}
	return r.Check(in), nil
}

// Violation builds a violation stamped with the rule's id, name and severity.
func (r Rule) Violation(message, fieldPath string) contracts.PolicyViolation {
	return contracts.PolicyViolation{
		RuleID:    r.ID,
		RuleName:  r.Name,
		Severity:  r.Severity,
		Message:   message,
		FieldPath: fieldPath,
	}
}
