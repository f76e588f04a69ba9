// Package governance validates agent handoffs against their contracts in
// three layers: schema, authority and policy.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
	"github.com/Mindburn-Labs/failsafe/pkg/policypack"
)

// Lookup is the read side of the contract registry.
type Lookup interface {
	ContractFor(consumer, provider string) (*contracts.HandoffContract, error)
	Agent(name string) (*contracts.AgentIdentity, error)
}

// Engine validates handoffs. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	registry Lookup
	packs    []policypack.PolicyPack
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPolicyPacks appends packs evaluated as the policy layer.
func WithPolicyPacks(packs ...policypack.PolicyPack) Option {
	return func(e *Engine) { e.packs = append(e.packs, packs...) }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

const tracerName = "github.com/Mindburn-Labs/failsafe/pkg/governance"

func NewEngine(registry Lookup, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		logger:   slog.Default().With("component", "governance"),
		tracer:   otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// PolicyPacks returns the names of the loaded packs in evaluation order.
func (e *Engine) PolicyPacks() []string {
	names := make([]string, len(e.packs))
	for i, p := range e.packs {
		names[i] = p.Name()
	}
	return names
}

// ValidateHandoff runs every validation layer for one handoff. Violations
// are data on the result; this never fails.
func (e *Engine) ValidateHandoff(ctx context.Context, consumer, provider string, payload contracts.HandoffPayload, direction contracts.Direction) *contracts.HandoffValidationResult {
	start := time.Now()
	if direction == "" {
		direction = contracts.DirectionRequest
	}
	if payload.HandoffID == "" {
		payload.HandoffID = uuid.NewString()
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = start.UTC()
	}

	ctx, span := e.tracer.Start(ctx, "governance.ValidateHandoff", trace.WithAttributes(
		attribute.String("failsafe.handoff_id", payload.HandoffID),
		attribute.String("failsafe.consumer", consumer),
		attribute.String("failsafe.provider", provider),
		attribute.String("failsafe.direction", string(direction)),
	))
	defer span.End()

	snapshot := snapshotPayload(payload)
	result := &contracts.HandoffValidationResult{
		HandoffID: payload.HandoffID,
		Timestamp: payload.Timestamp,
		Consumer:  consumer,
		Provider:  provider,
		Direction: direction,
		Payload:   &snapshot,
	}
	defer func() {
		result.ValidationDurationMs = float64(time.Since(start).Microseconds()) / 1000
		span.SetAttributes(
			attribute.String("failsafe.contract_id", result.ContractID),
			attribute.String("failsafe.result", string(result.OverallResult())),
			attribute.Bool("failsafe.blocked", result.IsBlocked()),
			attribute.Int("failsafe.violations", result.TotalViolations()),
		)
		if result.IsBlocked() {
			span.SetStatus(codes.Error, "handoff blocked")
		}
	}()

	contract, err := e.registry.ContractFor(consumer, provider)
	if err != nil {
		result.SchemaViolations = []contracts.PolicyViolation{{
			RuleID:   RuleMissingContract.ID,
			RuleName: RuleMissingContract.Name,
			Severity: RuleMissingContract.Severity,
			Message:  fmt.Sprintf("No contract found for handoff: %s -> %s", consumer, provider),
		}}
		return result
	}
	result.ContractID = contract.ContractID

	result.SchemaViolations = validateSchema(payload.Data, contract.Schema(direction))

	consumerAgent := e.agent(consumer)
	providerAgent := e.agent(provider)
	result.AuthorityViolations = validateAuthority(consumerAgent, providerAgent, contract, payload)

	result.PolicyViolations = e.evaluatePacks(ctx, contract, payload, consumerAgent, providerAgent)
	return result
}

func (e *Engine) agent(name string) *contracts.AgentIdentity {
	a, err := e.registry.Agent(name)
	if err != nil {
		return nil
	}
	return a
}

// evaluatePacks fans packs out concurrently. Each pack writes its own slot
// so the concatenated list keeps pack order. Pack failures come back
// through the group and are logged once per handoff.
func (e *Engine) evaluatePacks(ctx context.Context, contract *contracts.HandoffContract, payload contracts.HandoffPayload, consumer, provider *contracts.AgentIdentity) []contracts.PolicyViolation {
	if len(e.packs) == 0 {
		return nil
	}

	slots := make([][]contracts.PolicyViolation, len(e.packs))
	errs := make([]error, len(e.packs))
	var g errgroup.Group
	for i, p := range e.packs {
		g.Go(func() error {
			slots[i], errs[i] = evaluatePack(ctx, p, contract, payload, consumer, provider)
			return errs[i]
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("policy pack failed", "handoff_id", payload.HandoffID, "error", errors.Join(errs...))
	}

	var out []contracts.PolicyViolation
	for _, s := range slots {
		out = append(out, s...)
	}
	return out
}

// evaluatePack isolates one pack. Violations reported alongside an error
// are kept; a panic contributes nothing.
func evaluatePack(ctx context.Context, p policypack.PolicyPack, contract *contracts.HandoffContract, payload contracts.HandoffPayload, consumer, provider *contracts.AgentIdentity) (out []contracts.PolicyViolation, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("pack %s panicked: %v", p.Name(), rec)
		}
	}()
	out, err = p.Evaluate(ctx, contract, payload, consumer, provider)
	if err != nil {
		err = fmt.Errorf("pack %s: %w", p.Name(), err)
	}
	return out, err
}

// snapshotPayload copies the top level of both maps so later caller
// mutations do not rewrite the audit snapshot.
func snapshotPayload(p contracts.HandoffPayload) contracts.HandoffPayload {
	cp := p
	cp.Data = make(map[string]any, len(p.Data))
	for k, v := range p.Data {
		cp.Data[k] = v
	}
	cp.Metadata = make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}
