// Package interceptor wraps the validation engine for agent call sites:
// it builds payloads, records every result in the audit trail and fans
// results out to callbacks.
package interceptor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Mindburn-Labs/failsafe/pkg/audit"
	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
	"github.com/Mindburn-Labs/failsafe/pkg/governance"
)

// Validator is the engine surface the interceptor needs.
type Validator interface {
	ValidateHandoff(ctx context.Context, consumer, provider string, payload contracts.HandoffPayload, direction contracts.Direction) *contracts.HandoffValidationResult
}

// Callback observes a validation result. It cannot change the result.
type Callback func(*contracts.HandoffValidationResult)

type Interceptor struct {
	validator Validator
	recorder  audit.Recorder
	declared  governance.Lookup
	logger    *slog.Logger

	mu           sync.RWMutex
	onViolation  []Callback
	onValidation []Callback
}

type Option func(*Interceptor)

func WithLogger(l *slog.Logger) Option {
	return func(i *Interceptor) { i.logger = l }
}

// WithDeclaredOnly drops payload keys the pair's contract does not declare
// before validation. Use it where callers pass accumulated state that
// carries keys from earlier hops.
func WithDeclaredOnly(lookup governance.Lookup) Option {
	return func(i *Interceptor) { i.declared = lookup }
}

func WithViolationCallback(cb Callback) Option {
	return func(i *Interceptor) { i.onViolation = append(i.onViolation, cb) }
}

func WithValidationCallback(cb Callback) Option {
	return func(i *Interceptor) { i.onValidation = append(i.onValidation, cb) }
}

// New builds an interceptor. A nil recorder gets an in-memory audit logger.
func New(v Validator, recorder audit.Recorder, opts ...Option) *Interceptor {
	if recorder == nil {
		recorder = audit.NewLogger(nil)
	}
	i := &Interceptor{
		validator: v,
		recorder:  recorder,
		logger:    slog.Default().With("component", "interceptor"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// OnViolation registers cb for results with at least one violation.
func (i *Interceptor) OnViolation(cb Callback) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onViolation = append(i.onViolation, cb)
}

// OnValidation registers cb for every result.
func (i *Interceptor) OnValidation(cb Callback) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onValidation = append(i.onValidation, cb)
}

// ValidateOutgoing validates a request from one agent to another.
func (i *Interceptor) ValidateOutgoing(ctx context.Context, from, to string, data, metadata map[string]any) *contracts.HandoffValidationResult {
	return i.validate(ctx, from, to, data, metadata, contracts.DirectionRequest)
}

// ValidateIncoming validates a response against the pair's response schema.
func (i *Interceptor) ValidateIncoming(ctx context.Context, from, to string, data, metadata map[string]any) *contracts.HandoffValidationResult {
	return i.validate(ctx, from, to, data, metadata, contracts.DirectionResponse)
}

func (i *Interceptor) validate(ctx context.Context, from, to string, data, metadata map[string]any, d contracts.Direction) *contracts.HandoffValidationResult {
	if i.declared != nil {
		if c, err := i.declared.ContractFor(from, to); err == nil {
			data = governance.DeclaredOnly(c, d, data)
		}
	}

	result := i.validator.ValidateHandoff(ctx, from, to, contracts.NewPayload(data, metadata), d)
	i.recorder.Log(ctx, result)

	if result.IsBlocked() {
		i.logger.InfoContext(ctx, "handoff blocked",
			"handoff_id", result.HandoffID,
			"consumer", from,
			"provider", to,
			"direction", string(d),
			"violations", result.TotalViolations(),
		)
	}

	i.mu.RLock()
	onViolation := append([]Callback(nil), i.onViolation...)
	onValidation := append([]Callback(nil), i.onValidation...)
	i.mu.RUnlock()

	if result.TotalViolations() > 0 {
		for _, cb := range onViolation {
			i.invoke(ctx, "violation", cb, result)
		}
	}
	for _, cb := range onValidation {
		i.invoke(ctx, "validation", cb, result)
	}
	return result
}

func (i *Interceptor) invoke(ctx context.Context, kind string, cb Callback, result *contracts.HandoffValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.WarnContext(ctx, "callback panicked", "kind", kind, "handoff_id", result.HandoffID, "panic", r)
		}
	}()
	cb(result)
}
