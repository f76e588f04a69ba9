package policypack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

// Judge evaluates free-text rules against a handoff, typically by asking a
// language model. It is an external collaborator.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) ([]contracts.PolicyViolation, error)
}

// JudgeFunc adapts a function to Judge.
type JudgeFunc func(ctx context.Context, req JudgeRequest) ([]contracts.PolicyViolation, error)

func (f JudgeFunc) Judge(ctx context.Context, req JudgeRequest) ([]contracts.PolicyViolation, error) {
	return f(ctx, req)
}

type judgeResult struct {
	vs  []contracts.PolicyViolation
	err error
}

type JudgeRequest struct {
	Rules    []string
	Contract *contracts.HandoffContract
	Payload  contracts.HandoffPayload
	Consumer *contracts.AgentIdentity
	Provider *contracts.AgentIdentity
}

// JudgePack wraps a Judge as a PolicyPack with its own timeout and call
// budget. The timeout holds even for a judge that ignores its context. A
// missing judge, an error, a timeout or an exhausted budget all contribute
// zero violations.
type JudgePack struct {
	name    string
	judge   Judge
	rules   []string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

type JudgeOption func(*JudgePack)

func WithTimeout(d time.Duration) JudgeOption {
	return func(p *JudgePack) { p.timeout = d }
}

// WithBudget limits judge calls to r per second with the given burst.
func WithBudget(r rate.Limit, burst int) JudgeOption {
	return func(p *JudgePack) { p.limiter = rate.NewLimiter(r, burst) }
}

func WithJudgeLogger(l *slog.Logger) JudgeOption {
	return func(p *JudgePack) { p.logger = l }
}

func NewJudgePack(name string, judge Judge, rules []string, opts ...JudgeOption) *JudgePack {
	p := &JudgePack{
		name:    name,
		judge:   judge,
		rules:   rules,
		timeout: 5 * time.Second,
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  slog.Default().With("component", "policypack", "pack", name),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *JudgePack) Name() string { return p.name }

func (p *JudgePack) Evaluate(ctx context.Context, contract *contracts.HandoffContract, payload contracts.HandoffPayload, consumer, provider *contracts.AgentIdentity) ([]contracts.PolicyViolation, error) {
	if p.judge == nil || len(p.rules) == 0 {
		return nil, nil
	}
	if !p.limiter.Allow() {
		p.logger.Debug("judge budget exhausted, skipping", "handoff_id", payload.HandoffID)
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := JudgeRequest{
		Rules:    p.rules,
		Contract: contract,
		Payload:  payload,
		Consumer: consumer,
		Provider: provider,
	}
	// Buffered so a judge that outlives the timeout can still finish and exit.
	done := make(chan judgeResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- judgeResult{err: fmt.Errorf("judge panicked: %v", rec)}
			}
		}()
		vs, err := p.judge.Judge(ctx, req)
		done <- judgeResult{vs: vs, err: err}
	}()

	var res judgeResult
	select {
	case res = <-done:
	case <-ctx.Done():
		p.logger.Warn("judge timed out", "handoff_id", payload.HandoffID, "timeout", p.timeout, "error", ctx.Err())
		return nil, nil
	}
	if res.err != nil {
		p.logger.Warn("judge failed", "handoff_id", payload.HandoffID, "error", res.err)
		return nil, nil
	}

	out := make([]contracts.PolicyViolation, 0, len(res.vs))
	for _, v := range res.vs {
		if !v.Severity.Valid() {
			v.Severity = contracts.SeverityMedium
		}
		v.PolicyPack = p.name
		out = append(out, v)
	}
	return out, nil
}
