package interceptor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

const blockedMessageLimit = 3

// HandoffBlockedError is returned by a strict Guard when a handoff is
// blocked. Result holds the full validation result.
type HandoffBlockedError struct {
	Result *contracts.HandoffValidationResult
}

func (e *HandoffBlockedError) Error() string {
	var msgs []string
	for _, v := range e.Result.AllViolations() {
		if !v.Blocking() {
			continue
		}
		msgs = append(msgs, v.Message)
		if len(msgs) == blockedMessageLimit {
			break
		}
	}
	return fmt.Sprintf("handoff blocked: %s -> %s: %s", e.Result.Consumer, e.Result.Provider, strings.Join(msgs, "; "))
}

// Guard validates every handoff between one consumer and one provider.
type Guard struct {
	interceptor *Interceptor
	consumer    string
	provider    string
	strict      bool

	mu   sync.Mutex
	last *contracts.HandoffValidationResult
}

type GuardOption func(*Guard)

// WithRaiseOnBlock controls whether Send returns a HandoffBlockedError for
// blocked handoffs. Guards are strict by default.
func WithRaiseOnBlock(strict bool) GuardOption {
	return func(g *Guard) { g.strict = strict }
}

func (i *Interceptor) Guard(consumer, provider string, opts ...GuardOption) *Guard {
	g := &Guard{interceptor: i, consumer: consumer, provider: provider, strict: true}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Send validates an outgoing handoff. The result is always returned; the
// error is non-nil only for a blocked handoff on a strict guard.
func (g *Guard) Send(ctx context.Context, data, metadata map[string]any) (*contracts.HandoffValidationResult, error) {
	result := g.interceptor.ValidateOutgoing(ctx, g.consumer, g.provider, data, metadata)
	g.mu.Lock()
	g.last = result
	g.mu.Unlock()

	if result.IsBlocked() && g.strict {
		return result, &HandoffBlockedError{Result: result}
	}
	return result, nil
}

// LastResult is the result of the most recent Send, or nil.
func (g *Guard) LastResult() *contracts.HandoffValidationResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
