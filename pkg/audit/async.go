package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

var ErrLoggerClosed = errors.New("audit logger closed")

const defaultQueueSize = 256

// AsyncLogger queues results for a single background writer. Records are
// appended in the order Log was called; Close drains the queue.
type AsyncLogger struct {
	next    Recorder
	queue   chan *contracts.HandoffValidationResult
	logger  *slog.Logger
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncLogger starts the writer goroutine in front of next.
func NewAsyncLogger(next Recorder, queueSize int) *AsyncLogger {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	a := &AsyncLogger{
		next:   next,
		queue:  make(chan *contracts.HandoffValidationResult, queueSize),
		logger: slog.Default().With("component", "audit.async"),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncLogger) run() {
	defer close(a.done)
	for r := range a.queue {
		// Appends outlive the request that produced them.
		a.next.Log(context.Background(), r)
	}
}

// Log enqueues result. It waits for queue space until ctx is done; results
// that cannot be queued are counted as dropped.
func (a *AsyncLogger) Log(ctx context.Context, result *contracts.HandoffValidationResult) {
	if result == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(ctx, result, ErrLoggerClosed)
		return
	}
	select {
	case a.queue <- result:
	case <-ctx.Done():
		a.drop(ctx, result, ctx.Err())
	}
}

func (a *AsyncLogger) drop(ctx context.Context, result *contracts.HandoffValidationResult, err error) {
	a.dropped.Add(1)
	a.logger.ErrorContext(ctx, "audit record dropped", "handoff_id", result.HandoffID, "error", err)
}

// Dropped is the number of results never handed to the writer.
func (a *AsyncLogger) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting results and waits until queued ones are written
// or ctx is done.
func (a *AsyncLogger) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
