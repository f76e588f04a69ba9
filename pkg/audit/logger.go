package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

// Recorder receives every validation result. Implementations must not
// return failures to the caller of the handoff.
type Recorder interface {
	Log(ctx context.Context, result *contracts.HandoffValidationResult)
}

// Sink is a best-effort secondary destination for records, such as a
// stream feeding a live dashboard.
type Sink interface {
	Publish(ctx context.Context, rec contracts.Record) error
}

// Logger appends results to a Store synchronously and answers queries
// and reports over the stored trail.
type Logger struct {
	store        Store
	sinks        []Sink
	logger       *slog.Logger
	clock        func() time.Time
	appendErrors atomic.Int64
}

type LoggerOption func(*Logger)

func WithSink(s Sink) LoggerOption {
	return func(l *Logger) { l.sinks = append(l.sinks, s) }
}

func WithLogger(logger *slog.Logger) LoggerOption {
	return func(l *Logger) { l.logger = logger }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) LoggerOption {
	return func(l *Logger) { l.clock = now }
}

// NewLogger wraps store. A nil store gets an in-memory hash-chained one.
func NewLogger(store Store, opts ...LoggerOption) *Logger {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Logger{
		store:  store,
		logger: slog.Default().With("component", "audit"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logger) Store() Store { return l.store }

// Log appends result. Store failures are counted and logged; sink failures
// are only logged.
func (l *Logger) Log(ctx context.Context, result *contracts.HandoffValidationResult) {
	if result == nil {
		return
	}
	rec := result.Record()
	if err := l.store.Append(ctx, rec); err != nil {
		l.appendErrors.Add(1)
		l.logger.ErrorContext(ctx, "audit append failed", "handoff_id", rec.HandoffID, "error", err)
		return
	}
	for _, s := range l.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			l.logger.WarnContext(ctx, "audit sink publish failed", "handoff_id", rec.HandoffID, "error", err)
		}
	}
}

// AppendErrors is the number of results that could not be stored.
func (l *Logger) AppendErrors() int64 {
	return l.appendErrors.Load()
}

func (l *Logger) Records(ctx context.Context, f Filter) ([]contracts.Record, error) {
	return l.store.List(ctx, f)
}

func (l *Logger) Get(ctx context.Context, handoffID string) (contracts.Record, error) {
	return l.store.Get(ctx, handoffID)
}

// ByAgent returns handoffs where agent was consumer or provider.
func (l *Logger) ByAgent(ctx context.Context, agent string) ([]contracts.Record, error) {
	return l.store.List(ctx, Filter{Agent: agent})
}

func (l *Logger) ByContract(ctx context.Context, contractID string) ([]contracts.Record, error) {
	return l.store.List(ctx, Filter{ContractID: contractID})
}

func (l *Logger) ByResult(ctx context.Context, result contracts.Outcome) ([]contracts.Record, error) {
	return l.store.List(ctx, Filter{Result: result})
}

func (l *Logger) Failures(ctx context.Context) ([]contracts.Record, error) {
	return l.ByResult(ctx, contracts.OutcomeFail)
}

func (l *Logger) Blocked(ctx context.Context) ([]contracts.Record, error) {
	blocked := true
	return l.store.List(ctx, Filter{Blocked: &blocked})
}

// GenerateSummaryReport summarizes the whole trail.
func (l *Logger) GenerateSummaryReport(ctx context.Context) (*SummaryReport, error) {
	return l.Report(ctx, Filter{})
}

// Report summarizes the records matching f.
func (l *Logger) Report(ctx context.Context, f Filter) (*SummaryReport, error) {
	records, err := l.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return Summarize(records, l.clock()), nil
}
