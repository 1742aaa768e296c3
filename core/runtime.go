package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"optionsvault/core/events"
	"optionsvault/core/state"
	"optionsvault/observability"
)

// ErrRuntimeClosed is returned once Close has been called.
var ErrRuntimeClosed = errors.New("runtime: closed")

// PanicError wraps a panic recovered while an operation was running.
type PanicError struct {
	Op    string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("runtime: %s panicked: %v", e.Op, e.Value)
}

// Runtime executes operations one at a time against the journaled state
// manager. Each operation either commits every write it made or none of them,
// and the events it emitted are only published after a successful commit.
type Runtime struct {
	mu      sync.Mutex
	state   *state.Manager
	buffer  *events.Buffer
	sink    events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.RuntimeMetrics
	closed  bool

	afterCommit []func()
}

// Option customises a Runtime.
type Option func(*Runtime)

// WithSink configures where committed events are published.
func WithSink(sink events.Emitter) Option {
	return func(r *Runtime) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithLogger configures the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(metrics *observability.RuntimeMetrics) Option {
	return func(r *Runtime) { r.metrics = metrics }
}

// NewRuntime constructs a runtime over the supplied state manager.
func NewRuntime(manager *state.Manager, opts ...Option) (*Runtime, error) {
	if manager == nil {
		return nil, fmt.Errorf("runtime: state manager required")
	}
	r := &Runtime{
		state:  manager,
		buffer: &events.Buffer{},
		sink:   events.NoopEmitter{},
		logger: slog.Default(),
		tracer: otel.Tracer("optionsvault/core"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// State exposes the manager engines are wired against. Callers must only touch
// it from inside Execute or View.
func (r *Runtime) State() *state.Manager { return r.state }

// Emitter returns the emitter engines should publish through. Events are held
// until the surrounding operation commits.
func (r *Runtime) Emitter() events.Emitter { return r.buffer }

// OnCommit registers a hook invoked after every successful commit while the
// runtime lock is still held.
func (r *Runtime) OnCommit(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.afterCommit = append(r.afterCommit, fn)
	r.mu.Unlock()
}

// Execute runs fn as a single all-or-nothing operation.
func (r *Runtime) Execute(ctx context.Context, op string, fn func() error) (err error) {
	if fn == nil {
		return fmt.Errorf("runtime: nil operation")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRuntimeClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, span := r.tracer.Start(ctx, "runtime."+op, trace.WithAttributes(attribute.String("operation", op)))
	start := time.Now()
	snap := r.state.Snapshot()
	r.buffer.Reset()

	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Op: op, Value: rec}
			r.rollback(op, snap, "panic")
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.metrics.Observe(op, time.Since(start), err)
	}()

	if err = fn(); err != nil {
		r.rollback(op, snap, "error")
		r.logger.Debug("operation reverted", slog.String("operation", op), slog.Any("error", err))
		return err
	}

	root, err := r.state.Commit()
	if err != nil {
		r.rollback(op, snap, "commit")
		r.logger.Error("state commit failed", slog.String("operation", op), slog.Any("error", err))
		return err
	}
	span.SetAttributes(attribute.Int64("height", int64(r.state.Height())))
	r.metrics.SetHeight(r.state.Height())

	published := r.buffer.Drain()
	for _, evt := range published {
		r.sink.Emit(evt)
		observability.Events().RecordPublished(evt.EventType())
	}
	for _, hook := range r.afterCommit {
		hook()
	}
	r.logger.Debug("operation committed",
		slog.String("operation", op),
		slog.Uint64("height", r.state.Height()),
		slog.String("root", fmt.Sprintf("%x", root[:8])),
		slog.Int("events", len(published)))
	return nil
}

func (r *Runtime) rollback(op string, snap int, reason string) {
	r.state.RevertToSnapshot(snap)
	r.state.Discard()
	for _, evt := range r.buffer.Drain() {
		observability.Events().RecordDropped(evt.EventType())
	}
	r.metrics.RecordRevert(op, reason)
}

// View runs fn under the runtime lock without committing. Any writes fn makes
// are discarded.
func (r *Runtime) View(fn func() error) error {
	if fn == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRuntimeClosed
	}
	snap := r.state.Snapshot()
	defer func() {
		r.state.RevertToSnapshot(snap)
		r.buffer.Reset()
	}()
	return fn()
}

// Root returns the last committed state root and height.
func (r *Runtime) Root() ([32]byte, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Root(), r.state.Height()
}

// Close rejects further operations.
func (r *Runtime) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
