package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/aretw0/sessiond/internal/logging"
	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of the tracing middleware.
const TracerName = "github.com/aretw0/sessiond/map"

// TracingOption configures the tracing middleware.
type TracingOption func(*tracingMiddleware)

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) TracingOption {
	return func(m *tracingMiddleware) {
		m.tracer = tracer
	}
}

// WithTracingLogger sets the logger receiving per-operation debug records.
func WithTracingLogger(logger *slog.Logger) TracingOption {
	return func(m *tracingMiddleware) {
		m.logger = logger
	}
}

type tracingMiddleware struct {
	next   ports.SessionMap
	tracer trace.Tracer
	logger *slog.Logger
}

// NewTracingMiddleware creates a middleware recording one span and one debug
// log record per map operation.
func NewTracingMiddleware(opts ...TracingOption) Middleware {
	return func(next ports.SessionMap) ports.SessionMap {
		m := &tracingMiddleware{
			next:   next,
			tracer: otel.Tracer(TracerName),
			logger: logging.NewNop(),
		}
		for _, opt := range opts {
			opt(m)
		}
		return m
	}
}

// start opens a span for op. The returned func ends it with the outcome.
func (m *tracingMiddleware) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error, ...attribute.KeyValue)) {
	begin := time.Now()
	ctx, span := m.tracer.Start(ctx, "sessiond.map."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("sessiond.map.operation", op))
	span.SetAttributes(attrs...)

	return ctx, func(err error, result ...attribute.KeyValue) {
		elapsed := time.Since(begin)
		span.SetAttributes(result...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "map_error")
			m.logger.Debug("map."+op+".error", "err", err, "elapsed", elapsed)
		} else {
			span.SetStatus(codes.Ok, "")
			m.logger.Debug("map."+op+".success", "elapsed", elapsed)
		}
		span.End()
	}
}

// sessionID identifies the session in spans by a truncated SHA-256 digest.
// Session ids are bearer credentials and never leave the process raw.
func sessionID(id string) attribute.KeyValue {
	sum := sha256.Sum256([]byte(id))
	return attribute.String("sessiond.session_digest", hex.EncodeToString(sum[:8]))
}

func found(s *domain.Session) attribute.KeyValue {
	return attribute.Bool("sessiond.found", s != nil)
}

func (m *tracingMiddleware) Get(ctx context.Context, id string) (*domain.Session, error) {
	ctx, finish := m.start(ctx, "get", sessionID(id))
	s, err := m.next.Get(ctx, id)
	finish(err, found(s))
	return s, err
}

func (m *tracingMiddleware) GetAsync(ctx context.Context, id string) *ports.Future[*domain.Session] {
	ctx, finish := m.start(ctx, "get_async", sessionID(id))
	return traceFuture(ctx, m.next.GetAsync(ctx, id), finish)
}

func (m *tracingMiddleware) Set(ctx context.Context, s *domain.Session, ttl, maxIdle time.Duration) error {
	ctx, finish := m.start(ctx, "set", sessionID(s.ID),
		attribute.Int64("sessiond.ttl_ms", ttl.Milliseconds()),
		attribute.Int64("sessiond.max_idle_ms", maxIdle.Milliseconds()),
	)
	err := m.next.Set(ctx, s, ttl, maxIdle)
	finish(err)
	return err
}

func (m *tracingMiddleware) PutIfAbsent(ctx context.Context, s *domain.Session, ttl, maxIdle time.Duration) (*domain.Session, error) {
	ctx, finish := m.start(ctx, "put_if_absent", sessionID(s.ID),
		attribute.Int64("sessiond.max_idle_ms", maxIdle.Milliseconds()),
	)
	existing, err := m.next.PutIfAbsent(ctx, s, ttl, maxIdle)
	finish(err, attribute.Bool("sessiond.inserted", err == nil && existing == nil))
	return existing, err
}

func (m *tracingMiddleware) Remove(ctx context.Context, id string) (*domain.Session, error) {
	ctx, finish := m.start(ctx, "remove", sessionID(id))
	s, err := m.next.Remove(ctx, id)
	finish(err, found(s))
	return s, err
}

func (m *tracingMiddleware) RemoveAsync(ctx context.Context, id string) *ports.Future[*domain.Session] {
	ctx, finish := m.start(ctx, "remove_async", sessionID(id))
	return traceFuture(ctx, m.next.RemoveAsync(ctx, id), finish)
}

func (m *tracingMiddleware) ContainsKey(ctx context.Context, id string) (bool, error) {
	ctx, finish := m.start(ctx, "contains_key", sessionID(id))
	ok, err := m.next.ContainsKey(ctx, id)
	finish(err, attribute.Bool("sessiond.found", ok))
	return ok, err
}

func (m *tracingMiddleware) KeySet(ctx context.Context, p domain.Predicate) ([]string, error) {
	ctx, finish := m.start(ctx, "key_set")
	ids, err := m.next.KeySet(ctx, p)
	finish(err, attribute.Int("sessiond.key_count", len(ids)))
	return ids, err
}

func (m *tracingMiddleware) LocalKeySet(ctx context.Context, p domain.Predicate) ([]string, error) {
	ctx, finish := m.start(ctx, "local_key_set")
	ids, err := m.next.LocalKeySet(ctx, p)
	finish(err, attribute.Int("sessiond.key_count", len(ids)))
	return ids, err
}

func (m *tracingMiddleware) Values(ctx context.Context, p domain.Predicate) ([]*domain.Session, error) {
	ctx, finish := m.start(ctx, "values")
	values, err := m.next.Values(ctx, p)
	finish(err, attribute.Int("sessiond.value_count", len(values)))
	return values, err
}

func (m *tracingMiddleware) Size(ctx context.Context) (int, error) {
	ctx, finish := m.start(ctx, "size")
	n, err := m.next.Size(ctx)
	finish(err, attribute.Int("sessiond.size", n))
	return n, err
}

func (m *tracingMiddleware) Clear(ctx context.Context) error {
	ctx, finish := m.start(ctx, "clear")
	err := m.next.Clear(ctx)
	finish(err)
	return err
}

func (m *tracingMiddleware) Stats(ctx context.Context) (ports.Stats, error) {
	ctx, finish := m.start(ctx, "stats")
	st, err := m.next.Stats(ctx)
	finish(err, attribute.Int64("sessiond.owned_entries", st.OwnedEntryCount))
	return st, err
}

// traceFuture ends the span once f completes.
func traceFuture(ctx context.Context, f *ports.Future[*domain.Session], finish func(error, ...attribute.KeyValue)) *ports.Future[*domain.Session] {
	return ports.Go(ctx, func(ctx context.Context) (*domain.Session, error) {
		s, err := f.Wait(ctx)
		if ctx.Err() != nil {
			f.Cancel()
			s, err = nil, ctx.Err()
		}
		finish(err, found(s))
		return s, err
	})
}
