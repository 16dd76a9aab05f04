package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/sessiond/internal/logging"
	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/observability"
	"github.com/aretw0/sessiond/pkg/ports"
	"github.com/google/uuid"
)

// FetchFunc loads a session from the backing store. It returns nil, nil when
// the session does not exist.
type FetchFunc func(ctx context.Context) (*domain.Session, error)

// ticket coordinates all concurrent lookups of one session ID.
// result and err are written once by the owner before done is closed.
type ticket struct {
	owner  string
	done   chan struct{}
	result *domain.Session
	err    error

	mu              sync.Mutex
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
}

func (t *ticket) setCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
}

// requestCancel asks the owner's fetch to stop. Best effort.
func (t *ticket) requestCancel() {
	t.cancelRequested.Store(true)
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Synchronizer collapses concurrent lookups of the same session ID into a
// single fetch from the backing store.
type Synchronizer struct {
	tickets sync.Map // session ID -> *ticket
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewSynchronizer creates an empty synchronizer. Both arguments may be nil.
func NewSynchronizer(logger *slog.Logger, metrics *observability.Metrics) *Synchronizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Synchronizer{logger: logger, metrics: metrics}
}

// acquire returns the outstanding ticket for id, creating and registering a
// new one if there is none. The boolean reports ownership.
func (s *Synchronizer) acquire(id string) (*ticket, bool) {
	if t, ok := s.tickets.Load(id); ok {
		return t.(*ticket), false
	}
	fresh := &ticket{owner: uuid.NewString(), done: make(chan struct{})}
	actual, loaded := s.tickets.LoadOrStore(id, fresh)
	return actual.(*ticket), !loaded
}

// InFlight returns the number of outstanding tickets.
func (s *Synchronizer) InFlight() int {
	n := 0
	s.tickets.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// Lookup returns the session for id, running fetch only if no other lookup of
// id is in flight. Concurrent callers share the outcome of that single fetch.
//
// With timeout > 0 a waiting caller gives up after 1.5x timeout, requests
// cancellation of the in-flight fetch and fails with domain.ErrNoSessionFound.
func (s *Synchronizer) Lookup(ctx context.Context, id string, timeout time.Duration, fetch FetchFunc) (*domain.Session, error) {
	t, owner := s.acquire(id)
	if owner {
		return s.own(ctx, id, t, fetch)
	}
	s.metrics.ObserveCoalesced()
	return s.await(ctx, id, t, timeout)
}

func (s *Synchronizer) own(ctx context.Context, id string, t *ticket, fetch FetchFunc) (sess *domain.Session, err error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	t.setCancel(cancel)

	panicked := true
	defer func() {
		cancel()
		if panicked {
			sess, err = nil, fmt.Errorf("%w: lookup of session %s panicked", domain.ErrUnexpected, id)
		}
		t.result, t.err = sess.Clone(), err
		close(t.done)
		s.tickets.CompareAndDelete(id, t)
		if panicked {
			if r := recover(); r != nil {
				panic(r)
			}
		}
	}()

	sess, err = fetch(fetchCtx)
	panicked = false
	if err != nil {
		return nil, s.classify(ctx, id, t, err)
	}
	if sess == nil {
		return nil, notFound(id)
	}
	return sess, nil
}

// classify converts cancellation outcomes of the owner's fetch.
func (s *Synchronizer) classify(ctx context.Context, id string, t *ticket, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: lookup of session %s: %v", domain.ErrInterrupted, id, ctx.Err())
	}
	if errors.Is(err, ports.ErrCancelled) || (t.cancelRequested.Load() && errors.Is(err, context.Canceled)) {
		s.logger.Info("Session lookup was cancelled, treating as miss", "session_id", id)
		return notFound(id)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: lookup of session %s: %v", domain.ErrInterrupted, id, err)
	}
	return err
}

func (s *Synchronizer) await(ctx context.Context, id string, t *ticket, timeout time.Duration) (*domain.Session, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout * 3 / 2)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-t.done:
	case <-expired:
		go t.requestCancel()
		s.logger.Debug("Gave up waiting for in-flight session lookup",
			"session_id", id,
			"owner", t.owner,
			"timeout", timeout,
		)
		return nil, notFound(id)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for session %s: %v", domain.ErrInterrupted, id, ctx.Err())
	}

	if t.err != nil {
		if errors.Is(t.err, domain.ErrInterrupted) {
			return nil, notFound(id)
		}
		return nil, t.err
	}
	return t.result.Clone(), nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", domain.ErrNoSessionFound, id)
}
