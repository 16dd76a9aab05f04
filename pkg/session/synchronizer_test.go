package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/observability"
	"github.com/aretw0/sessiond/pkg/session"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynchronizer_SingleFetchSharedOutcome(t *testing.T) {
	metrics := observability.NewMetrics()
	sy := session.NewSynchronizer(nil, metrics)

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (*domain.Session, error) {
		fetches.Add(1)
		<-release
		return &domain.Session{ID: "s1", UserID: 1}, nil
	}

	const callers = 8
	results := make([]*domain.Session, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = sy.Lookup(context.Background(), "s1", 0, fetch)
		}()
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.Coalesced) == callers-1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sy.InFlight())

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, 0, sy.InFlight())
}

func TestSynchronizer_OwnerResultIsPrivate(t *testing.T) {
	metrics := observability.NewMetrics()
	sy := session.NewSynchronizer(nil, metrics)

	release := make(chan struct{})
	fetch := func(ctx context.Context) (*domain.Session, error) {
		<-release
		return &domain.Session{ID: "s1", Parameters: map[string]string{"a": "1"}}, nil
	}

	owned := make(chan *domain.Session, 1)
	go func() {
		s, err := sy.Lookup(context.Background(), "s1", 0, fetch)
		assert.NoError(t, err)
		owned <- s
	}()
	require.Eventually(t, func() bool { return sy.InFlight() == 1 }, 2*time.Second, time.Millisecond)

	const waiters = 50
	results := make([]*domain.Session, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := sy.Lookup(context.Background(), "s1", 0, fetch)
			assert.NoError(t, err)
			results[i] = s
		}()
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.Coalesced) == waiters
	}, 2*time.Second, time.Millisecond)

	close(release)
	own := <-owned
	own.SetParameter("k", "v")
	own.Login = "changed"
	wg.Wait()

	for _, s := range results {
		require.NotNil(t, s)
		assert.NotSame(t, own, s)
		_, ok := s.Parameter("k")
		assert.False(t, ok)
		assert.Empty(t, s.Login)
	}
}

func TestSynchronizer_SequentialLookupsFetchAgain(t *testing.T) {
	sy := session.NewSynchronizer(nil, nil)

	var fetches atomic.Int32
	fetch := func(ctx context.Context) (*domain.Session, error) {
		fetches.Add(1)
		return nil, nil
	}

	_, err := sy.Lookup(context.Background(), "s1", 0, fetch)
	assert.ErrorIs(t, err, domain.ErrNoSessionFound)
	_, err = sy.Lookup(context.Background(), "s1", 0, fetch)
	assert.ErrorIs(t, err, domain.ErrNoSessionFound)

	assert.Equal(t, int32(2), fetches.Load())
}

func TestSynchronizer_WaiterGivesUpAndCancelsOwner(t *testing.T) {
	metrics := observability.NewMetrics()
	sy := session.NewSynchronizer(nil, metrics)

	stuck := func(ctx context.Context) (*domain.Session, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ownerErr := make(chan error, 1)
	go func() {
		_, err := sy.Lookup(context.Background(), "s1", 0, stuck)
		ownerErr <- err
	}()
	require.Eventually(t, func() bool { return sy.InFlight() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	_, err := sy.Lookup(context.Background(), "s1", 100*time.Millisecond, stuck)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, domain.ErrNoSessionFound)
	assert.GreaterOrEqual(t, elapsed, 140*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	select {
	case err := <-ownerErr:
		assert.ErrorIs(t, err, domain.ErrNoSessionFound)
	case <-time.After(time.Second):
		t.Fatal("owner fetch was not cancelled")
	}
	assert.Equal(t, 0, sy.InFlight())
}

func TestSynchronizer_OwnerInterruptedIsMissForWaiters(t *testing.T) {
	metrics := observability.NewMetrics()
	sy := session.NewSynchronizer(nil, metrics)

	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	stuck := func(ctx context.Context) (*domain.Session, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ownerErr := make(chan error, 1)
	go func() {
		_, err := sy.Lookup(ownerCtx, "s1", 0, stuck)
		ownerErr <- err
	}()
	require.Eventually(t, func() bool { return sy.InFlight() == 1 }, time.Second, time.Millisecond)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := sy.Lookup(context.Background(), "s1", 0, stuck)
		waiterErr <- err
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.Coalesced) == 1
	}, time.Second, time.Millisecond)

	cancelOwner()

	assert.ErrorIs(t, <-ownerErr, domain.ErrInterrupted)
	err := <-waiterErr
	assert.ErrorIs(t, err, domain.ErrNoSessionFound)
	assert.NotErrorIs(t, err, domain.ErrInterrupted)
}

func TestSynchronizer_WaiterContextEnds(t *testing.T) {
	metrics := observability.NewMetrics()
	sy := session.NewSynchronizer(nil, metrics)

	release := make(chan struct{})
	defer close(release)
	go func() {
		_, _ = sy.Lookup(context.Background(), "s1", 0, func(ctx context.Context) (*domain.Session, error) {
			<-release
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return sy.InFlight() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sy.Lookup(ctx, "s1", 0, nil)
	assert.ErrorIs(t, err, domain.ErrInterrupted)
}

func TestSynchronizer_PanicReleasesTicket(t *testing.T) {
	sy := session.NewSynchronizer(nil, nil)

	assert.Panics(t, func() {
		_, _ = sy.Lookup(context.Background(), "s1", 0, func(ctx context.Context) (*domain.Session, error) {
			panic("boom")
		})
	})
	assert.Equal(t, 0, sy.InFlight())

	sess, err := sy.Lookup(context.Background(), "s1", 0, func(ctx context.Context) (*domain.Session, error) {
		return &domain.Session{ID: "s1"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
}
