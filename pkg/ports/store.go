package ports

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/sessiond/pkg/domain"
)

// ErrInstanceNotActive is returned by a SessionMap once the local cluster member
// is shut down or disconnected. Callers should treat it as permanent.
var ErrInstanceNotActive = errors.New("distributed map instance is not active")

// ErrCancelled is returned by a Future whose operation was canceled before it completed.
var ErrCancelled = errors.New("operation cancelled")

// Stats describes entry counts and memory cost of the local member.
type Stats struct {
	OwnedEntryCount       int64
	BackupEntryCount      int64
	OwnedEntryMemoryCost  int64
	BackupEntryMemoryCost int64
}

// StatsSource samples map statistics.
type StatsSource interface {
	Stats(ctx context.Context) (Stats, error)
}

// SessionMap defines the cluster-wide key-value store of sessions.
// Implementations must be safe for concurrent use and must never hand out
// references to their internal values.
type SessionMap interface {
	StatsSource

	// Get returns the session, or nil if absent.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// GetAsync starts a Get and returns immediately.
	GetAsync(ctx context.Context, id string) *Future[*domain.Session]

	// Set stores the session unconditionally. A zero ttl never expires by age,
	// a zero maxIdle never expires by inactivity.
	Set(ctx context.Context, s *domain.Session, ttl, maxIdle time.Duration) error

	// PutIfAbsent stores the session only if its ID is unknown.
	// It returns the already stored session, or nil if the insert happened.
	PutIfAbsent(ctx context.Context, s *domain.Session, ttl, maxIdle time.Duration) (*domain.Session, error)

	// Remove deletes the session and returns it, or nil if absent.
	Remove(ctx context.Context, id string) (*domain.Session, error)

	// RemoveAsync starts a Remove and returns immediately.
	RemoveAsync(ctx context.Context, id string) *Future[*domain.Session]

	// ContainsKey reports whether the session exists. As a side effect it
	// resets the entry's idle-expiry clock.
	ContainsKey(ctx context.Context, id string) (bool, error)

	// KeySet returns the IDs of all sessions matching the predicate.
	KeySet(ctx context.Context, p domain.Predicate) ([]string, error)

	// LocalKeySet is like KeySet but restricted to entries owned by the local member.
	LocalKeySet(ctx context.Context, p domain.Predicate) ([]string, error)

	// Values returns copies of all sessions matching the predicate.
	Values(ctx context.Context, p domain.Predicate) ([]*domain.Session, error)

	// Size returns the number of stored sessions.
	Size(ctx context.Context) (int, error)

	// Clear removes every session.
	Clear(ctx context.Context) error
}
