package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/ports"
)

// entry is a stored session plus its expiry bookkeeping.
type entry struct {
	session    *domain.Session
	owner      string
	cost       int64
	written    time.Time
	lastAccess time.Time
	ttl        time.Duration
	maxIdle    time.Duration
}

func (e *entry) expired(now time.Time) bool {
	if e.ttl > 0 && now.Sub(e.written) >= e.ttl {
		return true
	}
	return e.maxIdle > 0 && now.Sub(e.lastAccess) >= e.maxIdle
}

// Cluster is an in-process stand-in for a distributed map shared by several members.
// Safe for concurrent use.
type Cluster struct {
	mu      sync.Mutex
	entries map[string]*entry
	members map[string]*Store
	now     func() time.Time
}

// ClusterOption configures a Cluster.
type ClusterOption func(*Cluster)

// WithClock replaces the time source used for expiry.
func WithClock(now func() time.Time) ClusterOption {
	return func(c *Cluster) {
		c.now = now
	}
}

// NewCluster creates an empty cluster without members.
func NewCluster(opts ...ClusterOption) *Cluster {
	c := &Cluster{
		entries: make(map[string]*entry),
		members: make(map[string]*Store),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join registers a member and returns its handle on the shared map.
// Joining twice with the same name returns the existing handle.
func (c *Cluster) Join(node string) *Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.members[node]; ok {
		return s
	}
	s := &Store{cluster: c, node: node}
	s.active.Store(true)
	c.members[node] = s
	return s
}

// backupHolder returns the member holding the backup copy of entries owned by owner.
// Must be called with c.mu held.
func (c *Cluster) backupHolder(owner string) string {
	if len(c.members) < 2 {
		return ""
	}
	names := make([]string, 0, len(c.members))
	for name := range c.members {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if name == owner {
			return names[(i+1)%len(names)]
		}
	}
	return ""
}

// lookup returns a live entry, evicting it when expired. Must be called with c.mu held.
func (c *Cluster) lookup(id string, now time.Time) (*entry, bool) {
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(c.entries, id)
		return nil, false
	}
	return e, true
}

// Store implements ports.SessionMap as one member of a Cluster.
type Store struct {
	cluster *Cluster
	node    string
	active  atomic.Bool
}

var _ ports.SessionMap = (*Store)(nil)

// NewStore creates a single-member in-memory map.
func NewStore(opts ...ClusterOption) *Store {
	return NewCluster(opts...).Join("local")
}

// Node returns the member name.
func (s *Store) Node() string {
	return s.node
}

// Shutdown disconnects the member. Every further call fails with ports.ErrInstanceNotActive.
func (s *Store) Shutdown() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, s.node)
}

func (s *Store) check(ctx context.Context) error {
	if !s.active.Load() {
		return ports.ErrInstanceNotActive
	}
	return ctx.Err()
}

// Get retrieves a copy of the session and refreshes its idle clock.
func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.lookup(id, now)
	if !ok {
		return nil, nil
	}
	e.lastAccess = now
	return e.session.Clone(), nil
}

// GetAsync runs Get in the background.
func (s *Store) GetAsync(ctx context.Context, id string) *ports.Future[*domain.Session] {
	return ports.Go(ctx, func(ctx context.Context) (*domain.Session, error) {
		return s.Get(ctx, id)
	})
}

func (s *Store) newEntry(sess *domain.Session, ttl, maxIdle time.Duration, now time.Time) (*entry, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	return &entry{
		session:    sess.Clone(),
		owner:      s.node,
		cost:       int64(len(data)),
		written:    now,
		lastAccess: now,
		ttl:        ttl,
		maxIdle:    maxIdle,
	}, nil
}

// Set stores a copy of the session.
func (s *Store) Set(ctx context.Context, sess *domain.Session, ttl, maxIdle time.Duration) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, err := s.newEntry(sess, ttl, maxIdle, now)
	if err != nil {
		return err
	}
	c.entries[sess.ID] = e
	return nil
}

// PutIfAbsent stores a copy of the session unless a live entry exists.
func (s *Store) PutIfAbsent(ctx context.Context, sess *domain.Session, ttl, maxIdle time.Duration) (*domain.Session, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if existing, ok := c.lookup(sess.ID, now); ok {
		existing.lastAccess = now
		return existing.session.Clone(), nil
	}
	e, err := s.newEntry(sess, ttl, maxIdle, now)
	if err != nil {
		return nil, err
	}
	c.entries[sess.ID] = e
	return nil, nil
}

// Remove deletes the session and returns it.
func (s *Store) Remove(ctx context.Context, id string) (*domain.Session, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(id, c.now())
	if !ok {
		return nil, nil
	}
	delete(c.entries, id)
	return e.session, nil
}

// RemoveAsync runs Remove in the background.
func (s *Store) RemoveAsync(ctx context.Context, id string) *ports.Future[*domain.Session] {
	return ports.Go(ctx, func(ctx context.Context) (*domain.Session, error) {
		return s.Remove(ctx, id)
	})
}

// ContainsKey checks for the session and refreshes its idle clock.
func (s *Store) ContainsKey(ctx context.Context, id string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.lookup(id, now)
	if ok {
		e.lastAccess = now
	}
	return ok, nil
}

// scan visits live entries matching p, evicting expired ones on the way.
func (s *Store) scan(ctx context.Context, p domain.Predicate, localOnly bool, visit func(id string, e *entry)) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, id)
			continue
		}
		if localOnly && e.owner != s.node {
			continue
		}
		if p.Match(e.session) {
			visit(id, e)
		}
	}
	return nil
}

// KeySet returns IDs of matching sessions across the cluster.
func (s *Store) KeySet(ctx context.Context, p domain.Predicate) ([]string, error) {
	var keys []string
	err := s.scan(ctx, p, false, func(id string, _ *entry) {
		keys = append(keys, id)
	})
	return keys, err
}

// LocalKeySet returns IDs of matching sessions owned by this member.
func (s *Store) LocalKeySet(ctx context.Context, p domain.Predicate) ([]string, error) {
	var keys []string
	err := s.scan(ctx, p, true, func(id string, _ *entry) {
		keys = append(keys, id)
	})
	return keys, err
}

// Values returns copies of matching sessions.
func (s *Store) Values(ctx context.Context, p domain.Predicate) ([]*domain.Session, error) {
	var values []*domain.Session
	err := s.scan(ctx, p, false, func(_ string, e *entry) {
		values = append(values, e.session.Clone())
	})
	return values, err
}

// Size returns the number of live sessions.
func (s *Store) Size(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, nil, false, func(string, *entry) { n++ })
	return n, err
}

// Clear removes every session from the cluster.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	return nil
}

// Stats reports owned entries and the backup copies this member holds for others.
func (s *Store) Stats(ctx context.Context) (ports.Stats, error) {
	var st ports.Stats
	if err := s.check(ctx); err != nil {
		return st, err
	}
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	holders := make(map[string]string)
	for id, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, id)
			continue
		}
		if e.owner == s.node {
			st.OwnedEntryCount++
			st.OwnedEntryMemoryCost += e.cost
			continue
		}
		holder, ok := holders[e.owner]
		if !ok {
			holder = c.backupHolder(e.owner)
			holders[e.owner] = holder
		}
		if holder == s.node {
			st.BackupEntryCount++
			st.BackupEntryMemoryCost += e.cost
		}
	}
	return st, nil
}
