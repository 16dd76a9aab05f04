package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aretw0/sessiond/internal/logging"
	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/observability"
	"github.com/aretw0/sessiond/pkg/ports"
	"golang.org/x/sync/errgroup"
)

// DefaultOpTimeout bounds each pending removal awaited by RemoveMultiple.
const DefaultOpTimeout = 5 * time.Second

// Storage is the session storage facade. It is safe for concurrent use.
type Storage struct {
	m         ports.SessionMap
	lookups   *Synchronizer
	policy    *IdlePolicy
	logger    *slog.Logger
	metrics   *observability.Metrics
	opTimeout time.Duration

	inactive atomic.Bool
}

// Option configures the Storage.
type Option func(*Storage)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		s.logger = logger
	}
}

// WithMetrics enables operation counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Storage) {
		s.metrics = m
	}
}

// WithIdlePolicy sets the idle-time policy. Defaults to a policy without
// configuration source (1 hour / 1 week).
func WithIdlePolicy(p *IdlePolicy) Option {
	return func(s *Storage) {
		s.policy = p
	}
}

// WithOpTimeout bounds the waits of bulk removals.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Storage) {
		s.opTimeout = d
	}
}

// NewStorage creates a facade over the given map.
func NewStorage(m ports.SessionMap, opts ...Option) *Storage {
	s := &Storage{
		m:         m,
		logger:    logging.NewNop(),
		opTimeout: DefaultOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy == nil {
		s.policy = NewIdlePolicy(nil, s.logger)
	}
	s.lookups = NewSynchronizer(s.logger, s.metrics)
	return s
}

// Active reports whether the backing store is still considered available.
func (s *Storage) Active() bool {
	return !s.inactive.Load()
}

// Policy returns the idle-time policy in use.
func (s *Storage) Policy() *IdlePolicy {
	return s.policy
}

// InFlight returns the number of lookups currently fetching from the store.
func (s *Storage) InFlight() int {
	return s.lookups.InFlight()
}

// Lookup returns the session with the given ID.
func (s *Storage) Lookup(ctx context.Context, id string) (*domain.Session, error) {
	return s.LookupWithTimeout(ctx, id, 0)
}

// LookupWithTimeout is like Lookup but gives up after timeout when positive,
// reporting domain.ErrNoSessionFound.
func (s *Storage) LookupWithTimeout(ctx context.Context, id string, timeout time.Duration) (*domain.Session, error) {
	sess, err := s.lookup(ctx, id, timeout)
	s.observe("lookup", err)
	return sess, err
}

func (s *Storage) lookup(ctx context.Context, id string, timeout time.Duration) (*domain.Session, error) {
	if id == "" {
		return nil, notFound(id)
	}
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	return s.lookups.Lookup(ctx, id, timeout, func(fetchCtx context.Context) (*domain.Session, error) {
		if timeout <= 0 {
			sess, err := s.m.Get(fetchCtx, id)
			return sess, s.fetchError(err)
		}

		fut := s.m.GetAsync(fetchCtx, id)
		waitCtx, cancel := context.WithTimeout(fetchCtx, timeout)
		defer cancel()

		sess, err := fut.Wait(waitCtx)
		if err != nil && fetchCtx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			fut.Cancel()
			s.logger.Debug("Session lookup timed out", "session_id", id, "timeout", timeout)
			return nil, notFound(id)
		}
		return sess, s.fetchError(err)
	})
}

// fetchError translates lookup failures. Cancellation is left to the synchronizer.
func (s *Storage) fetchError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ports.ErrCancelled):
		return err
	case errors.Is(err, ports.ErrInstanceNotActive):
		s.markInactive(err)
		return fmt.Errorf("%w: %v", domain.ErrStorageDown, err)
	default:
		return fmt.Errorf("%w: lookup failed: %v", domain.ErrUnexpected, err)
	}
}

// AddIfAbsent stores the session unless its ID is taken. It reports whether
// the session was inserted.
func (s *Storage) AddIfAbsent(ctx context.Context, sess *domain.Session) (bool, error) {
	inserted, err := s.addIfAbsent(ctx, sess)
	s.observe("add", err)
	return inserted, err
}

func (s *Storage) addIfAbsent(ctx context.Context, sess *domain.Session) (bool, error) {
	if sess == nil || sess.ID == "" {
		return false, fmt.Errorf("%w: session without id", domain.ErrSaveFailed)
	}
	if err := s.checkActive(); err != nil {
		return false, err
	}
	existing, err := s.m.PutIfAbsent(ctx, sess, 0, s.policy.MaxIdle(sess))
	if err != nil {
		return false, s.fail(ctx, domain.ErrSaveFailed, sess.ID, err)
	}
	if existing != nil {
		s.logger.Debug("Session already stored", "session_id", sess.ID)
	}
	return existing == nil, nil
}

// AddSessionsIfAbsent inserts each session that is not yet stored. It stops at
// the first failure; sessions inserted before it remain stored.
func (s *Storage) AddSessionsIfAbsent(ctx context.Context, sessions []*domain.Session) error {
	for _, sess := range sessions {
		if _, err := s.AddIfAbsent(ctx, sess); err != nil {
			return err
		}
	}
	return nil
}

// Add stores the session unconditionally.
func (s *Storage) Add(ctx context.Context, sess *domain.Session) error {
	err := s.put(ctx, sess)
	s.observe("add", err)
	return err
}

func (s *Storage) put(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("%w: session without id", domain.ErrSaveFailed)
	}
	if err := s.checkActive(); err != nil {
		return err
	}
	if err := s.m.Set(ctx, sess, 0, s.policy.MaxIdle(sess)); err != nil {
		return s.fail(ctx, domain.ErrSaveFailed, sess.ID, err)
	}
	return nil
}

// Remove deletes the session. Removing an unknown ID is not an error; the
// boolean reports whether something was removed.
func (s *Storage) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := s.remove(ctx, id)
	s.observe("remove", err)
	return removed, err
}

func (s *Storage) remove(ctx context.Context, id string) (bool, error) {
	if err := s.checkActive(); err != nil {
		return false, err
	}
	sess, err := s.m.Remove(ctx, id)
	if err != nil {
		return false, s.fail(ctx, domain.ErrRemoveFailed, id, err)
	}
	if sess == nil {
		s.logger.Debug("No session to remove", "session_id", id)
		return false, nil
	}
	return true, nil
}

// RemoveMultiple deletes the given sessions and returns those that existed.
// All deletions are scheduled before any is awaited. The first failure is
// returned; deletions already scheduled are not rolled back.
func (s *Storage) RemoveMultiple(ctx context.Context, ids []string) ([]*domain.Session, error) {
	removed, err := s.removeMultiple(ctx, ids)
	s.observe("remove_multiple", err)
	return removed, err
}

func (s *Storage) removeMultiple(ctx context.Context, ids []string) ([]*domain.Session, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.checkActive(); err != nil {
		return nil, err
	}

	pending := make([]*ports.Future[*domain.Session], len(ids))
	for i, id := range ids {
		pending[i] = s.m.RemoveAsync(ctx, id)
	}

	results := make([]*domain.Session, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i := range pending {
		g.Go(func() error {
			waitCtx, cancel := context.WithTimeout(gctx, s.opTimeout)
			defer cancel()
			sess, err := pending[i].Wait(waitCtx)
			if err != nil {
				return s.fail(ctx, domain.ErrRemoveFailed, ids[i], err)
			}
			results[i] = sess
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	removed := make([]*domain.Session, 0, len(results))
	for _, sess := range results {
		if sess != nil {
			removed = append(removed, sess)
		}
	}
	return removed, nil
}

// RemoveSessionsForUser deletes every session of the user in the context,
// cluster-wide.
func (s *Storage) RemoveSessionsForUser(ctx context.Context, userID, contextID int) ([]*domain.Session, error) {
	return s.removeMatching(ctx, s.m.KeySet, domain.ByUser(userID, contextID))
}

// RemoveLocalSessionsForUser is like RemoveSessionsForUser but only considers
// sessions owned by the local member.
func (s *Storage) RemoveLocalSessionsForUser(ctx context.Context, userID, contextID int) ([]*domain.Session, error) {
	return s.removeMatching(ctx, s.m.LocalKeySet, domain.ByUser(userID, contextID))
}

// RemoveContextSessions deletes every session of the context, cluster-wide.
// Failures are logged.
func (s *Storage) RemoveContextSessions(ctx context.Context, contextID int) {
	s.removeBestEffort(ctx, s.m.KeySet, domain.ByContext(contextID), "context_id", contextID)
}

// RemoveLocalContextSessions deletes the local member's sessions of the context.
// Failures are logged.
func (s *Storage) RemoveLocalContextSessions(ctx context.Context, contextID int) {
	s.removeBestEffort(ctx, s.m.LocalKeySet, domain.ByContext(contextID), "context_id", contextID)
}

// RemoveContextSessionsGlobal deletes the sessions of all given contexts,
// cluster-wide. Failures are logged.
func (s *Storage) RemoveContextSessionsGlobal(ctx context.Context, contextIDs []int) {
	if len(contextIDs) == 0 {
		return
	}
	s.removeBestEffort(ctx, s.m.KeySet, domain.ByContexts(contextIDs...), "context_ids", contextIDs)
}

type keyScan func(ctx context.Context, p domain.Predicate) ([]string, error)

func (s *Storage) removeMatching(ctx context.Context, scan keyScan, p domain.Predicate) ([]*domain.Session, error) {
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	ids, err := scan(ctx, p)
	if err != nil {
		return nil, s.fail(ctx, domain.ErrRemoveFailed, "", err)
	}
	return s.RemoveMultiple(ctx, ids)
}

func (s *Storage) removeBestEffort(ctx context.Context, scan keyScan, p domain.Predicate, key string, value any) {
	removed, err := s.removeMatching(ctx, scan, p)
	if err != nil {
		s.logger.Warn("Failed to remove context sessions", key, value, "err", err)
		return
	}
	s.logger.Debug("Removed context sessions", key, value, "count", len(removed))
}

// HasForContext reports whether any session of the context exists. It is
// advisory: an unavailable store reports false.
func (s *Storage) HasForContext(ctx context.Context, contextID int) bool {
	if !s.Active() {
		return false
	}
	ids, err := s.m.KeySet(ctx, domain.ByContext(contextID))
	if err != nil {
		s.degrade(err)
		s.logger.Debug("Context scan failed", "context_id", contextID, "err", err)
		return false
	}
	return len(ids) > 0
}

// GetUserSessions returns every session of the user in the context.
func (s *Storage) GetUserSessions(ctx context.Context, userID, contextID int) ([]*domain.Session, error) {
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	sessions, err := s.m.Values(ctx, domain.ByUser(userID, contextID))
	if err != nil {
		return nil, s.fail(ctx, domain.ErrUnexpected, "", err)
	}
	return sessions, nil
}

// CountUserSessions returns the number of sessions of the user in the context.
func (s *Storage) CountUserSessions(ctx context.Context, userID, contextID int) (int, error) {
	if err := s.checkActive(); err != nil {
		return 0, err
	}
	ids, err := s.m.KeySet(ctx, domain.ByUser(userID, contextID))
	if err != nil {
		return 0, s.fail(ctx, domain.ErrUnexpected, "", err)
	}
	return len(ids), nil
}

// GetAnyActiveSessionForUser returns one session of the user in the context.
func (s *Storage) GetAnyActiveSessionForUser(ctx context.Context, userID, contextID int) (*domain.Session, error) {
	sessions, err := s.GetUserSessions(ctx, userID, contextID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("%w: no session of user %d in context %d", domain.ErrNoSessionFound, userID, contextID)
	}
	return sessions[0], nil
}

// FindFirstSessionForUser is an alias of GetAnyActiveSessionForUser.
func (s *Storage) FindFirstSessionForUser(ctx context.Context, userID, contextID int) (*domain.Session, error) {
	return s.GetAnyActiveSessionForUser(ctx, userID, contextID)
}

// GetAllSessions returns every stored session. It returns an empty slice when
// the store is unavailable.
func (s *Storage) GetAllSessions(ctx context.Context) []*domain.Session {
	if !s.Active() {
		return []*domain.Session{}
	}
	sessions, err := s.m.Values(ctx, domain.All())
	if err != nil {
		s.degrade(err)
		s.logger.Warn("Failed to list sessions", "err", err)
		return []*domain.Session{}
	}
	return sessions
}

// CountActiveSessions returns the number of stored sessions, or zero when the
// store is unavailable.
func (s *Storage) CountActiveSessions(ctx context.Context) int {
	if !s.Active() {
		return 0
	}
	n, err := s.m.Size(ctx)
	if err != nil {
		s.degrade(err)
		s.logger.Warn("Failed to count sessions", "err", err)
		return 0
	}
	return n
}

// FindByRandomToken returns the session carrying the random token. When newIP
// is non-empty and differs from the stored local IP, the session is rewritten
// with newIP. The update is a plain read-then-write.
func (s *Storage) FindByRandomToken(ctx context.Context, token, newIP string) (*domain.Session, error) {
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	sessions, err := s.m.Values(ctx, domain.ByRandomToken(token))
	if err != nil {
		return nil, s.fail(ctx, domain.ErrUnexpected, "", err)
	}
	if len(sessions) == 0 {
		return nil, domain.ErrRandomTokenNotFound
	}

	sess := sessions[0]
	if newIP != "" && sess.LocalIP != newIP {
		sess.LocalIP = newIP
		if err := s.m.Set(ctx, sess, 0, s.policy.MaxIdle(sess)); err != nil {
			return nil, s.fail(ctx, domain.ErrSaveFailed, sess.ID, err)
		}
	}
	return sess, nil
}

// FindByAlternativeID returns the session with the alternative ID.
func (s *Storage) FindByAlternativeID(ctx context.Context, altID string) (*domain.Session, error) {
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	sessions, err := s.m.Values(ctx, domain.ByAlternativeID(altID))
	if err != nil {
		return nil, s.fail(ctx, domain.ErrUnexpected, "", err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrAltIDNotFound, altID)
	}
	return sessions[0], nil
}

// ChangePassword replaces the stored password of the session.
func (s *Storage) ChangePassword(ctx context.Context, id, newPassword string) error {
	err := s.update(ctx, id, func(sess *domain.Session) bool {
		sess.Password = newPassword
		return true
	})
	s.observe("change_password", err)
	return err
}

// SetAttributes applies the attributes that are set. Unset attributes leave
// the stored values untouched. Nothing is written when no value changes.
func (s *Storage) SetAttributes(ctx context.Context, id string, attrs domain.Attributes) error {
	if attrs.Empty() {
		return nil
	}
	err := s.update(ctx, id, attrs.Apply)
	s.observe("set_attributes", err)
	return err
}

// SetLocalIP sets the local IP of the session.
func (s *Storage) SetLocalIP(ctx context.Context, id, ip string) error {
	return s.SetAttributes(ctx, id, domain.Attributes{LocalIP: domain.Some(ip)})
}

// SetClient sets the client identifier of the session.
func (s *Storage) SetClient(ctx context.Context, id, client string) error {
	return s.SetAttributes(ctx, id, domain.Attributes{Client: domain.Some(client)})
}

// SetHash sets the hash of the session.
func (s *Storage) SetHash(ctx context.Context, id, hash string) error {
	return s.SetAttributes(ctx, id, domain.Attributes{Hash: domain.Some(hash)})
}

// update reads the session once, applies mutate and writes it back if mutate
// reports a change.
func (s *Storage) update(ctx context.Context, id string, mutate func(*domain.Session) bool) error {
	if err := s.checkActive(); err != nil {
		return err
	}
	sess, err := s.m.Get(ctx, id)
	if err != nil {
		return s.fail(ctx, domain.ErrUnexpected, id, err)
	}
	if sess == nil {
		return notFound(id)
	}
	if !mutate(sess) {
		return nil
	}
	if err := s.m.Set(ctx, sess, 0, s.policy.MaxIdle(sess)); err != nil {
		return s.fail(ctx, domain.ErrSaveFailed, id, err)
	}
	return nil
}

// CheckDuplicateAuthID fails with domain.ErrDuplicateAuthID when a stored
// session already carries authID.
func (s *Storage) CheckDuplicateAuthID(ctx context.Context, login, authID string) error {
	if err := s.checkActive(); err != nil {
		return err
	}
	ids, err := s.m.KeySet(ctx, domain.ByAuthID(authID))
	if err != nil {
		return s.fail(ctx, domain.ErrUnexpected, "", err)
	}
	if len(ids) > 0 {
		s.logger.Warn("Duplicate auth id", "login", login, "session_id", ids[0])
		return fmt.Errorf("%w: login %s", domain.ErrDuplicateAuthID, login)
	}
	return nil
}

// Touch resets the idle clock of the given sessions without transferring their
// values. It returns how many of them exist.
func (s *Storage) Touch(ctx context.Context, ids []string) (int, error) {
	if err := s.checkActive(); err != nil {
		return 0, err
	}
	found := 0
	for _, id := range ids {
		ok, err := s.m.ContainsKey(ctx, id)
		if err != nil {
			return found, s.fail(ctx, domain.ErrUnexpected, id, err)
		}
		if ok {
			found++
		}
	}
	return found, nil
}

// Clear drops every stored session.
func (s *Storage) Clear(ctx context.Context) error {
	if err := s.checkActive(); err != nil {
		return err
	}
	if err := s.m.Clear(ctx); err != nil {
		return s.fail(ctx, domain.ErrRemoveFailed, "", err)
	}
	return nil
}

func (s *Storage) checkActive() error {
	if s.inactive.Load() {
		return domain.ErrStorageDown
	}
	return nil
}

func (s *Storage) markInactive(cause error) {
	if s.inactive.CompareAndSwap(false, true) {
		s.logger.Warn("Session storage is no longer active", "err", cause)
	}
}

// degrade flips the storage to inactive if err reports a lost store.
func (s *Storage) degrade(err error) {
	if errors.Is(err, ports.ErrInstanceNotActive) {
		s.markInactive(err)
	}
}

// fail translates a store error into kind, unless it reports a lost store or
// an ended caller context.
func (s *Storage) fail(ctx context.Context, kind error, id string, err error) error {
	if errors.Is(err, ports.ErrInstanceNotActive) {
		s.markInactive(err)
		return fmt.Errorf("%w: %v", domain.ErrStorageDown, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", domain.ErrInterrupted, ctx.Err())
	}
	if id != "" {
		return fmt.Errorf("%w: session %s: %v", kind, id, err)
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func (s *Storage) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNoSessionFound):
		result = "miss"
	case errors.Is(err, domain.ErrStorageDown):
		result = "down"
	case errors.Is(err, domain.ErrInterrupted):
		result = "interrupted"
	default:
		result = "error"
	}
	s.metrics.Observe(op, result)
}
