package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

const scanCount = 200

// Store implements ports.SessionMap using Redis.
// Every session is a hash under prefix+id; the key expiry implements both the
// idle window and the absolute ttl. Entries are owned by the node that last wrote them.
type Store struct {
	client *backend.Client
	prefix string
	node   string
	now    func() time.Time
}

var _ ports.SessionMap = (*Store)(nil)

type Option func(*Store)

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithNode sets the member name recorded as owner of written sessions.
func WithNode(node string) Option {
	return func(s *Store) {
		s.node = node
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "sessiond:session:",
		node:   "local",
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// translate maps client errors onto the port's error contract.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, backend.ErrClosed) {
		return fmt.Errorf("%w: %w", ports.ErrInstanceNotActive, err)
	}
	return err
}

func decode(payload string) (*domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// expiry returns the key expiry in milliseconds and the absolute deadline (0 = none).
func (s *Store) expiry(ttl, maxIdle time.Duration) (int64, int64) {
	expire := maxIdle.Milliseconds()
	deadline := int64(0)
	if ttl > 0 {
		deadline = s.nowMillis() + ttl.Milliseconds()
		if expire <= 0 || ttl.Milliseconds() < expire {
			expire = ttl.Milliseconds()
		}
	}
	return expire, deadline
}

// Get loads the session and refreshes its idle expiry.
func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	payload, err := getScript.Run(ctx, s.client, []string{s.key(id)}, s.nowMillis()).Text()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get from redis: %w", translate(err))
	}
	return decode(payload)
}

// GetAsync runs Get in the background.
func (s *Store) GetAsync(ctx context.Context, id string) *ports.Future[*domain.Session] {
	return ports.Go(ctx, func(ctx context.Context) (*domain.Session, error) {
		return s.Get(ctx, id)
	})
}

// Set persists the session, replacing any previous value.
func (s *Store) Set(ctx context.Context, sess *domain.Session, ttl, maxIdle time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	expire, deadline := s.expiry(ttl, maxIdle)
	key := s.key(sess.ID)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		fieldData, data,
		fieldIdle, maxIdle.Milliseconds(),
		fieldDeadline, deadline,
		fieldNode, s.node,
	)
	if expire > 0 {
		pipe.PExpire(ctx, key, time.Duration(expire)*time.Millisecond)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", translate(err))
	}
	return nil
}

// PutIfAbsent stores the session unless the key exists.
func (s *Store) PutIfAbsent(ctx context.Context, sess *domain.Session, ttl, maxIdle time.Duration) (*domain.Session, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	expire, deadline := s.expiry(ttl, maxIdle)

	payload, err := putIfAbsentScript.Run(ctx, s.client, []string{s.key(sess.ID)},
		string(data), maxIdle.Milliseconds(), deadline, s.node, expire).Text()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to put to redis: %w", translate(err))
	}
	return decode(payload)
}

// Remove deletes the session and returns it.
func (s *Store) Remove(ctx context.Context, id string) (*domain.Session, error) {
	payload, err := removeScript.Run(ctx, s.client, []string{s.key(id)}).Text()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to remove from redis: %w", translate(err))
	}
	return decode(payload)
}

// RemoveAsync runs Remove in the background.
func (s *Store) RemoveAsync(ctx context.Context, id string) *ports.Future[*domain.Session] {
	return ports.Go(ctx, func(ctx context.Context) (*domain.Session, error) {
		return s.Remove(ctx, id)
	})
}

// ContainsKey refreshes the idle expiry and reports whether the key exists.
func (s *Store) ContainsKey(ctx context.Context, id string) (bool, error) {
	err := touchScript.Run(ctx, s.client, []string{s.key(id)}, s.nowMillis()).Err()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to touch in redis: %w", translate(err))
	}
	return true, nil
}

// record is one scanned hash.
type record struct {
	id      string
	payload string
	node    string
}

// scan walks all session keys and hands every live record to visit.
func (s *Store) scan(ctx context.Context, visit func(r record) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanCount).Result()
		if err != nil {
			return fmt.Errorf("failed to scan redis: %w", translate(err))
		}

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			cmds := make([]*backend.SliceCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.HMGet(ctx, key, fieldData, fieldNode)
			}
			if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
				return fmt.Errorf("failed to read scanned sessions: %w", translate(err))
			}
			for i, cmd := range cmds {
				vals, err := cmd.Result()
				if err != nil || len(vals) != 2 {
					continue
				}
				// Expired between SCAN and HMGET.
				payload, ok := vals[0].(string)
				if !ok {
					continue
				}
				node, _ := vals[1].(string)
				if err := visit(record{id: keys[i][len(s.prefix):], payload: payload, node: node}); err != nil {
					return err
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Store) matching(ctx context.Context, p domain.Predicate, localOnly bool, visit func(id string, sess *domain.Session)) error {
	return s.scan(ctx, func(r record) error {
		if localOnly && r.node != s.node {
			return nil
		}
		sess, err := decode(r.payload)
		if err != nil {
			return err
		}
		if p.Match(sess) {
			visit(r.id, sess)
		}
		return nil
	})
}

// KeySet returns IDs of matching sessions.
func (s *Store) KeySet(ctx context.Context, p domain.Predicate) ([]string, error) {
	var keys []string
	err := s.matching(ctx, p, false, func(id string, _ *domain.Session) {
		keys = append(keys, id)
	})
	return keys, err
}

// LocalKeySet returns IDs of matching sessions last written by this node.
func (s *Store) LocalKeySet(ctx context.Context, p domain.Predicate) ([]string, error) {
	var keys []string
	err := s.matching(ctx, p, true, func(id string, _ *domain.Session) {
		keys = append(keys, id)
	})
	return keys, err
}

// Values returns matching sessions.
func (s *Store) Values(ctx context.Context, p domain.Predicate) ([]*domain.Session, error) {
	var values []*domain.Session
	err := s.matching(ctx, p, false, func(_ string, sess *domain.Session) {
		values = append(values, sess)
	})
	return values, err
}

// Size counts the stored sessions.
func (s *Store) Size(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, func(record) error {
		n++
		return nil
	})
	return n, err
}

// Clear deletes every session key under the prefix.
func (s *Store) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanCount).Result()
		if err != nil {
			return fmt.Errorf("failed to scan redis: %w", translate(err))
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to clear redis: %w", translate(err))
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Stats reports entries written by this node. Replication is handled by Redis
// itself, so no backup entries are reported.
func (s *Store) Stats(ctx context.Context) (ports.Stats, error) {
	var st ports.Stats
	err := s.scan(ctx, func(r record) error {
		if r.node == s.node {
			st.OwnedEntryCount++
			st.OwnedEntryMemoryCost += int64(len(r.payload) + len(r.id))
		}
		return nil
	})
	return st, err
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return translate(s.client.Ping(ctx).Err())
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
