package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix   = "session:"
	userIndexKeyPrefix = "user_sessions:"

	touchAttempts = 5
)

// RedisStore keeps sessions in Redis so every API instance sees the same set.
// Each session is a JSON value whose TTL tracks ExpiresAt; a sorted set per
// user, scored by creation time, indexes the user's sessions.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key the store writes.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisClock overrides the clock used to compute key TTLs.
func WithRedisClock(fn func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + sessionKeyPrefix + id }
func (s *RedisStore) userKey(uid string) string   { return s.prefix + userIndexKeyPrefix + uid }

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	return decodeSession(raw)
}

func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	if err := validate(sess); err != nil {
		return err
	}
	raw, ttl, err := s.encode(sess)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	ok, err := s.rdb.SetNX(ctx, s.sessionKey(sess.ID), raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}
	err = s.rdb.ZAdd(ctx, s.userKey(sess.UserID), redis.Z{
		Score:  float64(sess.CreatedAt.UnixMilli()),
		Member: sess.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis index session: %w", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, sess *Session) error {
	if err := validate(sess); err != nil {
		return err
	}
	raw, ttl, err := s.encode(sess)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		// Already expired: nothing to keep.
		return s.Delete(ctx, sess.ID)
	}
	ok, err := s.rdb.SetXX(ctx, s.sessionKey(sess.ID), raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis update session: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Touch rewrites LastActivity under WATCH, keeping the key's TTL, so a
// concurrent Update or Delete either wins outright or forces a retry.
func (s *RedisStore) Touch(ctx context.Context, id string, at time.Time) error {
	key := s.sessionKey(id)
	touch := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis touch get: %w", err)
		}
		sess, err := decodeSession(raw)
		if err != nil {
			return err
		}
		sess.LastActivity = at
		out, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, out, redis.SetArgs{Mode: "XX", KeepTTL: true})
			return nil
		})
		return err
	}

	for i := 0; i < touchAttempts; i++ {
		err := s.rdb.Watch(ctx, touch, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("redis touch session: %w", err)
		}
		return err
	}
	return fmt.Errorf("redis touch session: %w", redis.TxFailedErr)
}

func (s *RedisStore) encode(sess *Session) ([]byte, time.Duration, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, 0, fmt.Errorf("encode session: %w", err)
	}
	return raw, sess.ExpiresAt.Sub(s.now()), nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(id))
		pipe.ZRem(ctx, s.userKey(sess.UserID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.rdb.ZRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load sessions: %w", err)
	}

	var (
		out   []*Session
		stale []any
	)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := decodeSession([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		// Values expired by TTL leave their index entries behind.
		if err := s.rdb.ZRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis trim index: %w", err)
		}
	}
	sortByCreated(out)
	return out, nil
}

// Sweep deletes sessions expired at now and trims index entries whose value
// Redis already evicted. Only the former are counted.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := s.rdb.Scan(ctx, 0, s.prefix+sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("redis sweep get: %w", err)
		}
		sess, err := decodeSession(raw)
		if err != nil {
			return removed, err
		}
		if !sess.Expired(now) {
			continue
		}
		if err := s.Delete(ctx, sess.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis sweep scan: %w", err)
	}

	idx := s.rdb.Scan(ctx, 0, s.prefix+userIndexKeyPrefix+"*", 100).Iterator()
	for idx.Next(ctx) {
		uid := strings.TrimPrefix(idx.Val(), s.prefix+userIndexKeyPrefix)
		if _, err := s.ListByUser(ctx, uid); err != nil {
			return removed, err
		}
	}
	if err := idx.Err(); err != nil {
		return removed, fmt.Errorf("redis sweep index scan: %w", err)
	}
	return removed, nil
}

func decodeSession(raw []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}
