package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/framecap/internal/metrics"
)

const (
	redisBackend          = "redis"
	defaultUpdateAttempts = 10
)

// ErrUpdateConflict is returned when an update keeps losing optimistic
// transactions to concurrent writers.
var ErrUpdateConflict = errors.New("session updated concurrently, retries exhausted")

// RedisStore keeps sessions as JSON strings with a TTL. Updates use
// WATCH/MULTI so concurrent writers on different instances never lose
// each other's changes.
type RedisStore struct {
	client   *redis.Client
	logger   *logrus.Logger
	prefix   string
	ttl      time.Duration
	attempts int
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, logger *logrus.Logger, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if prefix == "" {
		prefix = "framecap:sessions:"
	}
	return &RedisStore{
		client:   client,
		logger:   logger,
		prefix:   prefix,
		ttl:      ttl,
		attempts: defaultUpdateAttempts,
	}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (s *Session, err error) {
	defer func(start time.Time) { observe(redisBackend, "get", start, err) }(time.Now())

	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return decodeSession(data)
}

func (r *RedisStore) Save(ctx context.Context, s *Session) (err error) {
	defer func(start time.Time) { observe(redisBackend, "save", start, err) }(time.Now())

	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(s.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { observe(redisBackend, "delete", start, err) }(time.Now())

	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (s *Session, err error) {
	defer func(start time.Time) { observe(redisBackend, "update", start, err) }(time.Now())

	key := r.key(id)
	for attempt := 0; attempt < r.attempts; attempt++ {
		var updated *Session
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrSessionNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to get session: %w", err)
			}

			sess, err := decodeSession(data)
			if err != nil {
				return err
			}
			if err := fn(sess); err != nil {
				return err
			}
			out, err := encodeSession(sess)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, r.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			updated = sess
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			metrics.StoreConflictRetry(redisBackend)
			r.logger.WithFields(logrus.Fields{
				"session_id": id,
				"attempt":    attempt + 1,
			}).Debug("Session update conflicted, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, ErrUpdateConflict
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close is a no-op; the client is owned by the caller.
func (r *RedisStore) Close() error {
	return nil
}
