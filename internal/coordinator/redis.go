package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

const (
	totalKeyPrefix     = "enrich:total:"
	completedKeyPrefix = "enrich:completed:"

	// Counters expire on their own in case a dispatch dies before its last
	// batch ever completes.
	counterTTLSeconds = 6 * 60 * 60
)

// RedisCounterStore keeps batch counters in Redis so completion survives
// process restarts and is shared by every worker.
type RedisCounterStore struct {
	pool *redis.Pool
}

// NewRedisCounterStore connects a counter store to the given Redis address.
func NewRedisCounterStore(addr string) *RedisCounterStore {
	return &RedisCounterStore{
		pool: &redis.Pool{
			MaxIdle:     3,
			IdleTimeout: 240 * time.Second,
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", addr)
			},
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
	}
}

func dateKey(prefix string, date time.Time) string {
	return prefix + date.UTC().Format("2006-01-02")
}

// InitBatch sets the expected total and resets the completed counter.
func (s *RedisCounterStore) InitBatch(ctx context.Context, date time.Time, total int) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	if err := conn.Send("SET", dateKey(totalKeyPrefix, date), total, "EX", counterTTLSeconds); err != nil {
		return err
	}
	if err := conn.Send("DEL", dateKey(completedKeyPrefix, date)); err != nil {
		return err
	}
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("init batch counters: %w", err)
	}
	if _, err := conn.Receive(); err != nil {
		return fmt.Errorf("init batch counters: %w", err)
	}
	_, err = conn.Receive()
	return err
}

// IncrementCompleted atomically bumps the completed counter via INCR and
// reads the recorded total.
func (s *RedisCounterStore) IncrementCompleted(ctx context.Context, date time.Time) (int, int, bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, 0, false, fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	total, err := redis.Int(conn.Do("GET", dateKey(totalKeyPrefix, date)))
	if err == redis.ErrNil {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("read batch total: %w", err)
	}

	completedKey := dateKey(completedKeyPrefix, date)
	completed, err := redis.Int(conn.Do("INCR", completedKey))
	if err != nil {
		return 0, 0, false, fmt.Errorf("increment completed: %w", err)
	}
	if completed == 1 {
		// First increment created the key; give it the same TTL as the total.
		if _, err := conn.Do("EXPIRE", completedKey, counterTTLSeconds); err != nil {
			return 0, 0, false, fmt.Errorf("expire completed counter: %w", err)
		}
	}
	return completed, total, true, nil
}

// Delete removes both counters for the date.
func (s *RedisCounterStore) Delete(ctx context.Context, date time.Time) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	_, err = conn.Do("DEL", dateKey(totalKeyPrefix, date), dateKey(completedKeyPrefix, date))
	if err != nil {
		return fmt.Errorf("delete batch counters: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}

// Close releases the connection pool.
func (s *RedisCounterStore) Close() error {
	return s.pool.Close()
}
