package health

import (
	"context"
	"fmt"
	"runtime"

	"github.com/redis/go-redis/v9"
)

// RedisChecker checks Redis connectivity.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Name() string {
	return "redis"
}

// Check pings Redis.
func (r *RedisChecker) Check(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Pinger is implemented by session stores that can verify their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker checks the session store backing capture sessions.
type StoreChecker struct {
	store Pinger
}

// NewStoreChecker creates a checker for a session store.
func NewStoreChecker(store Pinger) *StoreChecker {
	return &StoreChecker{store: store}
}

func (s *StoreChecker) Name() string {
	return "session_store"
}

func (s *StoreChecker) Check(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("session store unavailable: %w", err)
	}
	return nil
}

// MemoryChecker reports degraded health when the Go heap grows past a limit.
type MemoryChecker struct {
	maxHeapBytes uint64
	readStats    func(*runtime.MemStats)
}

// NewMemoryChecker creates a new memory checker. A zero limit disables it.
func NewMemoryChecker(maxHeapBytes uint64) *MemoryChecker {
	return &MemoryChecker{
		maxHeapBytes: maxHeapBytes,
		readStats:    runtime.ReadMemStats,
	}
}

func (m *MemoryChecker) Name() string {
	return "memory"
}

func (m *MemoryChecker) Check(ctx context.Context) error {
	if m.maxHeapBytes == 0 {
		return nil
	}

	var stats runtime.MemStats
	m.readStats(&stats)

	if stats.HeapAlloc > m.maxHeapBytes {
		return fmt.Errorf("%w: heap %d bytes exceeds %d", ErrDegraded, stats.HeapAlloc, m.maxHeapBytes)
	}
	return nil
}
