package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a keyed byte store. A zero ttl means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisStore keeps entries in Redis
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type memoryEntry struct {
	value     []byte
	written   time.Time
	expiresAt time.Time
}

// ExpiryScanInterval is how often the memory store walks its entries for
// expired ones, on write and in the background expiry loop.
const ExpiryScanInterval = time.Minute

// MemoryStore is the in-process fallback. Entries written with a zero ttl
// stay until deleted or swept. Entries with a ttl are evicted at most
// ExpiryScanInterval after they expire, as long as writes keep arriving or
// RunExpiry is running.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	now      func() time.Time
	lastScan time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastScan) >= ExpiryScanInterval {
		s.evictExpired(now)
	}
	e := memoryEntry{value: append([]byte(nil), value...), written: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// evictExpired drops entries past their ttl. The caller holds mu.
func (s *MemoryStore) evictExpired(now time.Time) int {
	s.lastScan = now
	removed := 0
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// EvictExpired drops entries past their ttl and leaves zero-ttl entries alone
func (s *MemoryStore) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictExpired(s.now())
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes expired entries and entries written more than maxAge ago.
func (s *MemoryStore) Sweep(maxAge time.Duration) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		expired := !e.expiresAt.IsZero() && now.After(e.expiresAt)
		if expired || (maxAge > 0 && now.Sub(e.written) > maxAge) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done
func (s *MemoryStore) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(maxAge)
		}
	}
}

// RunExpiry evicts expired entries every ExpiryScanInterval until ctx is done
func (s *MemoryStore) RunExpiry(ctx context.Context) {
	ticker := time.NewTicker(ExpiryScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictExpired()
		}
	}
}
