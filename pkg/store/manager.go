package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/reportstream/pkg/analyzer"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrSnapshotMiss indicates the requested snapshot was not found
	ErrSnapshotMiss = errors.New("snapshot miss")

	// ErrInvalidEntry indicates the stored entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid snapshot entry")
)

// DefaultTTL is used when NewManager is given a non-positive TTL.
const DefaultTTL = 7 * 24 * time.Hour

// Manager stores snapshots in Redis.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a new snapshot store with Redis backend.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		redis: redisClient,
		ttl:   ttl,
		now:   time.Now,
	}
}

// TTL returns the lifetime of stored snapshots.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Save stores snap under its run and report, adds it to the run index and
// marks the run as the report's latest.
func (m *Manager) Save(ctx context.Context, snap analyzer.Snapshot) error {
	key := Key{RunID: snap.RunID, Report: snap.Report}
	if err := key.Validate(); err != nil {
		return err
	}

	now := m.now()
	entry := Entry{Snapshot: snap, StoredAt: now, Expires: now.Add(m.ttl)}
	data, err := json.Marshal(entry)
	if err != nil {
		StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key.String(), data, m.ttl)
		pipe.SAdd(ctx, runIndexKey(snap.RunID), snap.Report)
		pipe.Expire(ctx, runIndexKey(snap.RunID), m.ttl)
		pipe.Set(ctx, latestKey(snap.Report), snap.RunID, m.ttl)
		return nil
	})
	if err != nil {
		StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("redis save: %w", err)
	}

	StoreWrittenBytes.Add(float64(len(data)))
	return nil
}

// Get retrieves a snapshot by key.
// Returns ErrSnapshotMiss if the key doesn't exist or the entry is expired.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			StoreMisses.Inc()
			return nil, ErrSnapshotMiss
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		StoreMisses.Inc()
		return nil, ErrSnapshotMiss
	}

	StoreHits.Inc()
	return &entry, nil
}

// Latest retrieves the newest snapshot stored for report.
func (m *Manager) Latest(ctx context.Context, report string) (*Entry, error) {
	runID, err := m.redis.Get(ctx, latestKey(report)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			StoreMisses.Inc()
			return nil, ErrSnapshotMiss
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get latest: %w", err)
	}
	return m.Get(ctx, Key{RunID: runID, Report: report})
}

// List returns the keys of all snapshots stored for a run, sorted by report.
func (m *Manager) List(ctx context.Context, runID string) ([]Key, error) {
	reports, err := m.redis.SMembers(ctx, runIndexKey(runID)).Result()
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(reports)

	keys := make([]Key, 0, len(reports))
	for _, r := range reports {
		keys = append(keys, Key{RunID: runID, Report: r})
	}
	return keys, nil
}

// Delete removes a snapshot and its run index membership.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key.String())
		pipe.SRem(ctx, runIndexKey(key.RunID), key.Report)
		return nil
	})
	if err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// ExtendTTL keeps an existing snapshot for ttl from now.
func (m *Manager) ExtendTTL(ctx context.Context, key Key, ttl time.Duration) error {
	entry, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive (got %v)", ttl)
	}

	entry.Expires = m.now().Add(ttl)
	data, err := json.Marshal(entry)
	if err != nil {
		StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
