package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/Sternrassler/reportstream/pkg/analyzer"
	"github.com/Sternrassler/reportstream/pkg/stream"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips the test when none
// is running. The integration tests use a container instead.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func testSnapshot(runID, report string) analyzer.Snapshot {
	return analyzer.Snapshot{
		Report:     report,
		RunID:      runID,
		Facilities: []string{"F1"},
		Timezone:   "UTC",
		Rows:       42,
		Metrics:    map[string]float64{"events": 42},
		Series: map[string][]analyzer.SeriesPoint{
			"events_by_day": {{Key: "2024-01-01", Value: 20}, {Key: "2024-01-02", Value: 22}},
		},
		Top:      map[string][]stream.Entry{"actions": {{Key: "view", Value: 40}}},
		Warnings: []stream.Entry{{Key: "timestamp_unparsed", Value: 2}},
		Quality:  analyzer.Quality{Score: 91.5, Label: "high"},
	}
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client, 0)
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
	if manager.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want %v", manager.TTL(), DefaultTTL)
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, time.Hour)
}

func TestManager_Save_InvalidKey(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client, time.Hour)
	if err := manager.Save(context.Background(), analyzer.Snapshot{Report: "user_activity"}); err == nil {
		t.Error("Save() without run id should fail")
	}
}

func TestManager_SaveAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t), time.Hour)
	ctx := context.Background()

	snap := testSnapshot("run-1", "user_activity")
	if err := manager.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entry, err := manager.Get(ctx, Key{RunID: "run-1", Report: "user_activity"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(entry.Snapshot.Metrics, snap.Metrics) {
		t.Errorf("Metrics = %v, want %v", entry.Snapshot.Metrics, snap.Metrics)
	}
	if !reflect.DeepEqual(entry.Snapshot.Series, snap.Series) {
		t.Errorf("Series = %v, want %v", entry.Snapshot.Series, snap.Series)
	}
	if !reflect.DeepEqual(entry.Snapshot.Quality, snap.Quality) {
		t.Errorf("Quality = %+v, want %+v", entry.Snapshot.Quality, snap.Quality)
	}
	if ttl := entry.TTL(); ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL() = %v, want (0, 1h]", ttl)
	}
}

func TestManager_Get_Miss(t *testing.T) {
	manager := NewManager(setupTestRedis(t), time.Hour)

	_, err := manager.Get(context.Background(), Key{RunID: "nope", Report: "user_activity"})
	if !errors.Is(err, ErrSnapshotMiss) {
		t.Errorf("Expected ErrSnapshotMiss, got %v", err)
	}
}

func TestManager_Get_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, time.Hour)
	ctx := context.Background()

	key := Key{RunID: "run-1", Report: "user_activity"}
	if err := client.Set(ctx, key.String(), "not json", time.Minute).Err(); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}

func TestManager_LatestAndList(t *testing.T) {
	manager := NewManager(setupTestRedis(t), time.Hour)
	ctx := context.Background()

	for _, snap := range []analyzer.Snapshot{
		testSnapshot("run-1", "user_activity"),
		testSnapshot("run-1", "item_usage"),
		testSnapshot("run-2", "user_activity"),
	} {
		if err := manager.Save(ctx, snap); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	latest, err := manager.Latest(ctx, "user_activity")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Snapshot.RunID != "run-2" {
		t.Errorf("Latest run = %s, want run-2", latest.Snapshot.RunID)
	}

	keys, err := manager.List(ctx, "run-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []Key{{RunID: "run-1", Report: "item_usage"}, {RunID: "run-1", Report: "user_activity"}}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("List() = %v, want %v", keys, want)
	}

	if _, err := manager.Latest(ctx, "order_turnaround"); !errors.Is(err, ErrSnapshotMiss) {
		t.Errorf("Latest() for unknown report error = %v, want ErrSnapshotMiss", err)
	}
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager(setupTestRedis(t), time.Hour)
	ctx := context.Background()

	if err := manager.Save(ctx, testSnapshot("run-1", "user_activity")); err != nil {
		t.Fatal(err)
	}
	key := Key{RunID: "run-1", Report: "user_activity"}
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrSnapshotMiss) {
		t.Errorf("Get after Delete error = %v, want ErrSnapshotMiss", err)
	}
	keys, err := manager.List(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("List after Delete = %v, want empty", keys)
	}
}

func TestManager_ExtendTTL(t *testing.T) {
	manager := NewManager(setupTestRedis(t), time.Minute)
	ctx := context.Background()

	if err := manager.Save(ctx, testSnapshot("run-1", "user_activity")); err != nil {
		t.Fatal(err)
	}
	key := Key{RunID: "run-1", Report: "user_activity"}
	if err := manager.ExtendTTL(ctx, key, 2*time.Hour); err != nil {
		t.Fatalf("ExtendTTL failed: %v", err)
	}
	entry, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if ttl := entry.TTL(); ttl <= time.Hour {
		t.Errorf("TTL() after extend = %v, want > 1h", ttl)
	}

	if err := manager.ExtendTTL(ctx, Key{RunID: "nope", Report: "x"}, time.Hour); !errors.Is(err, ErrSnapshotMiss) {
		t.Errorf("ExtendTTL on missing key error = %v, want ErrSnapshotMiss", err)
	}
}
