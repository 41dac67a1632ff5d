// Package store persists analyzer snapshots in Redis so they outlive the
// run that produced them.
//
// Snapshots are stored as JSON under a deterministic key per run and
// report, with a TTL. Every run keeps an index of its reports, and every
// report remembers the run that last stored a snapshot for it.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := store.NewManager(redisClient, 24*time.Hour)
//
//	// after a run
//	for _, snap := range set.Snapshots(meta) {
//		if err := manager.Save(ctx, snap); err != nil {
//			return err
//		}
//	}
//
//	// later
//	entry, err := manager.Latest(ctx, "user_activity")
//	if errors.Is(err, store.ErrSnapshotMiss) {
//		// nothing stored, or expired
//	}
//
// # Keys
//
//	reportstream:snapshot:{run_id}:{report}   snapshot JSON
//	reportstream:run:{run_id}:reports         set of reports of a run
//	reportstream:latest:{report}              run ID of the newest snapshot
//
// # Metrics
//
//   - reportstream_store_hits_total
//   - reportstream_store_misses_total
//   - reportstream_store_written_bytes_total
//   - reportstream_store_errors_total{operation}
package store
