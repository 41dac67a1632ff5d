package store

import (
	"time"

	"github.com/Sternrassler/reportstream/pkg/analyzer"
)

// Entry is a stored snapshot.
type Entry struct {
	Snapshot analyzer.Snapshot `json:"snapshot"`

	// StoredAt is when the snapshot was written.
	StoredAt time.Time `json:"stored_at"`

	// Expires is when Redis drops the snapshot.
	Expires time.Time `json:"expires"`
}

// Key returns the entry's key.
func (e *Entry) Key() Key {
	return Key{RunID: e.Snapshot.RunID, Report: e.Snapshot.Report}
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
