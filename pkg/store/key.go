package store

import (
	"fmt"
	"strings"
)

const keyPrefix = "reportstream"

// Key identifies one stored snapshot.
type Key struct {
	RunID  string
	Report string
}

// String generates the Redis key.
// Format: reportstream:snapshot:{run_id}:{report}
func (k Key) String() string {
	return strings.Join([]string{keyPrefix, "snapshot", k.RunID, k.Report}, ":")
}

// Validate checks that both parts are set and free of separators.
func (k Key) Validate() error {
	if k.RunID == "" || k.Report == "" {
		return fmt.Errorf("run id and report are required (got %q, %q)", k.RunID, k.Report)
	}
	if strings.Contains(k.RunID, ":") || strings.Contains(k.Report, ":") {
		return fmt.Errorf("key parts must not contain ':' (got %q, %q)", k.RunID, k.Report)
	}
	return nil
}

func runIndexKey(runID string) string {
	return strings.Join([]string{keyPrefix, "run", runID, "reports"}, ":")
}

func latestKey(report string) string {
	return strings.Join([]string{keyPrefix, "latest", report}, ":")
}
