package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// setupTestJournal creates a journal in a temporary directory.
func setupTestJournal(t *testing.T) *Journal {
	t.Helper()

	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func testRun(id string, started time.Time) RunRecord {
	return RunRecord{
		ID:         id,
		Reports:    []string{"user_activity", "item_usage"},
		Facilities: []string{"F1", "F2"},
		RangeStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Timezone:   "Europe/Berlin",
		StartedAt:  started,
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "newdir", "subdir", "journal.db")
		j, err := Open(path, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open journal: %v", err)
		}
		defer j.Close()

		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Error("journal file was not created")
		}
		if j.Path() != path {
			t.Errorf("Path() = %s, want %s", j.Path(), path)
		}
	})

	t.Run("CreateIfNotExists=false fails for missing file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "missing.db")
		if _, err := Open(path, Options{}); err == nil {
			t.Error("expected error for missing journal")
		}
	})

	t.Run("reopens existing journal", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "journal.db")
		j, err := Open(path, DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		if err := j.BeginRun(context.Background(), testRun("run-1", time.Now())); err != nil {
			t.Fatal(err)
		}
		_ = j.Close()

		j, err = Open(path, Options{})
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer j.Close()
		if _, err := j.Run(context.Background(), "run-1"); err != nil {
			t.Errorf("Run() after reopen error = %v", err)
		}
	})
}

func TestJournal_RunLifecycle(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	started := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	if err := j.BeginRun(ctx, testRun("run-1", started)); err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}

	run, err := j.Run(ctx, "run-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if run.Status != RunRunning || !run.FinishedAt.IsZero() {
		t.Errorf("run = %+v, want running and unfinished", run)
	}
	if !reflect.DeepEqual(run.Reports, []string{"user_activity", "item_usage"}) {
		t.Errorf("Reports = %v", run.Reports)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, started)
	}

	finished := started.Add(5 * time.Minute)
	j.now = func() time.Time { return finished }
	if err := j.FinishRun(ctx, "run-1", RunFailed, errors.New("401 unauthorized")); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	run, err = j.Run(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunFailed || run.Error != "401 unauthorized" || !run.FinishedAt.Equal(finished) {
		t.Errorf("run = %+v, want failed at %v", run, finished)
	}
}

func TestJournal_RunErrors(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	if _, err := j.Run(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Run() error = %v, want ErrRunNotFound", err)
	}
	if err := j.FinishRun(ctx, "nope", RunDone, nil); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun() error = %v, want ErrRunNotFound", err)
	}
	if err := j.BeginRun(ctx, RunRecord{}); err == nil {
		t.Error("BeginRun() without id should fail")
	}
	if err := j.BeginRun(ctx, testRun("dup", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := j.BeginRun(ctx, testRun("dup", time.Now())); err == nil {
		t.Error("BeginRun() with duplicate id should fail")
	}
}

func TestJournal_Runs_NewestFirst(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	base := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := j.BeginRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := j.Runs(ctx, 2)
	if err != nil {
		t.Fatalf("Runs() error = %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if !reflect.DeepEqual(ids, []string{"c", "b"}) {
		t.Errorf("Runs() ids = %v, want [c b]", ids)
	}
}

func TestJournal_RecordPair(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	if err := j.BeginRun(ctx, testRun("run-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	events := []PairEvent{
		{RunID: "run-1", Report: "user_activity", Facility: "F1", Status: "queued"},
		{RunID: "run-1", Report: "user_activity", Facility: "F1", Status: "running"},
		{RunID: "run-1", Report: "user_activity", Facility: "F1", Status: "running", Pages: 1, LastPage: 3, Rows: 100},
		{RunID: "run-1", Report: "user_activity", Facility: "F1", Status: "running", Pages: 2, LastPage: 3, Rows: 200},
		{RunID: "run-1", Report: "user_activity", Facility: "F1", Status: "done", Pages: 3, LastPage: 3, Rows: 250},
		{RunID: "run-1", Report: "item_usage", Facility: "F1", Status: "error", Error: "404 not found"},
	}
	for _, ev := range events {
		if err := j.RecordPair(ctx, ev); err != nil {
			t.Fatalf("RecordPair(%+v) error = %v", ev, err)
		}
	}

	pairs, err := j.Pairs(ctx, "run-1")
	if err != nil {
		t.Fatalf("Pairs() error = %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("Pairs() len = %d, want 2", len(pairs))
	}
	if p := pairs[0]; p.Report != "item_usage" || p.Status != "error" || p.Error != "404 not found" {
		t.Errorf("pairs[0] = %+v", p)
	}
	if p := pairs[1]; p.Status != "done" || p.Pages != 3 || p.Rows != 250 {
		t.Errorf("pairs[1] = %+v", p)
	}

	transitions, err := j.Transitions(ctx, "run-1")
	if err != nil {
		t.Fatalf("Transitions() error = %v", err)
	}
	var got []string
	for _, tr := range transitions {
		got = append(got, tr.Report+":"+tr.Status)
	}
	want := []string{"user_activity:queued", "user_activity:running", "user_activity:done", "item_usage:error"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Transitions() = %v, want %v", got, want)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 123, time.FixedZone("CET", 3600))
	if got := parseTime(formatTime(ts)); !got.Equal(ts) {
		t.Errorf("round trip = %v, want %v", got, ts)
	}
	if formatTime(time.Time{}) != "" || !parseTime("").IsZero() {
		t.Error("zero time should map to empty string")
	}
}
