package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/reportstream/pkg/metrics"
	"github.com/Sternrassler/reportstream/pkg/pipeline"
)

// newServer serves health, run status and Prometheus metrics. async may be
// nil when rows are consumed inline.
func newServer(addr string, coord *pipeline.Coordinator, async *pipeline.AsyncConsumer) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/status", statusHandler(coord, async))
	mux.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

type runStatus struct {
	Running bool         `json:"running"`
	RunID   string       `json:"run_id,omitempty"`
	Started time.Time    `json:"started,omitempty"`
	Reports []string     `json:"reports,omitempty"`
	Async   *asyncStatus `json:"async,omitempty"`
}

type asyncStatus struct {
	Backlog   int   `json:"backlog"`
	ChunkSize int   `json:"chunk_size"`
	ChunkEMA  int64 `json:"chunk_ema_us"`
}

func statusHandler(coord *pipeline.Coordinator, async *pipeline.AsyncConsumer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var st runStatus
		if rc := coord.Current(); rc != nil {
			st = runStatus{Running: true, RunID: rc.ID, Started: rc.Started, Reports: rc.Spec.Reports}
		}
		if async != nil {
			tuner := async.Tuner()
			st.Async = &asyncStatus{
				Backlog:   async.Backlog(),
				ChunkSize: tuner.Size(),
				ChunkEMA:  tuner.EMA().Microseconds(),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}
