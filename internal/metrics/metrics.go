// Package metrics is the backend-agnostic metrics facade used by the
// ingestion, query and suggestion paths.
//
// Core code calls the package-level helpers; cmd/ binaries choose a backend
// with SetBackend. The default backend discards everything.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"status": "ok"}.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by this module.
const (
	IngestTotal           = "powerdash_ingest_total"
	IngestRowsTotal       = "powerdash_ingest_rows_total"
	IngestDurationSeconds = "powerdash_ingest_duration_seconds"
	LoadStatementsTotal   = "powerdash_load_statements_total"
	QueryTotal            = "powerdash_query_total"
	QueryDurationSeconds  = "powerdash_query_duration_seconds"
	SuggestTotal          = "powerdash_suggest_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores the nop
// backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// ObserveDuration records time.Since(start) in seconds.
func ObserveDuration(name string, start time.Time, labels Labels) {
	ObserveHistogram(name, time.Since(start).Seconds(), labels)
}

// Flush flushes the current backend.
func Flush() error {
	return current().Flush()
}

// Status maps an error to the "status" label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
