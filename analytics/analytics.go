// Package analytics exports finalized run data to Hive-partitioned
// bulk storage for downstream querying. Partition keys are
// source/category/day/run_id/record_kind, matching the reference storage layout.
// All writes are best-effort from the orchestrator's perspective: a
// failed export never fails a run, it only increments a counter.
package analytics

import (
	"context"
	"time"

	"github.com/justapithecus/cascadewatch/metrics"
	"github.com/justapithecus/cascadewatch/types"
)

// DeriveDay computes the partition day from a run's creation time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DefaultDataset is the default analytics dataset name.
const DefaultDataset = "cascadewatch"

// Config identifies where a single run's records are partitioned to.
type Config struct {
	// Dataset is the analytics dataset ID (default: DefaultDataset).
	Dataset string
	// Source is the partition key for the ingest source (e.g. "city-cam-04").
	Source string
	// Category is the partition key for the run's logical grouping
	// (e.g. "intersection-monitoring").
	Category string
	// Day is the partition key derived from run creation time (YYYY-MM-DD UTC).
	Day string
	// RunID is the partition key for the run identifier.
	RunID string
}

// RecordKind discriminates the three record shapes written per run.
const (
	RecordKindCandidate = "candidate"
	RecordKindDecision  = "decision"
	RecordKindFinal     = "final_event"
)

// Client abstracts the bulk-storage backend. Real implementations write
// to Hive-partitioned filesystem or S3 storage; StubClient is used in
// tests and local dry runs.
type Client interface {
	WriteCandidates(ctx context.Context, dataset string, cfg Config, candidates []types.Candidate) error
	WriteDecisions(ctx context.Context, dataset string, cfg Config, decisions []types.Decision) error
	WriteFinalEvents(ctx context.Context, dataset string, cfg Config, events []types.FinalEvent) error
	Close() error
}

// Sink is the orchestrator-facing export boundary for one run's records.
type Sink struct {
	config Config
	client Client
}

// NewSink creates a Sink bound to a single run's partition config.
func NewSink(config Config, client Client) *Sink {
	if config.Dataset == "" {
		config.Dataset = DefaultDataset
	}
	return &Sink{config: config, client: client}
}

// WriteRun exports all three record sets for a completed run.
// Returns the first error encountered; callers treat analytics export
// as best-effort and log rather than fail the run.
func (s *Sink) WriteRun(ctx context.Context, candidates []types.Candidate, decisions []types.Decision, events []types.FinalEvent) error {
	if err := s.client.WriteCandidates(ctx, s.config.Dataset, s.config, candidates); err != nil {
		return err
	}
	if err := s.client.WriteDecisions(ctx, s.config.Dataset, s.config, decisions); err != nil {
		return err
	}
	if err := s.client.WriteFinalEvents(ctx, s.config.Dataset, s.config, events); err != nil {
		return err
	}
	return nil
}

// Close releases the underlying client.
func (s *Sink) Close() error {
	return s.client.Close()
}

// InstrumentedSink wraps a Sink and records write outcomes to a
// metrics.Collector. Kept as a thin wrapper so orchestrate can pass a
// nil collector without branching.
type InstrumentedSink struct {
	inner     *Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps sink with metrics instrumentation.
func NewInstrumentedSink(inner *Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// WriteRun delegates to the inner sink and records success or failure.
func (s *InstrumentedSink) WriteRun(ctx context.Context, candidates []types.Candidate, decisions []types.Decision, events []types.FinalEvent) error {
	err := s.inner.WriteRun(ctx, candidates, decisions, events)
	if err != nil {
		s.collector.IncAnalyticsWriteFailure()
	} else {
		s.collector.IncAnalyticsWriteSuccess()
	}
	return err
}

// Close delegates to the inner sink.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}
