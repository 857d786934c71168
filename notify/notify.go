// Package notify defines the run-completion fan-out boundary. Adapters
// publish a RunCompletedEvent to a downstream system on every terminal
// run transition (READY_FOR_REVIEW, FAILED, EXPORTED). Publication is
// always best-effort: a notifier failure is logged, never escalated.
package notify

import "context"

// RunCompletedEvent is the payload published when a run reaches a
// terminal state.
type RunCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "run_completed"
	RunID           string `json:"run_id"`
	Source          string `json:"source"`
	Category        string `json:"category"`
	Outcome         string `json:"outcome"` // READY_FOR_REVIEW, FAILED, EXPORTED
	StoragePath     string `json:"storage_path"`
	Timestamp       string `json:"timestamp"` // ISO 8601
	FinalEventCount int    `json:"final_event_count"`
	DurationMs      int64  `json:"duration_ms"`
}

// Adapter publishes run completion events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	Publish(ctx context.Context, event *RunCompletedEvent) error
	Close() error
}
