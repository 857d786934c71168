// Package orchestrate drives a single run through every pipeline stage
// in order, persisting status transitions to RunStore and firing
// best-effort notifications/analytics on terminal transitions. Stage
// sequencing, percentages, and FAILED-state freezing are grounded on
// the reference pipeline orchestrator's run_pipeline/_set_status.
package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/justapithecus/cascadewatch/analytics"
	"github.com/justapithecus/cascadewatch/cascade"
	"github.com/justapithecus/cascadewatch/ingest"
	"github.com/justapithecus/cascadewatch/iox"
	"github.com/justapithecus/cascadewatch/log"
	"github.com/justapithecus/cascadewatch/merge"
	"github.com/justapithecus/cascadewatch/metrics"
	"github.com/justapithecus/cascadewatch/model"
	"github.com/justapithecus/cascadewatch/notify"
	"github.com/justapithecus/cascadewatch/proposal"
	"github.com/justapithecus/cascadewatch/store"
	"github.com/justapithecus/cascadewatch/types"
)

// VideoSourceFactory builds the video decoder collaborator for one run's
// video file. Kept as a factory rather than a single shared VideoSource
// since every run decodes its own file.
type VideoSourceFactory func(videoPath string) ingest.VideoSource

// Dependencies are the collaborators every run is executed against.
// Store, RunsDir, VideoSourceFactory and FrameScorer are required; the
// other fields are optional: a nil ModelClient
// runs the cascade in deterministic-fallback mode, a nil Analytics
// skips bulk export, and an empty Notifiers list skips fan-out.
type Dependencies struct {
	Store              *store.RunStore
	RunsDir            string
	VideoSourceFactory VideoSourceFactory
	FrameScorer        proposal.FrameScorer
	ModelClient        model.ModelClient

	IngestConfig   ingest.Config
	ProposalConfig proposal.Config
	CascadeConfig  cascade.Config
	ROI            types.ROIConfig

	Notifiers []notify.Adapter
	Analytics *analytics.InstrumentedSink

	// Metrics, when set, is the same collector the Analytics sink (if
	// any) was instrumented with, so analytics write counters land in
	// the same snapshot the cascade publishes. Nil runs with a
	// call-scoped collector instead.
	Metrics *metrics.Collector

	// Source and Category label every run for notify/analytics
	// partitioning when the run record itself does not set them.
	Source   string
	Category string
}

// Orchestrator executes the pipeline state machine for individual runs.
type Orchestrator struct {
	deps Dependencies
}

// New creates an Orchestrator bound to deps.
func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// stageFailure carries the stage a run failed in alongside the
// underlying error, so Run can freeze status at the right stage.
type stageFailure struct {
	stage types.Stage
	err   error
}

func (f *stageFailure) Error() string { return fmt.Sprintf("%s: %v", f.stage, f.err) }
func (f *stageFailure) Unwrap() error { return f.err }

// Run executes INGEST through READY_FOR_REVIEW for runID. An uncaught
// stage error transitions the run to FAILED, freezing progress_pct at
// whatever it last was and recording failed_stage/error_message; Run
// itself always returns nil in that case; the FAILED state is the
// caller-visible signal, matching the reference orchestrator's
// exception-to-status-update behavior.
func (o *Orchestrator) Run(ctx context.Context, runID string) error {
	record, err := o.deps.Store.Get(runID)
	if err != nil {
		return err
	}
	runDir := filepath.Join(o.deps.RunsDir, runID)

	logFile, err := os.OpenFile(filepath.Join(runDir, "pipeline.log.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("orchestrate: open pipeline log: %w", err)
	}
	defer iox.DiscardClose(logFile)
	logger := log.New(log.RunContext{RunID: runID, Stage: string(types.StageIngest)}).WithOutput(logFile)
	defer logger.Sync()

	start := time.Now()
	timings := map[string]int64{}

	if err := o.runPipeline(ctx, runID, record, runDir, logger, timings, start); err != nil {
		var sf *stageFailure
		stage := types.StageIngest
		if asStageFailure(err, &sf) {
			stage = sf.stage
		}
		o.fail(ctx, runID, record, runDir, stage, err, time.Since(start))
		return nil
	}
	return nil
}

func asStageFailure(err error, target **stageFailure) bool {
	sf, ok := err.(*stageFailure)
	if ok {
		*target = sf
	}
	return ok
}

func (o *Orchestrator) runPipeline(ctx context.Context, runID string, record *types.RunRecord, runDir string, logger *log.Logger, timings map[string]int64, start time.Time) error {
	if err := o.setStatus(runID, types.RunRunning, types.StageIngest, 5, "Preparing ingest", timings); err != nil {
		return err
	}

	t0 := time.Now()
	manifest, err := o.runIngest(ctx, record, runDir, logger)
	timings[string(types.StageIngest)] = time.Since(t0).Milliseconds()
	if err != nil {
		return &stageFailure{stage: types.StageIngest, err: err}
	}

	if err := o.setStatus(runID, types.RunRunning, types.StageLocalProposals, 30, "Running local proposal heuristics", timings); err != nil {
		return err
	}

	t1 := time.Now()
	candidates, err := o.runProposals(ctx, manifest, runDir, logger)
	timings[string(types.StageLocalProposals)] = time.Since(t1).Milliseconds()
	if err != nil {
		return &stageFailure{stage: types.StageLocalProposals, err: err}
	}

	if err := o.setStatus(runID, types.RunRunning, types.StageGeminiFlash, 55, "Initializing Gemini analysis", timings); err != nil {
		return err
	}

	result, err := o.runCascade(ctx, runID, record, candidates, runDir, logger, timings)
	if err != nil {
		return &stageFailure{stage: types.StageGeminiPro, err: err}
	}

	if err := o.setStatus(runID, types.RunRunning, types.StagePostprocess, 80, "Merging model outputs", timings); err != nil {
		return err
	}

	t3 := time.Now()
	finals, trace, err := o.runMerge(runID, result, runDir)
	timings[string(types.StagePostprocess)] = time.Since(t3).Milliseconds()
	if err != nil {
		return &stageFailure{stage: types.StagePostprocess, err: err}
	}

	metricsMap := result.Metrics.AsMap()
	if err := o.setStatusWithMetrics(runID, types.RunReadyForReview, types.StageReadyForReview, 95, "Ready for manual review", timings, metricsMap); err != nil {
		return err
	}
	logger.Info("stage_completed", map[string]any{"message": "pipeline ready for review"})

	o.onTerminal(ctx, runID, record, runDir, string(types.RunReadyForReview), result.Packets, result.FlashDecisions, result.ProDecisions, finals, trace, logger, time.Since(start))
	return nil
}

func (o *Orchestrator) runIngest(ctx context.Context, record *types.RunRecord, runDir string, logger *log.Logger) (*types.Manifest, error) {
	src := o.deps.VideoSourceFactory(record.VideoPath)
	manifest, err := ingest.Ingest(ctx, src, record.VideoPath, runDir, o.deps.IngestConfig, logger.WithStage(string(types.StageIngest)))
	if err != nil {
		return nil, err
	}
	if err := writeJSON(runDir, "frames_manifest.json", manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (o *Orchestrator) runProposals(ctx context.Context, manifest *types.Manifest, runDir string, logger *log.Logger) ([]types.Candidate, error) {
	candidates, err := proposal.Generate(ctx, manifest, o.deps.ROI, o.deps.ProposalConfig, o.deps.FrameScorer, logger.WithStage(string(types.StageLocalProposals)))
	if err != nil {
		return nil, err
	}
	if err := writeJSON(runDir, "candidates.json", candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (o *Orchestrator) runCascade(ctx context.Context, runID string, record *types.RunRecord, candidates []types.Candidate, runDir string, logger *log.Logger, timings map[string]int64) (*cascade.Result, error) {
	progress := func(stage types.Stage, pct int, message string) {
		clamped := pct
		if clamped < 55 {
			clamped = 55
		}
		if clamped > 79 {
			clamped = 79
		}
		_ = o.setStatus(runID, types.RunRunning, stage, clamped, message, timings)
	}

	result, err := cascade.Analyze(ctx, runID, record.VideoPath, candidates, o.deps.ModelClient, o.deps.CascadeConfig, logger.WithStage(string(types.StageGeminiFlash)), progress, o.deps.Metrics)
	if err != nil {
		return nil, err
	}
	timings[string(types.StageGeminiFlash)] = result.FlashElapsed.Milliseconds()
	timings[string(types.StageGeminiPro)] = result.ProElapsed.Milliseconds()

	for name, v := range map[string]any{
		"flash_events.json":    result.FlashEvents,
		"pro_events.json":      result.ProEvents,
		"flash_decisions.json": result.FlashDecisions,
		"pro_decisions.json":   result.ProDecisions,
	} {
		if err := writeJSON(runDir, name, v); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (o *Orchestrator) runMerge(runID string, result *cascade.Result, runDir string) ([]types.FinalEvent, types.Trace, error) {
	finals, trace := merge.Merge(runID, result.Packets, result.FlashDecisions, result.ProDecisions)
	if err := writeJSON(runDir, "events_final.json", finals); err != nil {
		return nil, types.Trace{}, err
	}
	if err := writeJSON(runDir, "trace.json", trace); err != nil {
		return nil, types.Trace{}, err
	}
	return finals, trace, nil
}

func (o *Orchestrator) setStatus(runID string, state types.RunState, stage types.Stage, pct int, message string, timings map[string]int64) error {
	return o.setStatusWithMetrics(runID, state, stage, pct, message, timings, nil)
}

func (o *Orchestrator) setStatusWithMetrics(runID string, state types.RunState, stage types.Stage, pct int, message string, timings map[string]int64, metricsMap map[string]int64) error {
	return o.deps.Store.UpdateStatus(runID, types.RunStatus{
		RunID:        runID,
		State:        state,
		Stage:        stage,
		ProgressPct:  pct,
		StageMessage: message,
		TimingsMs:    copyTimings(timings),
		Metrics:      metricsMap,
	})
}

func copyTimings(timings map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(timings))
	for k, v := range timings {
		out[k] = v
	}
	return out
}

// fail freezes the run at its last-known stage/progress as FAILED,
// logs the failure, and still fires best-effort terminal notifications.
func (o *Orchestrator) fail(ctx context.Context, runID string, record *types.RunRecord, runDir string, stage types.Stage, err error, elapsed time.Duration) {
	logger := log.New(log.RunContext{RunID: runID, Stage: string(stage)})
	logger.Error("stage_failed", map[string]any{
		"error_code":   fmt.Sprintf("%s_ERROR", stage),
		"error_detail": err.Error(),
	})
	_ = o.deps.Store.MarkFailed(runID, err.Error())
	o.onTerminal(ctx, runID, record, runDir, string(types.RunFailed), nil, nil, nil, nil, types.Trace{}, logger, elapsed)
}

// onTerminal fires notify adapters and analytics export best-effort.
// Failures here are logged, never escalated: a reporting failure must
// never flip a successful run to FAILED.
func (o *Orchestrator) onTerminal(ctx context.Context, runID string, record *types.RunRecord, runDir string, outcome string, candidates []types.Candidate, flashDecisions, proDecisions []types.Decision, finals []types.FinalEvent, trace types.Trace, logger *log.Logger, elapsed time.Duration) {
	exportCtx := context.WithoutCancel(ctx)

	event := &notify.RunCompletedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       "run_completed",
		RunID:           runID,
		Source:          firstNonEmpty(record.Source, o.deps.Source),
		Category:        firstNonEmpty(record.Category, o.deps.Category),
		Outcome:         outcome,
		StoragePath:     runDir,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		FinalEventCount: len(finals),
		DurationMs:      elapsed.Milliseconds(),
	}
	for _, n := range o.deps.Notifiers {
		if err := n.Publish(exportCtx, event); err != nil {
			logger.Warn("notify_publish_failed", map[string]any{"error_detail": err.Error()})
		}
	}

	if o.deps.Analytics != nil {
		decisions := append(append([]types.Decision{}, flashDecisions...), proDecisions...)
		if err := o.deps.Analytics.WriteRun(exportCtx, candidates, decisions, finals); err != nil {
			logger.Warn("analytics_write_failed", map[string]any{"error_detail": err.Error()})
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(runDir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("orchestrate: marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(runDir, name), data, 0o644); err != nil {
		return fmt.Errorf("orchestrate: write %s: %w", name, err)
	}
	return nil
}
