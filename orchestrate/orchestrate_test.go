package orchestrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/justapithecus/cascadewatch/ingest"
	"github.com/justapithecus/cascadewatch/model"
	"github.com/justapithecus/cascadewatch/proposal"
	"github.com/justapithecus/cascadewatch/store"
	"github.com/justapithecus/cascadewatch/types"
)

// fakeSource is a deterministic VideoSource double.
type fakeSource struct {
	fps        float64
	frameCount int
}

func (f *fakeSource) Open(ctx context.Context, videoPath string) (float64, int, error) {
	return f.fps, f.frameCount, nil
}

func (f *fakeSource) ReadFrame(ctx context.Context, frameIdx int, outDir string) (bool, *ingest.RawFrame, error) {
	if frameIdx >= f.frameCount {
		return false, nil, nil
	}
	return true, &ingest.RawFrame{Idx: frameIdx, Path: fmt.Sprintf("frames/f_%05d.jpg", frameIdx), Height: 480, Width: 640}, nil
}

func (f *fakeSource) Close() error { return nil }

// fakeScorer flags every frame as a red-light-jump-and-motion hit so the
// proposal engine always yields at least one candidate.
type fakeScorer struct{}

func (fakeScorer) ScoreFrames(ctx context.Context, manifest *types.Manifest, roi types.ROIConfig) ([]proposal.FrameSignals, error) {
	out := make([]proposal.FrameSignals, len(manifest.Frames))
	for i := range out {
		out[i] = proposal.FrameSignals{RedScore: 2.0, MotionScore: 50.0}
	}
	return out, nil
}

// fakeModelClient always returns a confident, relevant Flash verdict and
// never needs Pro escalation.
type fakeModelClient struct{}

func (fakeModelClient) UploadMedia(ctx context.Context, path string) (model.MediaRef, error) {
	return model.MediaRef{URI: "media://fake"}, nil
}

func (fakeModelClient) Generate(ctx context.Context, req model.GenerateRequest) (model.GenerateResponse, error) {
	if req.Schema == "flash" {
		return model.GenerateResponse{Raw: map[string]any{
			"packet_id": req.PacketID, "is_relevant": true, "confidence": 0.9,
		}}, nil
	}
	return model.GenerateResponse{}, &model.StatusError{Code: 404}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.RunStore, string) {
	t.Helper()
	runsDir := t.TempDir()
	st, err := store.NewRunStore(runsDir)
	if err != nil {
		t.Fatalf("NewRunStore: %v", err)
	}
	deps := Dependencies{
		Store:   st,
		RunsDir: runsDir,
		VideoSourceFactory: func(videoPath string) ingest.VideoSource {
			return &fakeSource{fps: 10, frameCount: 20}
		},
		FrameScorer:    fakeScorer{},
		ModelClient:    fakeModelClient{},
		IngestConfig:   ingest.DefaultConfig(),
		ProposalConfig: proposal.DefaultConfig(),
	}
	return New(deps), st, runsDir
}

func registerRun(t *testing.T, st *store.RunStore, runsDir string) string {
	t.Helper()
	runID := store.NewRunID()
	if _, err := st.Register(runID, "input/video.mp4", "config/roi_config.json", "", "cam-1", "intersection"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(runsDir, runID), 0o755); err != nil {
		t.Fatalf("mkdir run dir: %v", err)
	}
	return runID
}

func TestRunReachesReadyForReviewAndWritesArtifacts(t *testing.T) {
	o, st, runsDir := newTestOrchestrator(t)
	runID := registerRun(t, st, runsDir)

	if err := o.Run(context.Background(), runID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	record, err := st.Get(runID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status.State != types.RunReadyForReview {
		t.Fatalf("expected READY_FOR_REVIEW, got %s (stage=%s, err=%s)", record.Status.State, record.Status.Stage, record.Status.ErrorMessage)
	}
	if record.Status.ProgressPct != 95 {
		t.Fatalf("expected progress 95, got %d", record.Status.ProgressPct)
	}

	runDir := filepath.Join(runsDir, runID)
	for _, name := range []string{
		"frames_manifest.json", "candidates.json", "flash_events.json",
		"pro_events.json", "flash_decisions.json", "pro_decisions.json",
		"events_final.json", "trace.json", "pipeline.log.jsonl",
	} {
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			t.Errorf("expected artifact %s to exist: %v", name, err)
		}
	}
}

func TestRunCompletesWithEmptyManifest(t *testing.T) {
	o, st, runsDir := newTestOrchestrator(t)
	runID := registerRun(t, st, runsDir)
	o.deps.VideoSourceFactory = func(videoPath string) ingest.VideoSource {
		return &fakeSource{fps: 0, frameCount: 0}
	}
	o.deps.FrameScorer = fakeScorer{}

	if err := o.Run(context.Background(), runID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	record, err := st.Get(runID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// With zero frames, ingest itself succeeds (source_fps defaults to 30)
	// but proposal generation sees an empty manifest and returns no
	// candidates; the run should still complete successfully in that case.
	if record.Status.State == types.RunFailed {
		t.Fatalf("did not expect FAILED for an empty-but-valid manifest: %s", record.Status.ErrorMessage)
	}
}

func TestExportRequiresReadyForReview(t *testing.T) {
	o, st, runsDir := newTestOrchestrator(t)
	runID := registerRun(t, st, runsDir)

	if _, err := o.Export(context.Background(), runID); err == nil {
		t.Fatal("expected Export to fail before the run completes")
	}

	if err := o.Run(context.Background(), runID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	zipPath, err := o.Export(context.Background(), runID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := os.Stat(zipPath); err != nil {
		t.Fatalf("expected case pack zip to exist: %v", err)
	}

	record, err := st.Get(runID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status.State != types.RunExported {
		t.Fatalf("expected EXPORTED, got %s", record.Status.State)
	}
	if record.Status.ProgressPct != 100 {
		t.Fatalf("expected progress 100, got %d", record.Status.ProgressPct)
	}
}
