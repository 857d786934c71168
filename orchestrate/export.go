package orchestrate

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/justapithecus/cascadewatch/iox"
	"github.com/justapithecus/cascadewatch/log"
	"github.com/justapithecus/cascadewatch/types"
)

// ErrNotReadyForExport is returned when Export is called on a run that
// has not reached READY_FOR_REVIEW.
var ErrNotReadyForExport = errors.New("orchestrate: run is not ready for export")

// exportArtifacts lists the run-directory files bundled into case_pack.zip,
// mirroring the reference exporter's archive contents minus the
// reviewer-decision HTML/PDF report (no review workflow in this system).
var exportArtifacts = []string{
	"events_final.json",
	"candidates.json",
	"flash_events.json",
	"pro_events.json",
	"trace.json",
	"pipeline.log.jsonl",
}

// exportSummary is written alongside case_pack.zip as summary.json.
type exportSummary struct {
	EventCount  int      `json:"event_count"`
	GeneratedAt string   `json:"generated_at"`
	EventIDs    []string `json:"event_ids"`
}

// Export bundles a completed run's artifacts into
// <run_dir>/export/case_pack.zip and transitions the run to EXPORTED.
// Only callable on a run currently in READY_FOR_REVIEW.
func (o *Orchestrator) Export(ctx context.Context, runID string) (string, error) {
	start := time.Now()
	record, err := o.deps.Store.Get(runID)
	if err != nil {
		return "", err
	}
	if record.Status.State != types.RunReadyForReview {
		return "", fmt.Errorf("%w: run %s is in state %s", ErrNotReadyForExport, runID, record.Status.State)
	}

	runDir := filepath.Join(o.deps.RunsDir, runID)
	exportDir := filepath.Join(runDir, "export")
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return "", fmt.Errorf("orchestrate: mkdir export dir: %w", err)
	}

	finals, err := readFinalEvents(runDir)
	if err != nil {
		return "", err
	}

	if err := writeEvidenceCopies(runDir, exportDir, finals); err != nil {
		return "", err
	}

	summary := exportSummary{EventCount: len(finals), GeneratedAt: time.Now().UTC().Format(time.RFC3339)}
	for _, e := range finals {
		summary.EventIDs = append(summary.EventIDs, e.EventID)
	}
	if err := writeJSON(exportDir, "summary.json", summary); err != nil {
		return "", err
	}

	zipPath := filepath.Join(exportDir, "case_pack.zip")
	if err := buildCasePack(runDir, zipPath); err != nil {
		return "", err
	}

	logger := log.New(log.RunContext{RunID: runID, Stage: string(types.StageExport)})
	timings := copyTimings(record.Status.TimingsMs)
	if err := o.deps.Store.UpdateStatus(runID, types.RunStatus{
		RunID:        runID,
		State:        types.RunExported,
		Stage:        types.StageExport,
		ProgressPct:  100,
		StageMessage: "Export completed",
		TimingsMs:    timings,
		Metrics:      record.Status.Metrics,
	}); err != nil {
		return "", err
	}
	logger.Info("stage_completed", map[string]any{"message": "export completed", "zip_path": zipPath})

	o.onTerminal(ctx, runID, record, runDir, string(types.RunExported), nil, nil, nil, finals, types.Trace{}, logger, time.Since(start))
	return zipPath, nil
}

func readFinalEvents(runDir string) ([]types.FinalEvent, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "events_final.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrate: read events_final.json: %w", err)
	}
	var events []types.FinalEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("orchestrate: parse events_final.json: %w", err)
	}
	return events, nil
}

// writeEvidenceCopies copies up to 3 evidence frames per final event into
// export/evidence/<event_id>/, skipping any that no longer exist on disk.
func writeEvidenceCopies(runDir, exportDir string, events []types.FinalEvent) error {
	evidenceRoot := filepath.Join(exportDir, "evidence")
	for _, e := range events {
		eventDir := filepath.Join(evidenceRoot, e.EventID)
		frames := e.EvidenceFrames
		if len(frames) > 3 {
			frames = frames[:3]
		}
		for i, framePath := range frames {
			src := filepath.Join(runDir, framePath)
			if _, err := os.Stat(src); err != nil {
				continue
			}
			if err := os.MkdirAll(eventDir, 0o755); err != nil {
				return fmt.Errorf("orchestrate: mkdir evidence dir: %w", err)
			}
			ext := filepath.Ext(framePath)
			if ext == "" {
				ext = ".jpg"
			}
			dst := filepath.Join(eventDir, fmt.Sprintf("img_%02d%s", i+1, ext))
			if err := copyFile(src, dst); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("orchestrate: open evidence frame: %w", err)
	}
	defer iox.DiscardClose(in)
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("orchestrate: create evidence copy: %w", err)
	}
	defer iox.DiscardClose(out)
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("orchestrate: copy evidence frame: %w", err)
	}
	return nil
}

// buildCasePack zips the run's reviewable artifacts plus any evidence
// images into zipPath, using paths relative to runDir as archive names.
func buildCasePack(runDir, zipPath string) error {
	zf, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("orchestrate: create case pack: %w", err)
	}
	defer iox.DiscardClose(zf)

	w := zip.NewWriter(zf)
	defer iox.DiscardClose(w)

	for _, rel := range exportArtifacts {
		if err := addZipFile(w, runDir, rel); err != nil {
			return err
		}
	}

	evidenceDir := filepath.Join(runDir, "export", "evidence")
	err = filepath.Walk(evidenceDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(runDir, path)
		if err != nil {
			return err
		}
		return addZipFile(w, runDir, rel)
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("orchestrate: walk evidence dir: %w", err)
	}
	return nil
}

func addZipFile(w *zip.Writer, runDir, rel string) error {
	full := filepath.Join(runDir, rel)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("orchestrate: read %s for export: %w", rel, err)
	}
	entry, err := w.Create(filepath.ToSlash(rel))
	if err != nil {
		return fmt.Errorf("orchestrate: create zip entry %s: %w", rel, err)
	}
	_, err = entry.Write(data)
	return err
}
