// Package ingest decodes a source video into a sampled frame manifest at
// an adaptive analysis frame rate. The real video decode/CV backend is an
// external collaborator (see VideoSource); this package owns the sampling
// rate decision, manifest shape, and downscale bookkeeping only.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/justapithecus/cascadewatch/log"
	"github.com/justapithecus/cascadewatch/types"
)

// RawFrame is one decoded frame handed back by a VideoSource, before any
// analysis-rate sampling or downscale bookkeeping is applied.
type RawFrame struct {
	Idx    int
	Path   string
	Height int
	Width  int
}

// VideoSource decodes a video file into a sequence of frames. The real
// implementation wraps an OS video decoder; it is out of scope here and
// referenced only by this contract.
type VideoSource interface {
	// Open returns the source frame rate and total decoded frame count.
	Open(ctx context.Context, videoPath string) (sourceFPS float64, frameCount int, err error)
	// ReadFrame decodes and writes frame frameIdx to outDir, returning its
	// metadata. Returns false, nil, nil once frames are exhausted.
	ReadFrame(ctx context.Context, frameIdx int, outDir string) (ok bool, frame *RawFrame, err error)
	Close() error
}

// Config controls adaptive sampling.
type Config struct {
	FPSShort              int
	FPSLong               int
	LongVideoThresholdSec float64
	DownscaleLongEdge     int
}

// DefaultConfig mirrors the conservative defaults from the reference
// perf configuration.
func DefaultConfig() Config {
	return Config{
		FPSShort:              4,
		FPSLong:               2,
		LongVideoThresholdSec: 90,
		DownscaleLongEdge:     640,
	}
}

// ErrDecodeFailed marks a fatal ingest-stage failure (INGEST_DECODE_ERROR).
type ErrDecodeFailed struct {
	Path string
	Err  error
}

func (e *ErrDecodeFailed) Error() string {
	return fmt.Sprintf("ingest: failed to open video %s: %v", e.Path, e.Err)
}
func (e *ErrDecodeFailed) Unwrap() error { return e.Err }

// Ingest samples videoPath at an adaptive rate, writes sampled frames into
// runDir/frames, and returns the resulting manifest.
func Ingest(ctx context.Context, src VideoSource, videoPath, runDir string, cfg Config, logger *log.Logger) (*types.Manifest, error) {
	logger.Info("stage_started", map[string]any{"message": "starting ingest stage"})

	sourceFPS, frameCount, err := src.Open(ctx, videoPath)
	if err != nil {
		logger.Error("stage_failed", map[string]any{"error_code": "INGEST_DECODE_ERROR", "error_detail": err.Error()})
		return nil, &ErrDecodeFailed{Path: videoPath, Err: err}
	}
	if sourceFPS <= 0 {
		sourceFPS = 30.0
	}
	duration := 0.0
	if sourceFPS > 0 {
		duration = float64(frameCount) / sourceFPS
	}

	analysisFPS := cfg.FPSShort
	if duration > cfg.LongVideoThresholdSec {
		analysisFPS = cfg.FPSLong
	}
	sampleEvery := int(sourceFPS/float64(maxInt(analysisFPS, 1)) + 0.5)
	if sampleEvery < 1 {
		sampleEvery = 1
	}

	framesDir := filepath.Join(runDir, "frames")
	var frames []types.FrameMeta
	sampleIdx := 0
	for frameIdx := 0; ; frameIdx++ {
		if frameIdx%sampleEvery != 0 {
			ok, _, err := src.ReadFrame(ctx, frameIdx, framesDir)
			if err != nil {
				return nil, fmt.Errorf("ingest: read frame %d: %w", frameIdx, err)
			}
			if !ok {
				break
			}
			continue
		}
		ok, raw, err := src.ReadFrame(ctx, frameIdx, framesDir)
		if err != nil {
			return nil, fmt.Errorf("ingest: read frame %d: %w", frameIdx, err)
		}
		if !ok {
			break
		}
		resized := false
		longEdge := raw.Width
		if raw.Height > longEdge {
			longEdge = raw.Height
		}
		if cfg.DownscaleLongEdge > 0 && longEdge > cfg.DownscaleLongEdge {
			resized = true
		}
		frames = append(frames, types.FrameMeta{
			FrameIdx:  frameIdx,
			SampleIdx: sampleIdx,
			TsSec:     round3(float64(frameIdx) / sourceFPS),
			Path:      raw.Path,
			Height:    raw.Height,
			Width:     raw.Width,
			Resized:   resized,
		})
		sampleIdx++
	}
	if err := src.Close(); err != nil {
		logger.Warn("video_source_close_error", map[string]any{"error_detail": err.Error()})
	}

	manifest := &types.Manifest{
		VideoPath:   videoPath,
		SourceFPS:   sourceFPS,
		AnalysisFPS: analysisFPS,
		DurationSec: round3(duration),
		FrameCount:  frameCount,
		SampleCount: len(frames),
		Frames:      frames,
	}

	logger.Info("stage_completed", map[string]any{
		"frame_count":  frameCount,
		"sample_count": len(frames),
	})
	return manifest, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func round3(v float64) float64 {
	const scale = 1000.0
	return float64(int(v*scale+0.5)) / scale
}
