package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/justapithecus/cascadewatch/ingest"
	"github.com/justapithecus/cascadewatch/proposal"
	"github.com/justapithecus/cascadewatch/types"
)

// loadROIConfig reads a ROI config JSON file into types.ROIConfig.
func loadROIConfig(path string) (types.ROIConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ROIConfig{}, fmt.Errorf("read roi config %q: %w", path, err)
	}
	var cfg types.ROIConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return types.ROIConfig{}, fmt.Errorf("parse roi config %q: %w", path, err)
	}
	return cfg, nil
}

// ErrNoVideoDecoder is returned by the CLI's default VideoSource and
// FrameScorer stand-ins. The real video decoder and computer-vision
// scorer are external collaborators out of scope for this module; wire a
// real ingest.VideoSource / proposal.FrameScorer implementation via
// orchestrate.Dependencies to run against actual footage.
var ErrNoVideoDecoder = fmt.Errorf("cmd: no video decoder configured")

type unconfiguredVideoSource struct{}

func (unconfiguredVideoSource) Open(ctx context.Context, videoPath string) (float64, int, error) {
	return 0, 0, ErrNoVideoDecoder
}

func (unconfiguredVideoSource) ReadFrame(ctx context.Context, frameIdx int, outDir string) (bool, *ingest.RawFrame, error) {
	return false, nil, ErrNoVideoDecoder
}

func (unconfiguredVideoSource) Close() error { return nil }

type unconfiguredFrameScorer struct{}

func (unconfiguredFrameScorer) ScoreFrames(ctx context.Context, manifest *types.Manifest, roi types.ROIConfig) ([]proposal.FrameSignals, error) {
	return nil, ErrNoVideoDecoder
}
