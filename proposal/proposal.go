// Package proposal ranks candidate violation windows from a frame
// manifest. The per-frame pixel math (red-channel dominance, optical
// flow, background subtraction) is an external collaborator behind
// FrameScorer — out of scope per the system's contract, since no
// computer-vision binding is available. This package owns the signal
// grouping, scoring, and pruning algorithm only.
package proposal

import (
	"context"
	"fmt"
	"sort"

	"github.com/justapithecus/cascadewatch/log"
	"github.com/justapithecus/cascadewatch/types"
)

// FrameSignals are the per-frame numeric features computed by a
// FrameScorer for a single sampled frame.
type FrameSignals struct {
	RedScore      float64
	MotionScore   float64
	FlowCos       float64
	FgRatio       float64
	RecklessScore float64
	CentralRatio  float64
}

// AsMap renders signals for storage in Candidate.FeatureSnapshot.
func (s FrameSignals) AsMap() map[string]float64 {
	return map[string]float64{
		"red_score":      round4(s.RedScore),
		"motion_score":   round4(s.MotionScore),
		"flow_cos":       round4(s.FlowCos),
		"fg_ratio":       round4(s.FgRatio),
		"reckless_score": round4(s.RecklessScore),
	}
}

// FrameScorer computes per-frame signals across an entire manifest. The
// real implementation wraps OpenCV-equivalent pixel analysis; it is
// referenced only by this contract.
type FrameScorer interface {
	ScoreFrames(ctx context.Context, manifest *types.Manifest, roi types.ROIConfig) ([]FrameSignals, error)
}

// Config mirrors the reference proposal-engine defaults.
type Config struct {
	KHelmet               int
	KRed                  int
	KWrong                int
	KReckless             int
	RiskThreshold         float64
	MaxCandidatesTotal    int
	MaxCandidatesPerType  int
	RedThreshold          float64
	MotionThreshold       float64
	WrongFlowThreshold    float64
}

// DefaultConfig returns the conservative defaults grounded in the
// reference local-engine configuration.
func DefaultConfig() Config {
	return Config{
		KHelmet:              6,
		KRed:                 3,
		KWrong:                5,
		KReckless:            4,
		RiskThreshold:        0.6,
		MaxCandidatesTotal:   12,
		MaxCandidatesPerType: 4,
		RedThreshold:         1.4,
		MotionThreshold:      25.0,
		WrongFlowThreshold:   -0.25,
	}
}

type typeBase struct {
	eventType types.EventType
	base      float64
	k         int
}

// Generate runs the local proposal engine over manifest, returning ranked
// and pruned candidates. An empty manifest or empty result is not an
// error; callers should treat a nil/empty slice as a logged warning, not
// a failure.
func Generate(ctx context.Context, manifest *types.Manifest, roi types.ROIConfig, cfg Config, scorer FrameScorer, logger *log.Logger) ([]types.Candidate, error) {
	if len(manifest.Frames) == 0 {
		logger.Warn("stage_completed", map[string]any{"message": "no frames in manifest"})
		return nil, nil
	}

	signals, err := scorer.ScoreFrames(ctx, manifest, roi)
	if err != nil {
		return nil, fmt.Errorf("proposal: score frames: %w", err)
	}
	if len(signals) != len(manifest.Frames) {
		return nil, fmt.Errorf("proposal: scorer returned %d signals for %d frames", len(signals), len(manifest.Frames))
	}

	var redHits, motionHits, wrongHits, recklessHits, helmetHits []int
	for i, s := range signals {
		if s.RedScore >= cfg.RedThreshold {
			redHits = append(redHits, i)
		}
		if s.MotionScore >= cfg.MotionThreshold {
			motionHits = append(motionHits, i)
		}
		if s.FlowCos <= cfg.WrongFlowThreshold {
			wrongHits = append(wrongHits, i)
		}
		if s.RecklessScore >= cfg.RiskThreshold {
			recklessHits = append(recklessHits, i)
		}
		if s.CentralRatio > 0.2 && s.MotionScore > cfg.MotionThreshold*0.6 {
			helmetHits = append(helmetHits, i)
		}
	}

	var candidates []types.Candidate
	cid := 1

	addCandidates := func(def typeBase, indices []int) {
		for _, run := range groupRuns(indices, def.k) {
			startI, endI := run[0], run[1]
			startTS := manifest.Frames[startI].TsSec - 1.0
			if startTS < 0 {
				startTS = 0
			}
			endTS := manifest.Frames[endI].TsSec + 1.0
			if endTS > manifest.DurationSec {
				endTS = manifest.DurationSec
			}
			peak := (startI + endI) / 2
			if peak >= len(signals) {
				peak = len(signals) - 1
			}
			snap := signals[peak]
			score := def.base + snap.RecklessScore*0.25
			if score > 1 {
				score = 1
			}
			if score < 0 {
				score = 0
			}
			candidateID := fmt.Sprintf("cand_%03d", cid)
			candidates = append(candidates, types.Candidate{
				PacketID:        candidateID,
				CandidateID:     candidateID,
				EventType:       def.eventType,
				StartS:          round3(startTS),
				EndS:            round3(endTS),
				Score:           round3(score),
				AnchorFrames:    anchorFrames(manifest, startI, peak, endI),
				FeatureSnapshot: snap.AsMap(),
			})
			cid++
		}
	}

	redAndMotion := intersect(redHits, motionHits)
	addCandidates(typeBase{types.EventRedLightJump, 0.58, cfg.KRed}, redAndMotion)
	addCandidates(typeBase{types.EventWrongSide, 0.62, cfg.KWrong}, wrongHits)
	addCandidates(typeBase{types.EventNoHelmet, 0.52, cfg.KHelmet}, helmetHits)
	addCandidates(typeBase{types.EventReckless, 0.64, cfg.KReckless}, recklessHits)

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	perType := make(map[types.EventType]int)
	var pruned []types.Candidate
	for _, cand := range candidates {
		if len(pruned) >= cfg.MaxCandidatesTotal {
			break
		}
		if perType[cand.EventType] >= cfg.MaxCandidatesPerType {
			continue
		}
		if overlapsExisting(pruned, cand) {
			continue
		}
		pruned = append(pruned, cand)
		perType[cand.EventType]++
	}

	for i := range pruned {
		pruned[i].CandidateRank = i
	}

	logger.Info("stage_completed", map[string]any{"candidate_count": len(pruned)})
	if len(pruned) == 0 {
		logger.Warn("candidate_empty_warning", map[string]any{"error_code": "CANDIDATE_EMPTY_WARNING"})
	}
	return pruned, nil
}

func overlapsExisting(existing []types.Candidate, cand types.Candidate) bool {
	for _, e := range existing {
		if e.EventType != cand.EventType {
			continue
		}
		overlap := minF(e.EndS, cand.EndS) - maxF(e.StartS, cand.StartS)
		if overlap < 0 {
			overlap = 0
		}
		shorter := minF(e.EndS-e.StartS, cand.EndS-cand.StartS)
		if shorter > 0 && overlap/shorter > 0.4 {
			return true
		}
	}
	return false
}

func anchorFrames(manifest *types.Manifest, start, peak, end int) []string {
	seen := make(map[int]bool)
	var out []string
	for _, idx := range []int{start, peak, end} {
		if idx < 0 || idx >= len(manifest.Frames) || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, manifest.Frames[idx].Path)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// groupRuns coalesces consecutive indices into inclusive [start,end] runs
// of length >= kRequired.
func groupRuns(indices []int, kRequired int) [][2]int {
	if len(indices) == 0 {
		return nil
	}
	var runs [][2]int
	start, prev := indices[0], indices[0]
	for _, idx := range indices[1:] {
		if idx == prev+1 {
			prev = idx
			continue
		}
		if prev-start+1 >= kRequired {
			runs = append(runs, [2]int{start, prev})
		}
		start, prev = idx, idx
	}
	if prev-start+1 >= kRequired {
		runs = append(runs, [2]int{start, prev})
	}
	return runs
}

func intersect(a, b []int) []int {
	set := make(map[int]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []int
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func round3(v float64) float64 { return roundN(v, 1000) }
func round4(v float64) float64 { return roundN(v, 10000) }
func roundN(v, scale float64) float64 {
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
