package proposal

import (
	"context"
	"testing"

	"github.com/justapithecus/cascadewatch/log"
	"github.com/justapithecus/cascadewatch/types"
)

func testLogger() *log.Logger {
	return log.New(log.RunContext{RunID: "run_test0000"})
}

func manifestOf(n int) *types.Manifest {
	frames := make([]types.FrameMeta, n)
	for i := range frames {
		frames[i] = types.FrameMeta{FrameIdx: i, SampleIdx: i, TsSec: float64(i) * 0.25, Path: "f.jpg"}
	}
	return &types.Manifest{Frames: frames, DurationSec: float64(n) * 0.25}
}

// fakeScorer lets tests dial in exactly which frames trip which signal.
type fakeScorer struct {
	redWrongMotion map[int]bool // frames that are both red and in motion
	wrongFlow      map[int]bool
	reckless       map[int]bool
	helmet         map[int]bool
}

func (f fakeScorer) ScoreFrames(ctx context.Context, manifest *types.Manifest, roi types.ROIConfig) ([]FrameSignals, error) {
	out := make([]FrameSignals, len(manifest.Frames))
	for i := range out {
		s := FrameSignals{}
		if f.redWrongMotion[i] {
			s.RedScore = 2.0
			s.MotionScore = 50.0
		}
		if f.wrongFlow[i] {
			s.FlowCos = -0.9
		}
		if f.reckless[i] {
			s.RecklessScore = 0.9
		}
		if f.helmet[i] {
			s.MotionScore = 50.0
			s.CentralRatio = 0.5
		}
		out[i] = s
	}
	return out, nil
}

func idxSet(indices ...int) map[int]bool {
	m := make(map[int]bool, len(indices))
	for _, i := range indices {
		m[i] = true
	}
	return m
}

func TestGenerateEmptyManifestReturnsNoCandidates(t *testing.T) {
	cands, err := Generate(context.Background(), &types.Manifest{}, types.ROIConfig{}, DefaultConfig(), fakeScorer{}, testLogger())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("expected no candidates for empty manifest, got %d", len(cands))
	}
}

func TestGenerateRedLightRunRequiresKRed(t *testing.T) {
	manifest := manifestOf(30)
	scorer := fakeScorer{redWrongMotion: idxSet(10, 11, 12, 13)} // run length 4 >= KRed(3)

	cands, err := Generate(context.Background(), manifest, types.ROIConfig{}, DefaultConfig(), scorer, testLogger())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected exactly 1 candidate, got %d", len(cands))
	}
	if cands[0].EventType != types.EventRedLightJump {
		t.Fatalf("expected RED_LIGHT_JUMP, got %s", cands[0].EventType)
	}
	if cands[0].Score < 0 || cands[0].Score > 1 {
		t.Fatalf("score out of [0,1]: %f", cands[0].Score)
	}
}

func TestGenerateShortRunBelowKIsDropped(t *testing.T) {
	manifest := manifestOf(30)
	scorer := fakeScorer{redWrongMotion: idxSet(10, 11)} // run length 2 < KRed(3)

	cands, err := Generate(context.Background(), manifest, types.ROIConfig{}, DefaultConfig(), scorer, testLogger())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("expected run below k_required to be dropped, got %d candidates", len(cands))
	}
}

func TestGenerateCapsPerType(t *testing.T) {
	manifest := manifestOf(200)
	// 6 disjoint reckless runs of length 4, far enough apart to avoid overlap rejection.
	reckless := idxSet()
	for i := 0; i < 6; i++ {
		base := i * 20
		for j := 0; j < 4; j++ {
			reckless[base+j] = true
		}
	}
	scorer := fakeScorer{reckless: reckless}
	cfg := DefaultConfig()

	cands, err := Generate(context.Background(), manifest, types.ROIConfig{}, cfg, scorer, testLogger())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cands) > cfg.MaxCandidatesPerType {
		t.Fatalf("expected at most %d candidates of one type, got %d", cfg.MaxCandidatesPerType, len(cands))
	}
}

func TestGenerateRanksBySorDescending(t *testing.T) {
	manifest := manifestOf(60)
	scorer := fakeScorer{
		redWrongMotion: idxSet(5, 6, 7),
		wrongFlow:      idxSet(30, 31, 32, 33, 34),
	}
	cands, err := Generate(context.Background(), manifest, types.ROIConfig{}, DefaultConfig(), scorer, testLogger())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for i := 1; i < len(cands); i++ {
		if cands[i].Score > cands[i-1].Score {
			t.Fatalf("candidates not sorted by descending score at index %d", i)
		}
		if cands[i].CandidateRank != i {
			t.Fatalf("expected candidate_rank %d, got %d", i, cands[i].CandidateRank)
		}
	}
}
