package merge

import (
	"testing"

	"github.com/justapithecus/cascadewatch/types"
)

func TestMergeProFinalBlendsConfidenceAndRisk(t *testing.T) {
	packet := types.Candidate{PacketID: "p1", CandidateRank: 0, Score: 0.8}
	proDecisions := []types.Decision{{
		PacketID: "p1",
		FinalEvent: &types.FinalEvent{
			PacketID: "p1", EventType: types.EventRedLightJump,
			Confidence: 0.9, RiskScore: 70,
		},
	}}

	finals, trace := Merge("run_x", []types.Candidate{packet}, nil, proDecisions)
	if len(finals) != 1 {
		t.Fatalf("expected 1 final event, got %d", len(finals))
	}
	wantConf := 0.45*0.8 + 0.55*0.9
	if diff := finals[0].Confidence - round3(wantConf); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", finals[0].Confidence, round3(wantConf))
	}
	wantRisk := 0.4*(0.8*100) + 0.6*70
	if diff := finals[0].RiskScore - round2(wantRisk); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("risk_score = %v, want %v", finals[0].RiskScore, round2(wantRisk))
	}
	if finals[0].SourceStage != types.SourceProFinal {
		t.Errorf("expected PRO_FINAL source stage, got %s", finals[0].SourceStage)
	}
	if trace.Summary.ProFinalEvents != 1 {
		t.Errorf("expected 1 pro-final in summary, got %d", trace.Summary.ProFinalEvents)
	}
}

func TestMergeFlashOnlyIsAlwaysUncertain(t *testing.T) {
	packet := types.Candidate{PacketID: "p2", CandidateRank: 0, Score: 0.6}
	flashDecisions := []types.Decision{{
		PacketID:   "p2",
		FlashEvent: &types.FlashEvent{PacketID: "p2", IsRelevant: true, Confidence: 0.8, EventType: types.EventWrongSide},
	}}

	finals, trace := Merge("run_x", []types.Candidate{packet}, flashDecisions, nil)
	if len(finals) != 1 {
		t.Fatalf("expected 1 final event, got %d", len(finals))
	}
	if !finals[0].Uncertain || finals[0].UncertaintyReason != "Not escalated to Pro" {
		t.Errorf("expected FLASH_ONLY to be always uncertain with fixed reason, got %+v", finals[0])
	}
	if finals[0].SourceStage != types.SourceFlashOnly {
		t.Errorf("expected FLASH_ONLY source stage, got %s", finals[0].SourceStage)
	}
	if trace.Summary.FlashOnlyEvents != 1 {
		t.Errorf("expected 1 flash-only in summary, got %d", trace.Summary.FlashOnlyEvents)
	}
}

func TestMergeDroppedPacketUsesLastRoutingReason(t *testing.T) {
	packet := types.Candidate{PacketID: "p3", CandidateRank: 0, Score: 0.3}
	packet.Routing.AddReason("local_score_below_flash_threshold")

	finals, trace := Merge("run_x", []types.Candidate{packet}, nil, nil)
	if len(finals) != 0 {
		t.Fatalf("expected no final events for dropped packet, got %d", len(finals))
	}
	if trace.Entries[0].DroppedReason != "local_score_below_flash_threshold" {
		t.Errorf("expected dropped_reason to use last routing reason, got %q", trace.Entries[0].DroppedReason)
	}
	if trace.Summary.DroppedPackets != 1 {
		t.Errorf("expected 1 dropped packet in summary, got %d", trace.Summary.DroppedPackets)
	}
}

func TestMergeFlashNotRelevantDropsWithReason(t *testing.T) {
	packet := types.Candidate{PacketID: "p4", CandidateRank: 0, Score: 0.6}
	flashDecisions := []types.Decision{{
		PacketID:   "p4",
		FlashEvent: &types.FlashEvent{PacketID: "p4", IsRelevant: false},
	}}

	finals, trace := Merge("run_x", []types.Candidate{packet}, flashDecisions, nil)
	if len(finals) != 0 {
		t.Fatalf("expected no final event for non-relevant flash verdict")
	}
	if trace.Entries[0].DroppedReason != "flash_not_relevant" {
		t.Errorf("expected dropped_reason flash_not_relevant, got %q", trace.Entries[0].DroppedReason)
	}
}
