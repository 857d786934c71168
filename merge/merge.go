// Package merge fuses local proposal scores with Flash/Pro model
// decisions into the final, reviewable event list and its provenance
// trace. Blend formulas are grounded line-for-line on the reference
// post-processing stage.
package merge

import (
	"fmt"
	"sort"

	"github.com/justapithecus/cascadewatch/types"
)

// Merge produces final events and a trace from packets ordered by
// candidate_rank plus their Flash/Pro decisions.
func Merge(runID string, packets []types.Candidate, flashDecisions, proDecisions []types.Decision) ([]types.FinalEvent, types.Trace) {
	sorted := append([]types.Candidate{}, packets...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CandidateRank < sorted[j].CandidateRank })

	flashByID := indexDecisions(flashDecisions)
	proByID := indexDecisions(proDecisions)

	var finals []types.FinalEvent
	var entries []types.TraceEntry
	eid := 1
	proFinalCount, flashOnlyCount := 0, 0

	for _, packet := range sorted {
		entry := types.TraceEntry{PacketID: packet.PacketID, Local: packet}

		proDecision, hasPro := proByID[packet.PacketID]
		flashDecision, hasFlash := flashByID[packet.PacketID]
		if hasFlash {
			entry.FlashDecision = &flashDecision
		}

		switch {
		case hasPro && proDecision.FinalEvent != nil:
			entry.ProDecision = &proDecision
			final := blendProFinal(packet, *proDecision.FinalEvent, eid)
			entry.FinalEventID = final.EventID
			finals = append(finals, final)
			proFinalCount++
			eid++
		case hasFlash && flashDecision.FlashEvent != nil && flashDecision.FlashEvent.IsRelevant:
			final := blendFlashOnly(packet, *flashDecision.FlashEvent, eid)
			entry.FinalEventID = final.EventID
			finals = append(finals, final)
			flashOnlyCount++
			eid++
		default:
			entry.DroppedReason = droppedReason(packet, flashDecision, hasFlash)
		}
		entries = append(entries, entry)
	}

	trace := types.Trace{
		RunID:   runID,
		Entries: entries,
		Summary: types.TraceSummary{
			PacketsTotal:    len(sorted),
			FinalEvents:     len(finals),
			DroppedPackets:  len(sorted) - len(finals),
			ProFinalEvents:  proFinalCount,
			FlashOnlyEvents: flashOnlyCount,
		},
	}
	return finals, trace
}

func indexDecisions(decisions []types.Decision) map[string]types.Decision {
	out := make(map[string]types.Decision, len(decisions))
	for _, d := range decisions {
		out[d.PacketID] = d
	}
	return out
}

// blendProFinal implements confidence/risk blend: 0.45*local + 0.55*pro.
func blendProFinal(packet types.Candidate, pro types.FinalEvent, eid int) types.FinalEvent {
	confidence := round3(0.45*packet.Score + 0.55*pro.Confidence)
	risk := round2(0.4*(packet.Score*100) + 0.6*pro.RiskScore)
	evidence := packet.AnchorFrames
	if len(evidence) > 3 {
		evidence = evidence[:3]
	}
	return types.FinalEvent{
		EventID:           fmt.Sprintf("evt_%03d", eid),
		PacketID:          packet.PacketID,
		SourceStage:       types.SourceProFinal,
		EventType:         pro.EventType,
		StartTime:         pro.StartTime,
		EndTime:           pro.EndTime,
		Confidence:        confidence,
		RiskScore:         risk,
		PlateVisible:      pro.PlateVisible,
		PlateText:         pro.PlateText,
		EvidenceFrames:    evidence,
		KeyMoments:        pro.KeyMoments,
		ExplanationShort:  pro.ExplanationShort,
		Uncertain:         pro.Uncertain,
		UncertaintyReason: pro.UncertaintyReason,
	}
}

// blendFlashOnly implements the FLASH_ONLY blend when a relevant verdict
// never escalated to Pro: 0.45*local + 0.55*flash, risk = 0.7*local*100,
// always uncertain with a fixed reason.
func blendFlashOnly(packet types.Candidate, flash types.FlashEvent, eid int) types.FinalEvent {
	confidence := round3(0.45*packet.Score + 0.55*flash.Confidence)
	risk := round2(packet.Score * 100 * 0.7)
	return types.FinalEvent{
		EventID:           fmt.Sprintf("evt_%03d_%s", eid, packet.PacketID),
		PacketID:          packet.PacketID,
		SourceStage:       types.SourceFlashOnly,
		EventType:         flash.EventType,
		StartTime:         flash.StartTime,
		EndTime:           flash.EndTime,
		Confidence:        confidence,
		RiskScore:         risk,
		PlateVisible:      flash.PlateVisible,
		PlateText:         flash.PlateText,
		EvidenceFrames:    packet.AnchorFrames,
		ExplanationShort:  flash.ViolatorDescription,
		Uncertain:         true,
		UncertaintyReason: "Not escalated to Pro",
	}
}

func droppedReason(packet types.Candidate, flashDecision types.Decision, hasFlash bool) string {
	if len(packet.Routing.RoutingReason) > 0 {
		return packet.Routing.RoutingReason[len(packet.Routing.RoutingReason)-1]
	}
	if hasFlash && flashDecision.FlashEvent != nil && !flashDecision.FlashEvent.IsRelevant {
		return "flash_not_relevant"
	}
	return "not_processed"
}

func round2(v float64) float64 { return roundN(v, 100) }
func round3(v float64) float64 { return roundN(v, 1000) }
func roundN(v, scale float64) float64 {
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
