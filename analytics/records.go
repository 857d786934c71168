package analytics

import "github.com/justapithecus/cascadewatch/types"

// toCandidateRecordMap converts a Candidate to a map for Hive storage.
// Bulk storage requires records as map[string]any.
func toCandidateRecordMap(c types.Candidate, cfg Config) map[string]any {
	return map[string]any{
		"record_kind":      RecordKindCandidate,
		"packet_id":        c.PacketID,
		"candidate_id":     c.CandidateID,
		"candidate_rank":   c.CandidateRank,
		"event_type":       string(c.EventType),
		"start_s":          c.StartS,
		"end_s":            c.EndS,
		"score":            c.Score,
		"anchor_frames":    c.AnchorFrames,
		"feature_snapshot": c.FeatureSnapshot,
		"sent_to_flash":    c.Routing.SentToFlash,
		"sent_to_pro":      c.Routing.SentToPro,
		"routing_reason":   c.Routing.RoutingReason,
		"source":           cfg.Source,
		"category":         cfg.Category,
		"day":              cfg.Day,
		"run_id":           cfg.RunID,
	}
}

// toDecisionRecordMap converts a Decision to a map for Hive storage.
func toDecisionRecordMap(d types.Decision, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind": RecordKindDecision,
		"packet_id":   d.PacketID,
		"model":       d.Model,
		"start_s":     d.StartS,
		"end_s":       d.EndS,
		"status":      string(d.Status),
		"latency_ms":  d.LatencyMs,
		"source":      cfg.Source,
		"category":    cfg.Category,
		"day":         cfg.Day,
		"run_id":      cfg.RunID,
	}
	if d.ErrorDetail != "" {
		m["error_detail"] = d.ErrorDetail
	}
	if d.FlashEvent != nil {
		m["confidence"] = d.FlashEvent.Confidence
		m["is_relevant"] = d.FlashEvent.IsRelevant
	}
	return m
}

// toFinalEventRecordMap converts a FinalEvent to a map for Hive storage.
func toFinalEventRecordMap(e types.FinalEvent, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind":       RecordKindFinal,
		"event_id":          e.EventID,
		"packet_id":         e.PacketID,
		"source_stage":      string(e.SourceStage),
		"event_type":        string(e.EventType),
		"start_time":        e.StartTime,
		"end_time":          e.EndTime,
		"confidence":        e.Confidence,
		"risk_score":        e.RiskScore,
		"plate_visible":     e.PlateVisible,
		"evidence_frames":   e.EvidenceFrames,
		"uncertain":         e.Uncertain,
		"uncertainty_reason": e.UncertaintyReason,
		"source":            cfg.Source,
		"category":          cfg.Category,
		"day":               cfg.Day,
		"run_id":            cfg.RunID,
	}
	if e.PlateText != nil {
		m["plate_text"] = *e.PlateText
	}
	return m
}
