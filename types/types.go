// Package types defines the data model shared across cascadewatch's
// pipeline stages: candidates, model decisions, final events, run status,
// and the run-directory contract.
package types

import "time"

// EventType enumerates the violation categories the cascade detects.
type EventType string

const (
	EventNoHelmet     EventType = "NO_HELMET"
	EventRedLightJump EventType = "RED_LIGHT_JUMP"
	EventWrongSide    EventType = "WRONG_SIDE_DRIVING"
	EventReckless     EventType = "RECKLESS_DRIVING"
)

// Candidate is a packet proposed by the local engine for model validation.
// PacketID is immutable and propagates unchanged through every downstream
// artifact (flash_events.json, pro_events.json, trace.json, ...).
type Candidate struct {
	PacketID         string             `json:"packet_id"`
	CandidateID      string             `json:"candidate_id"`
	CandidateRank    int                `json:"candidate_rank"`
	EventType        EventType          `json:"event_type"`
	StartS           float64            `json:"start_s"`
	EndS             float64            `json:"end_s"`
	Score            float64            `json:"score"`
	AnchorFrames     []string           `json:"anchor_frames"`
	FeatureSnapshot  map[string]float64 `json:"feature_snapshot"`
	Routing          Routing            `json:"routing"`
}

// Routing tracks which tiers a packet was sent to and why.
type Routing struct {
	SentToFlash   bool     `json:"sent_to_flash"`
	SentToPro     bool     `json:"sent_to_pro"`
	RoutingReason []string `json:"routing_reason"`
}

// AddReason appends a routing reason, skipping duplicates.
func (r *Routing) AddReason(reason string) {
	for _, existing := range r.RoutingReason {
		if existing == reason {
			return
		}
	}
	r.RoutingReason = append(r.RoutingReason, reason)
}

// FlashEvent is the validated (or fallback) response from the Flash tier.
type FlashEvent struct {
	PacketID           string    `json:"packet_id"`
	CandidateID        string    `json:"candidate_id"`
	IsRelevant         bool      `json:"is_relevant"`
	EventType          EventType `json:"event_type"`
	Confidence         float64   `json:"confidence"`
	StartTime          float64   `json:"start_time"`
	EndTime            float64   `json:"end_time"`
	PlateVisible       bool      `json:"plate_visible"`
	PlateText          *string   `json:"plate_text,omitempty"`
	ViolatorDescription string   `json:"violator_description"`
	Uncertain          bool      `json:"uncertain"`
	UncertaintyReason  string    `json:"uncertainty_reason,omitempty"`
	NeedsPro           bool      `json:"needs_pro"`
}

// KeyMoment is a single annotated timestamp within a final event's window.
type KeyMoment struct {
	T    float64 `json:"t"`
	Note string  `json:"note"`
}

// SourceStage identifies which tier produced a FinalEvent.
type SourceStage string

const (
	SourceProFinal   SourceStage = "PRO_FINAL"
	SourceFlashOnly  SourceStage = "FLASH_ONLY"
)

// FinalEvent is a merged, reviewable violation record.
type FinalEvent struct {
	EventID            string      `json:"event_id"`
	PacketID           string      `json:"packet_id"`
	SourceStage        SourceStage `json:"source_stage"`
	EventType          EventType   `json:"event_type"`
	StartTime          float64     `json:"start_time"`
	EndTime            float64     `json:"end_time"`
	Confidence         float64     `json:"confidence"`
	RiskScore          float64     `json:"risk_score"`
	PlateVisible       bool        `json:"plate_visible"`
	PlateText          *string     `json:"plate_text,omitempty"`
	EvidenceFrames     []string    `json:"evidence_frames"`
	KeyMoments         []KeyMoment `json:"key_moments"`
	ExplanationShort   string      `json:"explanation_short"`
	Uncertain          bool        `json:"uncertain"`
	UncertaintyReason  string      `json:"uncertainty_reason,omitempty"`
}

// DecisionStatus indicates whether a model call succeeded or fell back.
type DecisionStatus string

const (
	DecisionOK       DecisionStatus = "ok"
	DecisionFallback DecisionStatus = "fallback"
)

// Decision is the per-packet record of one model invocation.
type Decision struct {
	PacketID    string         `json:"packet_id"`
	Model       string         `json:"model"`
	StartS      float64        `json:"start_s"`
	EndS        float64        `json:"end_s"`
	Status      DecisionStatus `json:"status"`
	LatencyMs   int64          `json:"latency_ms"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	FlashEvent  *FlashEvent    `json:"flash_event,omitempty"`
	FinalEvent  *FinalEvent    `json:"final_event,omitempty"`
}

// TraceEntry is the per-packet provenance record written to trace.json.
type TraceEntry struct {
	PacketID       string      `json:"packet_id"`
	Local          Candidate   `json:"local"`
	FlashDecision  *Decision   `json:"flash_decision,omitempty"`
	ProDecision    *Decision   `json:"pro_decision,omitempty"`
	FinalEventID   string      `json:"final_event_id,omitempty"`
	DroppedReason  string      `json:"dropped_reason,omitempty"`
}

// TraceSummary aggregates per-run counts, written alongside the entries.
type TraceSummary struct {
	PacketsTotal     int `json:"packets_total"`
	FinalEvents      int `json:"final_events"`
	DroppedPackets   int `json:"dropped_packets"`
	ProFinalEvents   int `json:"pro_final_events"`
	FlashOnlyEvents  int `json:"flash_only_events"`
}

// Trace is the full contents of trace.json.
type Trace struct {
	RunID   string       `json:"run_id"`
	Entries []TraceEntry `json:"entries"`
	Summary TraceSummary `json:"summary"`
}

// RunState is the top-level lifecycle state of a run.
type RunState string

const (
	RunPending         RunState = "PENDING"
	RunRunning         RunState = "RUNNING"
	RunReadyForReview  RunState = "READY_FOR_REVIEW"
	RunExported        RunState = "EXPORTED"
	RunFailed          RunState = "FAILED"
)

// Stage is the current pipeline stage within a running run.
type Stage string

const (
	StageIngest          Stage = "INGEST"
	StageLocalProposals   Stage = "LOCAL_PROPOSALS"
	StageGeminiFlash      Stage = "GEMINI_FLASH"
	StageGeminiPro        Stage = "GEMINI_PRO"
	StagePostprocess      Stage = "POSTPROCESS"
	StageReadyForReview   Stage = "READY_FOR_REVIEW"
	StageExport           Stage = "EXPORT"
)

// RunStatus is the mutable status.json contract for a single run.
type RunStatus struct {
	RunID        string           `json:"run_id"`
	State        RunState         `json:"state"`
	Stage        Stage            `json:"stage"`
	ProgressPct  int              `json:"progress_pct"`
	StageMessage string           `json:"stage_message,omitempty"`
	FailedStage  Stage            `json:"failed_stage,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	TimingsMs    map[string]int64 `json:"timings_ms,omitempty"`
	Metrics      map[string]int64 `json:"metrics,omitempty"`
}

// RunRecord is the unit RunStore persists: identity plus current status.
type RunRecord struct {
	RunID          string     `json:"run_id"`
	VideoPath      string     `json:"video_path"`
	ROIConfigPath  string     `json:"roi_config_path"`
	PerfConfigPath string     `json:"perf_config_path,omitempty"`
	Source         string     `json:"source,omitempty"`
	Category       string     `json:"category,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Status         RunStatus  `json:"status"`
}

// FrameMeta describes a single sampled frame.
type FrameMeta struct {
	FrameIdx  int     `json:"frame_idx"`
	SampleIdx int     `json:"sample_idx"`
	TsSec     float64 `json:"ts_sec"`
	Path      string  `json:"path"`
	Height    int     `json:"height"`
	Width     int     `json:"width"`
	Resized   bool    `json:"resized,omitempty"`
}

// Manifest is the frames_manifest.json contract.
type Manifest struct {
	VideoPath    string      `json:"video_path"`
	SourceFPS    float64     `json:"source_fps"`
	AnalysisFPS  int         `json:"analysis_fps"`
	DurationSec  float64     `json:"duration_sec"`
	FrameCount   int         `json:"frame_count"`
	SampleCount  int         `json:"sample_count"`
	Frames       []FrameMeta `json:"frames"`
}

// ROIConfig holds the normalised polygons used by the proposal engine.
type ROIConfig struct {
	SignalROIPolygon       [][2]float64 `json:"signal_roi_polygon"`
	WrongSideLanePolygon   [][2]float64 `json:"wrong_side_lane_polygon"`
	StopLinePolygon        [][2]float64 `json:"stop_line_polygon"`
	ExpectedDirectionVector [2]float64  `json:"expected_direction_vector"`
}
