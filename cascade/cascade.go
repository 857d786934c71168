// Package cascade drives the two-tier bounded-concurrency model cascade:
// a Flash validation pass over admitted candidates, followed by a Pro
// escalation pass over the subset Flash leaves uncertain. Worker-pool
// shape (bounded semaphore, single collector owning mutable routing
// state) is grounded on the runtime fan-out operator this project's
// recursive job scheduler uses; here the fan-out is a fixed two-pass
// schedule rather than a recursive queue.
package cascade

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/cascadewatch/log"
	"github.com/justapithecus/cascadewatch/metrics"
	"github.com/justapithecus/cascadewatch/model"
	"github.com/justapithecus/cascadewatch/types"
)

const (
	reasonBelowFlashThreshold = "local_score_below_flash_threshold"
	reasonFlashKLimit         = "flash_k_limit"
	reasonFlashNotRelevant    = "flash_not_relevant"
	reasonFlashConfidentNoPro = "flash_confident_no_pro"
	reasonProKLimit           = "pro_k_limit"
)

// ProgressFunc reports cascade progress; pct is clamped to [55,79] by the
// caller (the orchestrator), not here.
type ProgressFunc func(stage types.Stage, pct int, message string)

// Result is everything the cascade produces for one run.
type Result struct {
	Packets        []types.Candidate
	FlashEvents    []types.FlashEvent
	ProEvents      []types.FinalEvent // raw (unblended) Pro responses, shaped as FinalEvent for Merger to blend
	FlashDecisions []types.Decision
	ProDecisions   []types.Decision
	FlashElapsed   time.Duration
	ProElapsed     time.Duration
	Metrics        metrics.Snapshot
}

// Analyze drives the Flash and Pro tiers over candidates in order.
// collector may be nil, in which case Analyze creates one scoped to this
// call; pass a shared collector when a caller (e.g. the analytics sink)
// needs to observe the same counters Analyze publishes in Result.Metrics.
func Analyze(ctx context.Context, runID, videoPath string, candidates []types.Candidate, client model.ModelClient, cfg Config, logger *log.Logger, progress ProgressFunc, collector *metrics.Collector) (*Result, error) {
	if collector == nil {
		collector = metrics.NewCollector(runID, cfg.FlashConcurrency, cfg.ProConcurrency)
	}
	collector.IncPacketsTotal(int64(len(candidates)))

	packets := make([]types.Candidate, len(candidates))
	copy(packets, candidates)

	fallbackMode := false
	var mediaRef model.MediaRef
	if client != nil && len(packets) > 0 {
		ref, err := client.UploadMedia(ctx, videoPath)
		if err != nil {
			logger.Error("stage_failed", map[string]any{
				"error_code":   "GEMINI_UPLOAD_ERROR",
				"error_detail": err.Error(),
			})
			fallbackMode = true
		} else {
			mediaRef = ref
		}
	} else {
		fallbackMode = true
	}

	flashStart := time.Now()
	progress(types.StageGeminiFlash, 55, "initializing flash validation")
	selected, unselected := selectFlashTier(packets, cfg)
	for range unselected {
		collector.IncPacketsDropped()
	}
	collector.AddPacketsSentFlash(int64(len(selected)))

	flashDecisions, flashEvents := runFlashTier(ctx, client, mediaRef, selected, fallbackMode, cfg, logger, collector)
	flashElapsed := time.Since(flashStart)
	progress(types.StageGeminiFlash, 69, "flash validation complete")

	applyFlashRouting(packets, flashEvents, cfg)

	proStart := time.Now()
	progress(types.StageGeminiPro, 70, "initializing pro escalation")
	proQueue := selectProTier(packets, flashEvents, cfg)
	collector.SetProQueued(int64(len(proQueue)))

	proDecisions, proEvents := runProTier(ctx, client, mediaRef, proQueue, flashEvents, fallbackMode, cfg, logger, collector)
	proElapsed := time.Since(proStart)
	progress(types.StageGeminiPro, 79, "pro escalation complete")

	applyProRouting(packets, proQueue)
	finalizeMetrics(collector, flashEvents, proDecisions)

	return &Result{
		Packets:        packets,
		FlashEvents:    flashEvents,
		ProEvents:      proEvents,
		FlashDecisions: flashDecisions,
		ProDecisions:   proDecisions,
		FlashElapsed:   flashElapsed,
		ProElapsed:     proElapsed,
		Metrics:        collector.Snapshot(),
	}, nil
}

// --- Flash tier admission ---

type orderedCandidate struct {
	types.Candidate
	orderIdx int
}

// selectFlashTier implements diversity-seed then score-fill admission.
func selectFlashTier(packets []types.Candidate, cfg Config) (selected []orderedCandidate, unselected []types.Candidate) {
	eligible := make([]types.Candidate, 0, len(packets))
	ineligible := make([]types.Candidate, 0)
	for _, p := range packets {
		if p.Score >= cfg.FlashMinLocalScore {
			eligible = append(eligible, p)
		} else {
			ineligible = append(ineligible, p)
		}
	}
	if len(eligible) == 0 && len(packets) > 0 {
		// Keep the single top packet regardless of threshold.
		top := packets[0]
		for _, p := range packets {
			if p.Score > top.Score {
				top = p
			}
		}
		eligible = append(eligible, top)
		filtered := ineligible[:0]
		for _, p := range ineligible {
			if p.PacketID != top.PacketID {
				filtered = append(filtered, p)
			}
		}
		ineligible = filtered
	}

	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].Score > eligible[j].Score })

	takenSet := make(map[string]bool)
	var diversity []types.Candidate
	seenTypes := make(map[types.EventType]bool)
	for _, p := range eligible {
		if len(diversity) >= cfg.FlashMaxCandidates {
			break
		}
		if seenTypes[p.EventType] {
			continue
		}
		seenTypes[p.EventType] = true
		diversity = append(diversity, p)
		takenSet[p.PacketID] = true
	}

	result := append([]types.Candidate{}, diversity...)
	for _, p := range eligible {
		if len(result) >= cfg.FlashMaxCandidates {
			break
		}
		if takenSet[p.PacketID] {
			continue
		}
		result = append(result, p)
		takenSet[p.PacketID] = true
	}

	for _, p := range eligible {
		if !takenSet[p.PacketID] {
			unselected = append(unselected, withReason(p, reasonFlashKLimit))
		}
	}
	for _, p := range ineligible {
		unselected = append(unselected, withReason(p, reasonBelowFlashThreshold))
	}

	selected = make([]orderedCandidate, len(result))
	for i, p := range result {
		selected[i] = orderedCandidate{Candidate: p, orderIdx: i}
	}
	return selected, unselected
}

func withReason(c types.Candidate, reason string) types.Candidate {
	c.Routing.AddReason(reason)
	return c
}

// --- Flash tier execution ---

func runFlashTier(ctx context.Context, client model.ModelClient, media model.MediaRef, selected []orderedCandidate, fallbackMode bool, cfg Config, logger *log.Logger, collector *metrics.Collector) ([]types.Decision, []types.FlashEvent) {
	decisions := make([]types.Decision, len(selected))
	events := make([]types.FlashEvent, len(selected))

	sem := make(chan struct{}, maxInt(cfg.FlashConcurrency, 1))
	var wg sync.WaitGroup
	for i, oc := range selected {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, oc orderedCandidate) {
			defer wg.Done()
			defer func() { <-sem }()
			decision, event := invokeFlash(ctx, client, media, oc.Candidate, fallbackMode, cfg, logger)
			decisions[i] = decision
			events[i] = event
			collector.IncFlashDone(decision.Status == types.DecisionOK)
			if event.IsRelevant {
				collector.IncFlashRelevant()
			}
			if event.Uncertain {
				collector.IncFlashUncertain()
			}
		}(i, oc)
	}
	wg.Wait()
	return decisions, events
}

func invokeFlash(ctx context.Context, client model.ModelClient, media model.MediaRef, cand types.Candidate, fallbackMode bool, cfg Config, logger *log.Logger) (types.Decision, types.FlashEvent) {
	start := time.Now()
	if !fallbackMode && client != nil {
		req := model.GenerateRequest{
			Model: "flash", Media: media, PacketID: cand.PacketID, CandidateID: cand.CandidateID,
			StartS: cand.StartS, EndS: cand.EndS, FPS: 2, Schema: "flash",
			Prompt: "Validate the traffic violation candidate; if evidence is weak set is_relevant=false.",
		}
		resp, err := callWithRetry(ctx, cfg.FlashTimeout, cfg.RetryAttempts, func(callCtx context.Context) (model.GenerateResponse, error) {
			return client.Generate(callCtx, req)
		}, logger, "GEMINI_FLASH", cand.CandidateID)
		if err == nil {
			if event, ok := parseFlashEvent(resp, cand); ok {
				event = postProcessFlash(event, cfg)
				latency := time.Since(start)
				return types.Decision{
					PacketID: cand.PacketID, Model: "flash", StartS: cand.StartS, EndS: cand.EndS,
					Status: types.DecisionOK, LatencyMs: latency.Milliseconds(), FlashEvent: &event,
				}, event
			}
			logger.Warn("flash_schema_validation_failed", map[string]any{"candidate_id": cand.CandidateID})
		} else {
			logger.Error("gemini_retry_exhausted", map[string]any{"candidate_id": cand.CandidateID, "error_detail": err.Error()})
		}
	}

	event := deterministicFlashFallback(cand)
	latency := time.Since(start)
	return types.Decision{
		PacketID: cand.PacketID, Model: "flash", StartS: cand.StartS, EndS: cand.EndS,
		Status: types.DecisionFallback, LatencyMs: latency.Milliseconds(), FlashEvent: &event,
	}, event
}

func parseFlashEvent(resp model.GenerateResponse, cand types.Candidate) (types.FlashEvent, bool) {
	pid, _ := resp.Raw["packet_id"].(string)
	if pid == "" {
		pid, _ = resp.Raw["candidate_id"].(string)
	}
	if pid != "" && pid != cand.PacketID && pid != cand.CandidateID {
		return types.FlashEvent{}, false
	}
	isRelevant, _ := resp.Raw["is_relevant"].(bool)
	confidence, _ := resp.Raw["confidence"].(float64)
	plateVisible, _ := resp.Raw["plate_visible"].(bool)
	desc, _ := resp.Raw["violator_description"].(string)
	needsPro, _ := resp.Raw["needs_pro"].(bool)
	uncertain, _ := resp.Raw["uncertain"].(bool)
	return types.FlashEvent{
		PacketID: cand.PacketID, CandidateID: cand.CandidateID,
		IsRelevant: isRelevant, EventType: cand.EventType, Confidence: confidence,
		StartTime: cand.StartS, EndTime: cand.EndS, PlateVisible: plateVisible,
		ViolatorDescription: desc, NeedsPro: needsPro, Uncertain: uncertain,
	}, true
}

// postProcessFlash applies the confidence-band uncertainty rule: a
// relevant verdict is marked uncertain (and routed to Pro) if the model
// said so explicitly, or if confidence falls inside the configured band.
func postProcessFlash(event types.FlashEvent, cfg Config) types.FlashEvent {
	if !event.IsRelevant {
		return event
	}
	inBand := event.Confidence >= cfg.ProUncertainConfLow && event.Confidence < cfg.ProUncertainConfHigh
	if event.Uncertain || inBand {
		event.Uncertain = true
		event.NeedsPro = true
		if event.UncertaintyReason == "" {
			event.UncertaintyReason = "Confidence within escalation band"
		}
	}
	return event
}

func deterministicFlashFallback(cand types.Candidate) types.FlashEvent {
	isRelevant := cand.Score >= 0.55
	confidence := clamp(cand.Score, 0.2, 0.95)
	return types.FlashEvent{
		PacketID: cand.PacketID, CandidateID: cand.CandidateID,
		IsRelevant: isRelevant, EventType: cand.EventType, Confidence: round3(confidence),
		StartTime: cand.StartS, EndTime: cand.EndS, PlateVisible: false,
		ViolatorDescription: "Vehicle detected in candidate window",
		Uncertain:           confidence < 0.82,
		NeedsPro:            confidence < 0.82 && isRelevant,
	}
}

func applyFlashRouting(packets []types.Candidate, flashEvents []types.FlashEvent, cfg Config) {
	byID := make(map[string]types.FlashEvent, len(flashEvents))
	for _, e := range flashEvents {
		byID[e.PacketID] = e
	}
	for i := range packets {
		if _, ok := byID[packets[i].PacketID]; ok {
			packets[i].Routing.SentToFlash = true
		}
	}
}

// --- Pro tier selection ---

type proQueueEntry struct {
	candidate types.Candidate
	flash     types.FlashEvent
	fallback  bool
	queueIdx  int
	priority  float64
}

// isProEligible gates Pro escalation. The primary rule is the confidence-
// band + uncertain-only rule applied in postProcessFlash (event.Uncertain
// or event.NeedsPro). When cfg.LegacyRouting is set, the superseded
// signals from the reference client's escalation check are OR'd in as
// additional routing hints: confidence >= 0.65, or a reckless-driving
// event type.
func isProEligible(event types.FlashEvent, cand types.Candidate, cfg Config) bool {
	if event.Uncertain || event.NeedsPro {
		return true
	}
	if !cfg.LegacyRouting {
		return false
	}
	return event.Confidence >= 0.65 || cand.EventType == types.EventReckless
}

func selectProTier(packets []types.Candidate, flashEvents []types.FlashEvent, cfg Config) []proQueueEntry {
	flashByID := make(map[string]types.FlashEvent, len(flashEvents))
	for _, e := range flashEvents {
		flashByID[e.PacketID] = e
	}

	var eligible []proQueueEntry
	for i := range packets {
		event, ok := flashByID[packets[i].PacketID]
		if !ok {
			continue // never sent to Flash
		}
		if !event.IsRelevant {
			packets[i].Routing.AddReason(reasonFlashNotRelevant)
			continue
		}
		if !isProEligible(event, packets[i], cfg) {
			packets[i].Routing.AddReason(reasonFlashConfidentNoPro)
			continue
		}
		priority := (1 - event.Confidence) + 0.5*packets[i].Score
		if event.PlateVisible {
			priority += 0.1
		}
		eligible = append(eligible, proQueueEntry{candidate: packets[i], flash: event, priority: priority})
	}

	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].priority > eligible[j].priority })

	var queue []proQueueEntry
	for i := range eligible {
		if i < cfg.ProMaxCandidates {
			eligible[i].queueIdx = len(queue)
			queue = append(queue, eligible[i])
		} else {
			markReason(packets, eligible[i].candidate.PacketID, reasonProKLimit)
		}
	}
	return queue
}

func markReason(packets []types.Candidate, packetID, reason string) {
	for i := range packets {
		if packets[i].PacketID == packetID {
			packets[i].Routing.AddReason(reason)
			return
		}
	}
}

// --- Pro tier execution ---

func runProTier(ctx context.Context, client model.ModelClient, media model.MediaRef, queue []proQueueEntry, flashEvents []types.FlashEvent, fallbackMode bool, cfg Config, logger *log.Logger, collector *metrics.Collector) ([]types.Decision, []types.FinalEvent) {
	decisions := make([]types.Decision, len(queue))
	events := make([]types.FinalEvent, len(queue))

	sem := make(chan struct{}, maxInt(cfg.ProConcurrency, 1))
	var wg sync.WaitGroup
	for i, entry := range queue {
		wg.Add(1)
		sem <- struct{}{}
		collector.IncPacketsSentPro()
		go func(i int, entry proQueueEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			decision, event := invokePro(ctx, client, media, entry, fallbackMode, cfg, logger)
			decisions[i] = decision
			events[i] = event
			collector.IncProDone(decision.Status == types.DecisionOK)
		}(i, entry)
	}
	wg.Wait()
	return decisions, events
}

func invokePro(ctx context.Context, client model.ModelClient, media model.MediaRef, entry proQueueEntry, fallbackMode bool, cfg Config, logger *log.Logger) (types.Decision, types.FinalEvent) {
	cand := entry.candidate
	flash := entry.flash
	start := time.Now()

	fps := 2
	if cand.EventType == types.EventReckless {
		fps = 4
	}

	if !fallbackMode && client != nil {
		req := model.GenerateRequest{
			Model: "pro", Media: media, PacketID: cand.PacketID, CandidateID: cand.CandidateID,
			StartS: cand.StartS, EndS: cand.EndS, FPS: fps, Schema: "pro",
			Prompt: "Produce an evidence-only traffic violation record; if uncertain, set uncertain true with reason.",
		}
		resp, err := callWithRetry(ctx, cfg.ProTimeout, cfg.RetryAttempts, func(callCtx context.Context) (model.GenerateResponse, error) {
			return client.Generate(callCtx, req)
		}, logger, "GEMINI_PRO", cand.CandidateID)
		if err == nil {
			if event, ok := parseProEvent(resp, cand); ok {
				latency := time.Since(start)
				return types.Decision{
					PacketID: cand.PacketID, Model: "pro", StartS: cand.StartS, EndS: cand.EndS,
					Status: types.DecisionOK, LatencyMs: latency.Milliseconds(), FinalEvent: &event,
				}, event
			}
			logger.Warn("pro_schema_validation_failed", map[string]any{"candidate_id": cand.CandidateID})
		} else {
			logger.Error("gemini_retry_exhausted", map[string]any{"candidate_id": cand.CandidateID, "error_detail": err.Error()})
		}
	}

	event := deterministicProFallback(cand, flash)
	latency := time.Since(start)
	return types.Decision{
		PacketID: cand.PacketID, Model: "pro", StartS: cand.StartS, EndS: cand.EndS,
		Status: types.DecisionFallback, LatencyMs: latency.Milliseconds(), FinalEvent: &event,
	}, event
}

// parseProEvent shapes a raw Pro response into a FinalEvent carrying
// unblended confidence/risk_score; Merger recomputes both from the local
// candidate score per its blend formulas.
func parseProEvent(resp model.GenerateResponse, cand types.Candidate) (types.FinalEvent, bool) {
	pid, _ := resp.Raw["packet_id"].(string)
	if pid == "" {
		pid, _ = resp.Raw["candidate_id"].(string)
	}
	if pid != "" && pid != cand.PacketID && pid != cand.CandidateID {
		return types.FinalEvent{}, false
	}
	confidence, _ := resp.Raw["confidence"].(float64)
	riskGemini, _ := resp.Raw["risk_score_gemini"].(float64)
	desc, _ := resp.Raw["explanation_short"].(string)
	uncertain, _ := resp.Raw["uncertain"].(bool)
	reason, _ := resp.Raw["uncertainty_reason"].(string)
	return types.FinalEvent{
		PacketID: cand.PacketID, SourceStage: types.SourceProFinal, EventType: cand.EventType,
		StartTime: cand.StartS, EndTime: cand.EndS, Confidence: confidence, RiskScore: riskGemini,
		ExplanationShort: desc, Uncertain: uncertain, UncertaintyReason: reason,
	}, true
}

func deterministicProFallback(cand types.Candidate, flash types.FlashEvent) types.FinalEvent {
	return types.FinalEvent{
		EventID: fmt.Sprintf("evt_fallback_%s", cand.PacketID), PacketID: cand.PacketID,
		SourceStage: types.SourceProFinal, EventType: flash.EventType,
		StartTime: flash.StartTime, EndTime: flash.EndTime, Confidence: flash.Confidence,
		RiskScore: round3(cand.Score * 100), ExplanationShort: "Potential violation detected in candidate window. Manual review required.",
		Uncertain: true, UncertaintyReason: "Fallback path used due to unavailable or failed Pro inference.",
	}
}

func applyProRouting(packets []types.Candidate, queue []proQueueEntry) {
	for _, entry := range queue {
		for i := range packets {
			if packets[i].PacketID == entry.candidate.PacketID {
				packets[i].Routing.SentToPro = true
			}
		}
	}
}

// finalizeMetrics classifies every Flash-tier packet as finalized or
// dropped, mirroring merge.Merge's own per-packet switch so the published
// counters agree with what actually lands in events_final.json: a packet
// with a Pro decision (success or fallback, both carry a FinalEvent) is
// finalized via the Pro path; a relevant Flash verdict with no Pro
// decision — whether it never needed Pro or was cut off by
// pro_k_limit — is finalized via the Flash-only path; anything else
// (flash_not_relevant) is dropped.
func finalizeMetrics(collector *metrics.Collector, flashEvents []types.FlashEvent, proDecisions []types.Decision) {
	hasPro := make(map[string]bool, len(proDecisions))
	for _, d := range proDecisions {
		if d.FinalEvent != nil {
			hasPro[d.PacketID] = true
		}
	}
	for _, e := range flashEvents {
		switch {
		case hasPro[e.PacketID]:
			collector.IncPacketsFinalized()
		case e.IsRelevant:
			collector.IncPacketsFinalized()
		default:
			collector.IncPacketsDropped()
		}
	}
}

// --- retry/backoff ---

// callWithRetry attempts fn up to 1+retryAttempts times, each under its
// own per-attempt timeout. Backoff between attempts is 2^attempt seconds;
// the deadline is never extended by backoff.
func callWithRetry(ctx context.Context, timeout time.Duration, retryAttempts int, fn func(context.Context) (model.GenerateResponse, error), logger *log.Logger, stage, candidateID string) (model.GenerateResponse, error) {
	attempts := 1 + retryAttempts
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return model.GenerateResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := fn(callCtx)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		logger.Error("gemini_retry", map[string]any{
			"stage": stage, "candidate_id": candidateID, "retry_count": attempt + 1, "error_detail": err.Error(),
		})
		if statusErr, ok := err.(*model.StatusError); ok && !statusErr.Retriable() {
			return model.GenerateResponse{}, fmt.Errorf("non-retriable model error: %w", err)
		}
	}
	return model.GenerateResponse{}, lastErr
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
