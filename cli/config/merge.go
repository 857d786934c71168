package config

import (
	"time"

	"github.com/justapithecus/cascadewatch/cascade"
	"github.com/justapithecus/cascadewatch/ingest"
)

// ApplyIngest overlays non-zero perf knobs onto base, returning the
// merged ingest.Config. Config-file/flag values win; anything left at
// its zero value keeps the package default.
func (p PerfConfig) ApplyIngest(base ingest.Config) ingest.Config {
	if p.AnalysisFPSShort != 0 {
		base.FPSShort = p.AnalysisFPSShort
	}
	if p.AnalysisFPSLong != 0 {
		base.FPSLong = p.AnalysisFPSLong
	}
	if p.LongVideoThresholdSec != 0 {
		base.LongVideoThresholdSec = p.LongVideoThresholdSec
	}
	if p.LocalDownscaleLongEdge != 0 {
		base.DownscaleLongEdge = p.LocalDownscaleLongEdge
	}
	return base
}

// ApplyCascade overlays non-zero perf knobs onto base, returning the
// merged cascade.Config.
func (p PerfConfig) ApplyCascade(base cascade.Config) cascade.Config {
	if p.GeminiFlashMaxCandidates != 0 {
		base.FlashMaxCandidates = p.GeminiFlashMaxCandidates
	}
	if p.GeminiProMaxCandidates != 0 {
		base.ProMaxCandidates = p.GeminiProMaxCandidates
	}
	if p.GeminiFlashConcurrency != 0 {
		base.FlashConcurrency = p.GeminiFlashConcurrency
	}
	if p.GeminiProConcurrency != 0 {
		base.ProConcurrency = p.GeminiProConcurrency
	}
	if p.GeminiFlashTimeoutSec != 0 {
		base.FlashTimeout = time.Duration(p.GeminiFlashTimeoutSec) * time.Second
	}
	if p.GeminiProTimeoutSec != 0 {
		base.ProTimeout = time.Duration(p.GeminiProTimeoutSec) * time.Second
	}
	if p.GeminiRetryAttempts != 0 {
		base.RetryAttempts = p.GeminiRetryAttempts
	}
	if p.FlashMinLocalScore != 0 {
		base.FlashMinLocalScore = p.FlashMinLocalScore
	}
	if p.ProUncertainConfLow != 0 {
		base.ProUncertainConfLow = p.ProUncertainConfLow
	}
	if p.ProUncertainConfHigh != 0 {
		base.ProUncertainConfHigh = p.ProUncertainConfHigh
	}
	return base
}
