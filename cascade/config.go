package cascade

import "time"

// Config controls cascade admission, concurrency, timeouts, and routing.
type Config struct {
	FlashMaxCandidates int
	ProMaxCandidates   int
	FlashConcurrency   int
	ProConcurrency     int
	FlashTimeout       time.Duration
	ProTimeout         time.Duration
	RetryAttempts      int // additional attempts beyond the first

	FlashMinLocalScore   float64
	ProUncertainConfLow  float64
	ProUncertainConfHigh float64

	UploadPollAttempts int
	UploadPollInterval time.Duration

	// LegacyRouting adds a looser escalation check alongside the
	// confidence-band rule: a Flash confidence of at least 0.65, or a
	// RECKLESS_DRIVING event type, also routes to Pro. Off by default: spec.md's
	// conservative rule is confidence-band + uncertain-only.
	LegacyRouting bool
}

// DefaultPerfConfig mirrors the reference project's conservative perf
// defaults (see original perf configuration): flash/pro caps 6/3,
// concurrency 4/2, timeouts 30s/45s, one retry.
func DefaultPerfConfig() Config {
	return Config{
		FlashMaxCandidates:   6,
		ProMaxCandidates:     3,
		FlashConcurrency:     4,
		ProConcurrency:       2,
		FlashTimeout:         30 * time.Second,
		ProTimeout:           45 * time.Second,
		RetryAttempts:        1,
		FlashMinLocalScore:   0.5,
		ProUncertainConfLow:  0.4,
		ProUncertainConfHigh: 0.65,
		UploadPollAttempts:   30,
		UploadPollInterval:   time.Second,
		LegacyRouting:        false,
	}
}
