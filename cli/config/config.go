package config

import (
	"fmt"
	"time"
)

// Config represents a cascadewatch.yaml configuration file. All values
// are optional and act as defaults for cascadewatch run flags. CLI flags
// always override config values.
type Config struct {
	Source        string          `yaml:"source"`
	Category      string          `yaml:"category"`
	ROIConfigPath string          `yaml:"roi_config_path"`
	Perf          PerfConfig      `yaml:"perf"`
	Analytics     AnalyticsConfig `yaml:"analytics"`
	Notify        []NotifyConfig  `yaml:"notify"`
}

// PerfConfig holds the pipeline's perf-tuning knobs, loaded from
// cascadewatch.yaml's perf_config.json-equivalent section. Zero-valued
// fields are filled from the package defaults by the run command before
// the pipeline starts.
type PerfConfig struct {
	PipelineMode string `yaml:"pipeline_mode"`

	AnalysisFPSShort      int     `yaml:"analysis_fps_short"`
	AnalysisFPSLong       int     `yaml:"analysis_fps_long"`
	LongVideoThresholdSec float64 `yaml:"long_video_threshold_sec"`
	LocalDownscaleLongEdge int    `yaml:"local_downscale_long_edge"`

	GeminiFlashMaxCandidates int `yaml:"gemini_flash_max_candidates"`
	GeminiProMaxCandidates   int `yaml:"gemini_pro_max_candidates"`
	GeminiFlashConcurrency   int `yaml:"gemini_flash_concurrency"`
	GeminiProConcurrency     int `yaml:"gemini_pro_concurrency"`
	GeminiFlashTimeoutSec    int `yaml:"gemini_flash_timeout_sec"`
	GeminiProTimeoutSec      int `yaml:"gemini_pro_timeout_sec"`
	GeminiRetryAttempts      int `yaml:"gemini_retry_attempts"`

	FlashMinLocalScore   float64 `yaml:"flash_min_local_score"`
	ProUncertainConfLow  float64 `yaml:"pro_uncertain_conf_low"`
	ProUncertainConfHigh float64 `yaml:"pro_uncertain_conf_high"`
}

// AnalyticsConfig holds analytics-sink defaults from the config file.
// Backend is "fs" or "s3"; Path is a filesystem root for "fs" and a
// bucket/prefix for "s3" (where Region/Endpoint/S3PathStyle also apply).
type AnalyticsConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// NotifyConfig is one run-completion notification target, either a
// webhook or a Redis pub/sub channel.
type NotifyConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
