package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/cascadewatch/analytics"
	"github.com/justapithecus/cascadewatch/cascade"
	cwconfig "github.com/justapithecus/cascadewatch/cli/config"
	"github.com/justapithecus/cascadewatch/cli/render"
	"github.com/justapithecus/cascadewatch/ingest"
	"github.com/justapithecus/cascadewatch/metrics"
	"github.com/justapithecus/cascadewatch/model"
	"github.com/justapithecus/cascadewatch/notify"
	"github.com/justapithecus/cascadewatch/notify/redisnotify"
	"github.com/justapithecus/cascadewatch/notify/webhooknotify"
	"github.com/justapithecus/cascadewatch/orchestrate"
	"github.com/justapithecus/cascadewatch/proposal"
	"github.com/justapithecus/cascadewatch/store"
	"github.com/justapithecus/cascadewatch/types"
)

// Exit codes for the run command.
const (
	exitSuccess     = 0
	exitRunFailed   = 1
	exitConfigError = 2
)

// RunCommand returns the run command: the only command that executes a
// cascade pipeline end to end.
func RunCommand(st *store.RunStore, runsDir string) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Analyze a video through the cascade pipeline",
		UsageText: `cascadewatch run --video <path> --source <name> [options]

EXAMPLES:
  # Run against local filesystem storage and no analytics/notify export
  cascadewatch run --video ./clip.mp4 --source cam-7 --category intersection

  # Run with a config file supplying perf/analytics/notify defaults
  cascadewatch run --video ./clip.mp4 --source cam-7 --config cascadewatch.yaml

  # Run with S3-backed analytics export
  cascadewatch run --video ./clip.mp4 --source cam-7 \
    --analytics-backend s3 --analytics-path my-bucket/prefix --analytics-region us-east-1`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to cascadewatch.yaml config file"},
			&cli.StringFlag{Name: "video", Usage: "Path to the source video file", Required: true},
			&cli.StringFlag{Name: "roi-config", Usage: "Path to the ROI config JSON file"},
			&cli.StringFlag{Name: "source", Usage: "Source camera/feed identifier"},
			&cli.StringFlag{Name: "category", Usage: "Category identifier for partitioning (default \"default\")"},
			&cli.StringFlag{Name: "model-endpoint", Usage: "HTTP endpoint for the validation model"},
			&cli.StringFlag{Name: "analytics-backend", Usage: "Analytics backend: fs or s3 (empty disables analytics export)"},
			&cli.StringFlag{Name: "analytics-path", Usage: "Analytics fs root, or s3 bucket/prefix"},
			&cli.StringFlag{Name: "analytics-region", Usage: "Analytics S3 region"},
			&cli.StringFlag{Name: "notify-webhook-url", Usage: "Webhook URL to notify on run completion"},
			&cli.StringFlag{Name: "notify-redis-url", Usage: "Redis URL to publish run completion events to"},
			&cli.StringFlag{Name: "notify-redis-channel", Usage: "Redis channel for run completion events", Value: "cascadewatch.runs"},
			&cli.BoolFlag{Name: "quiet", Usage: "Suppress result output"},
		},
		Action: runAction(st, runsDir),
	}
}

func runAction(st *store.RunStore, runsDir string) cli.ActionFunc {
	return func(c *cli.Context) error {
		var fileCfg cwconfig.Config
		if path := c.String("config"); path != "" {
			loaded, err := cwconfig.Load(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
			}
			fileCfg = *loaded
		}

		source := firstNonEmptyFlag(c.String("source"), fileCfg.Source)
		category := firstNonEmptyFlag(c.String("category"), fileCfg.Category, "default")
		roiPath := firstNonEmptyFlag(c.String("roi-config"), fileCfg.ROIConfigPath)

		runID := store.NewRunID()
		if _, err := st.Register(runID, c.String("video"), roiPath, "", source, category); err != nil {
			return cli.Exit(fmt.Sprintf("register run: %v", err), exitConfigError)
		}

		roiCfg, err := loadROIConfig(roiPath)
		if err != nil {
			return cli.Exit(fmt.Sprintf("load ROI config: %v", err), exitConfigError)
		}

		modelEndpoint := firstNonEmptyFlag(c.String("model-endpoint"))
		modelCfg := model.DefaultConfig()
		modelCfg.Endpoint = modelEndpoint
		client := model.NewHTTPClient(modelCfg)

		cascadeCfg := fileCfg.Perf.ApplyCascade(cascade.DefaultPerfConfig())
		collector := metrics.NewCollector(runID, cascadeCfg.FlashConcurrency, cascadeCfg.ProConcurrency)

		var analyticsSink *analytics.InstrumentedSink
		if backend := firstNonEmptyFlag(c.String("analytics-backend"), fileCfg.Analytics.Backend); backend != "" {
			sink, err := buildAnalyticsSink(c, fileCfg, backend, source, category, runID, collector)
			if err != nil {
				return cli.Exit(fmt.Sprintf("analytics config: %v", err), exitConfigError)
			}
			analyticsSink = sink
		}

		notifiers, err := buildNotifiers(c, fileCfg)
		if err != nil {
			return cli.Exit(fmt.Sprintf("notify config: %v", err), exitConfigError)
		}

		deps := orchestrate.Dependencies{
			Store:   st,
			RunsDir: runsDir,
			VideoSourceFactory: func(videoPath string) ingest.VideoSource {
				return unconfiguredVideoSource{}
			},
			FrameScorer:    unconfiguredFrameScorer{},
			ModelClient:    client,
			IngestConfig:   fileCfg.Perf.ApplyIngest(ingest.DefaultConfig()),
			ProposalConfig: proposal.DefaultConfig(),
			CascadeConfig:  cascadeCfg,
			ROI:            roiCfg,
			Notifiers:      notifiers,
			Analytics:      analyticsSink,
			Metrics:        collector,
			Source:         source,
			Category:       category,
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		orch := orchestrate.New(deps)
		if err := orch.Run(ctx, runID); err != nil {
			return cli.Exit(fmt.Sprintf("run %s: %v", runID, err), exitRunFailed)
		}

		record, err := st.Get(runID)
		if err != nil {
			return cli.Exit(err.Error(), exitRunFailed)
		}
		if record.Status.State == types.RunFailed {
			if !c.Bool("quiet") {
				r, _ := render.NewRenderer(c)
				_ = r.Render(record)
			}
			return cli.Exit(fmt.Sprintf("run %s failed: %s", runID, record.Status.ErrorMessage), exitRunFailed)
		}

		if c.Bool("quiet") {
			return nil
		}
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		return r.Render(record)
	}
}

// splitBucketPrefix splits "bucket/prefix/sub" into ("bucket", "prefix/sub").
func splitBucketPrefix(bucketPath string) (bucket, prefix string) {
	for i := 0; i < len(bucketPath); i++ {
		if bucketPath[i] == '/' {
			return bucketPath[:i], bucketPath[i+1:]
		}
	}
	return bucketPath, ""
}

func firstNonEmptyFlag(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func buildAnalyticsSink(c *cli.Context, fileCfg cwconfig.Config, backend, source, category, runID string, collector *metrics.Collector) (*analytics.InstrumentedSink, error) {
	dataset := firstNonEmptyFlag(fileCfg.Analytics.Dataset, analytics.DefaultDataset)
	path := firstNonEmptyFlag(c.String("analytics-path"), fileCfg.Analytics.Path)

	var client analytics.Client
	switch backend {
	case "fs":
		fsClient, err := analytics.NewFSClient(dataset, path)
		if err != nil {
			return nil, err
		}
		client = fsClient
	case "s3":
		region := firstNonEmptyFlag(c.String("analytics-region"), fileCfg.Analytics.Region)
		bucket, prefix := splitBucketPrefix(path)
		s3Client, err := analytics.NewS3Client(context.Background(), dataset, analytics.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       region,
			Endpoint:     fileCfg.Analytics.Endpoint,
			UsePathStyle: fileCfg.Analytics.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		client = s3Client
	default:
		return nil, fmt.Errorf("unknown analytics backend %q", backend)
	}

	cfg := analytics.Config{
		Dataset:  dataset,
		Source:   source,
		Category: category,
		Day:      analytics.DeriveDay(time.Now()),
		RunID:    runID,
	}
	return analytics.NewInstrumentedSink(analytics.NewSink(cfg, client), collector), nil
}

func buildNotifiers(c *cli.Context, fileCfg cwconfig.Config) ([]notify.Adapter, error) {
	var adapters []notify.Adapter

	if url := c.String("notify-webhook-url"); url != "" {
		adapters = append(adapters, webhooknotify.New(webhooknotify.Config{URL: url}))
	}
	if addr := c.String("notify-redis-url"); addr != "" {
		adapters = append(adapters, redisnotify.New(redisnotify.Config{
			Addr:    addr,
			Channel: firstNonEmptyFlag(c.String("notify-redis-channel"), "cascadewatch.runs"),
		}))
	}
	for _, nc := range fileCfg.Notify {
		switch nc.Type {
		case "webhook":
			adapters = append(adapters, webhooknotify.New(webhooknotify.Config{URL: nc.URL, Headers: nc.Headers, Timeout: nc.Timeout.Duration}))
		case "redis":
			adapters = append(adapters, redisnotify.New(redisnotify.Config{Addr: nc.URL, Channel: nc.Channel}))
		default:
			return nil, fmt.Errorf("unknown notify type %q", nc.Type)
		}
	}
	return adapters, nil
}
