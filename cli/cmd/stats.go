package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/cascadewatch/cli/render"
	"github.com/justapithecus/cascadewatch/store"
)

// RunStats is the stats command's response: the counters and stage
// timings accumulated for one run, independent of its full status.
type RunStats struct {
	RunID       string           `json:"run_id"`
	State       string           `json:"state"`
	Stage       string           `json:"stage"`
	ProgressPct int              `json:"progress_pct"`
	TimingsMs   map[string]int64 `json:"timings_ms"`
	Metrics     map[string]int64 `json:"metrics"`
}

// StatsCommand returns the stats command with subcommands.
func StatsCommand(st *store.RunStore) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show run metrics and stage timings",
		Subcommands: []*cli.Command{
			statsRunCommand(st),
		},
	}
}

func statsRunCommand(st *store.RunStore) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Show metrics for a run by ID",
		ArgsUsage: "<run-id>",
		Flags:     ReadOnlyFlags(),
		Action:    statsRunAction(st),
	}
}

func statsRunAction(st *store.RunStore) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.Exit("run-id required", 1)
		}
		runID := c.Args().First()

		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for stats; use the watch command", 1)
		}

		record, err := st.Get(runID)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}

		resp := RunStats{
			RunID:       record.RunID,
			State:       string(record.Status.State),
			Stage:       string(record.Status.Stage),
			ProgressPct: record.Status.ProgressPct,
			TimingsMs:   record.Status.TimingsMs,
			Metrics:     record.Status.Metrics,
		}
		return r.Render(resp)
	}
}
