package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/cascadewatch/cli/render"
	"github.com/justapithecus/cascadewatch/store"
	"github.com/justapithecus/cascadewatch/types"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ListCommand returns the list command with subcommands.
func ListCommand(st *store.RunStore) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List entities (runs)",
		Subcommands: []*cli.Command{
			listRunsCommand(st),
		},
	}
}

func listRunsCommand(st *store.RunStore) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List runs",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "state",
				Usage: "Filter by state: PENDING, RUNNING, READY_FOR_REVIEW, EXPORTED, FAILED",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to return (0 = no limit)",
				Value: 0,
			},
		),
		Action: listRunsAction(st),
	}
}

func listRunsAction(st *store.RunStore) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for list commands", 1)
		}

		stateFilter := types.RunState(c.String("state"))
		limit := c.Int("limit")

		results := make([]*types.RunRecord, 0)
		for _, rec := range st.All() {
			if stateFilter != "" && rec.Status.State != stateFilter {
				continue
			}
			results = append(results, rec)
			if limit > 0 && len(results) >= limit {
				break
			}
		}

		if len(results) > listWarningThreshold && limit == 0 && isStderrTTY() {
			fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(results))
		}

		return r.Render(results)
	}
}
