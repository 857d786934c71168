package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/cascadewatch/cli/render"
	"github.com/justapithecus/cascadewatch/store"
)

// InspectCommand returns the inspect command with subcommands.
func InspectCommand(st *store.RunStore) *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a single run",
		Subcommands: []*cli.Command{
			inspectRunCommand(st),
		},
	}
}

func inspectRunCommand(st *store.RunStore) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Inspect a run by ID",
		ArgsUsage: "<run-id>",
		Flags:     ReadOnlyFlags(),
		Action:    inspectRunAction(st),
	}
}

func inspectRunAction(st *store.RunStore) cli.ActionFunc {
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
			return cli.Exit("--tui is not supported for inspect; use the watch command", 1)
		}

		record, err := st.Get(runID)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return r.Render(record)
	}
}
