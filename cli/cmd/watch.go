package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/cascadewatch/cli/tui"
	"github.com/justapithecus/cascadewatch/store"
)

// WatchCommand returns the watch command: a live TUI view of a run's
// stage/progress transitions, fed by RunStore.Subscribe rather than
// polling.
func WatchCommand(st *store.RunStore) *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Watch a run's progress live",
		ArgsUsage: "<run-id>",
		Action:    watchAction(st),
	}
}

func watchAction(st *store.RunStore) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.Exit("run-id required", 1)
		}
		runID := c.Args().First()

		if !st.Exists(runID) {
			return cli.Exit("unknown run: "+runID, 1)
		}

		updates := st.Subscribe(runID)
		return tui.RunWatch(runID, updates)
	}
}
