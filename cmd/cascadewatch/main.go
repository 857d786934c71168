// Package main provides the cascadewatch CLI entrypoint.
//
// The CLI is the only execution entrypoint for the cascade pipeline.
// All commands except `run` are read-only.
//
// Usage:
//
//	cascadewatch <command> [subcommand] [options]
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/cascadewatch/cli/cmd"
	"github.com/justapithecus/cascadewatch/store"
	"github.com/justapithecus/cascadewatch/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	runsDir := os.Getenv("CASCADEWATCH_RUNS_DIR")
	if runsDir == "" {
		runsDir = "./runs"
	}

	st, err := store.NewRunStore(runsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cascadewatch: open run store at %q: %v\n", runsDir, err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:           "cascadewatch",
		Usage:          "Traffic-violation video cascade orchestrator",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(st, runsDir),
			cmd.ListCommand(st),
			cmd.InspectCommand(st),
			cmd.StatsCommand(st),
			cmd.WatchCommand(st),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes set via
// cli.Exit() so the run command's exit codes propagate to the shell.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; skip printing those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
