// Package cmd provides CLI commands for the cascadewatch binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag is accepted by the read-only commands so that they can reject
	// it with an explicit error; the interactive view is the watch command.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Interactive TUI mode (not supported here; use the watch command)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// TUIReadOnlyFlags returns the read-only flags including --tui.
// This is an alias for ReadOnlyFlags, kept for documentation clarity.
func TUIReadOnlyFlags() []cli.Flag {
	return ReadOnlyFlags()
}
