// Package cmd provides CLI commands for the tagstream binary.
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

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for tag and monitor.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (tag, monitor only)",
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

// nodeFlags are shared by the long-running stream and serve commands.
func nodeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to tagstream.yaml (flags override file values)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
			Value: "info",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Debug display: --log-level debug plus annotated frames (serve broadcast, stream preview on --stats-addr)",
		},
		&cli.StringFlag{
			Name:  "hostname",
			Usage: "Node name stamped on envelopes and logs (default: OS hostname)",
		},
	}
}

// journalFlags configure the detection journal.
func journalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "journal-backend", Usage: "Detection journal backend: fs or s3 (empty disables)"},
		&cli.StringFlag{Name: "journal-path", Usage: "Journal location (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "journal-dataset", Usage: "Journal dataset ID", Value: "tagstream"},
		&cli.StringFlag{Name: "journal-s3-region", Usage: "AWS region for the s3 backend"},
		&cli.StringFlag{Name: "journal-s3-endpoint", Usage: "Custom S3 endpoint (MinIO, R2)"},
		&cli.BoolFlag{Name: "journal-s3-path-style", Usage: "Use path-style S3 addressing"},
		&cli.IntFlag{Name: "journal-flush-count", Usage: "Records buffered before a journal write"},
		&cli.DurationFlag{Name: "journal-flush-interval", Usage: "Maximum time between journal writes"},
	}
}

// notifyFlags configure detection notifications.
func notifyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "notify-type", Usage: "Detection notifier: webhook or redis (empty disables)"},
		&cli.StringFlag{Name: "notify-url", Usage: "Webhook URL or redis://host:port"},
		&cli.StringFlag{Name: "notify-channel", Usage: "Redis channel for detection events"},
		&cli.StringSliceFlag{Name: "notify-header", Usage: "Webhook header as Key=Value (repeatable)"},
		&cli.DurationFlag{Name: "notify-timeout", Usage: "Per-request notifier timeout"},
		&cli.IntFlag{Name: "notify-retries", Usage: "Notifier retries after the first attempt", Value: 3},
		&cli.DurationFlag{Name: "notify-min-interval", Usage: "Minimum time between notifications per detector"},
	}
}
