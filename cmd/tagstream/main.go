// Package main provides the tagstream CLI entrypoint.
//
// Usage:
//
//	tagstream <command> [options]
//
// Exit codes for stream and serve:
//   - 0: clean stop
//   - 1: usage or configuration error
//   - 2: frame source permanently unavailable
//   - 3: transport failure
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tagstream/cli/cmd"
	_ "github.com/pithecene-io/tagstream/detect/cv"
	_ "github.com/pithecene-io/tagstream/source/camera"
	_ "github.com/pithecene-io/tagstream/source/imagefile"
	_ "github.com/pithecene-io/tagstream/source/pattern"
	_ "github.com/pithecene-io/tagstream/source/rtsp"
	"github.com/pithecene-io/tagstream/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "tagstream",
		Usage:          "Capture, tag and broadcast video frames",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands:       commands(),
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

func commands() []*cli.Command {
	return []*cli.Command{
		cmd.StreamCommand(),
		cmd.ServeCommand(),
		cmd.TagCommand(),
		cmd.MonitorCommand(),
		cmd.JournalCommand(),
		cmd.VersionCommand(commit),
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	// Check for ExitCoder (from cli.Exit), handles wrapped errors
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
