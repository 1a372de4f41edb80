package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tagstream/cli/render"
	"github.com/pithecene-io/tagstream/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version     string `json:"version" yaml:"version"`
	WireVersion string `json:"wire_version" yaml:"wire_version"`
	Commit      string `json:"commit" yaml:"commit"`
}

// Fields lists the version as key/value pairs for table output.
func (v VersionResponse) Fields() [][2]string {
	return [][2]string{
		{"version", v.Version},
		{"wire_version", v.WireVersion},
		{"commit", v.Commit},
	}
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		// TUI not supported for version command
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", exitUsage)
		}

		return r.Render(VersionResponse{
			Version:     types.Version,
			WireVersion: types.WireVersion,
			Commit:      commit,
		})
	}
}
