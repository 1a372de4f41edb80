package cmd

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tagstream/annotate"
	"github.com/pithecene-io/tagstream/cli/render"
	"github.com/pithecene-io/tagstream/cli/tui"
	"github.com/pithecene-io/tagstream/detect"
	"github.com/pithecene-io/tagstream/source/imagefile"
	"github.com/pithecene-io/tagstream/transform"
	"github.com/pithecene-io/tagstream/transport"
	"github.com/pithecene-io/tagstream/types"
)

// defaultTagWidth is the width images are scaled to before tagging.
const defaultTagWidth = 800

// TagCommand returns the one-shot tagging command.
func TagCommand() *cli.Command {
	flags := append(ReadOnlyFlags(),
		&cli.StringFlag{
			Name:  "tagging",
			Usage: "Comma-separated detectors",
			Value: types.TagQRCode,
		},
		&cli.StringFlag{Name: "models-dir", Usage: "Directory holding detector model files"},
		&cli.IntFlag{
			Name:  "width",
			Usage: "Scale the image to this width before tagging (0 keeps the original size)",
			Value: defaultTagWidth,
		},
		&cli.DurationFlag{Name: "detector-timeout", Usage: "Per-detector time limit"},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the annotated image here (.png, .jpg or .jpeg)",
		},
	)
	return &cli.Command{
		Name:      "tag",
		Usage:     "Tag a single image and print the detections",
		ArgsUsage: "<image>",
		Flags:     flags,
		Action:    tagAction,
	}
}

func tagAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("image path required", exitUsage)
	}
	path := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	output := c.String("output")
	if output != "" {
		if _, err := imageWriter(output); err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
	}

	frame, err := imagefile.Load(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("load image: %v", err), exitSource)
	}
	if w := c.Int("width"); w > 0 && w != frame.Width {
		if frame, err = (transform.Resize{Width: w}).Apply(frame); err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
	}

	entries, err := detect.Default.Build(splitList(c.String("tagging")), detect.Options{ModelsDir: c.String("models-dir")})
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --tagging: %v", err), exitUsage)
	}
	tagger := detect.NewTagger(entries, c.Duration("detector-timeout"))
	defer func() { _ = tagger.Close() }()

	res := tagger.Tag(c.Context, frame)
	if res.Err != nil {
		return cli.Exit(fmt.Sprintf("tagging interrupted: %v", res.Err), exitUsage)
	}
	report := detect.NewReport(path, frame, res)

	if output != "" {
		if err := writeAnnotated(output, frame, res.Tags); err != nil {
			return cli.Exit(fmt.Sprintf("write %s: %v", output, err), exitUsage)
		}
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectTags, report)
	}
	return r.Render(report)
}

type imageEncoder func(f *os.File, frame *types.Frame) error

// imageWriter picks the encoder for an output path by extension.
func imageWriter(path string) (imageEncoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return func(f *os.File, frame *types.Frame) error {
			return png.Encode(f, frame.Image())
		}, nil
	case ".jpg", ".jpeg":
		return func(f *os.File, frame *types.Frame) error {
			return transport.WriteJPEG(f, frame.Image(), 0)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (want .png, .jpg or .jpeg)", filepath.Ext(path))
	}
}

func writeAnnotated(path string, frame *types.Frame, tags types.TagSet) error {
	encode, err := imageWriter(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f, annotate.Draw(frame, tags, annotate.DefaultOptions())); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
