// Package annotate draws tag polygons and their detector names onto a copy
// of a frame, for the broadcast viewer and the one-shot tag command.
package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/pithecene-io/tagstream/types"
)

// DefaultColor is used for detectors without an entry in Options.Colors.
var DefaultColor = color.RGBA{0, 0, 255, 255}

// Options controls drawing.
type Options struct {
	// Colors maps detector names to outline colours.
	Colors map[string]color.RGBA
	// Thickness is the outline width in pixels (default 2).
	Thickness int
	// Labels draws the detector name above each polygon.
	Labels bool
}

// DefaultOptions returns labelled outlines with one colour per built-in
// detector.
func DefaultOptions() Options {
	return Options{
		Colors: map[string]color.RGBA{
			types.TagQRCode: {0, 200, 0, 255},
			types.TagPlate:  DefaultColor,
			types.TagFace:   {230, 160, 0, 255},
		},
		Thickness: 2,
		Labels:    true,
	}
}

// Draw returns a new RGB frame with every polygon in tags outlined.
// The input frame is never modified. An empty tag set yields a plain copy.
func Draw(f *types.Frame, tags types.TagSet, opts Options) *types.Frame {
	if opts.Thickness <= 0 {
		opts.Thickness = 2
	}
	dst := image.NewRGBA(f.Bounds())
	draw.Draw(dst, dst.Bounds(), f.Image(), image.Point{}, draw.Src)

	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c, ok := opts.Colors[name]
		if !ok {
			c = DefaultColor
		}
		for _, poly := range tags[name] {
			outline(dst, poly, c, opts.Thickness)
			if opts.Labels {
				label(dst, poly, name, c)
			}
		}
	}
	return types.FrameFromImage(dst, 3)
}

func outline(dst *image.RGBA, p types.Polygon, c color.RGBA, thickness int) {
	for i := range p {
		a, b := p[i], p[(i+1)%len(p)]
		line(dst, a.X(), a.Y(), b.X(), b.Y(), c, thickness)
	}
}

// line draws with Bresenham's algorithm, stamping a square brush per step.
func line(dst *image.RGBA, x0, y0, x1, y1 int, c color.RGBA, thickness int) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	lo := -(thickness - 1) / 2
	hi := thickness / 2
	for {
		for oy := lo; oy <= hi; oy++ {
			for ox := lo; ox <= hi; ox++ {
				if (image.Point{X: x0 + ox, Y: y0 + oy}).In(dst.Rect) {
					dst.SetRGBA(x0+ox, y0+oy, c)
				}
			}
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func label(dst *image.RGBA, p types.Polygon, text string, c color.RGBA) {
	x, y := p[0].X(), p[0].Y()
	for _, pt := range p[1:] {
		x = min(x, pt.X())
		y = min(y, pt.Y())
	}
	face := basicfont.Face7x13
	// Baseline sits just above the polygon; inside it near the top edge.
	baseline := y - 3
	if baseline-face.Ascent < 0 {
		baseline = y + face.Ascent + 2
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(max(x, 0), baseline),
	}
	d.DrawString(text)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
