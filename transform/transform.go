// Package transform implements the geometric frame operations applied on the
// capture node before tagging.
//
// A Pipeline is an ordered list of operations. Each operation produces a new
// frame; the input frame is never modified.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/pithecene-io/tagstream/types"
)

var (
	// ErrInvalidRegion is returned when an operation's region or output size
	// does not fit the frame it is applied to.
	ErrInvalidRegion = errors.New("invalid region")
	// ErrUnsupportedTransform is returned when a transform list names an
	// unknown operation.
	ErrUnsupportedTransform = errors.New("unsupported transform")
)

// Error carries the failing operation and its position in the pipeline.
type Error struct {
	Index int
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Op is a single geometric operation.
type Op interface {
	Name() string
	Apply(f *types.Frame) (*types.Frame, error)
}

// Pipeline applies operations in list order.
type Pipeline []Op

// Apply runs every operation in order. An empty pipeline returns f as is.
func (p Pipeline) Apply(f *types.Frame) (*types.Frame, error) {
	out := f
	for i, op := range p {
		next, err := op.Apply(out)
		if err != nil {
			return nil, &Error{Index: i, Op: op.Name(), Err: err}
		}
		out = next
	}
	return out, nil
}

// String renders the pipeline for logs.
func (p Pipeline) String() string {
	names := make([]string, len(p))
	for i, op := range p {
		names[i] = op.Name()
	}
	return strings.Join(names, ",")
}

// opSpec is the JSON shape of one list entry.
type opSpec struct {
	Transformation string   `json:"transformation"`
	Degrees        *float64 `json:"degrees"`
	Width          *int     `json:"width"`
	Height         *int     `json:"height"`
	XPosition      *int     `json:"xPosition"`
	YPosition      *int     `json:"yPosition"`
}

// Parse decodes a JSON transform list such as
//
//	[{"transformation":"Crop","width":100,"height":100,"xPosition":0,"yPosition":0},
//	 {"transformation":"Rotate","degrees":45},
//	 {"transformation":"Resize","width":320}]
//
// Empty input yields an empty pipeline. Unknown operation names are rejected
// here with ErrUnsupportedTransform so a bad list never reaches the loop.
func Parse(data []byte) (Pipeline, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var specs []opSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("decode transform list: %w", err)
	}

	p := make(Pipeline, 0, len(specs))
	for i, s := range specs {
		op, err := s.build()
		if err != nil {
			return nil, &Error{Index: i, Op: s.Transformation, Err: err}
		}
		p = append(p, op)
	}
	return p, nil
}

func (s opSpec) build() (Op, error) {
	switch strings.ToLower(s.Transformation) {
	case "rotate":
		if s.Degrees == nil {
			return nil, errors.New("missing degrees")
		}
		return Rotate{Degrees: *s.Degrees}, nil
	case "crop":
		if s.Width == nil || s.Height == nil {
			return nil, errors.New("missing width or height")
		}
		return Crop{X: deref(s.XPosition), Y: deref(s.YPosition), Width: *s.Width, Height: *s.Height}, nil
	case "resize":
		return Resize{Width: deref(s.Width), Height: deref(s.Height)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransform, s.Transformation)
	}
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// Crop extracts the rectangle at (X, Y) of size Width x Height.
type Crop struct {
	X, Y, Width, Height int
}

// Name implements Op.
func (Crop) Name() string { return "Crop" }

// Apply implements Op. The region must lie entirely inside the frame.
func (c Crop) Apply(f *types.Frame) (*types.Frame, error) {
	if c.Width <= 0 || c.Height <= 0 || c.X < 0 || c.Y < 0 ||
		c.X+c.Width > f.Width || c.Y+c.Height > f.Height {
		return nil, fmt.Errorf("%w: crop %d,%d %dx%d outside %dx%d frame",
			ErrInvalidRegion, c.X, c.Y, c.Width, c.Height, f.Width, f.Height)
	}

	out := types.NewFrame(c.Width, c.Height, f.Channels)
	rowLen := c.Width * f.Channels
	for y := 0; y < c.Height; y++ {
		src := ((c.Y+y)*f.Width + c.X) * f.Channels
		copy(out.Pix[y*rowLen:(y+1)*rowLen], f.Pix[src:src+rowLen])
	}
	return out, nil
}

// Resize scales the frame to Width x Height. When one dimension is zero it
// is derived from the other, preserving aspect ratio. When both are zero the
// frame is returned unchanged.
type Resize struct {
	Width, Height int
}

// Name implements Op.
func (Resize) Name() string { return "Resize" }

// Size returns the output dimensions for an input of w x h.
func (r Resize) Size(w, h int) (int, int) {
	switch {
	case r.Width > 0 && r.Height > 0:
		return r.Width, r.Height
	case r.Width > 0:
		return r.Width, max(1, int(float64(h)*float64(r.Width)/float64(w)))
	case r.Height > 0:
		return max(1, int(float64(w)*float64(r.Height)/float64(h))), r.Height
	default:
		return w, h
	}
}

// Apply implements Op.
func (r Resize) Apply(f *types.Frame) (*types.Frame, error) {
	if r.Width < 0 || r.Height < 0 {
		return nil, fmt.Errorf("%w: resize to %dx%d", ErrInvalidRegion, r.Width, r.Height)
	}
	w, h := r.Size(f.Width, f.Height)
	if w == f.Width && h == f.Height {
		return f, nil
	}

	dst := newCanvas(w, h, f.Channels)
	draw.BiLinear.Scale(dst, dst.Bounds(), f.Image(), f.Bounds(), draw.Src, nil)
	return types.FrameFromImage(dst, f.Channels), nil
}

// Rotate turns the frame about its center by Degrees, clockwise-positive.
// The output keeps the input dimensions; areas not covered by the source
// are black.
type Rotate struct {
	Degrees float64
}

// Name implements Op.
func (Rotate) Name() string { return "Rotate" }

// Apply implements Op.
func (r Rotate) Apply(f *types.Frame) (*types.Frame, error) {
	if math.Mod(r.Degrees, 360) == 0 {
		return f.Clone(), nil
	}

	rad := r.Degrees * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cx, cy := float64(f.Width)/2, float64(f.Height)/2

	// Maps source coordinates to destination coordinates. With y pointing
	// down, a positive angle turns the image clockwise.
	s2d := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}

	dst := newCanvas(f.Width, f.Height, f.Channels)
	draw.BiLinear.Transform(dst, s2d, f.Image(), f.Bounds(), draw.Src, nil)
	return types.FrameFromImage(dst, f.Channels), nil
}

func newCanvas(w, h, channels int) draw.Image {
	if channels == 1 {
		return image.NewGray(image.Rect(0, 0, w, h))
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}
