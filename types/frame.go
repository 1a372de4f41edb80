package types

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrSourceUnavailable is returned by a FrameSource when the underlying
// device or stream can no longer produce frames.
var ErrSourceUnavailable = errors.New("frame source unavailable")

// Frame is a 2D pixel buffer with 8-bit samples.
//
// Channels is 1 (gray), 3 (RGB) or 4 (RGBA). Pix is row-major with no
// padding: len(Pix) == Width*Height*Channels.
// A Frame must not be mutated once it has been handed to a transport or
// a ring buffer; stages that change pixels produce a new Frame.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// Depth is the sample depth in bits. Only 8-bit frames are supported.
const Depth = 8

// NewFrame allocates a zeroed frame.
func NewFrame(width, height, channels int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]byte, width*height*channels),
	}
}

// Validate checks that the frame header is consistent with its buffer.
func (f *Frame) Validate() error {
	if f == nil {
		return errors.New("frame is nil")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	switch f.Channels {
	case 1, 3, 4:
	default:
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) != want {
		return fmt.Errorf("pixel buffer length %d, want %d", len(f.Pix), want)
	}
	return nil
}

// Bounds returns the frame rectangle anchored at the origin.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Image returns an image.Image view of the frame.
// Gray and RGBA frames share the pixel buffer; RGB frames are expanded
// into a new RGBA image.
func (f *Frame) Image() image.Image {
	switch f.Channels {
	case 1:
		return &image.Gray{Pix: f.Pix, Stride: f.Width, Rect: f.Bounds()}
	case 4:
		return &image.RGBA{Pix: f.Pix, Stride: f.Width * 4, Rect: f.Bounds()}
	default:
		img := image.NewRGBA(f.Bounds())
		for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
			img.Pix[j] = f.Pix[i]
			img.Pix[j+1] = f.Pix[i+1]
			img.Pix[j+2] = f.Pix[i+2]
			img.Pix[j+3] = 0xff
		}
		return img
	}
}

// FrameFromImage converts img into a frame with the given channel count.
// The image is re-anchored at the origin.
func FrameFromImage(img image.Image, channels int) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy(), channels)

	switch src := img.(type) {
	case *image.Gray:
		if channels == 1 {
			for y := 0; y < f.Height; y++ {
				off := src.PixOffset(b.Min.X, b.Min.Y+y)
				copy(f.Pix[y*f.Width:(y+1)*f.Width], src.Pix[off:off+f.Width])
			}
			return f
		}
	case *image.RGBA:
		if channels == 4 {
			for y := 0; y < f.Height; y++ {
				off := src.PixOffset(b.Min.X, b.Min.Y+y)
				copy(f.Pix[y*f.Width*4:(y+1)*f.Width*4], src.Pix[off:off+f.Width*4])
			}
			return f
		}
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch channels {
			case 1:
				g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
				f.Pix[i] = g.Y
				i++
			default:
				c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
				f.Pix[i] = c.R
				f.Pix[i+1] = c.G
				f.Pix[i+2] = c.B
				if channels == 4 {
					f.Pix[i+3] = c.A
				}
				i += channels
			}
		}
	}
	return f
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Width: f.Width, Height: f.Height, Channels: f.Channels, Pix: pix}
}
