package detect

import (
	"github.com/pithecene-io/tagstream/types"
)

// Grayscale returns a single-channel copy of f. Gray frames are cloned.
func Grayscale(f *types.Frame) *types.Frame {
	if f.Channels == 1 {
		return f.Clone()
	}
	return types.FrameFromImage(f.Image(), 1)
}

// EqualizeHist spreads the intensity histogram of a gray frame across the
// full 0..255 range. A frame of a single intensity is filled with that
// intensity.
func EqualizeHist(gray *types.Frame) *types.Frame {
	var hist [256]int
	for _, v := range gray.Pix {
		hist[v]++
	}
	total := len(gray.Pix)
	out := types.NewFrame(gray.Width, gray.Height, 1)
	if total == 0 {
		return out
	}

	lo := 0
	for hist[lo] == 0 {
		lo++
	}
	if hist[lo] == total {
		for i := range out.Pix {
			out.Pix[i] = byte(lo)
		}
		return out
	}

	var lut [256]byte
	scale := 255.0 / float64(total-hist[lo])
	sum := 0
	for i := lo + 1; i < 256; i++ {
		sum += hist[i]
		v := int(float64(sum)*scale + 0.5)
		if v > 255 {
			v = 255
		}
		lut[i] = byte(v)
	}

	for i, v := range gray.Pix {
		out.Pix[i] = lut[v]
	}
	return out
}
