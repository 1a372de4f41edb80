// Package pattern provides a synthetic test-card source: vertical colour
// bars with a white box that moves one step per frame. It needs no hardware
// and is the default source for demos and pipeline checks.
package pattern

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/tagstream/source"
	"github.com/pithecene-io/tagstream/types"
)

// Kind is the registered source name.
const Kind = "pattern"

const (
	defaultWidth  = 640
	defaultHeight = 480
	boxSize       = 48
	boxStep       = 8
)

// bars are the SMPTE-style colours, left to right.
var bars = [][3]byte{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
}

func init() {
	source.Register(Kind, func(opts source.Options) (source.FrameSource, error) {
		return New(opts), nil
	})
}

// Source generates test-card frames.
type Source struct {
	width, height int
	period        time.Duration

	mu      sync.Mutex
	started bool
	n       int
	last    time.Time
}

// New returns a pattern source. Zero dimensions default to 640x480; a
// positive FPS paces Read.
func New(opts source.Options) *Source {
	s := &Source{width: opts.Width, height: opts.Height}
	if s.width <= 0 {
		s.width = defaultWidth
	}
	if s.height <= 0 {
		s.height = defaultHeight
	}
	if opts.FPS > 0 {
		s.period = time.Second / time.Duration(opts.FPS)
	}
	return s
}

// Start implements source.FrameSource.
func (s *Source) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

// Read returns the next test card.
func (s *Source) Read(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil, source.Unavailable(errors.New("pattern source not started"))
	}
	if s.period > 0 && !s.last.IsZero() {
		if wait := s.period - time.Since(s.last); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}
	}
	s.last = time.Now()

	f := Render(s.width, s.height, s.n)
	s.n++
	return f, nil
}

// Stop implements source.FrameSource.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// Render draws test card n as an RGB frame.
func Render(width, height, n int) *types.Frame {
	f := types.NewFrame(width, height, 3)
	barWidth := (width + len(bars) - 1) / len(bars)
	for y := 0; y < height; y++ {
		row := f.Pix[y*width*3 : (y+1)*width*3]
		for x := 0; x < width; x++ {
			c := bars[min(x/barWidth, len(bars)-1)]
			copy(row[x*3:x*3+3], c[:])
		}
	}

	size := min(boxSize, width, height)
	spanX := max(width-size, 1)
	spanY := max(height-size, 1)
	bx := (n * boxStep) % spanX
	by := (n * boxStep / 2) % spanY
	for y := by; y < by+size && y < height; y++ {
		for x := bx; x < bx+size && x < width; x++ {
			i := (y*width + x) * 3
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = 255, 255, 255
		}
	}
	return f
}
