// Package imagefile replays still images as a frame source. Index names a
// single image or a directory; directory entries are replayed in name order
// and the sequence repeats until the source is stopped.
package imagefile

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // decoder registration
	_ "image/jpeg" // decoder registration
	_ "image/png"  // decoder registration
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"  // decoder registration
	_ "golang.org/x/image/tiff" // decoder registration
	_ "golang.org/x/image/webp" // decoder registration

	"github.com/pithecene-io/tagstream/source"
	"github.com/pithecene-io/tagstream/types"
)

// Kind is the registered source name.
const Kind = "image"

// DefaultInterval paces replay when no FPS is requested.
const DefaultInterval = 500 * time.Millisecond

var extensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

func init() {
	source.Register(Kind, func(opts source.Options) (source.FrameSource, error) {
		return New(opts)
	})
}

// Source replays decoded images.
type Source struct {
	path     string
	interval time.Duration

	mu     sync.Mutex
	frames []*types.Frame
	next   int
	last   time.Time
}

// New validates opts. Images are decoded on Start.
func New(opts source.Options) (*Source, error) {
	if opts.Index == "" {
		return nil, errors.New("image source requires a file or directory path")
	}
	s := &Source{path: opts.Index, interval: DefaultInterval}
	if opts.FPS > 0 {
		s.interval = time.Second / time.Duration(opts.FPS)
	}
	return s, nil
}

// Start decodes every image under the configured path.
func (s *Source) Start(context.Context) error {
	paths, err := list(s.path)
	if err != nil {
		return source.Unavailable(err)
	}
	frames := make([]*types.Frame, 0, len(paths))
	for _, p := range paths {
		f, err := Load(p)
		if err != nil {
			return source.Unavailable(err)
		}
		frames = append(frames, f)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = frames
	s.next = 0
	s.last = time.Time{}
	return nil
}

// Read returns the next image, paced by the replay interval.
func (s *Source) Read(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, source.Unavailable(errors.New("image source not started"))
	}
	if !s.last.IsZero() {
		if wait := s.interval - time.Since(s.last); wait > 0 {
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

	f := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)
	return f, nil
}

// Stop releases the decoded images.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
	return nil
}

// Load decodes one image file into an RGB frame.
func Load(path string) (*types.Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return types.FrameFromImage(img, 3), nil
}

func list(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(path, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images in %s", path)
	}
	sort.Strings(paths)
	return paths, nil
}
