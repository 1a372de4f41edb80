// Package source defines the frame acquisition boundary used by the capture
// loop and the registry of source kinds selectable from the command line.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pithecene-io/tagstream/types"
)

// FrameSource produces frames on demand.
//
// Start acquires the device or stream. Read blocks for the next frame and
// fails with an error wrapping types.ErrSourceUnavailable when the source
// can no longer produce frames. Stop releases the source and is safe to
// call more than once.
type FrameSource interface {
	Start(ctx context.Context) error
	Read(ctx context.Context) (*types.Frame, error)
	Stop() error
}

// Reconnector is implemented by sources that can re-acquire after a read
// failure. Sources without it stop the capture loop on the first failure.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Unavailable wraps err so that it matches types.ErrSourceUnavailable.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, types.ErrSourceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrSourceUnavailable, err)
}

// Options carries the command-line source selection.
type Options struct {
	// Index is the device index or URL/path, depending on the kind.
	Index string
	// Width and Height request a capture resolution where supported.
	Width, Height int
	// FPS requests a capture rate where supported.
	FPS int
}

// Factory builds a source of one kind.
type Factory func(opts Options) (FrameSource, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a source kind selectable by name. Intended for init
// functions; registering a name twice panics.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic("source: kind registered twice: " + kind)
	}
	factories[kind] = f
}

// New builds a source of the named kind.
func New(kind string, opts Options) (FrameSource, error) {
	mu.RLock()
	f, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source type %q (available: %v)", kind, Kinds())
	}
	return f(opts)
}

// Kinds returns the registered source kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
