// Package detect runs the configured set of object detectors over a frame and
// collects their polygons into a TagSet.
//
// Detectors are registered by name in a Registry and built once at startup.
// Each detector declares whether it consumes the raw frame or the
// histogram-equalized grayscale frame.
package detect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pithecene-io/tagstream/types"
)

var (
	// ErrDetectorFailure classifies every per-detector failure: a returned
	// error, a panic or a timeout.
	ErrDetectorFailure = errors.New("detector failure")
	// ErrUnknownDetector is returned when a tagging list names a detector
	// that was never registered.
	ErrUnknownDetector = errors.New("unknown detector")
	// ErrDetectorTimeout is wrapped when a detector exceeds its time budget.
	ErrDetectorTimeout = errors.New("detector timed out")
)

// DetectorError reports a failed detector invocation.
// It matches ErrDetectorFailure with errors.Is.
type DetectorError struct {
	Name string
	Err  error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s: %v", e.Name, e.Err)
}

func (e *DetectorError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDetectorFailure.
func (e *DetectorError) Is(target error) bool {
	return target == ErrDetectorFailure
}

// Input selects which rendition of the frame a detector receives.
type Input int

const (
	// InputRaw passes the frame as captured (after transforms).
	InputRaw Input = iota
	// InputEqualizedGray passes a single-channel, histogram-equalized frame.
	InputEqualizedGray
)

func (i Input) String() string {
	switch i {
	case InputRaw:
		return "raw"
	case InputEqualizedGray:
		return "equalized_gray"
	default:
		return "unknown"
	}
}

// Detector finds objects in a frame. Models are loaded when the detector is
// constructed; Detect may be called many times.
type Detector interface {
	Detect(ctx context.Context, f *types.Frame) ([]types.Polygon, error)
}

// Closer is implemented by detectors that hold native resources.
type Closer interface {
	Close() error
}

// Options configures detector construction.
type Options struct {
	// ModelsDir is the directory holding cascade and model files.
	ModelsDir string
}

// Factory builds a detector.
type Factory func(opts Options) (Detector, error)

// Registration describes one named detector.
type Registration struct {
	Name    string
	Input   Input
	Factory Factory
}

// Registry maps detector names to factories.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Registration)}
}

// Register adds a detector factory. Registering a name twice is an error.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" || reg.Factory == nil {
		return errors.New("registration requires a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byKey[reg.Name]; dup {
		return fmt.Errorf("detector %q already registered", reg.Name)
	}
	r.byKey[reg.Name] = reg
	return nil
}

// Names returns the registered detector names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byKey))
	for name := range r.byKey {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byKey[name]
	return reg, ok
}

// Build constructs the detectors for names, in order. Duplicate names are
// collapsed to their first occurrence. On failure every detector built so
// far is closed.
func (r *Registry) Build(names []string, opts Options) ([]Entry, error) {
	entries := make([]Entry, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		reg, ok := r.Lookup(name)
		if !ok {
			closeEntries(entries)
			return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownDetector, name, r.Names())
		}
		d, err := reg.Factory(opts)
		if err != nil {
			closeEntries(entries)
			return nil, fmt.Errorf("build detector %q: %w", name, err)
		}
		entries = append(entries, Entry{Name: name, Input: reg.Input, Detector: d})
	}
	return entries, nil
}

// Entry is a constructed detector bound to its name and input kind.
type Entry struct {
	Name     string
	Input    Input
	Detector Detector
}

func closeEntries(entries []Entry) {
	for _, e := range entries {
		if c, ok := e.Detector.(Closer); ok {
			_ = c.Close()
		}
	}
}

// Default is the process-wide registry that built-in detectors register into.
var Default = NewRegistry()

// Register adds reg to the Default registry and panics on conflict.
// Intended for init functions.
func Register(reg Registration) {
	if err := Default.Register(reg); err != nil {
		panic(err)
	}
}
