package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/tagstream/types"
)

// DefaultTimeout bounds a single detector invocation.
const DefaultTimeout = 5 * time.Second

// Tagger runs a fixed, ordered list of detectors over each frame.
type Tagger struct {
	entries []Entry
	timeout time.Duration
}

// NewTagger creates a tagger over entries. A zero timeout selects
// DefaultTimeout.
func NewTagger(entries []Entry, timeout time.Duration) *Tagger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tagger{entries: entries, timeout: timeout}
}

// Names returns the configured detector names in declaration order.
func (t *Tagger) Names() []string {
	names := make([]string, len(t.entries))
	for i, e := range t.entries {
		names[i] = e.Name
	}
	return names
}

// Empty reports whether no detectors are configured.
func (t *Tagger) Empty() bool {
	return len(t.entries) == 0
}

// Result is the outcome of tagging one frame.
type Result struct {
	// Tags holds every configured detector name.
	Tags types.TagSet
	// Failures lists detectors that errored, panicked or timed out.
	Failures []*DetectorError
	// Latency is the wall time of each detector that ran to completion or
	// failed on its own. Detectors skipped by cancellation are absent.
	Latency map[string]time.Duration
	// Err is set when the caller's context ended mid-frame. The frame is
	// incomplete and should be dropped.
	Err error
}

// Tag runs every detector in declaration order and never fails.
//
// Every configured name is present in Result.Tags. A detector that errors,
// panics or times out contributes an empty slice and a *DetectorError; the
// others are unaffected. Cancellation of ctx is not a detector failure: the
// remaining detectors are skipped and Result.Err carries ctx.Err().
func (t *Tagger) Tag(ctx context.Context, f *types.Frame) Result {
	res := Result{
		Tags:    make(types.TagSet, len(t.entries)),
		Latency: make(map[string]time.Duration, len(t.entries)),
	}
	var gray *types.Frame

	for _, e := range t.entries {
		res.Tags[e.Name] = []types.Polygon{}
		if res.Err != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			continue
		}

		input := f
		if e.Input == InputEqualizedGray {
			if gray == nil {
				gray = EqualizeHist(Grayscale(f))
			}
			input = gray
		}

		started := time.Now()
		polys, err := t.invoke(ctx, e, input)
		if err != nil && ctx.Err() != nil {
			res.Err = ctx.Err()
			continue
		}
		res.Latency[e.Name] = time.Since(started)
		if err != nil {
			res.Failures = append(res.Failures, &DetectorError{Name: e.Name, Err: err})
			continue
		}
		if polys != nil {
			res.Tags[e.Name] = polys
		}
	}
	return res
}

type result struct {
	polys []types.Polygon
	err   error
}

// invoke runs one detector under the tagger timeout with panic recovery.
// A detector that ignores its context keeps running in the background
// after the timeout; its result is discarded.
func (t *Tagger) invoke(parent context.Context, e Entry, f *types.Frame) ([]types.Polygon, error) {
	ctx, cancel := context.WithTimeout(parent, t.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		polys, err := e.Detector.Detect(ctx, f)
		done <- result{polys: polys, err: err}
	}()

	select {
	case r := <-done:
		return r.polys, r.err
	case <-ctx.Done():
		if err := parent.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s: %w", ErrDetectorTimeout, t.timeout, ctx.Err())
	}
}

// Close releases detectors that hold native resources.
func (t *Tagger) Close() error {
	closeEntries(t.entries)
	return nil
}
