package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/tagstream/source"
	"github.com/pithecene-io/tagstream/types"
)

// Source exposes a Bridge as a FrameSource so a capture node can relay
// (and re-tag) another node's stream.
type Source struct {
	dial    Dialer
	timeout time.Duration
	opts    Options

	mu     sync.Mutex
	bridge *Bridge
}

// NewSource creates a relay source. timeout bounds each Read; zero selects
// DefaultReceiveTimeout.
func NewSource(dial Dialer, timeout time.Duration, opts Options) *Source {
	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}
	return &Source{dial: dial, timeout: timeout, opts: opts}
}

// Start opens the subscription.
func (s *Source) Start(ctx context.Context) error {
	b, err := Dial(ctx, s.dial, s.opts)
	if err != nil {
		return source.Unavailable(err)
	}
	s.mu.Lock()
	old := s.bridge
	s.bridge = b
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (s *Source) current() *Bridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}

// Read returns the frame of the newest unread envelope. A timeout or a
// closed bridge is reported as types.ErrSourceUnavailable.
func (s *Source) Read(ctx context.Context) (*types.Frame, error) {
	b := s.current()
	if b == nil {
		return nil, source.Unavailable(errors.New("relay source not started"))
	}
	env, err := b.Receive(ctx, s.timeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, source.Unavailable(err)
	}
	return env.Frame, nil
}

// Reconnect closes the current bridge and opens a new one.
func (s *Source) Reconnect(ctx context.Context) error {
	return s.Start(ctx)
}

// Stop closes the bridge.
func (s *Source) Stop() error {
	s.mu.Lock()
	b := s.bridge
	s.bridge = nil
	s.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}

var (
	_ source.FrameSource = (*Source)(nil)
	_ source.Reconnector = (*Source)(nil)
)
