// Package feed drains a subscriber bridge into the ring buffer that backs the
// broadcast server, rebuilding the bridge whenever the producer goes quiet.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/pithecene-io/tagstream/bridge"
	"github.com/pithecene-io/tagstream/log"
	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/ringbuf"
	"github.com/pithecene-io/tagstream/types"
)

// DefaultReconnectDelay is the pause between closing a timed-out bridge and
// building its replacement.
const DefaultReconnectDelay = 2 * time.Second

// Config configures a Feeder.
type Config struct {
	// Dial opens a new subscription for each bridge.
	Dial bridge.Dialer
	// Ring receives every envelope taken from the bridge.
	Ring *ringbuf.Ring[*types.Envelope]
	// ReceiveTimeout is the producer silence that triggers a reconnect
	// (default 15s).
	ReceiveTimeout time.Duration
	// ReconnectDelay is the pause before rebuilding a bridge (default 2s).
	ReconnectDelay time.Duration
	// BridgeOptions is passed to every bridge.
	BridgeOptions bridge.Options
	// Sink, if set, observes every envelope after it was pushed.
	Sink func(ctx context.Context, env *types.Envelope)
	Logger  *log.Logger
	Metrics *metrics.Collector
}

// Feeder moves envelopes from a bridge into the ring.
type Feeder struct {
	cfg    Config
	logger *log.Logger
}

// New validates cfg and returns a Feeder.
func New(cfg Config) (*Feeder, error) {
	if cfg.Dial == nil {
		return nil, errors.New("feeder requires a dialer")
	}
	if cfg.Ring == nil {
		return nil, errors.New("feeder requires a ring")
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = bridge.DefaultReceiveTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.BridgeOptions.Logger == nil {
		cfg.BridgeOptions.Logger = logger
	}
	if cfg.BridgeOptions.Metrics == nil {
		cfg.BridgeOptions.Metrics = cfg.Metrics
	}
	return &Feeder{cfg: cfg, logger: logger}, nil
}

// Run feeds the ring until ctx is done. It never gives up on the producer:
// a dial failure or a receive timeout closes the bridge, waits
// ReconnectDelay and tries again.
func (f *Feeder) Run(ctx context.Context) error {
	for {
		b, err := bridge.Dial(ctx, f.cfg.Dial, f.cfg.BridgeOptions)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("subscribe failed", map[string]any{"error": err.Error()})
			if !sleep(ctx, f.cfg.ReconnectDelay) {
				return nil
			}
			continue
		}

		err = f.drain(ctx, b)
		_ = b.Close()
		if ctx.Err() != nil {
			return nil
		}

		f.logger.Warn("producer silent, reconnecting", map[string]any{
			"error":   err.Error(),
			"timeout": f.cfg.ReceiveTimeout.String(),
			"delay":   f.cfg.ReconnectDelay.String(),
		})
		f.cfg.Metrics.IncBridgeReconnects()
		if !sleep(ctx, f.cfg.ReconnectDelay) {
			return nil
		}
	}
}

// drain pushes envelopes until the bridge times out, closes, or ctx ends.
func (f *Feeder) drain(ctx context.Context, b *bridge.Bridge) error {
	for {
		env, err := b.Receive(ctx, f.cfg.ReceiveTimeout)
		if err != nil {
			if errors.Is(err, bridge.ErrSubscriberTimeout) {
				f.cfg.Metrics.IncBridgeTimeouts()
			}
			return err
		}

		f.cfg.Metrics.IncFramesReceived()
		evicted := f.cfg.Ring.Push(env)
		f.cfg.Metrics.IncRingPush(evicted)
		if f.cfg.Sink != nil {
			f.cfg.Sink(ctx, env)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
