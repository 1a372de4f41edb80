// Package bridge decouples a blocking transport receive from its consumers.
//
// A Bridge owns one goroutine that drains a transport.Subscriber into a
// single-slot mailbox. The slot always holds the newest unread envelope;
// an envelope that arrives before the previous one was read replaces it.
// Receive waits on the mailbox with a timeout, which is how a vanished
// producer is detected.
package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/tagstream/log"
	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/transport"
	"github.com/pithecene-io/tagstream/types"
)

var (
	// ErrSubscriberTimeout is returned by Receive when no envelope arrived
	// within the timeout.
	ErrSubscriberTimeout = errors.New("subscriber timeout")
	// ErrBridgeClosed is returned by Receive after Close.
	ErrBridgeClosed = errors.New("bridge closed")
)

// DefaultReceiveTimeout is the producer silence after which a consumer
// gives up on a bridge.
const DefaultReceiveTimeout = 15 * time.Second

// DefaultPollInterval bounds each blocking transport receive inside the
// bridge goroutine so Close is observed promptly.
const DefaultPollInterval = time.Second

// Dialer opens a new subscription. The owner of a bridge calls it again to
// reconnect after a timeout.
type Dialer func(ctx context.Context) (transport.Subscriber, error)

// Options configures a Bridge.
type Options struct {
	// PollInterval bounds each transport receive (default 1s).
	PollInterval time.Duration
	// Logger receives drain errors. Nil discards.
	Logger *log.Logger
	// Metrics counts mailbox overwrites. Nil disables.
	Metrics *metrics.Collector
}

// Bridge is a latest-wins mailbox fed by a transport subscriber.
type Bridge struct {
	sub     transport.Subscriber
	opts    Options
	logger  *log.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	slot  *types.Envelope
	ready chan struct{}

	running    atomic.Bool
	overwrites atomic.Int64

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New starts draining sub in the background. The bridge owns sub and
// closes it on Close.
func New(sub transport.Subscriber, opts Options) *Bridge {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		sub:     sub,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		ready:   make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	b.running.Store(true)
	go b.run(ctx)
	return b
}

// Dial opens a subscription with dial and wraps it in a Bridge.
func Dial(ctx context.Context, dial Dialer, opts Options) (*Bridge, error) {
	sub, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	return New(sub, opts), nil
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	defer b.running.Store(false)

	for b.running.Load() {
		env, err := b.sub.Receive(ctx, b.opts.PollInterval)
		switch {
		case err == nil:
			b.store(env)
		case errors.Is(err, transport.ErrReceiveTimeout):
		case errors.Is(err, transport.ErrClosed), ctx.Err() != nil:
			return
		default:
			b.logger.Warn("subscriber receive failed", map[string]any{"error": err.Error()})
			// Back off briefly so a persistently failing transport does
			// not spin.
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.opts.PollInterval / 10):
			}
		}
	}
}

// store overwrites the slot and raises the ready signal.
func (b *Bridge) store(env *types.Envelope) {
	b.mu.Lock()
	if b.slot != nil {
		b.overwrites.Add(1)
		b.metrics.IncMailboxOverwrites()
	}
	b.slot = env
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// take empties the slot.
func (b *Bridge) take() *types.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	env := b.slot
	b.slot = nil
	return env
}

// Receive returns the newest unread envelope, waiting at most timeout for
// one to arrive. It fails with ErrSubscriberTimeout on expiry, with
// ErrBridgeClosed after Close, and with ctx.Err() on cancellation.
func (b *Bridge) Receive(ctx context.Context, timeout time.Duration) (*types.Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-b.ready:
			if env := b.take(); env != nil {
				return env, nil
			}
		case <-timer.C:
			return nil, ErrSubscriberTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.done:
			if env := b.take(); env != nil {
				return env, nil
			}
			return nil, ErrBridgeClosed
		}
	}
}

// Running reports whether the drain goroutine is active.
func (b *Bridge) Running() bool {
	return b.running.Load()
}

// Overwrites returns how many unread envelopes were replaced.
func (b *Bridge) Overwrites() int64 {
	return b.overwrites.Load()
}

// Close stops the drain goroutine, releases the subscription and waits for
// the goroutine to exit. Safe to call more than once.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.running.Store(false)
		b.cancel()
		err = b.sub.Close()
		<-b.done
	})
	return err
}
