// Package redis implements the stream transport over Redis pub/sub.
//
// Each message is a msgpack payload PUBLISHed to one channel. Publishing
// retries with exponential backoff on connection errors.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/tagstream/transport"
	"github.com/pithecene-io/tagstream/types"
)

// DefaultChannel is the default frame channel name.
const DefaultChannel = "tagstream:frames"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures both ends of the Redis transport.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: tagstream:frames).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Codec encodes outgoing frames (default raw).
	Codec *transport.Codec
}

func (cfg *Config) normalize() (*goredis.Options, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis transport requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis transport: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Codec == nil {
		cfg.Codec = &transport.Codec{Encoding: transport.EncodingRaw}
	}
	return opts, nil
}

// Publisher sends frames via Redis PUBLISH.
type Publisher struct {
	config Config
	client *goredis.Client
}

// NewPublisher creates a Redis publisher from the given config.
func NewPublisher(cfg Config) (*Publisher, error) {
	opts, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &Publisher{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Send encodes the message and publishes it, retrying with exponential
// backoff.
func (p *Publisher) Send(ctx context.Context, meta *types.Metadata, f *types.Frame) error {
	body, err := p.config.Codec.Encode(meta, f)
	if err != nil {
		return fmt.Errorf("redis: encode: %w", err)
	}

	var lastErr error
	attempts := 1 + p.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		lastErr = p.client.Publish(publishCtx, p.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases publisher resources.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Subscriber receives frames from a Redis channel.
type Subscriber struct {
	config Config
	client *goredis.Client
	pubsub *goredis.PubSub

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSubscriber subscribes to the configured channel. The subscription is
// confirmed before returning.
func NewSubscriber(ctx context.Context, cfg Config) (*Subscriber, error) {
	opts, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opts)
	pubsub := client.Subscribe(ctx, cfg.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", cfg.Channel, err)
	}
	return &Subscriber{
		config: cfg,
		client: client,
		pubsub: pubsub,
		closed: make(chan struct{}),
	}, nil
}

// Receive waits for the next frame message. Subscription confirmations and
// pongs are skipped; undecodable payloads are reported as *FrameError.
func (s *Subscriber) Receive(ctx context.Context, timeout time.Duration) (*types.Envelope, error) {
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-s.closed:
			return nil, transport.ErrClosed
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, transport.ErrReceiveTimeout
		}

		msg, err := s.pubsub.ReceiveTimeout(ctx, remaining)
		if err != nil {
			return nil, s.classify(ctx, err)
		}

		m, ok := msg.(*goredis.Message)
		if !ok {
			continue
		}
		env, err := transport.Decode([]byte(m.Payload))
		if err != nil {
			return nil, err
		}
		env.ReceivedAt = time.Now()
		return env, nil
	}
}

func (s *Subscriber) classify(ctx context.Context, err error) error {
	select {
	case <-s.closed:
		return transport.ErrClosed
	default:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transport.ErrReceiveTimeout
	}
	if errors.Is(err, goredis.ErrClosed) {
		return transport.ErrClosed
	}
	return fmt.Errorf("redis: receive: %w", err)
}

// Close unsubscribes and releases the client, interrupting a blocked
// Receive.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = errors.Join(s.pubsub.Close(), s.client.Close())
	})
	return err
}

var (
	_ transport.Publisher  = (*Publisher)(nil)
	_ transport.Subscriber = (*Subscriber)(nil)
)
