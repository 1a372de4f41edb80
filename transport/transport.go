// Package transport defines the publish/subscribe boundary between capture
// nodes and consumer nodes, and the wire codec both sides share.
//
// Delivery is best effort: publishers drop frames for slow or absent
// subscribers and subscribers see only what arrives while they are
// connected. Per-publisher ordering is preserved.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/pithecene-io/tagstream/types"
)

var (
	// ErrReceiveTimeout is returned when no message arrived within the
	// receive timeout. The subscriber remains usable.
	ErrReceiveTimeout = errors.New("receive timeout")
	// ErrClosed is returned by operations on a closed publisher or
	// subscriber.
	ErrClosed = errors.New("transport closed")
)

// Publisher emits metadata + frame pairs.
type Publisher interface {
	// Send encodes and emits one message. It does not wait for subscribers.
	Send(ctx context.Context, meta *types.Metadata, f *types.Frame) error
	// Close releases the publisher.
	Close() error
}

// Subscriber receives metadata + frame pairs.
type Subscriber interface {
	// Receive blocks until a message arrives, the timeout expires
	// (ErrReceiveTimeout), ctx is done, or the subscriber is closed
	// (ErrClosed).
	Receive(ctx context.Context, timeout time.Duration) (*types.Envelope, error)
	// Close releases the subscription and interrupts a blocked Receive.
	Close() error
}

// Kind names a transport implementation.
type Kind string

// Supported transport kinds.
const (
	KindTCP   Kind = "tcp"
	KindRedis Kind = "redis"
)

// ParseKind validates a transport name. Empty selects tcp.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindTCP:
		return KindTCP, nil
	case KindRedis:
		return KindRedis, nil
	default:
		return "", errors.New("unknown transport " + s + " (want tcp or redis)")
	}
}
