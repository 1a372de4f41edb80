// Package tcp implements the default stream transport: the publisher binds a
// TCP port and fans every message out to all connected subscribers; each
// subscriber dials the publisher and reconnects on its own.
//
// Messages are length-prefixed msgpack payloads (see transport.FrameDecoder).
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/tagstream/log"
	"github.com/pithecene-io/tagstream/transport"
	"github.com/pithecene-io/tagstream/types"
)

// DefaultHighWaterMark is the per-subscriber outbox size.
const DefaultHighWaterMark = 4

// DefaultWriteTimeout bounds a single write to a subscriber.
const DefaultWriteTimeout = 5 * time.Second

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	// Codec encodes outgoing messages (default raw).
	Codec *transport.Codec
	// HighWaterMark is the number of messages queued per subscriber before
	// new messages are dropped for it (default 4).
	HighWaterMark int
	// WriteTimeout bounds a single socket write (default 5s).
	WriteTimeout time.Duration
	// Logger receives connection events. Nil discards.
	Logger *log.Logger
}

// Publisher binds a port and fans messages out to connected subscribers.
type Publisher struct {
	ln     net.Listener
	opts   PublisherOptions
	logger *log.Logger

	mu     sync.Mutex
	peers  map[*peer]struct{}
	closed bool

	dropped atomic.Int64
	wg      sync.WaitGroup
}

type peer struct {
	conn net.Conn
	out  chan []byte
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.out)
		_ = p.conn.Close()
	})
}

// TrimScheme strips a leading "tcp://" from addr.
func TrimScheme(addr string) string {
	return strings.TrimPrefix(addr, "tcp://")
}

// Listen binds addr ("host:port" or "tcp://host:port"; a "*" host binds all
// interfaces) and starts accepting subscribers.
func Listen(addr string, opts PublisherOptions) (*Publisher, error) {
	if opts.Codec == nil {
		opts.Codec = &transport.Codec{Encoding: transport.EncodingRaw}
	}
	if opts.HighWaterMark <= 0 {
		opts.HighWaterMark = DefaultHighWaterMark
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	bind := TrimScheme(addr)
	if strings.HasPrefix(bind, "*:") {
		bind = bind[1:]
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("tcp publisher: listen %s: %w", addr, err)
	}

	p := &Publisher{
		ln:     ln,
		opts:   opts,
		logger: logger,
		peers:  make(map[*peer]struct{}),
	}
	p.wg.Add(1)
	go p.acceptLoop()
	return p, nil
}

// Addr returns the bound address.
func (p *Publisher) Addr() net.Addr {
	return p.ln.Addr()
}

// Subscribers returns the number of connected subscribers.
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// Dropped returns the number of per-subscriber messages dropped because an
// outbox was full.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			p.logger.Warn("accept failed", map[string]any{"error": err.Error()})
			continue
		}

		pr := &peer{conn: conn, out: make(chan []byte, p.opts.HighWaterMark)}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = conn.Close()
			return
		}
		p.peers[pr] = struct{}{}
		p.mu.Unlock()

		p.logger.Info("subscriber connected", map[string]any{"remote": conn.RemoteAddr().String()})
		p.wg.Add(1)
		go p.writeLoop(pr)
	}
}

func (p *Publisher) writeLoop(pr *peer) {
	defer p.wg.Done()
	defer p.remove(pr)

	for msg := range pr.out {
		_ = pr.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout))
		if _, err := pr.conn.Write(msg); err != nil {
			p.logger.Info("subscriber disconnected", map[string]any{
				"remote": pr.conn.RemoteAddr().String(),
				"error":  err.Error(),
			})
			return
		}
	}
}

func (p *Publisher) remove(pr *peer) {
	p.mu.Lock()
	delete(p.peers, pr)
	p.mu.Unlock()
	pr.close()
}

// Send encodes the message once and queues it for every subscriber.
// A subscriber whose outbox is full misses this message. Send never waits
// for the network and succeeds with no subscribers connected.
func (p *Publisher) Send(ctx context.Context, meta *types.Metadata, f *types.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := p.opts.Codec.Encode(meta, f)
	if err != nil {
		return err
	}
	framed, err := transport.AppendFrame(payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return transport.ErrClosed
	}
	for pr := range p.peers {
		select {
		case pr.out <- framed:
		default:
			p.dropped.Add(1)
		}
	}
	return nil
}

// Close stops accepting, disconnects every subscriber and waits for the
// connection goroutines to exit.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	peers := make([]*peer, 0, len(p.peers))
	for pr := range p.peers {
		peers = append(peers, pr)
	}
	p.mu.Unlock()

	err := p.ln.Close()
	for _, pr := range peers {
		pr.close()
	}
	p.wg.Wait()
	return err
}

var _ transport.Publisher = (*Publisher)(nil)
