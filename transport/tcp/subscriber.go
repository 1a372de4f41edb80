package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pithecene-io/tagstream/log"
	"github.com/pithecene-io/tagstream/transport"
	"github.com/pithecene-io/tagstream/types"
)

// DefaultRedialDelay is the pause between connection attempts.
const DefaultRedialDelay = 500 * time.Millisecond

// SubscriberOptions configures a Subscriber.
type SubscriberOptions struct {
	// RedialDelay is the pause between connection attempts (default 500ms).
	RedialDelay time.Duration
	// DialTimeout bounds a single connection attempt (default 5s).
	DialTimeout time.Duration
	// Logger receives connection events. Nil discards.
	Logger *log.Logger
}

// Subscriber dials a publisher and delivers its messages.
//
// Like a pub/sub socket it connects in the background: construction never
// waits for the publisher, and a dropped connection is redialed silently.
// A missing publisher therefore shows up only as receive timeouts.
type Subscriber struct {
	addr   string
	opts   SubscriberOptions
	logger *log.Logger

	msgs   chan *types.Envelope
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn net.Conn

	wg sync.WaitGroup
}

// Dial starts a subscriber for addr ("host:port" or "tcp://host:port").
func Dial(addr string, opts SubscriberOptions) (*Subscriber, error) {
	hostport := TrimScheme(addr)
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		return nil, fmt.Errorf("tcp subscriber: invalid address %q: %w", addr, err)
	}
	if opts.RedialDelay <= 0 {
		opts.RedialDelay = DefaultRedialDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		addr:   hostport,
		opts:   opts,
		logger: logger,
		msgs:   make(chan *types.Envelope, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *Subscriber) run() {
	defer s.wg.Done()
	dialer := net.Dialer{Timeout: s.opts.DialTimeout}

	for s.ctx.Err() == nil {
		conn, err := dialer.DialContext(s.ctx, "tcp", s.addr)
		if err != nil {
			if !s.sleep(s.opts.RedialDelay) {
				return
			}
			continue
		}
		if !s.setConn(conn) {
			_ = conn.Close()
			return
		}
		s.logger.Debug("connected to publisher", map[string]any{"addr": s.addr})

		err = s.readLoop(conn)
		s.setConn(nil)
		_ = conn.Close()
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Debug("publisher connection lost", map[string]any{"addr": s.addr, "error": errString(err)})
		if !s.sleep(s.opts.RedialDelay) {
			return
		}
	}
}

// readLoop delivers messages until the connection fails. Payloads that do
// not decode are skipped; framing errors end the connection.
func (s *Subscriber) readLoop(conn net.Conn) error {
	dec := transport.NewFrameDecoder(conn)
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			return err
		}
		env, err := transport.Decode(payload)
		if err != nil {
			s.logger.Warn("dropping undecodable message", map[string]any{"error": err.Error()})
			continue
		}
		select {
		case s.msgs <- env:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

func (s *Subscriber) setConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn != nil && s.ctx.Err() != nil {
		return false
	}
	s.conn = conn
	return true
}

func (s *Subscriber) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Receive waits for the next message.
func (s *Subscriber) Receive(ctx context.Context, timeout time.Duration) (*types.Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-s.msgs:
		env.ReceivedAt = time.Now()
		return env, nil
	case <-timer.C:
		return nil, transport.ErrReceiveTimeout
	case <-s.ctx.Done():
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the subscriber, interrupting any blocked read.
func (s *Subscriber) Close() error {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func errString(err error) string {
	if err == nil || errors.Is(err, io.EOF) {
		return "eof"
	}
	return err.Error()
}

var _ transport.Subscriber = (*Subscriber)(nil)
