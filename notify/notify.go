// Package notify publishes detection events to downstream systems.
//
// A Dispatcher observes published envelopes, applies a per-detector minimum
// interval, and hands the surviving events to a Notifier on its own
// goroutine so slow endpoints never stall the capture loop.
package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pithecene-io/tagstream/log"
	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/types"
)

// EventTypeDetection is the event_type of every DetectionEvent.
const EventTypeDetection = "detection"

// DetectionEvent is the payload sent when a frame carries detections.
type DetectionEvent struct {
	Version    string                     `json:"version"`
	EventType  string                     `json:"event_type"`
	Hostname   string                     `json:"hostname"`
	Datetime   string                     `json:"datetime"`
	FrameID    string                     `json:"frame_id,omitempty"`
	Seq        uint64                     `json:"seq,omitempty"`
	Detections map[string][]types.Polygon `json:"detections"`
	Counts     map[string]int             `json:"counts"`
	Timestamp  string                     `json:"timestamp"`
}

// Notifier delivers detection events.
type Notifier interface {
	// Notify must respect context cancellation and deadlines.
	Notify(ctx context.Context, event *DetectionEvent) error
	Close() error
}

// Defaults for DispatcherConfig.
const (
	DefaultMinInterval = 10 * time.Second
	DefaultQueueSize   = 16
	DefaultSendTimeout = 30 * time.Second
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// MinInterval suppresses a detector's notifications for this long after
	// it was last notified. Negative disables suppression.
	MinInterval time.Duration
	// QueueSize bounds pending events; when full new events are dropped.
	QueueSize int
	// SendTimeout bounds one Notify call including its retries.
	SendTimeout time.Duration
	Logger      *log.Logger
	Metrics     *metrics.Collector
	Now         func() time.Time
}

// Dispatcher rate-limits and delivers detection events.
type Dispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig
	logger   *log.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	closed   bool

	queue chan *DetectionEvent
	done  chan struct{}
}

// NewDispatcher starts a dispatcher over n.
func NewDispatcher(n Notifier, cfg DispatcherConfig) (*Dispatcher, error) {
	if n == nil {
		return nil, errors.New("dispatcher requires a notifier")
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	d := &Dispatcher{
		notifier: n,
		cfg:      cfg,
		logger:   logger,
		lastSent: make(map[string]time.Time),
		queue:    make(chan *DetectionEvent, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	go d.run()
	return d, nil
}

// Observe queues an event for env's detections that are not suppressed.
// It never blocks on delivery.
func (d *Dispatcher) Observe(_ context.Context, env *types.Envelope) error {
	now := d.cfg.Now()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	detections := make(map[string][]types.Polygon)
	for _, name := range sortedKeys(env.Metadata.Tags) {
		polys := env.Metadata.Tags[name]
		if len(polys) == 0 {
			continue
		}
		if last, ok := d.lastSent[name]; ok && d.cfg.MinInterval > 0 && now.Sub(last) < d.cfg.MinInterval {
			d.cfg.Metrics.IncNotifySuppressed()
			continue
		}
		d.lastSent[name] = now
		detections[name] = polys
	}
	if len(detections) == 0 {
		d.mu.Unlock()
		return nil
	}

	event := NewEvent(&env.Metadata, detections, now)
	select {
	case d.queue <- event:
	default:
		d.cfg.Metrics.IncNotifyFailed()
		d.logger.Warn("notification queue full, event dropped", map[string]any{
			"stage":    "notify",
			"datetime": env.Metadata.Datetime,
		})
	}
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		err := d.notifier.Notify(ctx, event)
		cancel()
		if err != nil {
			d.cfg.Metrics.IncNotifyFailed()
			d.logger.Error("notification failed", map[string]any{
				"stage":    "notify",
				"datetime": event.Datetime,
				"error":    err.Error(),
			})
			continue
		}
		d.cfg.Metrics.IncNotifySent()
	}
}

// Close delivers queued events, then closes the notifier.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return d.notifier.Close()
}

// NewEvent builds the event payload for meta's detections.
func NewEvent(meta *types.Metadata, detections map[string][]types.Polygon, now time.Time) *DetectionEvent {
	counts := make(map[string]int, len(detections))
	for name, polys := range detections {
		counts[name] = len(polys)
	}
	return &DetectionEvent{
		Version:    types.Version,
		EventType:  EventTypeDetection,
		Hostname:   meta.Hostname,
		Datetime:   meta.Datetime,
		FrameID:    meta.FrameID,
		Seq:        meta.Seq,
		Detections: detections,
		Counts:     counts,
		Timestamp:  now.UTC().Format(time.RFC3339),
	}
}

func sortedKeys(tags types.TagSet) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
