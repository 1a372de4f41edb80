package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/types"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []*DetectionEvent
	fail   error
	closed bool
}

func (n *recordingNotifier) Notify(_ context.Context, e *DetectionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

var square = types.Polygon{{0, 0}, {4, 0}, {4, 4}, {0, 4}}

func env(seq uint64, tags types.TagSet) *types.Envelope {
	return &types.Envelope{Metadata: types.Metadata{
		Hostname: "edge-01",
		Datetime: "20240115100000.500000",
		Seq:      seq,
		Tags:     tags,
	}}
}

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func TestDispatcher_SuppressesWithinInterval(t *testing.T) {
	n := &recordingNotifier{}
	clock := &manualClock{t: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
	m := metrics.NewCollector("stream", "h", "tcp", "")
	d, err := NewDispatcher(n, DispatcherConfig{MinInterval: 10 * time.Second, Now: clock.now, Metrics: m})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}

	ctx := t.Context()
	_ = d.Observe(ctx, env(1, types.TagSet{types.TagQRCode: {square}, types.TagFace: {}}))
	clock.t = clock.t.Add(3 * time.Second)
	_ = d.Observe(ctx, env(2, types.TagSet{types.TagQRCode: {square}, types.TagPlate: {square}}))
	clock.t = clock.t.Add(8 * time.Second)
	_ = d.Observe(ctx, env(3, types.TagSet{types.TagQRCode: {square}}))
	_ = d.Observe(ctx, env(4, types.TagSet{types.TagFace: {}}))

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !n.closed {
		t.Error("notifier not closed")
	}

	if len(n.events) != 3 {
		t.Fatalf("sent %d events, want 3", len(n.events))
	}
	if _, ok := n.events[0].Detections[types.TagFace]; ok {
		t.Error("empty detector included in event")
	}
	if _, ok := n.events[1].Detections[types.TagQRCode]; ok {
		t.Error("qrcode not suppressed within interval")
	}
	if n.events[1].Counts[types.TagPlate] != 1 {
		t.Errorf("event 2 counts = %v", n.events[1].Counts)
	}
	if n.events[2].Seq != 3 || n.events[2].EventType != EventTypeDetection {
		t.Errorf("event 3 = %+v", n.events[2])
	}

	s := m.Snapshot()
	if s.NotifySent != 3 || s.NotifySuppressed != 1 {
		t.Errorf("sent=%d suppressed=%d, want 3 and 1", s.NotifySent, s.NotifySuppressed)
	}
}

func TestDispatcher_FailuresCounted(t *testing.T) {
	n := &recordingNotifier{fail: errors.New("endpoint down")}
	m := metrics.NewCollector("stream", "h", "tcp", "")
	d, err := NewDispatcher(n, DispatcherConfig{MinInterval: -1, Metrics: m})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	for seq := uint64(1); seq <= 2; seq++ {
		if err := d.Observe(t.Context(), env(seq, types.TagSet{types.TagFace: {square}})); err != nil {
			t.Errorf("Observe returned %v, want nil", err)
		}
	}
	_ = d.Close()

	if got := m.Snapshot().NotifyFailed; got != 2 {
		t.Errorf("NotifyFailed = %d, want 2", got)
	}
	if err := d.Observe(t.Context(), env(3, types.TagSet{types.TagFace: {square}})); err != nil {
		t.Errorf("Observe after Close = %v", err)
	}
}

func TestNewEvent(t *testing.T) {
	meta := &types.Metadata{Hostname: "h", Datetime: "20240115100000.000000", FrameID: "f", Seq: 9}
	e := NewEvent(meta, map[string][]types.Polygon{types.TagPlate: {square, square}}, time.Unix(0, 0))
	if e.Version != types.Version || e.Counts[types.TagPlate] != 2 || e.Timestamp != "1970-01-01T00:00:00Z" {
		t.Errorf("event = %+v", e)
	}
}

func TestNewDispatcher_RequiresNotifier(t *testing.T) {
	if _, err := NewDispatcher(nil, DispatcherConfig{}); err == nil {
		t.Error("NewDispatcher(nil) succeeded")
	}
}
