// Package metrics provides process-lifetime counters for capture and consumer
// nodes.
//
// The Collector is a leaf package with no internal dependencies. Every
// increment method is nil-receiver safe so components can be built without
// metrics in tests.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Served as JSON by GET /stats.
type Snapshot struct {
	// Capture node
	FramesCaptured   int64 `json:"frames_captured"`
	FramesPublished  int64 `json:"frames_published"`
	FramesDropped    int64 `json:"frames_dropped"`
	TransformErrors  int64 `json:"transform_errors"`
	PublishErrors    int64 `json:"publish_errors"`
	SourceReconnects int64 `json:"source_reconnects"`

	CaptureState     string `json:"capture_state,omitempty"`

	// Tagging
	DetectorFailures map[string]int64         `json:"detector_failures"`
	TagsDetected     map[string]int64         `json:"tags_detected"`
	DetectorLatency  map[string]LatencyReport `json:"detector_latency"`

	// Consumer node
	FramesReceived    int64 `json:"frames_received"`
	BridgeTimeouts    int64 `json:"bridge_timeouts"`
	BridgeReconnects  int64 `json:"bridge_reconnects"`
	MailboxOverwrites int64 `json:"mailbox_overwrites"`
	RingPushes        int64 `json:"ring_pushes"`
	RingEvictions     int64 `json:"ring_evictions"`
	RingPops          int64 `json:"ring_pops"`
	FramesServed      int64 `json:"frames_served"`
	ClientsConnected  int64 `json:"clients_connected"`
	ClientsTotal      int64 `json:"clients_total"`

	// Journal / notifications
	JournalWriteSuccess   int64 `json:"journal_write_success"`
	JournalWriteFailure   int64 `json:"journal_write_failure"`
	JournalRecordsDropped int64 `json:"journal_records_dropped"`
	NotifySent            int64 `json:"notify_sent"`
	NotifyFailed          int64 `json:"notify_failed"`
	NotifySuppressed      int64 `json:"notify_suppressed"`

	// Dimensions (informational, set at construction)
	Node          string    `json:"node"`
	Hostname      string    `json:"hostname"`
	Transport     string    `json:"transport"`
	SessionID     string    `json:"session_id"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// LatencyReport summarizes one detector's invocation times.
type LatencyReport struct {
	Calls  int64   `json:"calls"`
	LastMS float64 `json:"last_ms"`
	AvgMS  float64 `json:"avg_ms"`
	MaxMS  float64 `json:"max_ms"`
}

type latency struct {
	calls int64
	last  time.Duration
	total time.Duration
	max   time.Duration
}

func (l latency) report() LatencyReport {
	r := LatencyReport{Calls: l.calls, LastMS: millis(l.last), MaxMS: millis(l.max)}
	if l.calls > 0 {
		r.AvgMS = millis(l.total / time.Duration(l.calls))
	}
	return r
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// Collector accumulates counters for the lifetime of a node.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	framesCaptured   int64
	framesPublished  int64
	framesDropped    int64
	transformErrors  int64
	publishErrors    int64
	sourceReconnects int64
	captureState     string

	detectorFailures map[string]int64
	tagsDetected     map[string]int64
	detectorLatency  map[string]latency

	framesReceived    int64
	bridgeTimeouts    int64
	bridgeReconnects  int64
	mailboxOverwrites int64
	ringPushes        int64
	ringEvictions     int64
	ringPops          int64
	framesServed      int64
	clientsConnected  int64
	clientsTotal      int64

	journalWriteSuccess   int64
	journalWriteFailure   int64
	journalRecordsDropped int64
	notifySent            int64
	notifyFailed          int64
	notifySuppressed      int64

	node      string
	hostname  string
	transport string
	sessionID string
	startedAt time.Time
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(node, hostname, transport, sessionID string) *Collector {
	return &Collector{
		detectorFailures: make(map[string]int64),
		tagsDetected:     make(map[string]int64),
		detectorLatency:  make(map[string]latency),
		node:             node,
		hostname:         hostname,
		transport:        transport,
		sessionID:        sessionID,
		startedAt:        time.Now(),
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Capture ---

// IncFramesCaptured records a frame read from the source.
func (c *Collector) IncFramesCaptured() {
	if c == nil {
		return
	}
	c.add(&c.framesCaptured, 1)
}

// IncFramesPublished records a frame handed to the transport.
func (c *Collector) IncFramesPublished() {
	if c == nil {
		return
	}
	c.add(&c.framesPublished, 1)
}

// IncFramesDropped records a captured frame that was never published.
func (c *Collector) IncFramesDropped() {
	if c == nil {
		return
	}
	c.add(&c.framesDropped, 1)
}

// IncTransformErrors records a transform failure.
func (c *Collector) IncTransformErrors() {
	if c == nil {
		return
	}
	c.add(&c.transformErrors, 1)
}

// IncPublishErrors records a failed publish.
func (c *Collector) IncPublishErrors() {
	if c == nil {
		return
	}
	c.add(&c.publishErrors, 1)
}

// IncSourceReconnects records a successful source re-acquisition.
func (c *Collector) IncSourceReconnects() {
	if c == nil {
		return
	}
	c.add(&c.sourceReconnects, 1)
}

// SetCaptureState records the capture loop's current state.
func (c *Collector) SetCaptureState(state string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.captureState = state
	c.mu.Unlock()
}

// --- Tagging ---

// ObserveDetectorLatency records one invocation time of the named detector.
func (c *Collector) ObserveDetectorLatency(name string, d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	l := c.detectorLatency[name]
	l.calls++
	l.last = d
	l.total += d
	l.max = max(l.max, d)
	c.detectorLatency[name] = l
	c.mu.Unlock()
}

// IncDetectorFailure records a failed invocation of the named detector.
func (c *Collector) IncDetectorFailure(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.detectorFailures[name]++
	c.mu.Unlock()
}

// AddTagsDetected records polygons found per detector in one frame.
func (c *Collector) AddTagsDetected(counts map[string]int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	for name, n := range counts {
		c.tagsDetected[name] += int64(n)
	}
	c.mu.Unlock()
}

// --- Consumer ---

// IncFramesReceived records an envelope taken from the bridge.
func (c *Collector) IncFramesReceived() {
	if c == nil {
		return
	}
	c.add(&c.framesReceived, 1)
}

// IncBridgeTimeouts records a subscriber bridge receive timeout.
func (c *Collector) IncBridgeTimeouts() {
	if c == nil {
		return
	}
	c.add(&c.bridgeTimeouts, 1)
}

// IncBridgeReconnects records a bridge rebuilt after a timeout.
func (c *Collector) IncBridgeReconnects() {
	if c == nil {
		return
	}
	c.add(&c.bridgeReconnects, 1)
}

// IncMailboxOverwrites records an unread envelope replaced by a newer one.
func (c *Collector) IncMailboxOverwrites() {
	if c == nil {
		return
	}
	c.add(&c.mailboxOverwrites, 1)
}

// IncRingPush records a ring push and whether it evicted.
func (c *Collector) IncRingPush(evicted bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ringPushes++
	if evicted {
		c.ringEvictions++
	}
	c.mu.Unlock()
}

// IncRingPops records an envelope popped by a broadcast client.
func (c *Collector) IncRingPops() {
	if c == nil {
		return
	}
	c.add(&c.ringPops, 1)
}

// IncFramesServed records a frame written to a broadcast client.
func (c *Collector) IncFramesServed() {
	if c == nil {
		return
	}
	c.add(&c.framesServed, 1)
}

// ClientConnected records a broadcast client joining.
func (c *Collector) ClientConnected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.clientsConnected++
	c.clientsTotal++
	c.mu.Unlock()
}

// ClientDisconnected records a broadcast client leaving.
func (c *Collector) ClientDisconnected() {
	if c == nil {
		return
	}
	c.add(&c.clientsConnected, -1)
}

// --- Journal / notifications ---

// IncJournalWriteSuccess records a successful journal flush (per call).
func (c *Collector) IncJournalWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.journalWriteSuccess, 1)
}

// IncJournalWriteFailure records a failed journal flush (per call).
func (c *Collector) IncJournalWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.journalWriteFailure, 1)
}

// AddJournalRecordsDropped records journal records discarded past the
// retention bound.
func (c *Collector) AddJournalRecordsDropped(n int) {
	if c == nil || n == 0 {
		return
	}
	c.add(&c.journalRecordsDropped, int64(n))
}

// IncNotifySent records a delivered detection notification.
func (c *Collector) IncNotifySent() {
	if c == nil {
		return
	}
	c.add(&c.notifySent, 1)
}

// IncNotifyFailed records a notification that could not be delivered.
func (c *Collector) IncNotifyFailed() {
	if c == nil {
		return
	}
	c.add(&c.notifyFailed, 1)
}

// IncNotifySuppressed records a notification skipped by the rate limit.
func (c *Collector) IncNotifySuppressed() {
	if c == nil {
		return
	}
	c.add(&c.notifySuppressed, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		FramesCaptured:   c.framesCaptured,
		FramesPublished:  c.framesPublished,
		FramesDropped:    c.framesDropped,
		TransformErrors:  c.transformErrors,
		PublishErrors:    c.publishErrors,
		SourceReconnects: c.sourceReconnects,
		CaptureState:     c.captureState,

		DetectorFailures: copyMap(c.detectorFailures),
		TagsDetected:     copyMap(c.tagsDetected),
		DetectorLatency:  latencyReports(c.detectorLatency),

		FramesReceived:    c.framesReceived,
		BridgeTimeouts:    c.bridgeTimeouts,
		BridgeReconnects:  c.bridgeReconnects,
		MailboxOverwrites: c.mailboxOverwrites,
		RingPushes:        c.ringPushes,
		RingEvictions:     c.ringEvictions,
		RingPops:          c.ringPops,
		FramesServed:      c.framesServed,
		ClientsConnected:  c.clientsConnected,
		ClientsTotal:      c.clientsTotal,

		JournalWriteSuccess:   c.journalWriteSuccess,
		JournalWriteFailure:   c.journalWriteFailure,
		JournalRecordsDropped: c.journalRecordsDropped,
		NotifySent:            c.notifySent,
		NotifyFailed:          c.notifyFailed,
		NotifySuppressed:      c.notifySuppressed,

		Node:          c.node,
		Hostname:      c.hostname,
		Transport:     c.transport,
		SessionID:     c.sessionID,
		StartedAt:     c.startedAt,
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func latencyReports(m map[string]latency) map[string]LatencyReport {
	out := make(map[string]LatencyReport, len(m))
	for k, v := range m {
		out[k] = v.report()
	}
	return out
}
