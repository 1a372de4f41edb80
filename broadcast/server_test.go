package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/ringbuf"
	"github.com/pithecene-io/tagstream/types"
)

func envelope(width int) *types.Envelope {
	return &types.Envelope{
		Metadata: types.Metadata{
			Hostname: "edge-01",
			Datetime: "20240115100000.000000",
			Tags:     types.TagSet{types.TagQRCode: {{{1, 1}, {5, 1}, {5, 5}, {1, 5}}}},
		},
		Frame: types.NewFrame(width, 8, 3),
	}
}

func newTestServer(t *testing.T, ring *ringbuf.Ring[*types.Envelope], m *metrics.Collector) *httptest.Server {
	t.Helper()
	s, err := New(Config{Ring: ring, Metrics: m, Annotate: true, IdleWait: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestVideoFeed_ServesNewestFirst(t *testing.T) {
	ring := ringbuf.New[*types.Envelope](8)
	for _, w := range []int{16, 24, 32} {
		ring.Push(envelope(w))
	}
	m := metrics.NewCollector("serve", "h", "tcp", "")
	ts := newTestServer(t, ring, m)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/video_feed", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /video_feed: %v", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] != Boundary {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	mr := multipart.NewReader(resp.Body, Boundary)
	for _, wantWidth := range []int{32, 24} {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("NextPart: %v", err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part Content-Type = %q", ct)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("read part: %v", err)
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode part: %v", err)
		}
		if got := img.Bounds().Dx(); got != wantWidth {
			t.Errorf("part width = %d, want %d", got, wantWidth)
		}
	}
	cancel()

	if s := m.Snapshot(); s.FramesServed < 2 || s.RingPops < 2 {
		t.Errorf("served=%d pops=%d, want at least 2", s.FramesServed, s.RingPops)
	}
}

func TestVideoFeed_WaitsOnEmptyRing(t *testing.T) {
	ring := ringbuf.New[*types.Envelope](2)
	ts := newTestServer(t, ring, nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/video_feed", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /video_feed: %v", err)
	}
	defer resp.Body.Close()

	// The client stays connected through an empty ring and gets the frame
	// once it arrives.
	time.Sleep(50 * time.Millisecond)
	ring.Push(envelope(40))
	ring.Push(envelope(48))

	mr := multipart.NewReader(resp.Body, Boundary)
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("NextPart: %v", err)
	}
	if part.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("part header = %v", part.Header)
	}
}

func TestWebSocket_MetadataThenJPEG(t *testing.T) {
	ring := ringbuf.New[*types.Envelope](2)
	m := metrics.NewCollector("serve", "h", "tcp", "")
	ts := newTestServer(t, ring, m)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	ring.Push(envelope(20))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil || kind != websocket.TextMessage {
		t.Fatalf("first message kind=%d err=%v", kind, err)
	}
	meta, err := types.UnmarshalMetadata(data)
	if err != nil {
		t.Fatalf("UnmarshalMetadata: %v", err)
	}
	if meta.Hostname != "edge-01" || len(meta.Tags[types.TagQRCode]) != 1 {
		t.Errorf("metadata = %+v", meta)
	}

	kind, data, err = conn.ReadMessage()
	if err != nil || kind != websocket.BinaryMessage {
		t.Fatalf("second message kind=%d err=%v", kind, err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 20 {
		t.Errorf("width = %d, want 20", img.Bounds().Dx())
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Snapshot().ClientsConnected != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.Snapshot().ClientsConnected; got != 1 {
		t.Errorf("ClientsConnected = %d, want 1", got)
	}
}

func TestStatsAndHealth(t *testing.T) {
	ring := ringbuf.New[*types.Envelope](3)
	ring.Push(envelope(8))
	m := metrics.NewCollector("serve", "edge-01", "redis", "sess")
	m.IncFramesReceived()
	ts := newTestServer(t, ring, m)

	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()
	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if snap.FramesReceived != 1 || snap.Hostname != "edge-01" || snap.Transport != "redis" {
		t.Errorf("stats = %+v", snap)
	}

	resp2, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp2.Body.Close()
	var health struct {
		Status   string `json:"status"`
		Buffered int    `json:"buffered"`
		Capacity int    `json:"capacity"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Buffered != 1 || health.Capacity != 3 {
		t.Errorf("health = %+v", health)
	}
}

func TestIndex(t *testing.T) {
	ts := newTestServer(t, ringbuf.New[*types.Envelope](1), nil)
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `src="/video_feed"`) {
		t.Error("viewer page does not embed the feed")
	}
}

func TestNew_RequiresRing(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without ring succeeded")
	}
}
