package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/tagstream/iox"
	"github.com/pithecene-io/tagstream/notify"
	"github.com/pithecene-io/tagstream/types"
)

func testEvent() *notify.DetectionEvent {
	meta := &types.Metadata{Hostname: "edge-01", Datetime: "20240115100000.500000", Seq: 2}
	poly := types.Polygon{{10, 10}, {60, 10}, {60, 60}, {10, 60}}
	return notify.NewEvent(meta, map[string][]types.Polygon{types.TagQRCode: {poly}}, time.Unix(1700000000, 0))
}

func TestNotify_Success(t *testing.T) {
	var received notify.DetectionEvent
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	n, err := New(Config{URL: ts.URL, Retries: 0, Headers: map[string]string{"Authorization": "Bearer token"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(n)

	if err := n.Notify(t.Context(), testEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.Hostname != "edge-01" || received.EventType != notify.EventTypeDetection {
		t.Errorf("received = %+v", received)
	}
	if polys := received.Detections[types.TagQRCode]; len(polys) != 1 || polys[0][2] != (types.Point{60, 60}) {
		t.Errorf("detections = %v", received.Detections)
	}
}

func TestNotify_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n, _ := New(Config{URL: ts.URL, Retries: 3, BaseBackoff: time.Millisecond})
	defer iox.DiscardClose(n)

	if err := n.Notify(t.Context(), testEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestNotify_4xxNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	n, _ := New(Config{URL: ts.URL, Retries: 3, BaseBackoff: time.Millisecond})
	defer iox.DiscardClose(n)

	err := n.Notify(t.Context(), testEvent())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("err = %v, want StatusError 422", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestNotify_ExhaustsRetries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	n, _ := New(Config{URL: ts.URL, Retries: 2, BaseBackoff: time.Millisecond})
	defer iox.DiscardClose(n)

	if err := n.Notify(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestNotify_CanceledDuringBackoff(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	n, _ := New(Config{URL: ts.URL, Retries: 5, BaseBackoff: time.Hour})
	defer iox.DiscardClose(n)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	if err := n.Notify(ctx, testEvent()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without URL succeeded")
	}
	if _, err := New(Config{URL: "http://x", Retries: -1}); err == nil {
		t.Error("New with negative retries succeeded")
	}
}
