package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/tagstream/notify"
	"github.com/pithecene-io/tagstream/types"
)

func testEvent() *notify.DetectionEvent {
	meta := &types.Metadata{Hostname: "edge-01", Datetime: "20240115100000.500000", Seq: 2}
	poly := types.Polygon{{1, 1}, {5, 1}, {5, 5}, {1, 5}}
	return notify.NewEvent(meta, map[string][]types.Polygon{types.TagFace: {poly}}, time.Unix(0, 0))
}

// asyncReceive reads one message in the background. It must be started
// before Notify: miniredis delivers pub/sub messages synchronously.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func TestNotify_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)

	n, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 0})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = n.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := asyncReceive(sub)

	if err := n.Notify(t.Context(), testEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case msg := <-ch:
		var got notify.DetectionEvent
		if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Hostname != "edge-01" || got.Counts[types.TagFace] != 1 {
			t.Errorf("event = %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
	}
}

func TestNotify_CustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := New(Config{URL: "redis://" + mr.Addr(), Channel: "alerts"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = n.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe("alerts")
	ch := asyncReceive(sub)

	if err := n.Notify(t.Context(), testEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case msg := <-ch:
		if msg.Channel != "alerts" {
			t.Errorf("channel = %q", msg.Channel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
	}
}

func TestNotify_FailsWhenServerDown(t *testing.T) {
	n, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 1, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = n.Close() }()

	if err := n.Notify(t.Context(), testEvent()); err == nil {
		t.Error("expected error with server down")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty url", Config{}},
		{"bad url", Config{URL: "http://nope"}},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
