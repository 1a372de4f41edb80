package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/tagstream/transport"
	"github.com/pithecene-io/tagstream/types"
)

func testMeta() *types.Metadata {
	return &types.Metadata{
		Hostname: "edge-01",
		Datetime: "20240115100000.000000",
		Tags: types.TagSet{
			types.TagQRCode: {{{1, 1}, {5, 1}, {5, 5}, {1, 5}}},
		},
	}
}

func TestNewPublisher_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{}},
		{"bad url", Config{URL: "http://nope"}},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPublisher(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Config{URL: "redis://" + mr.Addr(), Retries: 0}

	sub, err := NewSubscriber(t.Context(), cfg)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer func() { _ = sub.Close() }()

	pub, err := NewPublisher(cfg)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer func() { _ = pub.Close() }()

	f := types.NewFrame(3, 2, 3)
	f.Pix[0] = 77
	if err := pub.Send(t.Context(), testMeta(), f); err != nil {
		t.Fatalf("Send: %v", err)
	}

	env, err := sub.Receive(t.Context(), 5*time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if env.Metadata.Hostname != "edge-01" {
		t.Errorf("hostname = %q, want edge-01", env.Metadata.Hostname)
	}
	if got := env.Metadata.Tags[types.TagQRCode]; len(got) != 1 {
		t.Errorf("qrcode tags = %v, want 1 polygon", got)
	}
	if env.Frame.Width != 3 || env.Frame.Height != 2 || env.Frame.Pix[0] != 77 {
		t.Errorf("frame = %dx%d pix0=%d", env.Frame.Width, env.Frame.Height, env.Frame.Pix[0])
	}
}

func TestSubscriber_ReceiveTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	sub, err := NewSubscriber(t.Context(), Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer func() { _ = sub.Close() }()

	start := time.Now()
	_, err = sub.Receive(t.Context(), 100*time.Millisecond)
	if !errors.Is(err, transport.ErrReceiveTimeout) {
		t.Fatalf("err = %v, want ErrReceiveTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Receive blocked %v", elapsed)
	}
}

func TestSubscriber_ReceiveAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	sub, err := NewSubscriber(t.Context(), Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	_ = sub.Close()

	if _, err := sub.Receive(t.Context(), time.Second); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestPublish_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	pub, err := NewPublisher(Config{URL: "redis://" + addr, Retries: 1, Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer func() { _ = pub.Close() }()

	err = pub.Send(t.Context(), testMeta(), types.NewFrame(1, 1, 1))
	if err == nil {
		t.Fatal("Send succeeded against a stopped server")
	}
}
