package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/tagstream/types"
)

func testMeta() *types.Metadata {
	return &types.Metadata{
		Hostname: "edge-01",
		Datetime: "20240115100000.123456",
		Tags: types.TagSet{
			types.TagQRCode: {{{10, 10}, {60, 10}, {60, 60}, {10, 60}}},
			types.TagFace:   {},
		},
	}
}

func gradientFrame(w, h, channels int) *types.Frame {
	f := types.NewFrame(w, h, channels)
	for i := range f.Pix {
		f.Pix[i] = byte(i % 251)
	}
	return f
}

func TestCodec_RawRoundTrip(t *testing.T) {
	codec, err := NewCodec(EncodingRaw, 0)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	meta := testMeta()
	f := gradientFrame(16, 8, 3)

	payload, err := codec.Encode(meta, f)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if env.Metadata.Hostname != meta.Hostname || env.Metadata.Datetime != meta.Datetime {
		t.Errorf("metadata = %+v, want %+v", env.Metadata, *meta)
	}
	qr := env.Metadata.Tags[types.TagQRCode]
	if len(qr) != 1 || qr[0] != meta.Tags[types.TagQRCode][0] {
		t.Errorf("qrcode tags = %v, want %v", qr, meta.Tags[types.TagQRCode])
	}
	if face, ok := env.Metadata.Tags[types.TagFace]; !ok || len(face) != 0 {
		t.Errorf("face tags = %v (present=%v), want empty", face, ok)
	}
	if !bytes.Equal(env.Frame.Pix, f.Pix) || env.Frame.Width != 16 || env.Frame.Height != 8 {
		t.Error("frame pixels or dimensions changed")
	}
}

func TestCodec_JPEGKeepsGeometry(t *testing.T) {
	for _, channels := range []int{1, 3} {
		codec, err := NewCodec(EncodingJPEG, 90)
		if err != nil {
			t.Fatalf("NewCodec failed: %v", err)
		}
		payload, err := codec.Encode(testMeta(), gradientFrame(32, 24, channels))
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		env, err := Decode(payload)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if env.Frame.Width != 32 || env.Frame.Height != 24 || env.Frame.Channels != channels {
			t.Errorf("frame = %dx%dx%d, want 32x24x%d",
				env.Frame.Width, env.Frame.Height, env.Frame.Channels, channels)
		}
	}
}

func TestNewCodec_UnknownEncoding(t *testing.T) {
	if _, err := NewCodec("png", 0); err == nil {
		t.Fatal("NewCodec(png) succeeded, want error")
	}
}

func TestDecode_UnknownMetadataKeys(t *testing.T) {
	meta := []byte(`{"hostname":"h","datetime":"20240115100000.000001","tags":{"qrcode":[]},"firmware":"1.2","extra":{"a":1}}`)
	payload, err := msgpack.Marshal(&Message{
		Meta:  meta,
		Frame: WireFrame{Width: 1, Height: 1, Channels: 1, Depth: 8, Encoding: EncodingRaw, Data: []byte{9}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Metadata.Hostname != "h" {
		t.Errorf("hostname = %q, want h", env.Metadata.Hostname)
	}

	out, err := types.MarshalMetadata(&env.Metadata)
	if err != nil {
		t.Fatalf("MarshalMetadata: %v", err)
	}
	if bytes.Contains(out, []byte("firmware")) || bytes.Contains(out, []byte("extra")) {
		t.Errorf("unknown keys carried past Decode: %s", out)
	}
}

func TestDecode_BadPayload(t *testing.T) {
	_, err := Decode([]byte{0xc1})
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorDecode {
		t.Fatalf("err = %v, want decode FrameError", err)
	}
	if fe.IsFatal() {
		t.Error("decode error reported as fatal")
	}
}

func TestDecode_RejectsInconsistentFrame(t *testing.T) {
	payload, err := msgpack.Marshal(&Message{
		Meta:  []byte(`{"hostname":"h","datetime":"x","tags":{}}`),
		Frame: WireFrame{Width: 4, Height: 4, Channels: 3, Depth: 8, Encoding: EncodingRaw, Data: []byte{1, 2}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Decode(payload); err == nil {
		t.Fatal("Decode accepted a short pixel buffer")
	}
}

func TestFrameDecoder_Stream(t *testing.T) {
	var stream bytes.Buffer
	for _, p := range [][]byte{[]byte("one"), []byte("two"), {}} {
		framed, err := AppendFrame(p)
		if err != nil {
			t.Fatalf("AppendFrame failed: %v", err)
		}
		stream.Write(framed)
	}

	dec := NewFrameDecoder(&stream)
	for _, want := range []string{"one", "two", ""} {
		got, err := dec.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if string(got) != want {
			t.Errorf("payload = %q, want %q", got, want)
		}
	}
	if _, err := dec.ReadFrame(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestFrameDecoder_Errors(t *testing.T) {
	tooLarge := make([]byte, LengthPrefixSize)
	binary.BigEndian.PutUint32(tooLarge, MaxPayloadSize+1)

	truncated := make([]byte, LengthPrefixSize+2)
	binary.BigEndian.PutUint32(truncated, 10)

	tests := []struct {
		name string
		data []byte
		kind FrameErrorKind
	}{
		{"partial prefix", []byte{0, 0}, FrameErrorPartial},
		{"too large", tooLarge, FrameErrorTooLarge},
		{"truncated payload", truncated, FrameErrorPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameDecoder(bytes.NewReader(tt.data)).ReadFrame()
			var fe *FrameError
			if !errors.As(err, &fe) || fe.Kind != tt.kind {
				t.Fatalf("err = %v, want kind %d", err, tt.kind)
			}
			if !IsFatalFrameError(err) {
				t.Error("framing error not reported as fatal")
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(""); err != nil || k != KindTCP {
		t.Errorf("ParseKind(\"\") = %v, %v", k, err)
	}
	if k, err := ParseKind("redis"); err != nil || k != KindRedis {
		t.Errorf("ParseKind(redis) = %v, %v", k, err)
	}
	if _, err := ParseKind("zmq"); err == nil {
		t.Error("ParseKind(zmq) succeeded")
	}
}
