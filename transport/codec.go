package transport

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/tagstream/types"
)

// Encoding names the pixel encoding of a WireFrame.
type Encoding string

// Supported frame encodings.
const (
	EncodingRaw  Encoding = "raw"
	EncodingJPEG Encoding = "jpeg"
)

// DefaultJPEGQuality is used when a codec asks for JPEG without a quality.
const DefaultJPEGQuality = 85

// WireFrame carries frame pixels plus the header needed to rebuild them.
type WireFrame struct {
	Width    int      `msgpack:"width"`
	Height   int      `msgpack:"height"`
	Channels int      `msgpack:"channels"`
	Depth    int      `msgpack:"depth"`
	Encoding Encoding `msgpack:"encoding"`
	Data     []byte   `msgpack:"data"`
}

// Message is one transport payload: the JSON metadata record plus the
// frame. Decode tolerates unknown metadata keys but does not keep them.
type Message struct {
	Meta  []byte    `msgpack:"meta"`
	Frame WireFrame `msgpack:"frame"`
}

// Codec converts between envelopes and msgpack payloads.
type Codec struct {
	Encoding Encoding
	Quality  int
}

// NewCodec validates the encoding and returns a codec. Empty selects raw.
func NewCodec(enc Encoding, quality int) (*Codec, error) {
	switch enc {
	case "":
		enc = EncodingRaw
	case EncodingRaw, EncodingJPEG:
	default:
		return nil, fmt.Errorf("unknown wire encoding %q (want raw or jpeg)", enc)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Codec{Encoding: enc, Quality: quality}, nil
}

// Encode serializes meta and f into a msgpack payload.
func (c *Codec) Encode(meta *types.Metadata, f *types.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	metaJSON, err := types.MarshalMetadata(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	wf, err := c.EncodeFrame(f)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(&Message{Meta: metaJSON, Frame: *wf})
}

// EncodeFrame converts f to its wire form.
func (c *Codec) EncodeFrame(f *types.Frame) (*WireFrame, error) {
	wf := &WireFrame{
		Width:    f.Width,
		Height:   f.Height,
		Channels: f.Channels,
		Depth:    types.Depth,
		Encoding: c.Encoding,
	}
	switch c.Encoding {
	case EncodingJPEG:
		data, err := EncodeJPEG(f, c.Quality)
		if err != nil {
			return nil, err
		}
		wf.Data = data
	default:
		wf.Encoding = EncodingRaw
		wf.Data = f.Pix
	}
	return wf, nil
}

// Decode parses a msgpack payload into an envelope.
// Decoding failures are reported as *FrameError with Kind FrameErrorDecode.
func Decode(payload []byte) (*types.Envelope, error) {
	var msg Message
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode message", Err: err}
	}
	meta, err := types.UnmarshalMetadata(msg.Meta)
	if err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode metadata", Err: err}
	}
	f, err := DecodeFrame(&msg.Frame)
	if err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode frame", Err: err}
	}
	return &types.Envelope{Metadata: *meta, Frame: f}, nil
}

// DecodeFrame rebuilds a frame from its wire form.
func DecodeFrame(wf *WireFrame) (*types.Frame, error) {
	if wf.Depth != 0 && wf.Depth != types.Depth {
		return nil, fmt.Errorf("unsupported sample depth %d", wf.Depth)
	}

	var f *types.Frame
	switch wf.Encoding {
	case EncodingRaw, "":
		f = &types.Frame{Width: wf.Width, Height: wf.Height, Channels: wf.Channels, Pix: wf.Data}
	case EncodingJPEG:
		img, err := jpeg.Decode(bytes.NewReader(wf.Data))
		if err != nil {
			return nil, fmt.Errorf("jpeg: %w", err)
		}
		f = types.FrameFromImage(img, wf.Channels)
	default:
		return nil, fmt.Errorf("unknown encoding %q", wf.Encoding)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// EncodeJPEG compresses f as a baseline JPEG.
func EncodeJPEG(f *types.Frame, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteJPEG(&buf, f.Image(), quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJPEG encodes img to w.
func WriteJPEG(w io.Writer, img image.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("jpeg encode: %w", err)
	}
	return nil
}
