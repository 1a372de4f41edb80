package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// DatetimeLayout is the wire timestamp layout: YYYYMMDDHHMMSS.microseconds.
const DatetimeLayout = "20060102150405.000000"

// FormatDatetime renders t in the wire timestamp layout (local time).
func FormatDatetime(t time.Time) string {
	return t.Format(DatetimeLayout)
}

// ParseDatetime parses a wire timestamp in the local time zone.
func ParseDatetime(s string) (time.Time, error) {
	return time.ParseInLocation(DatetimeLayout, s, time.Local)
}

// Metadata is the JSON wire record that travels with every frame.
//
// Hostname, Datetime and Tags form the stable record. FrameID and Seq are
// additive keys; consumers ignore keys they do not know and must not
// require them.
type Metadata struct {
	Hostname string `json:"hostname"`
	Datetime string `json:"datetime"`
	Tags     TagSet `json:"tags"`
	FrameID  string `json:"frame_id,omitempty"`
	Seq      uint64 `json:"seq,omitempty"`
}

// MarshalMetadata encodes the wire record.
// A nil TagSet is encoded as an empty object.
func MarshalMetadata(m *Metadata) ([]byte, error) {
	out := *m
	if out.Tags == nil {
		out.Tags = TagSet{}
	}
	return json.Marshal(&out)
}

// UnmarshalMetadata decodes the wire record.
// Unknown keys are ignored; missing detector keys stay missing.
func UnmarshalMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if m.Tags == nil {
		m.Tags = TagSet{}
	}
	return &m, nil
}

// Envelope is one metadata record paired with exactly one frame.
type Envelope struct {
	Metadata Metadata
	Frame    *Frame
	// ReceivedAt is set by the consuming side when the envelope leaves the
	// transport. Zero on the producing side.
	ReceivedAt time.Time
}
