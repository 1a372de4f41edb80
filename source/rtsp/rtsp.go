// Package rtsp reads frames from a network stream (RTSP, HTTP or file URI)
// through a GStreamer uridecodebin pipeline. It registers the "netstream"
// source kind. Builds without the gst tag register a placeholder that fails
// at startup.
package rtsp

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the registered source name.
const Kind = "netstream"

const (
	defaultWidth  = 640
	defaultHeight = 480
)

// ErrUnavailable is returned when the binary was built without GStreamer.
var ErrUnavailable = errors.New("network stream source requires a build with -tags gst")

// pipelineDesc builds the launch line: decode any URI, convert to packed
// RGB at a fixed size, and keep only the newest buffer at the sink.
func pipelineDesc(uri string, width, height, fps int) (string, error) {
	if uri == "" {
		return "", errors.New("network stream source requires a URI")
	}
	if !strings.Contains(uri, "://") {
		return "", fmt.Errorf("invalid stream URI %q", uri)
	}
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}

	var b strings.Builder
	fmt.Fprintf(&b, "uridecodebin uri=%q ! videoconvert ! videoscale", uri)
	if fps > 0 {
		b.WriteString(" ! videorate drop-only=true")
	}
	fmt.Fprintf(&b, " ! video/x-raw,format=RGB,width=%d,height=%d", width, height)
	if fps > 0 {
		fmt.Fprintf(&b, ",framerate=%d/1", fps)
	}
	b.WriteString(" ! appsink name=sink max-buffers=1 drop=true sync=false")
	return b.String(), nil
}
