//go:build !gst

package rtsp

import (
	"fmt"

	"github.com/pithecene-io/tagstream/source"
)

func init() {
	source.Register(Kind, func(opts source.Options) (source.FrameSource, error) {
		if _, err := pipelineDesc(opts.Index, opts.Width, opts.Height, opts.FPS); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", opts.Index, ErrUnavailable)
	})
}
