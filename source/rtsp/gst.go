//go:build gst

package rtsp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/pithecene-io/tagstream/source"
	"github.com/pithecene-io/tagstream/types"
)

var initOnce sync.Once

func init() {
	source.Register(Kind, func(opts source.Options) (source.FrameSource, error) {
		return New(opts)
	})
}

// Source pulls RGB frames from an appsink.
type Source struct {
	uri           string
	width, height int
	desc          string

	mu       sync.Mutex
	pipeline *gst.Pipeline
	frames   chan *types.Frame
	failed   chan error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New validates the stream URI in opts.Index.
func New(opts source.Options) (*Source, error) {
	desc, err := pipelineDesc(opts.Index, opts.Width, opts.Height, opts.FPS)
	if err != nil {
		return nil, err
	}
	s := &Source{uri: opts.Index, width: opts.Width, height: opts.Height, desc: desc}
	if s.width <= 0 {
		s.width = defaultWidth
	}
	if s.height <= 0 {
		s.height = defaultHeight
	}
	return s, nil
}

// Start builds the pipeline and sets it playing.
func (s *Source) Start(context.Context) error {
	initOnce.Do(func() { gst.Init(nil) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	pipeline, err := gst.NewPipelineFromString(s.desc)
	if err != nil {
		return source.Unavailable(fmt.Errorf("build pipeline: %w", err))
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return source.Unavailable(fmt.Errorf("find appsink: %w", err))
	}
	sink := app.SinkFromElement(elem)

	frames := make(chan *types.Frame, 1)
	failed := make(chan error, 1)
	width, height := s.width, s.height

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			sample := sink.PullSample()
			if sample == nil {
				return gst.FlowOK
			}
			buffer := sample.GetBuffer()
			if buffer == nil {
				return gst.FlowOK
			}
			mapInfo := buffer.Map(gst.MapRead)
			data := mapInfo.Bytes()
			if len(data) != width*height*3 {
				buffer.Unmap()
				return gst.FlowOK
			}
			f := types.NewFrame(width, height, 3)
			copy(f.Pix, data)
			buffer.Unmap()

			// Keep only the newest frame.
			select {
			case frames <- f:
			default:
				select {
				case <-frames:
				default:
				}
				select {
				case frames <- f:
				default:
				}
			}
			return gst.FlowOK
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return source.Unavailable(fmt.Errorf("start pipeline: %w", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.pipeline = pipeline
	s.frames = frames
	s.failed = failed
	s.cancel = cancel
	s.wg.Add(1)
	go s.watchBus(ctx, pipeline, failed)
	return nil
}

// watchBus reports the first end-of-stream or error message.
func (s *Source) watchBus(ctx context.Context, pipeline *gst.Pipeline, failed chan<- error) {
	defer s.wg.Done()
	bus := pipeline.GetPipelineBus()
	for ctx.Err() == nil {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			failed <- errors.New("end of stream")
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			failed <- fmt.Errorf("pipeline error: %s (%s)", gerr.Error(), gerr.DebugString())
			return
		}
	}
}

// Read blocks for the next decoded frame.
func (s *Source) Read(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	frames, failed := s.frames, s.failed
	s.mu.Unlock()
	if frames == nil {
		return nil, source.Unavailable(errors.New("stream not started"))
	}

	select {
	case f := <-frames:
		return f, nil
	case err := <-failed:
		return nil, source.Unavailable(err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reconnect tears the pipeline down and builds a new one.
func (s *Source) Reconnect(ctx context.Context) error {
	return s.Start(ctx)
}

// Stop sets the pipeline to NULL and waits for the bus watcher.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Source) stopLocked() error {
	if s.pipeline == nil {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	err := s.pipeline.SetState(gst.StateNull)
	s.pipeline = nil
	s.frames = nil
	s.failed = nil
	return err
}
