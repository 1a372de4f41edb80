// Package camera captures frames from a local video device through
// pion/mediadevices. It registers the "v4l2" and "camera" source kinds.
package camera

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	// Registers the platform camera driver.
	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/pithecene-io/tagstream/source"
	"github.com/pithecene-io/tagstream/types"
)

// Registered source kinds.
const (
	KindV4L2     = "v4l2"
	KindCamera   = "camera"
	KindPiCamera = "picamera"
)

func init() {
	factory := func(opts source.Options) (source.FrameSource, error) {
		return New(opts), nil
	}
	source.Register(KindV4L2, factory)
	source.Register(KindCamera, factory)
	source.Register(KindPiCamera, factory)
}

// Device describes a video input.
type Device struct {
	ID    string
	Label string
}

// Devices lists the video inputs visible to the camera driver, in driver
// order. The position in this list is the device index.
func Devices() []Device {
	var out []Device
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		out = append(out, Device{ID: d.DeviceID, Label: d.Label})
	}
	return out
}

// Source reads raw frames from one camera.
type Source struct {
	opts source.Options

	mu     sync.Mutex
	track  *mediadevices.VideoTrack
	reader video.Reader
}

// New returns an unopened camera source. opts.Index is a device index into
// Devices or a driver device ID; empty selects the first camera.
func New(opts source.Options) *Source {
	return &Source{opts: opts}
}

// Start opens the camera. Requested dimensions are preferences; when the
// device rejects them the camera is reopened without format constraints.
func (s *Source) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()

	deviceID, err := resolveDevice(s.opts.Index, Devices())
	if err != nil {
		return source.Unavailable(err)
	}

	stream, err := mediadevices.GetUserMedia(s.constraints(deviceID, true))
	if err != nil {
		stream, err = mediadevices.GetUserMedia(s.constraints(deviceID, false))
		if err != nil {
			return source.Unavailable(fmt.Errorf("open camera %q: %w", s.opts.Index, err))
		}
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return source.Unavailable(errors.New("camera produced no video track"))
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		_ = tracks[0].Close()
		return source.Unavailable(fmt.Errorf("unexpected track type %T", tracks[0]))
	}
	s.track = vt
	s.reader = vt.NewReader(true)
	return nil
}

func (s *Source) constraints(deviceID string, withFormat bool) mediadevices.MediaStreamConstraints {
	return mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				c.DeviceID = prop.String(deviceID)
			}
			if !withFormat {
				return
			}
			if s.opts.Width > 0 {
				c.Width = prop.Int(s.opts.Width)
			}
			if s.opts.Height > 0 {
				c.Height = prop.Int(s.opts.Height)
			}
			if s.opts.FPS > 0 {
				c.FrameRate = prop.Float(float32(s.opts.FPS))
			}
		},
	}
}

// Read blocks for the next camera frame and converts it to RGB.
func (s *Source) Read(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	r := s.reader
	s.mu.Unlock()
	if r == nil {
		return nil, source.Unavailable(errors.New("camera not started"))
	}

	img, release, err := r.Read()
	if err != nil {
		return nil, source.Unavailable(fmt.Errorf("read camera: %w", err))
	}
	defer release()
	return types.FrameFromImage(img, 3), nil
}

// Reconnect closes and reopens the camera.
func (s *Source) Reconnect(ctx context.Context) error {
	return s.Start(ctx)
}

// Stop closes the camera track.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Source) closeLocked() error {
	if s.track == nil {
		return nil
	}
	err := s.track.Close()
	s.track = nil
	s.reader = nil
	return err
}

// resolveDevice maps a command-line index to a driver device ID.
// Numeric values index into devices; anything else is taken as an ID.
func resolveDevice(index string, devices []Device) (string, error) {
	if index == "" {
		return "", nil
	}
	n, err := strconv.Atoi(index)
	if err != nil {
		return index, nil
	}
	if n < 0 || n >= len(devices) {
		return "", fmt.Errorf("camera index %d out of range (%d devices)", n, len(devices))
	}
	return devices[n].ID, nil
}
