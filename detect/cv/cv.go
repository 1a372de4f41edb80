//go:build gocv

// Package cv registers the OpenCV-backed detectors: qrcode, plate and face.
//
// Build with -tags gocv to link OpenCV. Without the tag the names are still
// registered but construction fails with ErrUnavailable.
package cv

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"

	"github.com/pithecene-io/tagstream/detect"
	"github.com/pithecene-io/tagstream/types"
)

func init() {
	detect.Register(detect.Registration{Name: types.TagQRCode, Input: detect.InputRaw, Factory: newQRCode})
	detect.Register(detect.Registration{Name: types.TagPlate, Input: detect.InputEqualizedGray, Factory: cascadeFactory(PlateModel)})
	detect.Register(detect.Registration{Name: types.TagFace, Input: detect.InputEqualizedGray, Factory: cascadeFactory(FaceModel)})
}

// toMat wraps the frame pixels in a Mat. The caller must Close it.
func toMat(f *types.Frame) (gocv.Mat, error) {
	var mt gocv.MatType
	switch f.Channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	case 4:
		mt = gocv.MatTypeCV8UC4
	default:
		return gocv.Mat{}, fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	return gocv.NewMatFromBytes(f.Height, f.Width, mt, f.Pix)
}

// qrCode detects every QR code in the raw frame.
type qrCode struct {
	mu  sync.Mutex
	det gocv.QRCodeDetector
}

func newQRCode(detect.Options) (detect.Detector, error) {
	return &qrCode{det: gocv.NewQRCodeDetector()}, nil
}

func (q *qrCode) Detect(_ context.Context, f *types.Frame) ([]types.Polygon, error) {
	img, err := toMat(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	points := gocv.NewMat()
	defer points.Close()

	q.mu.Lock()
	found := q.det.DetectMulti(img, &points)
	q.mu.Unlock()
	if !found || points.Empty() {
		return []types.Polygon{}, nil
	}

	coords, err := points.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read qrcode corners: %w", err)
	}
	// Four corners of two coordinates per code.
	polys := make([]types.Polygon, 0, len(coords)/8)
	for i := 0; i+8 <= len(coords); i += 8 {
		var p types.Polygon
		for c := 0; c < 4; c++ {
			p[c] = types.Point{int(coords[i+2*c]), int(coords[i+2*c+1])}
		}
		polys = append(polys, p)
	}
	return polys, nil
}

func (q *qrCode) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.det.Close()
}

// cascade runs a Haar/LBP cascade classifier.
type cascade struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

func cascadeFactory(model string) detect.Factory {
	return func(opts detect.Options) (detect.Detector, error) {
		path := model
		if opts.ModelsDir != "" {
			path = filepath.Join(opts.ModelsDir, model)
		}
		c := gocv.NewCascadeClassifier()
		if !c.Load(path) {
			_ = c.Close()
			return nil, fmt.Errorf("load cascade %s", path)
		}
		return &cascade{classifier: c}, nil
	}
}

func (c *cascade) Detect(_ context.Context, f *types.Frame) ([]types.Polygon, error) {
	img, err := toMat(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	c.mu.Lock()
	rects := c.classifier.DetectMultiScale(img)
	c.mu.Unlock()

	polys := make([]types.Polygon, len(rects))
	for i, r := range rects {
		polys[i] = types.RectPolygon(r)
	}
	return polys, nil
}

func (c *cascade) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.Close()
}
