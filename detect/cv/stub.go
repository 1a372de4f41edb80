//go:build !gocv

// Package cv registers the OpenCV-backed detectors: qrcode, plate and face.
//
// This build carries no OpenCV; the names are registered so that requesting
// them fails at startup with ErrUnavailable instead of "unknown detector".
package cv

import (
	"github.com/pithecene-io/tagstream/detect"
	"github.com/pithecene-io/tagstream/types"
)

func init() {
	detect.Register(detect.Registration{Name: types.TagQRCode, Input: detect.InputRaw, Factory: unavailable})
	detect.Register(detect.Registration{Name: types.TagPlate, Input: detect.InputEqualizedGray, Factory: unavailable})
	detect.Register(detect.Registration{Name: types.TagFace, Input: detect.InputEqualizedGray, Factory: unavailable})
}

func unavailable(detect.Options) (detect.Detector, error) {
	return nil, ErrUnavailable
}
