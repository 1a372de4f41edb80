package cv

import "errors"

// Model file names looked up under the configured models directory.
const (
	PlateModel = "br.xml"
	FaceModel  = "haarcascade_frontalface_alt.xml"
)

// ErrUnavailable is returned when the binary was built without OpenCV.
var ErrUnavailable = errors.New("opencv detectors unavailable: rebuild with -tags gocv")
