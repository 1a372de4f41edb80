package detect

import (
	"sort"
	"time"

	"github.com/pithecene-io/tagstream/types"
)

// Detection is one detector's result within a Report.
type Detection struct {
	Detector  string          `json:"detector" yaml:"detector"`
	Count     int             `json:"count" yaml:"count"`
	LatencyMS float64         `json:"latency_ms" yaml:"latency_ms"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty"`
	Polygons  []types.Polygon `json:"polygons" yaml:"polygons"`
}

// Report summarizes tagging a single frame, as printed by the tag command.
type Report struct {
	Source     string            `json:"source" yaml:"source"`
	Width      int               `json:"width" yaml:"width"`
	Height     int               `json:"height" yaml:"height"`
	Total      int               `json:"total" yaml:"total"`
	Detections []Detection       `json:"detections" yaml:"detections"`
	Failures   map[string]string `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// NewReport builds a report with one Detection per key in res.Tags, sorted
// by detector name.
func NewReport(source string, f *types.Frame, res Result) *Report {
	r := &Report{
		Source:     source,
		Width:      f.Width,
		Height:     f.Height,
		Total:      res.Tags.Count(),
		Detections: make([]Detection, 0, len(res.Tags)),
	}
	if len(res.Failures) > 0 {
		r.Failures = make(map[string]string, len(res.Failures))
		for _, f := range res.Failures {
			r.Failures[f.Name] = f.Err.Error()
		}
	}

	names := make([]string, 0, len(res.Tags))
	for name := range res.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		polys := res.Tags[name]
		if polys == nil {
			polys = []types.Polygon{}
		}
		r.Detections = append(r.Detections, Detection{
			Detector:  name,
			Count:     len(polys),
			LatencyMS: Millis(res.Latency[name]),
			Error:     r.Failures[name],
			Polygons:  polys,
		})
	}
	return r
}

// Millis converts d to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// HasDetector reports whether the report carries an entry for name.
func (r *Report) HasDetector(name string) bool {
	for _, d := range r.Detections {
		if d.Detector == name {
			return true
		}
	}
	return false
}
