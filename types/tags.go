package types

import (
	"encoding/json"
	"fmt"
	"image"
)

// Point is an integer (x, y) pair, encoded on the wire as [x, y].
type Point [2]int

// X returns the horizontal coordinate.
func (p Point) X() int { return p[0] }

// Y returns the vertical coordinate.
func (p Point) Y() int { return p[1] }

// Polygon is a bounding quadrilateral of exactly four points.
// Rectangles use top-left, top-right, bottom-right, bottom-left order.
type Polygon [4]Point

// RectPolygon converts an axis-aligned rectangle into a polygon.
func RectPolygon(r image.Rectangle) Polygon {
	return Polygon{
		{r.Min.X, r.Min.Y},
		{r.Max.X, r.Min.Y},
		{r.Max.X, r.Max.Y},
		{r.Min.X, r.Max.Y},
	}
}

// UnmarshalJSON decodes [[x,y],[x,y],[x,y],[x,y]] and rejects any other
// point count or point arity.
func (p *Polygon) UnmarshalJSON(data []byte) error {
	var raw [][]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("polygon: %w", err)
	}
	if len(raw) != len(p) {
		return fmt.Errorf("polygon: expected %d points, got %d", len(p), len(raw))
	}
	for i, pt := range raw {
		if len(pt) != 2 {
			return fmt.Errorf("polygon: point %d has %d coordinates", i, len(pt))
		}
		p[i] = Point{pt[0], pt[1]}
	}
	return nil
}

// Detector names known to the tagging stage.
const (
	TagQRCode = "qrcode"
	TagPlate  = "plate"
	TagFace   = "face"
)

// TagSet maps a detector name to the polygons it found in one frame.
// Only configured detectors appear as keys; a configured detector that
// found nothing (or failed) maps to an empty, non-nil slice.
type TagSet map[string][]Polygon

// Count returns the total number of polygons across all detectors.
func (t TagSet) Count() int {
	n := 0
	for _, polys := range t {
		n += len(polys)
	}
	return n
}

// Counts returns the number of polygons per detector.
func (t TagSet) Counts() map[string]int {
	counts := make(map[string]int, len(t))
	for name, polys := range t {
		counts[name] = len(polys)
	}
	return counts
}
