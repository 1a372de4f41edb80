package journal

import (
	"sort"
	"time"

	"github.com/pithecene-io/tagstream/types"
)

// RecordKindDetection discriminates detection records in the dataset.
const RecordKindDetection = "detection"

// Record is one detector's findings on one frame. Frames are never stored.
type Record struct {
	Hostname   string
	Day        string
	Detector   string
	Datetime   string
	FrameID    string
	Seq        uint64
	Polygons   []types.Polygon
	RecordedAt time.Time
}

// DeriveDay computes the partition day (YYYY-MM-DD, UTC) for a frame
// timestamp. Unparseable timestamps fall back to fallback.
func DeriveDay(datetime string, fallback time.Time) string {
	t, err := types.ParseDatetime(datetime)
	if err != nil {
		t = fallback
	}
	return t.UTC().Format("2006-01-02")
}

// RecordsFor returns one record per detector with at least one polygon.
// Envelopes without detections produce no records.
func RecordsFor(env *types.Envelope, now time.Time) []Record {
	m := env.Metadata
	detectors := make([]string, 0, len(m.Tags))
	for name := range m.Tags {
		detectors = append(detectors, name)
	}
	sort.Strings(detectors)

	var out []Record
	for _, detector := range detectors {
		polys := m.Tags[detector]
		if len(polys) == 0 {
			continue
		}
		out = append(out, Record{
			Hostname:   m.Hostname,
			Day:        DeriveDay(m.Datetime, now),
			Detector:   detector,
			Datetime:   m.Datetime,
			FrameID:    m.FrameID,
			Seq:        m.Seq,
			Polygons:   polys,
			RecordedAt: now,
		})
	}
	return out
}

// toMap renders the record for the JSONL codec. Partition keys (hostname,
// day, detector) must be top-level fields.
func (r Record) toMap() map[string]any {
	polys := make([][][2]int, len(r.Polygons))
	for i, p := range r.Polygons {
		pts := make([][2]int, len(p))
		for j, pt := range p {
			pts[j] = [2]int(pt)
		}
		polys[i] = pts
	}
	return map[string]any{
		"record_kind": RecordKindDetection,
		"hostname":    r.Hostname,
		"day":         r.Day,
		"detector":    r.Detector,
		"datetime":    r.Datetime,
		"frame_id":    r.FrameID,
		"seq":         r.Seq,
		"count":       len(r.Polygons),
		"polygons":    polys,
		"recorded_at": r.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
}
