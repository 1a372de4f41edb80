package render

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tagstream/detect"
	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/types"
)

// JournalRow is one journaled detection as listed by the journal command.
type JournalRow struct {
	Datetime string          `json:"datetime" yaml:"datetime"`
	Hostname string          `json:"hostname" yaml:"hostname"`
	Detector string          `json:"detector" yaml:"detector"`
	Count    int             `json:"count" yaml:"count"`
	FrameID  string          `json:"frame_id" yaml:"frame_id"`
	Polygons []types.Polygon `json:"polygons,omitempty" yaml:"polygons,omitempty"`
}

const noResults = "(no results)"

var headingStyle = lipgloss.NewStyle().Bold(true)

func (r *Renderer) heading(s string) string {
	if r.noColor {
		return s
	}
	return headingStyle.Render(s)
}

func (r *Renderer) tab() *tabwriter.Writer {
	return tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
}

// reportTable prints one row per polygon. Detectors without polygons get a
// single row whose polygon column says why.
func (r *Renderer) reportTable(rep *detect.Report) error {
	fmt.Fprintln(r.out, r.heading(fmt.Sprintf("%s  %dx%d  %d tag(s)", rep.Source, rep.Width, rep.Height, rep.Total)))

	w := r.tab()
	fmt.Fprintln(w, "DETECTOR\tCOUNT\tLATENCY\tPOLYGON")
	for _, d := range rep.Detections {
		latency := fmt.Sprintf("%.1fms", d.LatencyMS)
		switch {
		case d.Error != "":
			fmt.Fprintf(w, "%s\t%d\t%s\tfailed: %s\n", d.Detector, d.Count, latency, d.Error)
		case len(d.Polygons) == 0:
			fmt.Fprintf(w, "%s\t0\t%s\t-\n", d.Detector, latency)
		default:
			for i, p := range d.Polygons {
				if i == 0 {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", d.Detector, d.Count, latency, formatPolygon(p))
					continue
				}
				fmt.Fprintf(w, "\t\t\t%s\n", formatPolygon(p))
			}
		}
	}
	for _, name := range sortedKeys(rep.Failures) {
		if !rep.HasDetector(name) {
			fmt.Fprintf(w, "%s\t-\t-\tfailed: %s\n", name, rep.Failures[name])
		}
	}
	return w.Flush()
}

func (r *Renderer) journalTable(rows []JournalRow) error {
	if len(rows) == 0 {
		fmt.Fprintln(r.out, noResults)
		return nil
	}
	w := r.tab()
	fmt.Fprintln(w, "DATETIME\tNODE\tDETECTOR\tCOUNT\tFRAME")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", row.Datetime, row.Hostname, row.Detector, row.Count, row.FrameID)
	}
	return w.Flush()
}

// snapshotTable prints the counters that apply to the snapshot's node kind,
// then per-detector tag counts, failures and latency.
func (r *Renderer) snapshotTable(s *metrics.Snapshot) error {
	fields := [][2]string{
		{"node", s.Node},
		{"hostname", s.Hostname},
		{"transport", s.Transport},
		{"uptime", (time.Duration(s.UptimeSeconds) * time.Second).String()},
	}
	if s.CaptureState != "" {
		fields = append(fields, [2]string{"capture_state", s.CaptureState})
	}
	counter := func(name string, v int64) { fields = append(fields, [2]string{name, fmt.Sprint(v)}) }
	if s.Node == "stream" {
		counter("frames_captured", s.FramesCaptured)
		counter("frames_published", s.FramesPublished)
		counter("frames_dropped", s.FramesDropped)
		counter("transform_errors", s.TransformErrors)
		counter("publish_errors", s.PublishErrors)
		counter("source_reconnects", s.SourceReconnects)
	} else {
		counter("frames_received", s.FramesReceived)
		counter("bridge_timeouts", s.BridgeTimeouts)
		counter("bridge_reconnects", s.BridgeReconnects)
		counter("mailbox_overwrites", s.MailboxOverwrites)
		counter("ring_pushes", s.RingPushes)
		counter("ring_evictions", s.RingEvictions)
		counter("frames_served", s.FramesServed)
		counter("clients_connected", s.ClientsConnected)
	}
	if err := r.fieldsTable(fields); err != nil {
		return err
	}

	names := map[string]bool{}
	for name := range s.TagsDetected {
		names[name] = true
	}
	for name := range s.DetectorFailures {
		names[name] = true
	}
	for name := range s.DetectorLatency {
		names[name] = true
	}
	if len(names) == 0 {
		return nil
	}

	fmt.Fprintln(r.out)
	w := r.tab()
	fmt.Fprintln(w, "DETECTOR\tTAGS\tFAILURES\tCALLS\tLAST\tAVG\tMAX")
	for _, name := range sortedKeys(names) {
		lat := s.DetectorLatency[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1fms\t%.1fms\t%.1fms\n",
			name, s.TagsDetected[name], s.DetectorFailures[name], lat.Calls, lat.LastMS, lat.AvgMS, lat.MaxMS)
	}
	return w.Flush()
}

func (r *Renderer) fieldsTable(fields [][2]string) error {
	w := r.tab()
	for _, f := range fields {
		fmt.Fprintf(w, "%s:\t%s\n", f[0], f[1])
	}
	return w.Flush()
}

func formatPolygon(p types.Polygon) string {
	pts := make([]string, len(p))
	for i, pt := range p {
		pts[i] = fmt.Sprintf("(%d,%d)", pt[0], pt[1])
	}
	return strings.Join(pts, " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
