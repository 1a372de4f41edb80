package cmd

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tagstream/cli/render"
	"github.com/pithecene-io/tagstream/journal"
	"github.com/pithecene-io/tagstream/types"
)

// JournalCommand returns the detection journal query command.
func JournalCommand() *cli.Command {
	flags := append(ReadOnlyFlags(), journalFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "node", Usage: "Only records from this hostname"},
		&cli.StringFlag{Name: "detector", Usage: "Only records from this detector"},
		&cli.IntFlag{Name: "limit", Usage: "Show at most this many of the newest records (0 shows all)"},
	)
	return &cli.Command{
		Name:   "journal",
		Usage:  "List detections recorded in the journal",
		Flags:  flags,
		Action: journalAction,
	}
}

func journalAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	choice := resolveJournal(c, nil)
	if choice.backend == "" {
		return cli.Exit("--journal-backend is required", exitUsage)
	}
	store, err := openStore(c.Context, choice)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer func() { _ = store.Close() }()

	records, err := journal.Query(c.Context, store.Dataset(), c.String("node"), c.String("detector"))
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}

	entries := make([]render.JournalRow, 0, len(records))
	for _, rec := range records {
		entries = append(entries, toJournalRow(rec))
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Datetime < entries[j].Datetime })
	if limit := c.Int("limit"); limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return r.Render(entries)
}

func toJournalRow(rec map[string]any) render.JournalRow {
	str := func(key string) string {
		s, _ := rec[key].(string)
		return s
	}
	polys := toPolygons(rec["polygons"])
	count := len(polys)
	switch v := rec["count"].(type) {
	case float64:
		count = int(v)
	case int:
		count = v
	}
	return render.JournalRow{
		Datetime: str("datetime"),
		Hostname: str("hostname"),
		Detector: str("detector"),
		Count:    count,
		FrameID:  str("frame_id"),
		Polygons: polys,
	}
}

// toPolygons decodes polygons from a JSONL record, where they arrive as
// nested []any of float64. Malformed entries are skipped.
func toPolygons(v any) []types.Polygon {
	list, _ := v.([]any)
	var out []types.Polygon
	for _, item := range list {
		pts, _ := item.([]any)
		if len(pts) != 4 {
			continue
		}
		var p types.Polygon
		ok := true
		for i, pt := range pts {
			xy, _ := pt.([]any)
			if len(xy) != 2 {
				ok = false
				break
			}
			x, xok := xy[0].(float64)
			y, yok := xy[1].(float64)
			if !xok || !yok {
				ok = false
				break
			}
			p[i] = types.Point{int(x), int(y)}
		}
		if ok {
			out = append(out, p)
		}
	}
	return out
}
