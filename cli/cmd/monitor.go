package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tagstream/cli/render"
	"github.com/pithecene-io/tagstream/cli/tui"
	"github.com/pithecene-io/tagstream/metrics"
)

// MonitorCommand returns the node monitor command.
func MonitorCommand() *cli.Command {
	flags := append(ReadOnlyFlags(),
		&cli.StringFlag{
			Name:  "url",
			Usage: "Base URL of a serve node or a stream node's --stats-addr",
			Value: "http://127.0.0.1:4000",
		},
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Refresh period for --tui",
			Value: tui.DefaultPollInterval,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-request timeout",
			Value: 5 * time.Second,
		},
	)
	return &cli.Command{
		Name:   "monitor",
		Usage:  "Show a node's metrics",
		Flags:  flags,
		Action: monitorAction,
	}
}

func monitorAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	client := &http.Client{Timeout: c.Duration("timeout")}
	target := statsURL(c.String("url"))
	fetch := func(ctx context.Context) (*metrics.Snapshot, error) {
		return fetchSnapshot(ctx, client, target)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewMonitor, &tui.Poller{
			Fetch:    fetch,
			Interval: c.Duration("interval"),
			Target:   target,
		})
	}

	snap, err := fetch(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitTransport)
	}
	return r.Render(snap)
}

// statsURL appends /stats to a base URL unless it is already there.
func statsURL(base string) string {
	base = strings.TrimRight(base, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if strings.HasSuffix(base, "/stats") {
		return base
	}
	return base + "/stats"
}

func fetchSnapshot(ctx context.Context, client *http.Client, url string) (*metrics.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return &snap, nil
}
