package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tagstream/metrics"
)

// DefaultPollInterval is the monitor refresh period.
const DefaultPollInterval = time.Second

// Poller fetches a node's metrics snapshot.
type Poller struct {
	Fetch    func(ctx context.Context) (*metrics.Snapshot, error)
	Interval time.Duration
	// Target is shown in the title, e.g. the stats URL.
	Target string
}

type snapshotMsg struct {
	snap *metrics.Snapshot
	err  error
	at   time.Time
}

type tickMsg time.Time

// MonitorModel is a Bubble Tea model that polls a node and shows its
// counters and frame rate.
type MonitorModel struct {
	poller *Poller

	snap    *metrics.Snapshot
	prev    *metrics.Snapshot
	prevAt  time.Time
	lastAt  time.Time
	lastErr error

	width    int
	height   int
	quitting bool
}

// NewMonitorModel creates a monitor over p.
func NewMonitorModel(p *Poller) MonitorModel {
	if p.Interval <= 0 {
		p.Interval = DefaultPollInterval
	}
	return MonitorModel{poller: p}
}

// Init implements tea.Model.
func (m MonitorModel) Init() tea.Cmd {
	return m.fetch()
}

func (m MonitorModel) fetch() tea.Cmd {
	p := m.poller
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), p.Interval+5*time.Second)
		defer cancel()
		snap, err := p.Fetch(ctx)
		return snapshotMsg{snap: snap, err: err, at: time.Now()}
	}
}

func (m MonitorModel) tick() tea.Cmd {
	return tea.Tick(m.poller.Interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case snapshotMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.prev, m.prevAt = m.snap, m.lastAt
			m.snap, m.lastAt = msg.snap, msg.at
		}
		return m, m.tick()

	case tickMsg:
		return m, m.fetch()
	}

	return m, nil
}

// Rate returns frames per second between the last two snapshots, using
// published frames for capture nodes and received frames otherwise.
func (m MonitorModel) Rate() float64 {
	if m.snap == nil || m.prev == nil {
		return 0
	}
	elapsed := m.lastAt.Sub(m.prevAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	delta := frameCount(m.snap) - frameCount(m.prev)
	if delta < 0 {
		return 0
	}
	return float64(delta) / elapsed
}

func frameCount(s *metrics.Snapshot) int64 {
	if s.Node == "stream" {
		return s.FramesPublished
	}
	return s.FramesReceived
}

// View implements tea.Model.
func (m MonitorModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	title := "Monitor"
	if m.poller.Target != "" {
		title += " " + m.poller.Target
	}
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n\n")

	if m.snap == nil {
		if m.lastErr != nil {
			b.WriteString(FailureStyle.Render("error: " + m.lastErr.Error()))
		} else {
			b.WriteString(QuietStyle.Render("waiting for first snapshot..."))
		}
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
		return b.String()
	}

	s := m.snap
	rows := [][]string{
		{"Node", s.Node},
		{"Hostname", s.Hostname},
		{"Transport", s.Transport},
		{"Uptime", (time.Duration(s.UptimeSeconds) * time.Second).String()},
		{"Rate", fmt.Sprintf("%.1f fps", m.Rate())},
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1]))
	}
	if s.CaptureState != "" {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Capture:"), CaptureStateStyle(s.CaptureState).Render(s.CaptureState))
	}
	b.WriteString("\n")

	var boxes []string
	if s.Node == "stream" {
		boxes = []string{
			renderStatBox("Captured", s.FramesCaptured, inputColor),
			renderStatBox("Published", s.FramesPublished, flowColor),
			renderStatBox("Dropped", s.FramesDropped, lossColor),
			renderStatBox("Reconnects", s.SourceReconnects, troubleColor),
		}
	} else {
		boxes = []string{
			renderStatBox("Received", s.FramesReceived, inputColor),
			renderStatBox("Served", s.FramesServed, flowColor),
			renderStatBox("Clients", s.ClientsConnected, titleColor),
			renderStatBox("Timeouts", s.BridgeTimeouts, troubleColor),
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n")

	if len(s.TagsDetected) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.UnsetMarginBottom().Render("Tags detected"))
		b.WriteString("\n")
		b.WriteString(renderCounts(s.TagsDetected, nil))
	}
	if len(s.DetectorLatency) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.UnsetMarginBottom().Render("Detector latency"))
		b.WriteString("\n")
		b.WriteString(renderLatency(s.DetectorLatency))
	}
	if len(s.DetectorFailures) > 0 {
		b.WriteString("\n")
		b.WriteString(FailureStyle.Bold(true).Render("Detector failures"))
		b.WriteString("\n")
		b.WriteString(renderCounts(s.DetectorFailures, &FailureStyle))
	}

	if m.lastErr != nil {
		b.WriteString("\n")
		b.WriteString(StaleStyle.Render("stale: " + m.lastErr.Error()))
		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

// renderCounts lists per-detector counts. A nil style uses each detector's
// overlay colour.
func renderCounts(counts map[string]int64, style *lipgloss.Style) string {
	var b strings.Builder
	for _, name := range sortedNames(counts) {
		st := DetectorStyle(name)
		if style != nil {
			st = *style
		}
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(name+":"), st.Render(fmt.Sprintf("%d", counts[name])))
	}
	return b.String()
}

func renderLatency(lat map[string]metrics.LatencyReport) string {
	var b strings.Builder
	for _, name := range sortedNames(lat) {
		r := lat[name]
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(name+":"),
			DetectorStyle(name).Render(fmt.Sprintf("last %.1f ms  avg %.1f ms  max %.1f ms", r.LastMS, r.AvgMS, r.MaxMS)))
	}
	return b.String()
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	v := counterValue.Foreground(color).Render(fmt.Sprintf("%d", value))
	content := lipgloss.JoinVertical(lipgloss.Center, v, counterLabel.Render(label))
	return counterBox.BorderForeground(color).Render(content)
}

// RunMonitorTUI runs the monitor until the user quits.
func RunMonitorTUI(p *Poller) error {
	model := NewMonitorModel(p)
	prog := tea.NewProgram(model, tea.WithAltScreen())
	_, err := prog.Run()
	return err
}
