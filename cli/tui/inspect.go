package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tagstream/detect"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewInspectTags:
		content = m.renderInspectTags()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectTags() string {
	data, ok := m.data.(*detect.Report)
	if !ok {
		return "Invalid data type for inspect_tags"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Tags"))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Source", data.Source},
		{"Size", fmt.Sprintf("%dx%d", data.Width, data.Height)},
		{"Total", fmt.Sprintf("%d", data.Total)},
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1]))
	}

	for _, d := range data.Detections {
		b.WriteString("\n")
		heading := DetectorStyle(d.Detector).Render(fmt.Sprintf("%s (%d)", d.Detector, d.Count))
		fmt.Fprintf(&b, "%s %s\n", heading, LabelStyle.UnsetWidth().Render(fmt.Sprintf("%.1f ms", d.LatencyMS)))
		switch {
		case d.Error != "":
			b.WriteString(FailureStyle.Render("  failed: " + d.Error))
			b.WriteString("\n")
		case d.Count == 0:
			b.WriteString(QuietStyle.Render("  no detections"))
			b.WriteString("\n")
		}
		for _, p := range d.Polygons {
			fmt.Fprintf(&b, "  %v %v %v %v\n", p[0], p[1], p[2], p[3])
		}
	}

	// Failures for detectors that produced no entry at all.
	var orphans []string
	for name := range data.Failures {
		if !data.HasDetector(name) {
			orphans = append(orphans, name)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		b.WriteString("\n")
		b.WriteString(FailureStyle.Bold(true).Render("Failures"))
		b.WriteString("\n")
		for _, name := range orphans {
			fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(name+":"), FailureStyle.Render(data.Failures[name]))
		}
	}

	return BoxStyle.Render(b.String())
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
