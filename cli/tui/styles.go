// Package tui provides Bubble Tea views for the tagstream CLI.
//
// TUI is opt-in (--tui) and read-only. Views render the same payloads as
// the json/table/yaml renderer.
package tui

import (
	"fmt"
	"image/color"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tagstream/annotate"
)

// Capture node states as reported by the capture loop. An empty state means
// the node does not run a capture loop.
const (
	stateStarting     = "starting"
	stateRunning      = "running"
	stateReconnecting = "reconnecting"
	stateStopped      = "stopped"
)

// Colours by meaning: frame flow, loss, source trouble, chrome.
var (
	flowColor    = lipgloss.Color("#10B981")
	inputColor   = lipgloss.Color("#3B82F6")
	lossColor    = lipgloss.Color("#EF4444")
	troubleColor = lipgloss.Color("#F59E0B")
	chromeColor  = lipgloss.Color("#6B7280")
	titleColor   = lipgloss.Color("#7C3AED")
	textColor    = lipgloss.Color("#F9FAFB")
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(titleColor).MarginBottom(1)
	LabelStyle = lipgloss.NewStyle().Foreground(chromeColor).Width(16)
	ValueStyle = lipgloss.NewStyle().Foreground(textColor)
	HelpStyle  = lipgloss.NewStyle().Foreground(chromeColor).MarginTop(1)
	BoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(chromeColor).Padding(1, 2)

	// FailureStyle marks detector failures and fetch errors.
	FailureStyle = lipgloss.NewStyle().Foreground(lossColor)
	// StaleStyle marks a snapshot that could not be refreshed.
	StaleStyle = lipgloss.NewStyle().Foreground(troubleColor)
	// QuietStyle marks detectors with no detections.
	QuietStyle = lipgloss.NewStyle().Foreground(chromeColor).Italic(true)

	counterBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 2).Width(20).Align(lipgloss.Center)
	counterLabel = lipgloss.NewStyle().Foreground(chromeColor).Align(lipgloss.Center)
	counterValue = lipgloss.NewStyle().Bold(true).Align(lipgloss.Center)
)

// CaptureStateStyle colours a capture loop state: running frames flow,
// starting and reconnecting are source trouble, stopped is loss.
func CaptureStateStyle(state string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch state {
	case stateRunning:
		return base.Foreground(flowColor)
	case stateStarting, stateReconnecting:
		return base.Foreground(troubleColor)
	case stateStopped:
		return base.Foreground(lossColor)
	default:
		return base.Foreground(chromeColor)
	}
}

// DetectorStyle uses the detector's overlay colour, so terminal headings
// match the outlines drawn on annotated frames.
func DetectorStyle(name string) lipgloss.Style {
	c, ok := annotate.DefaultOptions().Colors[name]
	if !ok {
		c = annotate.DefaultColor
	}
	return lipgloss.NewStyle().Bold(true).Foreground(hexColor(c))
}

func hexColor(c color.RGBA) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B))
}
