package tui

import (
	"fmt"
	"strings"
)

// Run starts the appropriate TUI based on the view type.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	switch {
	case strings.HasPrefix(viewType, "inspect_"):
		return RunInspectTUI(viewType, data)
	case viewType == ViewMonitor:
		p, ok := data.(*Poller)
		if !ok {
			return fmt.Errorf("monitor view requires a *Poller, got %T", data)
		}
		return RunMonitorTUI(p)
	}
	return fmt.Errorf("unknown view type: %s", viewType)
}

// View types.
const (
	ViewInspectTags = "inspect_tags"
	ViewMonitor     = "monitor"
)

// IsTUISupported returns true if the view type supports TUI mode.
// Only read-only views (tag inspection and node monitoring) do.
func IsTUISupported(viewType string) bool {
	for _, v := range SupportedTUIViews() {
		if v == viewType {
			return true
		}
	}
	return false
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewInspectTags, ViewMonitor}
}
