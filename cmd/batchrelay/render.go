package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/njoerd114/batchrelay/internal/record"
	syncp "github.com/njoerd114/batchrelay/internal/sync"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dupStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

const barWidth = 30

// progressRenderer prints one line per upload event.
type progressRenderer struct {
	w io.Writer
}

func newProgressRenderer(w io.Writer) *progressRenderer {
	return &progressRenderer{w: w}
}

func (r *progressRenderer) handle(ev syncp.Event) {
	fmt.Fprintln(r.w, renderEvent(ev))
}

// renderEvent formats a single progress event.
func renderEvent(ev syncp.Event) string {
	prefix := labelStyle.Render(fmt.Sprintf("[%s %s]", ev.Action, shortID(ev.UploadID)))
	switch ev.Kind {
	case syncp.EventStart:
		return fmt.Sprintf("%s %d batches to %s", prefix, ev.TotalTasks, ev.Collection)
	case syncp.EventProgress:
		return fmt.Sprintf("%s %s %d/%d", prefix, barStyle.Render(bar(ev.Completed, ev.Total)), ev.Completed, ev.Total)
	case syncp.EventComplete:
		return fmt.Sprintf("%s %s", prefix, successStyle.Render("done"))
	case syncp.EventError:
		return fmt.Sprintf("%s %s %v", prefix, errorStyle.Render("failed:"), ev.Err)
	default:
		return prefix
	}
}

// bar draws a fixed-width progress bar; an empty total renders as full.
func bar(done, total int) string {
	filled := barWidth
	if total > 0 {
		filled = min(barWidth*done/total, barWidth)
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatKey renders a record's key values for display.
func formatKey(r record.Record, spec record.KeySpec) string {
	parts := make([]string, 0, len(spec))
	for _, f := range spec {
		v, ok := record.Extract(r, f)
		if !ok {
			parts = append(parts, f+"=<missing>")
			continue
		}
		parts = append(parts, f+"="+record.KeyString(v))
	}
	return strings.Join(parts, " ")
}
