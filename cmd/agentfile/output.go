package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/TisoneK/agentfile-sub000/internal/tablewriter"
	"github.com/TisoneK/agentfile-sub000/state"
)

var (
	headerStyle  = color.New(color.FgCyan, color.Bold)
	successStyle = color.New(color.FgGreen)
	errorStyle   = color.New(color.FgRed)
	warningStyle = color.New(color.FgYellow)
	mutedStyle   = color.New(color.FgHiBlack)
	boldStyle    = color.New(color.Bold)
)

const (
	checkmark = "✓"
	xmark     = "✗"
	hourglass = "⏳"
	bullet    = "•"
	arrow     = "→"

	barWidth  = 20
	barFilled = "█"
	barEmpty  = "░"

	timeLayout = "2006-01-02 15:04:05"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// stepIcon returns the marker and style used for a step status.
func stepIcon(status state.StepStatus) (string, *color.Color) {
	switch status {
	case state.StatusCompleted:
		return checkmark, successStyle
	case state.StatusFailed:
		return xmark, errorStyle
	case state.StatusInProgress:
		return hourglass, warningStyle
	default:
		return bullet, mutedStyle
	}
}

func rollbackStyle(status state.RollbackStatus) *color.Color {
	switch status {
	case state.RollbackSuccess:
		return successStyle
	case state.RollbackPartial:
		return warningStyle
	default:
		return errorStyle
	}
}

// progressBar renders pct (0-100) as a fixed-width bar.
func progressBar(pct int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * barWidth / 100
	return strings.Repeat(barFilled, filled) + strings.Repeat(barEmpty, barWidth-filled)
}

// truncate shortens s to at most width display columns.
func truncate(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		return runewidth.Truncate(s, width, "…")
	}
	return s
}

func newTable(w io.Writer, headers ...string) *tablewriter.Writer {
	t := tablewriter.NewWriter(w, tablewriter.StylePlain)
	t.SetHeader(headers...)
	t.SetHeaderFormatter(func(s string) string { return headerStyle.Sprint(s) })
	return t
}

func formatDuration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
