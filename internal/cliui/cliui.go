// Package cliui renders operator-tool results for a terminal, the way
// internal/ui/styles.go renders the TUI: lipgloss styles for status
// coloring, disabled automatically when stdout isn't a terminal.
package cliui

import (
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Colors, matching the teacher's Tokyo Night palette where the semantics
// line up (green=healthy, yellow=degraded, red=error).
var (
	colorGreen  = lipgloss.Color("#9ece6a")
	colorYellow = lipgloss.Color("#e0af68")
	colorRed    = lipgloss.Color("#f7768e")
	colorDim    = lipgloss.Color("#787fa0")
)

// ColorMode mirrors prefs.Prefs.Color: "auto", "always", "never".
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// renderer builds a lipgloss.Renderer bound to an explicit color profile for
// mode, so output is deterministic regardless of the process's actual stdout
// (unlike lipgloss's package-level default, which auto-detects once and
// caches it globally).
func renderer(mode ColorMode) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(os.Stdout)
	switch mode {
	case ColorAlways:
		r.SetColorProfile(lipgloss.TrueColor)
	case ColorNever:
		r.SetColorProfile(lipgloss.Ascii)
	default:
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			r.SetColorProfile(lipgloss.ANSI256)
		} else {
			r.SetColorProfile(lipgloss.Ascii)
		}
	}
	return r
}

func styles(r *lipgloss.Renderer) (running, stopped, missing, dim, header lipgloss.Style) {
	return r.NewStyle().Foreground(colorGreen),
		r.NewStyle().Foreground(colorYellow),
		r.NewStyle().Foreground(colorRed),
		r.NewStyle().Foreground(colorDim),
		r.NewStyle().Bold(true)
}

func styleFor(r *lipgloss.Renderer, state string) lipgloss.Style {
	running, stopped, missing, _, _ := styles(r)
	switch state {
	case "running":
		return running
	case "stopped":
		return stopped
	default:
		return missing
	}
}

// Row is one container's list-tool listing.
type Row struct {
	Name   string
	Status string
}

// FormatList renders the list-tool's container rows as an aligned table,
// colorizing each row's status column by its lifecycle state.
func FormatList(rows []Row, mode ColorMode) string {
	if len(rows) == 0 {
		return "no containers found for this project"
	}

	nameWidth := len("NAME")
	for _, r := range rows {
		if len(r.Name) > nameWidth {
			nameWidth = len(r.Name)
		}
	}

	r := renderer(mode)
	_, _, _, _, header := styles(r)

	var b strings.Builder
	b.WriteString(header.Render(padRight("NAME", nameWidth) + "  STATUS"))

	for _, row := range rows {
		b.WriteString("\n")
		status := styleFor(r, classifyStatus(row.Status)).Render(row.Status)
		b.WriteString(padRight(row.Name, nameWidth) + "  " + status)
	}
	return b.String()
}

// classifyStatus maps a raw `docker ps` status string to running/stopped.
func classifyStatus(status string) string {
	if strings.HasPrefix(status, "Up") {
		return "running"
	}
	return "stopped"
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// Info is the structured view backing the info-tool's terminal rendering.
type Info struct {
	Bound     bool
	Container string
	State     string // "running", "stopped", "missing"
	BoundAt   time.Time
}

// FormatInfo renders a single session's binding and container state,
// showing a humanized relative binding age ("3m ago") when available.
func FormatInfo(v Info, mode ColorMode) string {
	if !v.Bound {
		return "no container bound to this session"
	}

	r := renderer(mode)
	_, _, _, dim, _ := styles(r)
	state := styleFor(r, v.State).Render(v.State)

	line := "container " + quote(v.Container) + " is " + state
	if !v.BoundAt.IsZero() {
		line += " (bound " + dim.Render(humanize.Time(v.BoundAt)) + ")"
	}
	return line
}

func quote(s string) string {
	return `"` + s + `"`
}
