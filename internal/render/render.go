// Package render prints the conversation, notices, and the input level meter
// to a terminal.
package render

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/rbright/voicebridge/internal/conversation"
)

// MeterWidth is the number of cells in the level bar.
const MeterWidth = 20

const (
	colorSky   = "#38BDF8"
	colorGreen = "#4ADE80"
	colorAmber = "#FBBF24"
	colorGray  = "#9CA3AF"
	colorRed   = "#F87171"
)

// Options configures a Console.
type Options struct {
	Color bool
	Meter bool
}

// Console writes styled lines. It is safe for concurrent use.
type Console struct {
	mu         sync.Mutex
	w          io.Writer
	meter      bool
	levelShown bool

	label  map[conversation.Role]lipgloss.Style
	notice lipgloss.Style
	bar    lipgloss.Style
}

// NewConsole builds a console over w.
func NewConsole(w io.Writer, opts Options) *Console {
	r := lipgloss.NewRenderer(w)
	style := func(color string) lipgloss.Style {
		s := r.NewStyle().Bold(true)
		if opts.Color {
			s = s.Foreground(lipgloss.Color(color))
		}
		return s
	}

	notice := r.NewStyle().Italic(true)
	bar := r.NewStyle()
	if opts.Color {
		notice = notice.Foreground(lipgloss.Color(colorGray))
		bar = bar.Foreground(lipgloss.Color(colorRed))
	}

	return &Console{
		w:     w,
		meter: opts.Meter,
		label: map[conversation.Role]lipgloss.Style{
			conversation.RoleUser:      style(colorSky),
			conversation.RoleAssistant: style(colorGreen),
			conversation.RoleSystem:    style(colorAmber),
		},
		notice: notice,
		bar:    bar,
	}
}

// Entry prints one conversation line.
func (c *Console) Entry(e conversation.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLevelLocked()
	fmt.Fprintf(c.w, "%s %s\n", c.label[e.Role].Render(roleLabel(e.Role)+":"), e.Text)
}

// Notice prints a system notice.
func (c *Console) Notice(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLevelLocked()
	fmt.Fprintln(c.w, c.notice.Render("* "+text))
}

// Level redraws the meter in place. No-op when the meter is disabled.
func (c *Console) Level(level float64) {
	if !c.meter {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "\r%s", c.bar.Render("["+Meter(level, MeterWidth)+"]"))
	c.levelShown = true
}

// ClearLevel erases the meter line if one is showing.
func (c *Console) ClearLevel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLevelLocked()
}

func (c *Console) clearLevelLocked() {
	if !c.levelShown {
		return
	}
	fmt.Fprintf(c.w, "\r%s\r", strings.Repeat(" ", MeterWidth+2))
	c.levelShown = false
}

// Meter renders level in [0,1] as a bar of width cells.
func Meter(level float64, width int) string {
	if width <= 0 {
		return ""
	}
	if math.IsNaN(level) || level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(math.Round(level * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func roleLabel(role conversation.Role) string {
	switch role {
	case conversation.RoleUser:
		return "You"
	case conversation.RoleAssistant:
		return "Assistant"
	default:
		return "System"
	}
}
