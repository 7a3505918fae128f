package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Level is the severity of a status message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelSuccess
)

func (l Level) symbol() string {
	switch l {
	case LevelError:
		return "✗"
	case LevelWarning:
		return "⚠"
	case LevelInfo:
		return "ℹ"
	}
	return "✓"
}

func (l Level) color() *color.Color {
	switch l {
	case LevelError:
		return color.New(color.FgRed, color.Bold)
	case LevelWarning:
		return color.New(color.FgYellow, color.Bold)
	case LevelInfo:
		return color.New(color.FgCyan)
	}
	return color.New(color.FgGreen, color.Bold)
}

// Message is a status line with optional detail and hints
type Message struct {
	Level   Level
	Text    string
	Detail  string
	Hints   []string
	NoColor bool
}

// Format renders m, e.g.
//
//	✗ store check failed
//	   dial tcp 127.0.0.1:6379: connection refused
//
//	   → Check store.url in weave.yaml
func (m Message) Format() string {
	var b strings.Builder
	head := m.Level.color()
	hint := color.New(color.FgCyan)
	if m.NoColor {
		head.DisableColor()
		hint.DisableColor()
	}

	head.Fprintf(&b, "%s %s\n", m.Level.symbol(), m.Text)
	if m.Detail != "" {
		fmt.Fprintf(&b, "   %s\n", m.Detail)
	}
	if len(m.Hints) > 0 {
		b.WriteString("\n")
		for _, h := range m.Hints {
			hint.Fprintf(&b, "   → %s\n", h)
		}
	}
	return b.String()
}

// Write prints m to w
func (m Message) Write(w io.Writer) {
	fmt.Fprint(w, m.Format())
}

// Success prints a success line
func Success(w io.Writer, noColor bool, format string, args ...any) {
	Message{Level: LevelSuccess, Text: fmt.Sprintf(format, args...), NoColor: noColor}.Write(w)
}

// Info prints an informational line
func Info(w io.Writer, noColor bool, format string, args ...any) {
	Message{Level: LevelInfo, Text: fmt.Sprintf(format, args...), NoColor: noColor}.Write(w)
}
