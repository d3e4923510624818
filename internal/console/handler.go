// Package console renders human-facing terminal output: a colourised slog
// handler for interactive commands and the boxed banners printed around a
// pipeline run.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// LevelSuccess marks a completed unit of work. It sorts between INFO and WARN
// so it is visible at the default level.
const LevelSuccess = slog.Level(2)

const timestampLayout = "2006-01-02 15:04:05"

// LevelName returns the display name for a level, including SUCCESS.
func LevelName(level slog.Level) string {
	switch level {
	case LevelSuccess:
		return "SUCCESS"
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelInfo:
		return "INFO"
	case slog.LevelWarn:
		return "WARNING"
	case slog.LevelError:
		return "ERROR"
	}
	return level.String()
}

// Handler is a slog.Handler producing `[timestamp] LEVEL: message key=value`
// lines, coloured per level when the writer is a terminal.
type Handler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	styles map[slog.Level]lipgloss.Style
	attrs  []slog.Attr
	groups []string
	now    func() time.Time
}

// NewHandler creates a Handler writing to w at the given minimum level.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	r := lipgloss.NewRenderer(w)
	return &Handler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
		styles: map[slog.Level]lipgloss.Style{
			slog.LevelDebug: r.NewStyle().Faint(true),
			slog.LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("14")),
			LevelSuccess:    r.NewStyle().Foreground(lipgloss.Color("10")),
			slog.LevelWarn:  r.NewStyle().Foreground(lipgloss.Color("11")),
			slog.LevelError: r.NewStyle().Foreground(lipgloss.Color("9")),
		},
		now: time.Now,
	}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	ts := rec.Time
	if ts.IsZero() {
		ts = h.now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", ts.Format(timestampLayout), LevelName(rec.Level), rec.Message)

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		writeAttr(&b, prefix, a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, prefix, a)
		return true
	})

	line := h.styleFor(rec.Level).Render(b.String())

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line+"\n")
	return err
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func (h *Handler) styleFor(level slog.Level) lipgloss.Style {
	switch {
	case level >= slog.LevelError:
		return h.styles[slog.LevelError]
	case level >= slog.LevelWarn:
		return h.styles[slog.LevelWarn]
	case level >= LevelSuccess:
		return h.styles[LevelSuccess]
	case level >= slog.LevelInfo:
		return h.styles[slog.LevelInfo]
	}
	return h.styles[slog.LevelDebug]
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	val := a.Value.String()
	if strings.ContainsAny(val, " \t\"=") {
		val = fmt.Sprintf("%q", val)
	}
	fmt.Fprintf(b, " %s=%s", key, val)
}
