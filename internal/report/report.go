// Package report prints test verdicts as styled text or TAP.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"grimm.is/uqdev/internal/verdict"
)

// Reporter receives results as tests finish.
type Reporter interface {
	Start(total int)
	Result(r verdict.Result)
	Finish(results []verdict.Result)
}

// Format names a reporter.
type Format string

const (
	FormatText Format = "text"
	FormatTAP  Format = "tap"
)

// New returns the reporter for format.
func New(format Format, w io.Writer) (Reporter, error) {
	switch Format(strings.ToLower(string(format))) {
	case FormatText, "":
		return NewText(w), nil
	case FormatTAP:
		return NewTAP(w), nil
	}
	return nil, fmt.Errorf("unknown report format %q (want text or tap)", format)
}

var (
	colorGood  = lipgloss.Color("#4ECDC4")
	colorAlert = lipgloss.Color("#FF6B6B")
	colorWarn  = lipgloss.Color("#FFE66D")
	colorMuted = lipgloss.Color("#6c757d")
)

// Text prints one line per test and a final pass count.
type Text struct {
	w     io.Writer
	total int

	good  lipgloss.Style
	bad   lipgloss.Style
	warn  lipgloss.Style
	muted lipgloss.Style
}

// NewText returns a text reporter. Colors are used only when w is a
// terminal.
func NewText(w io.Writer) *Text {
	r := lipgloss.NewRenderer(w)
	return &Text{
		w:     w,
		good:  r.NewStyle().Foreground(colorGood).Bold(true),
		bad:   r.NewStyle().Foreground(colorAlert).Bold(true),
		warn:  r.NewStyle().Foreground(colorWarn).Bold(true),
		muted: r.NewStyle().Foreground(colorMuted),
	}
}

func (t *Text) Start(total int) {
	t.total = total
}

func (t *Text) Result(r verdict.Result) {
	style := t.bad
	switch r.Kind {
	case verdict.Passed:
		style = t.good
	case verdict.TimedOut:
		style = t.warn
	}
	label := t.muted.Render(fmt.Sprintf("[%d/%d] %s", r.Index+1, t.total, r.Name))
	fmt.Fprintf(t.w, "%s %s\n", label, style.Render(r.Summary()))
}

func (t *Text) Finish(results []verdict.Result) {
	passed, _, _ := verdict.Counts(results)
	style := t.good
	if passed != len(results) {
		style = t.bad
	}
	fmt.Fprintln(t.w, style.Render(fmt.Sprintf("Passed: %d/%d", passed, len(results))))
}

// TAP prints Test Anything Protocol output.
type TAP struct {
	w io.Writer
}

// NewTAP returns a TAP reporter.
func NewTAP(w io.Writer) *TAP {
	return &TAP{w: w}
}

func (t *TAP) Start(total int) {
	fmt.Fprintf(t.w, "1..%d\n", total)
}

func (t *TAP) Result(r verdict.Result) {
	if r.OK() {
		fmt.Fprintf(t.w, "ok %d - %s\n", r.Index+1, r.Name)
		return
	}
	fmt.Fprintf(t.w, "not ok %d - %s\n", r.Index+1, r.Name)
	for _, line := range strings.Split(r.Summary(), "\n") {
		fmt.Fprintf(t.w, "# %s\n", line)
	}
}

func (t *TAP) Finish(results []verdict.Result) {
	passed, failed, timedOut := verdict.Counts(results)
	fmt.Fprintf(t.w, "# passed %d, failed %d, timed out %d\n", passed, failed, timedOut)
}
