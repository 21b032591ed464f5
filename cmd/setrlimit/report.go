package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rsturla/setrlimit/pkg/inject"
	"github.com/rsturla/setrlimit/pkg/rlimit"
	xterm "golang.org/x/term"
)

var (
	pidStyle    = lipgloss.NewStyle().Bold(true)
	raisedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	quietStyle  = lipgloss.NewStyle().Faint(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
)

// reporter prints one line per target, styled only on a terminal.
type reporter struct {
	w      io.Writer
	styled bool
	dryRun bool

	// needPrivilege is set once a target refused to be traced.
	needPrivilege bool
}

func newReporter(w io.Writer, styled bool) *reporter {
	return &reporter{w: w, styled: styled}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && xterm.IsTerminal(int(f.Fd()))
}

func (r *reporter) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r *reporter) prefix(pid int, res rlimit.Resource) string {
	return r.style(pidStyle, strconv.Itoa(pid)) + " " + res.Name + ": "
}

func (r *reporter) success(out inject.Outcome, res rlimit.Resource) {
	var msg string
	switch {
	case out.Changed:
		msg = r.style(raisedStyle, fmt.Sprintf("%s -> %s",
			rlimit.FormatValue(out.Before.Cur), rlimit.FormatValue(out.After.Cur)))
	case out.Before.AtHard():
		msg = r.style(quietStyle, fmt.Sprintf("%s (already at hard limit)", rlimit.FormatValue(out.Before.Cur)))
	case r.dryRun:
		msg = fmt.Sprintf("soft %s, hard %s (dry run)",
			rlimit.FormatValue(out.Before.Cur), rlimit.FormatValue(out.Before.Max))
	default:
		msg = out.Before.String()
	}
	fmt.Fprintln(r.w, r.prefix(out.PID, res)+msg)
}

func (r *reporter) failure(pid int, res rlimit.Resource, err error) {
	kind := inject.KindOf(err)
	if kind == inject.KindAttach {
		r.needPrivilege = true
	}
	fmt.Fprintln(r.w, r.prefix(pid, res)+r.style(failedStyle, "failed")+fmt.Sprintf(" (%s): %v", kind, err))
}

func (r *reporter) skipped(pid int, res rlimit.Resource) {
	fmt.Fprintln(r.w, r.prefix(pid, res)+r.style(quietStyle, "skipped (interrupted)"))
}

func (r *reporter) resources(all []rlimit.Resource) {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("NAME", "ID", "UNIT", "DESCRIPTION").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow && r.styled {
				return headerStyle.PaddingRight(1)
			}
			return lipgloss.NewStyle().PaddingRight(1)
		})
	for _, res := range all {
		t.Row(res.Name, strconv.Itoa(res.ID), res.Unit, res.Description)
	}
	fmt.Fprintln(r.w, t.String())
}
