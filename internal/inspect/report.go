// Package inspect renders run history, snapshots and stage lists for the terminal.
package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/strata/internal/orchestrator"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
	"github.com/mattjoyce/strata/internal/stage"
)

// Theme centralizes all styling for terminal reports.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusSkipped lipgloss.Style

	Title  lipgloss.Style
	Header lipgloss.Style
	Dim    lipgloss.Style
}

func newTheme(r *lipgloss.Renderer) Theme {
	return Theme{
		StatusOK:      r.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: r.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  r.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusSkipped: r.NewStyle().Foreground(lipgloss.Color("#888888")),

		Title:  r.NewStyle().Bold(true),
		Header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Dim:    r.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// Printer writes reports to w. Colors are dropped when w is not a terminal.
type Printer struct {
	w     io.Writer
	theme Theme
	now   func() time.Time
}

// NewPrinter returns a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, theme: newTheme(lipgloss.NewRenderer(w)), now: time.Now}
}

func (p *Printer) status(s runlog.Status) string {
	label := string(s)
	switch s {
	case runlog.StatusSucceeded:
		return p.theme.StatusOK.Render(label)
	case runlog.StatusRunning:
		return p.theme.StatusRunning.Render(label)
	case runlog.StatusSimulated:
		return p.theme.StatusSkipped.Render(label)
	default:
		return p.theme.StatusFailed.Render(label)
	}
}

// pad left-justifies s to width before styling so escapes don't break columns.
func pad(s string, width int) string {
	if n := len(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func duration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// Runs prints a table of runs, newest first as given.
func (p *Printer) Runs(runs []runlog.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(p.w, p.theme.Dim.Render("No runs recorded."))
		return
	}
	fmt.Fprintln(p.w, p.theme.Header.Render(fmt.Sprintf("%-8s  %-10s  %-7s  %-22s  %-10s  %s",
		"RUN", "STATUS", "SOURCE", "STARTED", "DURATION", "SNAPSHOT")))
	for _, r := range runs {
		snap := "-"
		if r.Snapshot != nil {
			snap = *r.Snapshot
		}
		started := fmt.Sprintf("%s (%s)", r.StartedAt.Local().Format("01-02 15:04:05"), humanize.RelTime(r.StartedAt, p.now(), "ago", "from now"))
		fmt.Fprintf(p.w, "%-8s  %s  %-7s  %-22s  %-10s  %s\n",
			shortID(r.ID), p.status(r.Status)+strings.Repeat(" ", max(0, 10-len(r.Status))),
			r.Source, started, duration(r.Duration()), snap)
	}
}

// Run prints one run with its stage log. Captured output is shown when withOutput is set.
func (p *Printer) Run(r *runlog.Run, withOutput bool) {
	t := p.theme
	fmt.Fprintln(p.w, t.Title.Render("Run "+r.ID))
	fmt.Fprintf(p.w, "Status      : %s\n", p.status(r.Status))
	fmt.Fprintf(p.w, "Source      : %s\n", r.Source)
	fmt.Fprintf(p.w, "Stages dir  : %s\n", r.StagesDir)
	fmt.Fprintf(p.w, "Started     : %s (%s)\n", r.StartedAt.Local().Format(time.RFC3339), humanize.Time(r.StartedAt))
	if r.FinishedAt != nil {
		fmt.Fprintf(p.w, "Duration    : %s\n", duration(r.Duration()))
	}
	fmt.Fprintf(p.w, "First run   : %t\n", r.FirstRun)
	switch {
	case r.Snapshot != nil:
		fmt.Fprintf(p.w, "Snapshot    : %s\n", *r.Snapshot)
	case !r.Backup:
		fmt.Fprintf(p.w, "Snapshot    : %s\n", t.Dim.Render("<backup disabled>"))
	default:
		fmt.Fprintf(p.w, "Snapshot    : %s\n", t.Dim.Render("<none>"))
	}
	if r.Error != nil {
		fmt.Fprintf(p.w, "Error       : %s\n", t.StatusFailed.Render(*r.Error))
	}
	fmt.Fprintln(p.w)

	if len(r.Stages) == 0 {
		fmt.Fprintln(p.w, t.Dim.Render("No stages recorded."))
		return
	}
	for _, s := range r.Stages {
		fmt.Fprintf(p.w, "[%d] %s  %s  exit=%d  %s\n", s.Position, pad(s.Stage, 24), p.status(s.Status), s.ExitCode, duration(s.Duration))
		fmt.Fprintf(p.w, "    %s\n", t.Dim.Render(s.Command))
		if !withOutput {
			continue
		}
		writeBlock(p.w, "stdout", s.Stdout)
		writeBlock(p.w, "stderr", s.Stderr)
	}
}

func writeBlock(w io.Writer, label, text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	fmt.Fprintf(w, "    %s:\n", label)
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(w, "      %s\n", line)
	}
}

// Snapshots prints the archives in the history directory.
func (p *Printer) Snapshots(snaps []snapshot.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(p.w, p.theme.Dim.Render("No snapshots."))
		return
	}
	fmt.Fprintln(p.w, p.theme.Header.Render(fmt.Sprintf("%-16s  %-10s  %s", "NAME", "SIZE", "CREATED")))
	var total uint64
	for _, s := range snaps {
		total += uint64(max(s.Bytes, 0))
		fmt.Fprintf(p.w, "%-16s  %-10s  %s\n", s.Name, humanize.Bytes(uint64(max(s.Bytes, 0))), humanize.RelTime(s.CreatedAt, p.now(), "ago", "from now"))
	}
	fmt.Fprintln(p.w, p.theme.Dim.Render(fmt.Sprintf("%s in %s", humanize.Bytes(total), plural(len(snaps), "snapshot"))))
}

// Stages prints the discovered stages in execution order.
func (p *Printer) Stages(units []stage.Unit) {
	if len(units) == 0 {
		fmt.Fprintln(p.w, p.theme.Dim.Render("No stages found."))
		return
	}
	fmt.Fprintln(p.w, p.theme.Header.Render(fmt.Sprintf("%-3s  %-24s  %s", "#", "STAGE", "COMMAND")))
	for i, u := range units {
		fmt.Fprintf(p.w, "%-3d  %-24s  %s\n", i+1, u.Name, strings.Join(u.Command, " "))
		var notes []string
		if u.Description != "" {
			notes = append(notes, u.Description)
		}
		if len(u.DependsOn) > 0 {
			notes = append(notes, "after "+strings.Join(u.DependsOn, ", "))
		}
		if u.Timeout > 0 {
			notes = append(notes, "timeout "+u.Timeout.String())
		}
		if len(notes) > 0 {
			fmt.Fprintf(p.w, "     %s\n", p.theme.Dim.Render(strings.Join(notes, "; ")))
		}
	}
}

// Report prints the summary of a run the orchestrator just finished.
func (p *Printer) Report(r *orchestrator.Report) {
	t := p.theme
	label := "Pipeline completed"
	style := t.StatusOK
	switch {
	case r.State == orchestrator.StateFailed:
		label, style = "Pipeline failed", t.StatusFailed
	case r.DryRun:
		label = "Dry run complete, nothing was changed"
	}
	fmt.Fprintln(p.w, style.Render(label)+t.Dim.Render(" ("+shortID(r.RunID)+")"))

	switch {
	case r.FirstRun:
		fmt.Fprintln(p.w, "  snapshot: skipped, first run")
	case r.Snapshot != nil && r.DryRun:
		fmt.Fprintf(p.w, "  snapshot: would create %s\n", r.Snapshot.Name)
	case r.Snapshot != nil:
		fmt.Fprintf(p.w, "  snapshot: %s (%s)\n", r.Snapshot.Name, humanize.Bytes(uint64(max(r.Snapshot.Bytes, 0))))
	}
	for i, s := range r.Stages {
		fmt.Fprintf(p.w, "  [%d] %s  %s  %s\n", i+1, pad(s.Name, 24), p.status(s.Status), duration(s.Duration))
	}
	if r.Error != "" {
		fmt.Fprintf(p.w, "  error: %s\n", r.Error)
	}
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(p.w, "  took %s\n", duration(r.FinishedAt.Sub(r.StartedAt)))
	}
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json report: %w", err)
	}
	_, err = fmt.Fprintln(p.w, string(data))
	return err
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
