package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/bedtime/internal/planner"
	"github.com/kingrea/bedtime/internal/syncclient"
)

const (
	defaultTitleWidth = 28
	fixedColumnsWidth = 2 + 6 + 7 + 9
	progressWidth     = 24
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#9D8CFF"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	valueStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EEEEEE"))
	goodStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	panelStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func taskColumns(titleWidth int) []table.Column {
	return []table.Column{
		{Title: "", Width: 2},
		{Title: "Task", Width: titleWidth},
		{Title: "Plan", Width: 6},
		{Title: "Actual", Width: 7},
		{Title: "Timer", Width: 9},
	}
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#3B3571")).
		Bold(false)
	return s
}

func taskRow(t planner.Task, nowMs int64) table.Row {
	marker := "·"
	switch {
	case t.Done:
		marker = "✓"
	case t.TimerRunning:
		marker = "▶"
	}
	actual := "-"
	if t.ActualMin != nil {
		actual = fmt.Sprintf("%dm", *t.ActualMin)
	}
	timer := ""
	if elapsed := planner.LiveElapsed(t, nowMs); elapsed > 0 || t.TimerRunning {
		timer = formatElapsed(elapsed)
	}
	return table.Row{marker, t.Title, fmt.Sprintf("%dm", t.PlannedMin), actual, timer}
}

// View renders the current state.
func (a *App) View() string {
	sections := []string{a.renderHeader()}
	if a.view.Mode.Phase != syncclient.PhaseReady {
		sections = append(sections, mutedStyle.Render("Loading plan…"))
		return lipgloss.JoinVertical(lipgloss.Left, sections...)
	}
	sections = append(sections, a.renderSummary())
	if planner.HasDoneWithoutActual(a.view.State.Tasks) {
		sections = append(sections, warnStyle.Render("! A finished task has no actual time recorded"))
	}
	if len(a.view.State.Tasks) == 0 {
		sections = append(sections, mutedStyle.Render("No tasks yet. Press n to add one."))
	} else {
		sections = append(sections, a.table.View())
	}
	switch {
	case a.prompting():
		if a.editing.ID != "" {
			sections = append(sections, labelStyle.Render("Edit "+a.editing.Title+": "+a.input.Placeholder))
		}
		sections = append(sections, a.input.View())
	case a.state == stateConfirmReset:
		sections = append(sections, badStyle.Render("Clear every task and reset bedtime? (y/N)"))
	}
	sections = append(sections, a.renderStatus(), a.renderHelp())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) renderHeader() string {
	parts := []string{headerStyle.Render("☾ BEDTIME")}
	if a.endpoint != "" {
		parts = append(parts, mutedStyle.Render(a.endpoint))
	}
	switch {
	case a.detached:
		parts = append(parts, badStyle.Render("● detached"))
	case a.view.Offline:
		parts = append(parts, warnStyle.Render("● offline (cached copy)"))
	case a.view.Mode.Phase == syncclient.PhaseReady:
		parts = append(parts, goodStyle.Render("● live"))
	}
	return strings.Join(parts, "  ")
}

func (a *App) renderSummary() string {
	now := a.now()
	state := a.view.State
	sums := planner.Summarize(state.Tasks)

	bedMinutes, ok := planner.BedtimeMinutes(state.Bedtime)
	if !ok {
		lines := []string{
			labelStyle.Render("Bedtime ") + warnStyle.Render(orDash(state.Bedtime)) +
				mutedStyle.Render("  (pick a time between 14:00 and 23:59, press b)"),
			labelStyle.Render("Work left ") + valueStyle.Render(formatMinutes(sums.TotalWorkMin)),
		}
		return panelStyle.Render(strings.Join(lines, "\n"))
	}

	untilBed := planner.TimeUntilBed(bedMinutes, now)
	buffer := planner.Buffer(untilBed, sums.TotalWorkMin)
	progress := planner.Progress(untilBed, sums.TotalWorkMin)
	doneBy := planner.CompletionAt(now, sums.TotalWorkMin)

	bufferStyle := goodStyle
	switch {
	case buffer < 0:
		bufferStyle = badStyle
	case buffer < 15*time.Minute:
		bufferStyle = warnStyle
	}

	untilLabel := "in " + formatDuration(untilBed)
	if untilBed < 0 {
		untilLabel = formatDuration(-untilBed) + " ago"
	}
	lines := []string{
		labelStyle.Render("Bedtime ") + valueStyle.Render(state.Bedtime) + mutedStyle.Render("  "+untilLabel),
		labelStyle.Render("Work left ") + valueStyle.Render(formatMinutes(sums.TotalWorkMin)) +
			labelStyle.Render("   Done by ") + valueStyle.Render(doneBy.Format("15:04")) +
			labelStyle.Render("   Buffer ") + bufferStyle.Render(formatDuration(buffer)),
		labelStyle.Render("Logged ") + valueStyle.Render(formatMinutes(sums.ActualDoneMin)),
		renderProgress(progress),
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderProgress(percent int) string {
	filled := min(percent, 100) * progressWidth / 100
	style := goodStyle
	switch {
	case percent > 100:
		style = badStyle
	case percent > 80:
		style = warnStyle
	}
	bar := style.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", progressWidth-filled))
	return bar + " " + style.Render(fmt.Sprintf("%d%%", percent))
}

func (a *App) renderStatus() string {
	v := a.view
	var status string
	switch v.Status {
	case syncclient.StatusSaving:
		status = runningStyle.Render("Saving…")
	case syncclient.StatusSaved:
		status = goodStyle.Render("Saved")
		if !v.SavedAt.IsZero() {
			status += mutedStyle.Render(" at " + v.SavedAt.Local().Format("15:04:05"))
		}
	case syncclient.StatusError:
		status = badStyle.Render("Save failed")
		if v.Err != nil {
			status += mutedStyle.Render(": " + v.Err.Error())
		}
	case syncclient.StatusConflict:
		status = warnStyle.Render("Someone else saved first; showing their copy")
	}
	if v.Dirty && !v.Pushing {
		hint := "Unsaved changes"
		if a.manual {
			hint += " (S to save)"
		}
		status = strings.TrimSpace(status + "  " + warnStyle.Render(hint))
	}
	if a.notice != "" {
		status = strings.TrimSpace(status + "  " + mutedStyle.Render(a.notice))
	}
	return status
}

func (a *App) renderHelp() string {
	if a.prompting() {
		return a.help.ShortHelpView(a.keys.promptHelp())
	}
	return a.help.View(a.keys)
}

// formatDuration renders d to the minute, e.g. "1h05m" or "-12m".
func formatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	mins := int(d / time.Minute)
	if mins >= 60 {
		return fmt.Sprintf("%s%dh%02dm", sign, mins/60, mins%60)
	}
	return fmt.Sprintf("%s%dm", sign, mins)
}

func formatMinutes(mins int) string {
	return formatDuration(time.Duration(mins) * time.Minute)
}

// formatElapsed renders stopwatch milliseconds as m:ss or h:mm:ss.
func formatElapsed(ms int64) string {
	secs := ms / 1000
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
