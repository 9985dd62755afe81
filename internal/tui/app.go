// Package tui is the terminal client for the bedtime planner.
//
// It follows bubbletea's Elm architecture:
//   - the sync client publishes View snapshots; each one arrives as a viewMsg
//   - key presses become planner actions dispatched back to the sync client
//   - a 250ms tick keeps running stopwatches and the countdown live
//
// The App never edits the plan itself. Everything it shows comes from the
// most recent View.
package tui

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/bedtime/internal/logging"
	"github.com/kingrea/bedtime/internal/planner"
	"github.com/kingrea/bedtime/internal/syncclient"
)

// appState is which screen has the keyboard.
type appState int

const (
	stateBoard appState = iota
	stateTitlePrompt
	stateMinutesPrompt
	stateBedtimePrompt
	stateEditTitlePrompt
	stateEditPlannedPrompt
	stateEditActualPrompt
	stateConfirmReset
)

const (
	tickInterval      = 250 * time.Millisecond
	defaultPlannedMin = 15
)

// Syncer is the part of syncclient.Client the App drives.
type Syncer interface {
	Dispatch(planner.Action)
	Save()
	Reset()
	View() syncclient.View
	Updates() <-chan syncclient.View
}

// AppOption customizes App construction.
type AppOption func(*App)

// WithClock replaces time.Now for stopwatch and countdown rendering.
func WithClock(now func() time.Time) AppOption {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger routes UI events to logger. The terminal is owned by the
// renderer, so this is normally a file logger.
func WithLogger(logger *slog.Logger) AppOption {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithEndpoint labels the header with the store the client talks to.
func WithEndpoint(endpoint string) AppOption {
	return func(a *App) {
		a.endpoint = strings.TrimSpace(endpoint)
	}
}

// WithManualSave shows the save hint for clients that only push on request.
func WithManualSave(manual bool) AppOption {
	return func(a *App) {
		a.manual = manual
	}
}

// Messages
type viewMsg struct{ view syncclient.View }

type tickMsg time.Time

type updatesClosedMsg struct{}

// App is the main application model.
type App struct {
	syncer   Syncer
	updates  <-chan syncclient.View
	now      func() time.Time
	logger   *slog.Logger
	endpoint string
	manual   bool

	state appState
	view  syncclient.View
	keys  keyMap
	table table.Model
	input textinput.Model
	help  help.Model

	// Title typed at the first prompt while the minutes prompt is open.
	pendingTitle string
	// Draft of the task being edited, filled in one prompt at a time.
	editing      planner.Task
	notice       string
	detached     bool

	width  int
	height int
}

// NewApp creates an App over s, starting from its current View.
func NewApp(s Syncer, opts ...AppOption) *App {
	input := textinput.New()
	input.CharLimit = 120
	input.Prompt = "› "

	a := &App{
		syncer:  s,
		updates: s.Updates(),
		now:     time.Now,
		logger:  logging.Discard(),
		state:   stateBoard,
		view:    s.View(),
		keys:    newKeyMap(),
		input:   input,
		help:    help.New(),
		table: table.New(
			table.WithColumns(taskColumns(defaultTitleWidth)),
			table.WithFocused(true),
			table.WithHeight(10),
			table.WithStyles(tableStyles()),
		),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.refreshRows()
	return a
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.waitForView(), tick())
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()
		return a, nil

	case viewMsg:
		a.applyView(msg.view)
		return a, a.waitForView()

	case updatesClosedMsg:
		a.detached = true
		a.logger.Warn("sync client stopped publishing")
		return a, nil

	case tickMsg:
		a.refreshRows()
		return a, tick()

	case tea.KeyMsg:
		if key.Matches(msg, a.keys.ForceQuit) {
			return a, tea.Quit
		}
		switch {
		case a.prompting():
			return a.updatePrompt(msg)
		case a.state == stateConfirmReset:
			return a.updateConfirm(msg)
		default:
			return a.updateBoard(msg)
		}
	}

	if a.prompting() {
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) updateBoard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a.notice = ""
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit

	case key.Matches(msg, a.keys.NewTask):
		a.pendingTitle = ""
		return a, a.openPrompt(stateTitlePrompt, "Task title", "")

	case key.Matches(msg, a.keys.Edit):
		task, ok := a.selectedTask()
		if !ok {
			return a, nil
		}
		a.editing = task
		return a, a.openPrompt(stateEditTitlePrompt, "Title", task.Title)

	case key.Matches(msg, a.keys.Bedtime):
		return a, a.openPrompt(stateBedtimePrompt, "Bedtime (HH:MM)", a.view.State.Bedtime)

	case key.Matches(msg, a.keys.Timer):
		if task, ok := a.selectedTask(); ok {
			nowMs := a.now().UnixMilli()
			if task.TimerRunning {
				a.dispatch(planner.StopTimer{ID: task.ID, NowMs: nowMs})
			} else {
				a.dispatch(planner.StartTimer{ID: task.ID, NowMs: nowMs})
			}
		}
		return a, nil

	case key.Matches(msg, a.keys.Done):
		if task, ok := a.selectedTask(); ok {
			a.dispatch(planner.ToggleDone{ID: task.ID, Done: !task.Done, NowMs: a.now().UnixMilli()})
		}
		return a, nil

	case key.Matches(msg, a.keys.Delete):
		if task, ok := a.selectedTask(); ok {
			a.dispatch(planner.DeleteTask{ID: task.ID})
		}
		return a, nil

	case key.Matches(msg, a.keys.Save):
		if !a.view.CanSave() {
			a.notice = "Nothing to save"
			return a, nil
		}
		a.syncer.Save()
		return a, nil

	case key.Matches(msg, a.keys.Reset):
		a.state = stateConfirmReset
		return a, nil

	case key.Matches(msg, a.keys.Help):
		a.help.ShowAll = !a.help.ShowAll
		return a, nil
	}

	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

func (a *App) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Cancel):
		a.closePrompt()
		return a, nil
	case key.Matches(msg, a.keys.Submit):
		return a, a.submitPrompt(strings.TrimSpace(a.input.Value()))
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a.state = stateBoard
	if key.Matches(msg, a.keys.Confirm) {
		a.logger.Info("plan reset")
		a.syncer.Reset()
		a.notice = "Plan cleared"
		return a, nil
	}
	a.notice = "Reset cancelled"
	return a, nil
}

func (a *App) submitPrompt(value string) tea.Cmd {
	switch a.state {
	case stateTitlePrompt:
		if value == "" {
			a.notice = "Title cannot be empty"
			return nil
		}
		a.pendingTitle = value
		return a.openPrompt(stateMinutesPrompt, "Planned minutes", strconv.Itoa(defaultPlannedMin))

	case stateMinutesPrompt:
		minutes, err := strconv.Atoi(value)
		if err != nil || minutes < planner.MinPlannedMin || minutes > planner.MaxPlannedMin {
			a.notice = fmt.Sprintf("Minutes must be %d-%d", planner.MinPlannedMin, planner.MaxPlannedMin)
			return nil
		}
		a.dispatch(planner.CreateTask{Task: planner.NewTask(a.pendingTitle, minutes, a.now())})
		a.closePrompt()
		a.table.GotoTop()

	case stateEditTitlePrompt:
		if value == "" {
			a.notice = "Title cannot be empty"
			return nil
		}
		a.editing.Title = value
		return a.openPrompt(stateEditPlannedPrompt, "Planned minutes", strconv.Itoa(a.editing.PlannedMin))

	case stateEditPlannedPrompt:
		minutes, err := strconv.Atoi(value)
		if err != nil || minutes < planner.MinPlannedMin || minutes > planner.MaxPlannedMin {
			a.notice = fmt.Sprintf("Minutes must be %d-%d", planner.MinPlannedMin, planner.MaxPlannedMin)
			return nil
		}
		a.editing.PlannedMin = minutes
		actual := ""
		if a.editing.ActualMin != nil {
			actual = strconv.Itoa(*a.editing.ActualMin)
		}
		return a.openPrompt(stateEditActualPrompt, "Actual minutes (blank for none)", actual)

	case stateEditActualPrompt:
		a.editing.ActualMin = nil
		if value != "" {
			minutes, err := strconv.Atoi(value)
			if err != nil || minutes < 0 || minutes > planner.MaxActualMin {
				a.notice = fmt.Sprintf("Actual minutes must be 0-%d or blank", planner.MaxActualMin)
				return nil
			}
			a.editing.ActualMin = planner.IntPtr(minutes)
		}
		a.dispatch(planner.UpdateTask{Task: a.editing})
		a.closePrompt()

	case stateBedtimePrompt:
		if _, ok := planner.ParseClock(value); !ok {
			a.notice = "Use HH:MM, e.g. 22:30"
			return nil
		}
		a.dispatch(planner.SetBedtime{Value: value})
		a.closePrompt()
	}
	return nil
}

func (a *App) openPrompt(state appState, placeholder, value string) tea.Cmd {
	a.state = state
	a.notice = ""
	a.input.Placeholder = placeholder
	a.input.SetValue(value)
	a.input.CursorEnd()
	a.table.Blur()
	return a.input.Focus()
}

func (a *App) closePrompt() {
	a.state = stateBoard
	a.pendingTitle = ""
	a.editing = planner.Task{}
	a.input.Reset()
	a.input.Blur()
	a.table.Focus()
}

func (a *App) prompting() bool {
	switch a.state {
	case stateTitlePrompt, stateMinutesPrompt, stateBedtimePrompt,
		stateEditTitlePrompt, stateEditPlannedPrompt, stateEditActualPrompt:
		return true
	}
	return false
}

func (a *App) dispatch(action planner.Action) {
	a.logger.Debug("dispatch", "action", action.Kind())
	a.syncer.Dispatch(action)
}

func (a *App) applyView(v syncclient.View) {
	if v.Status != a.view.Status {
		a.logger.Debug("save status", "status", v.Status, "version", v.LastServerVersion)
	}
	a.view = v
	a.refreshRows()
}

// selectedTask resolves the table cursor against the current View.
func (a *App) selectedTask() (planner.Task, bool) {
	tasks := a.view.State.Tasks
	idx := a.table.Cursor()
	if idx < 0 || idx >= len(tasks) {
		return planner.Task{}, false
	}
	return tasks[idx], true
}

func (a *App) refreshRows() {
	nowMs := a.now().UnixMilli()
	tasks := a.view.State.Tasks
	rows := make([]table.Row, len(tasks))
	for i, t := range tasks {
		rows[i] = taskRow(t, nowMs)
	}
	a.table.SetRows(rows)
	if c := a.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		a.table.SetCursor(len(rows) - 1)
	}
}

func (a *App) resize() {
	titleWidth := max(defaultTitleWidth, a.width-fixedColumnsWidth-6)
	a.table.SetColumns(taskColumns(titleWidth))
	a.table.SetHeight(max(3, a.height-14))
	a.input.Width = max(20, a.width-8)
	a.help.Width = a.width
}

func (a *App) waitForView() tea.Cmd {
	ch := a.updates
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return viewMsg{view: v}
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}
