package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	NewTask   key.Binding
	Edit      key.Binding
	Bedtime   key.Binding
	Timer     key.Binding
	Done      key.Binding
	Delete    key.Binding
	Save      key.Binding
	Reset     key.Binding
	Help      key.Binding
	Quit      key.Binding
	ForceQuit key.Binding

	Submit  key.Binding
	Cancel  key.Binding
	Confirm key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		NewTask:   key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new task")),
		Edit:      key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
		Bedtime:   key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "bedtime")),
		Timer:     key.NewBinding(key.WithKeys("s", " "), key.WithHelp("s", "start/stop")),
		Done:      key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "done")),
		Delete:    key.NewBinding(key.WithKeys("x", "delete"), key.WithHelp("x", "delete")),
		Save:      key.NewBinding(key.WithKeys("S", "ctrl+s"), key.WithHelp("S", "save")),
		Reset:     key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "reset")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
		Quit:      key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
		ForceQuit: key.NewBinding(key.WithKeys("ctrl+c")),
		Submit:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "ok")),
		Cancel:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		Confirm:   key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "confirm")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NewTask, k.Timer, k.Done, k.Save, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.NewTask, k.Edit, k.Bedtime},
		{k.Timer, k.Done, k.Delete},
		{k.Save, k.Reset, k.Help, k.Quit},
	}
}

func (k keyMap) promptHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Cancel}
}
