package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	SwitchPane key.Binding
	Extend     key.Binding

	Merge key.Binding
	Split key.Binding
	Undo  key.Binding
	Redo  key.Binding

	Good    key.Binding
	MUA     key.Binding
	Noise   key.Binding
	Unsort  key.Binding
	Label   key.Binding
	NextSim key.Binding
	PrevSim key.Binding
	Restart key.Binding

	Save   key.Binding
	Export key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	SwitchPane: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "switch pane"),
	),
	Extend: key.NewBinding(
		key.WithKeys(" "),
		key.WithHelp("space", "extend selection"),
	),
	Merge: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "merge"),
	),
	Split: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "split viewer spikes"),
	),
	Undo: key.NewBinding(
		key.WithKeys("u"),
		key.WithHelp("u", "undo"),
	),
	Redo: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "redo"),
	),
	Good: key.NewBinding(
		key.WithKeys("g"),
		key.WithHelp("g", "move to good"),
	),
	MUA: key.NewBinding(
		key.WithKeys("v"),
		key.WithHelp("v", "move to mua"),
	),
	Noise: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("n", "move to noise"),
	),
	Unsort: key.NewBinding(
		key.WithKeys("0"),
		key.WithHelp("0", "move to unsorted"),
	),
	Label: key.NewBinding(
		key.WithKeys("l"),
		key.WithHelp("l", "label"),
	),
	NextSim: key.NewBinding(
		key.WithKeys("."),
		key.WithHelp(".", "next similar"),
	),
	PrevSim: key.NewBinding(
		key.WithKeys(","),
		key.WithHelp(",", "previous similar"),
	),
	Restart: key.NewBinding(
		key.WithKeys("R"),
		key.WithHelp("R", "restart wizard"),
	),
	Save: key.NewBinding(
		key.WithKeys("w"),
		key.WithHelp("w", "save"),
	),
	Export: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "export"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
