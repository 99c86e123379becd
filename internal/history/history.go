// Package history merges the undo stacks of the clustering engine and the
// metadata store into one logical history: a single user action may touch
// both, and undoing it must revert both in one step.
package history

import (
	"errors"

	"github.com/lotas/sortbench/internal/types"
)

// ErrUnsupportedCombination is returned when a single undo/redo step yields
// more than two updates. Only two undo-capable stacks exist; more is an
// internal consistency failure, not a user error.
var ErrUnsupportedCombination = errors.New("history: cannot combine more than two updates")

// Combine merges the updates produced by one undo/redo step into a single
// update. Zero updates yields nil; one is returned unchanged; with two, the
// second wins on every field it has set.
func Combine(ups []types.UpdateInfo) (*types.UpdateInfo, error) {
	switch len(ups) {
	case 0:
		return nil, nil
	case 1:
		up := ups[0]
		return &up, nil
	case 2:
		up := ups[0]
		second := ups[1]
		if second.Description != "" {
			up.Description = second.Description
		}
		if second.History != "" {
			up.History = second.History
		}
		if second.Added != nil {
			up.Added = second.Added
		}
		if second.Deleted != nil {
			up.Deleted = second.Deleted
		}
		if second.SpikeIDs != nil {
			up.SpikeIDs = second.SpikeIDs
		}
		if second.MetadataChanged != nil {
			up.MetadataChanged = second.MetadataChanged
			up.MetadataValue = second.MetadataValue
		}
		return &up, nil
	}
	return nil, ErrUnsupportedCombination
}

// Stack is an undo-capable collaborator. Undo and Redo report the update
// that reverting/replaying produced, or ok=false when the stack has nothing
// to revert/replay.
type Stack interface {
	Undo() (types.UpdateInfo, bool)
	Redo() (types.UpdateInfo, bool)
}

// Global records which stacks each user action touched, in order, and
// undoes/redoes one whole action at a time.
type Global struct {
	checkpoints [][]Stack
	cursor      int // number of checkpoints currently applied
}

// NewGlobal returns an empty global history.
func NewGlobal() *Global {
	return &Global{}
}

// Action records a completed action that touched the given stacks.
// Checkpoints above the cursor (undone, not redone) are discarded.
func (g *Global) Action(stacks ...Stack) {
	g.checkpoints = append(g.checkpoints[:g.cursor], stacks)
	g.cursor = len(g.checkpoints)
}

// Undo reverts the most recent applied action on every stack it touched and
// returns the combined update. Nil when there is nothing to undo.
func (g *Global) Undo() (*types.UpdateInfo, error) {
	if g.cursor == 0 {
		return nil, nil
	}
	g.cursor--
	stacks := g.checkpoints[g.cursor]

	// Revert in reverse order of application.
	var ups []types.UpdateInfo
	for i := len(stacks) - 1; i >= 0; i-- {
		if up, ok := stacks[i].Undo(); ok {
			ups = append(ups, up)
		}
	}
	return Combine(ups)
}

// Redo replays the most recently undone action. Nil when there is nothing
// to redo.
func (g *Global) Redo() (*types.UpdateInfo, error) {
	if g.cursor >= len(g.checkpoints) {
		return nil, nil
	}
	stacks := g.checkpoints[g.cursor]
	g.cursor++

	var ups []types.UpdateInfo
	for _, s := range stacks {
		if up, ok := s.Redo(); ok {
			ups = append(ups, up)
		}
	}
	return Combine(ups)
}
