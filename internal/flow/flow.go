// Package flow keeps the ordered log of clustering actions and selection
// states, and defines how the selection changes after each action.
//
// The log alternates state and action entries. Recording an action computes
// and appends the resulting state in the same call, so an action entry is
// never the last element. Entries are addressed by index; "previous state"
// lookups are index arithmetic over a bounded window.
package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lotas/sortbench/internal/types"
)

// PreviousStateWindow bounds how far back a previous-state lookup scans.
// Exhausting the window with entries remaining means the log is malformed.
const PreviousStateWindow = 10

// ErrWindowExceeded is returned when a previous-state lookup scans
// PreviousStateWindow entries without finding a state entry.
var ErrWindowExceeded = errors.New("flow: no state entry within lookup window")

// ActionKind enumerates the recorded clustering actions.
type ActionKind int

const (
	ActionMerge ActionKind = iota
	ActionSplit
	ActionMove
	ActionUndo
	ActionRedo
)

func (k ActionKind) String() string {
	switch k {
	case ActionMerge:
		return "merge"
	case ActionSplit:
		return "split"
	case ActionMove:
		return "move"
	case ActionUndo:
		return "undo"
	case ActionRedo:
		return "redo"
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// State is a desired or observed selection snapshot. Nil slice / pointer
// fields mean "not yet known"; they may be filled in later, first write wins.
type State struct {
	ClusterIDs  []int
	Similar     []int
	NextCluster *int
	NextSimilar *int
	Wizard      string // navigation directive, e.g. "next_best"
}

// merge fills unset fields of s from patch. Fields already set on s are
// never overwritten.
func (s *State) merge(patch State) {
	if s.ClusterIDs == nil {
		s.ClusterIDs = patch.ClusterIDs
	}
	if s.Similar == nil {
		s.Similar = patch.Similar
	}
	if s.NextCluster == nil {
		s.NextCluster = patch.NextCluster
	}
	if s.NextSimilar == nil {
		s.NextSimilar = patch.NextSimilar
	}
	if s.Wizard == "" {
		s.Wizard = patch.Wizard
	}
}

func (s *State) clone() *State {
	c := *s
	c.ClusterIDs = append([]int(nil), s.ClusterIDs...)
	c.Similar = append([]int(nil), s.Similar...)
	if s.NextCluster != nil {
		v := *s.NextCluster
		c.NextCluster = &v
	}
	if s.NextSimilar != nil {
		v := *s.NextSimilar
		c.NextSimilar = &v
	}
	return &c
}

func (s *State) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "clusters=%v", s.ClusterIDs)
	if s.NextCluster != nil {
		fmt.Fprintf(&b, " next=%d", *s.NextCluster)
	}
	fmt.Fprintf(&b, " similar=%v", s.Similar)
	if s.NextSimilar != nil {
		fmt.Fprintf(&b, " next_similar=%d", *s.NextSimilar)
	}
	if s.Wizard != "" {
		fmt.Fprintf(&b, " wizard=%s", s.Wizard)
	}
	return b.String()
}

// Action is a recorded clustering or metadata mutation.
type Action struct {
	Kind ActionKind

	ClusterIDs []int  // merge, move
	To         int    // merge target
	OldIDs     []int  // split
	NewIDs     []int  // split
	Group      string // move target group

	Update *types.UpdateInfo // undo, redo
}

func (a *Action) String() string {
	switch a.Kind {
	case ActionMerge:
		return fmt.Sprintf("merge %v to=%d", a.ClusterIDs, a.To)
	case ActionSplit:
		return fmt.Sprintf("split old=%v new=%v", a.OldIDs, a.NewIDs)
	case ActionMove:
		return fmt.Sprintf("move %v group=%q", a.ClusterIDs, a.Group)
	default:
		return a.Kind.String()
	}
}

// entry is one element of the log: exactly one of state or action is set.
type entry struct {
	state  *State
	action *Action
}

// Log is the append-only flow log. It lives for the whole curation session
// and is never truncated; past entries are diagnostic only.
type Log struct {
	entries []entry
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Len returns the number of entries (states plus actions).
func (l *Log) Len() int {
	return len(l.entries)
}

// Current returns the current state: the last entry if it is a state,
// nil otherwise.
func (l *Log) Current() *State {
	if len(l.entries) == 0 {
		return nil
	}
	return l.entries[len(l.entries)-1].state
}

// AddState appends a fresh state built from the given partial state and
// returns it.
func (l *Log) AddState(partial State) *State {
	s := &State{}
	s.merge(partial)
	l.entries = append(l.entries, entry{state: s})
	return s
}

// UpdateCurrentState merges the given fields into the current state in
// place, first write wins. If the current entry is not a state, a fresh
// empty state is appended first. The state's identity is preserved so
// callers holding the pointer observe the completion.
func (l *Log) UpdateCurrentState(patch State) *State {
	s := l.Current()
	if s == nil {
		s = l.AddState(State{})
	}
	s.merge(patch)
	return s
}

// RecordMerge records a merge of clusterIDs into to and returns the
// computed next state.
func (l *Log) RecordMerge(clusterIDs []int, to int) (*State, error) {
	return l.record(&Action{Kind: ActionMerge, ClusterIDs: clusterIDs, To: to})
}

// RecordSplit records a split that replaced oldIDs with newIDs.
func (l *Log) RecordSplit(oldIDs, newIDs []int) (*State, error) {
	return l.record(&Action{Kind: ActionSplit, OldIDs: oldIDs, NewIDs: newIDs})
}

// RecordMove records moving clusterIDs to the given group.
func (l *Log) RecordMove(clusterIDs []int, group string) (*State, error) {
	return l.record(&Action{Kind: ActionMove, ClusterIDs: clusterIDs, Group: group})
}

// RecordUndo records an undo step.
func (l *Log) RecordUndo(up *types.UpdateInfo) (*State, error) {
	return l.record(&Action{Kind: ActionUndo, Update: up})
}

// RecordRedo records a redo step. If no undo action exists in the log the
// redo is a no-op: nothing is recorded and the returned state is nil.
func (l *Log) RecordRedo(up *types.UpdateInfo) (*State, error) {
	a := &Action{Kind: ActionRedo, Update: up}
	s, err := l.stateAfter(a, len(l.entries))
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	l.entries = append(l.entries, entry{action: a}, entry{state: s})
	return s, nil
}

// record appends the action, computes the resulting state, appends it and
// returns it. The action-then-state pairing is the log's core invariant.
func (l *Log) record(a *Action) (*State, error) {
	actionIdx := len(l.entries)
	s, err := l.stateAfter(a, actionIdx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = &State{}
	}
	l.entries = append(l.entries, entry{action: a}, entry{state: s})
	return s, nil
}

// stateAfter computes the state that follows an action recorded at index
// idx, per the transition rule table. The returned state is always a fresh
// object, never an alias of an earlier entry.
func (l *Log) stateAfter(a *Action, idx int) (*State, error) {
	switch a.Kind {
	case ActionMerge:
		return l.stateAfterMerge(a, idx)
	case ActionSplit:
		return &State{ClusterIDs: append([]int(nil), a.NewIDs...)}, nil
	case ActionMove:
		return l.stateAfterMove(a, idx)
	case ActionUndo:
		return l.stateAfterUndo(idx)
	case ActionRedo:
		return l.stateAfterRedo()
	}
	return nil, fmt.Errorf("flow: unknown action kind %v", a.Kind)
}

// stateAfterMerge selects the merge target, carrying the previous state's
// next-similar suggestion into the similarity selection.
func (l *Log) stateAfterMerge(a *Action, idx int) (*State, error) {
	prev, err := l.previousState(idx)
	if err != nil {
		return nil, err
	}
	next := &State{ClusterIDs: []int{a.To}}
	if prev != nil && prev.NextSimilar != nil {
		next.Similar = []int{*prev.NextSimilar}
	}
	return next, nil
}

// stateAfterMove applies the subset-of-selection rules: moving the selected
// clusters advances to the next cluster; moving the selected similar rows
// advances the similarity selection; moving anything else falls back to the
// wizard.
func (l *Log) stateAfterMove(a *Action, idx int) (*State, error) {
	prev, err := l.previousState(idx)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		prev = &State{}
	}
	next := &State{}
	switch {
	case isSubset(a.ClusterIDs, prev.ClusterIDs):
		if prev.NextCluster != nil {
			next.ClusterIDs = []int{*prev.NextCluster}
		}
	case isSubset(a.ClusterIDs, prev.Similar):
		next.ClusterIDs = append([]int(nil), prev.ClusterIDs...)
		if prev.NextSimilar != nil {
			next.Similar = []int{*prev.NextSimilar}
		}
	default:
		next.Wizard = "next_best"
		if prev.NextSimilar != nil {
			next.Similar = []int{*prev.NextSimilar}
		}
	}
	return next, nil
}

// stateAfterUndo steps back two state checkpoints: past the undone action's
// own recorded state, then past the state that preceded it.
func (l *Log) stateAfterUndo(idx int) (*State, error) {
	prev, prevIdx, err := l.previousStateIndexed(idx)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	prev2, err := l.previousState(prevIdx)
	if err != nil {
		return nil, err
	}
	if prev2 == nil {
		return nil, nil
	}
	return prev2.clone(), nil
}

// stateAfterRedo restores the state that preceded the most recent undo
// action. Nil if the log holds no undo action.
func (l *Log) stateAfterRedo() (*State, error) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		a := l.entries[i].action
		if a != nil && a.Kind == ActionUndo {
			prev, err := l.previousState(i)
			if err != nil {
				return nil, err
			}
			if prev == nil {
				return nil, nil
			}
			return prev.clone(), nil
		}
	}
	return nil, nil
}

// previousState returns the nearest state entry strictly before idx,
// scanning at most PreviousStateWindow entries. Returns nil when the start
// of the log is reached inside the window, ErrWindowExceeded when the
// window runs out with entries remaining.
func (l *Log) previousState(idx int) (*State, error) {
	s, _, err := l.previousStateIndexed(idx)
	return s, err
}

func (l *Log) previousStateIndexed(idx int) (*State, int, error) {
	for k := 1; k <= PreviousStateWindow; k++ {
		i := idx - k
		if i < 0 {
			return nil, -1, nil
		}
		if s := l.entries[i].state; s != nil {
			return s, i, nil
		}
	}
	return nil, -1, ErrWindowExceeded
}

func isSubset(sub, super []int) bool {
	set := make(map[int]bool, len(super))
	for _, id := range super {
		set[id] = true
	}
	for _, id := range sub {
		if !set[id] {
			return false
		}
	}
	return true
}

// Tail returns up to n formatted trailing entries, most recent last.
// Diagnostic only; fed to applog by the supervisor.
func (l *Log) Tail(n int) []string {
	start := len(l.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(l.entries)-start)
	for i := start; i < len(l.entries); i++ {
		e := l.entries[i]
		if e.state != nil {
			out = append(out, fmt.Sprintf("#%03d state  %s", i, e.state))
		} else {
			out = append(out, fmt.Sprintf("#%03d action %s", i, e.action))
		}
	}
	return out
}
