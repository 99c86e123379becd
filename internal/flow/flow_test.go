package flow

import (
	"errors"
	"reflect"
	"testing"
)

func intPtr(i int) *int {
	return &i
}

func TestMergeCarriesNextSimilar(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{1, 2}, Similar: []int{5}, NextSimilar: intPtr(9)})

	s, err := l.RecordMerge([]int{1, 2}, 6)
	if err != nil {
		t.Fatalf("RecordMerge: %v", err)
	}
	if !reflect.DeepEqual(s.ClusterIDs, []int{6}) {
		t.Errorf("expected clusters [6], got %v", s.ClusterIDs)
	}
	if !reflect.DeepEqual(s.Similar, []int{9}) {
		t.Errorf("expected similar [9], got %v", s.Similar)
	}
}

func TestMergeWithoutNextSimilar(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{1, 2}})

	s, err := l.RecordMerge([]int{1, 2}, 3)
	if err != nil {
		t.Fatalf("RecordMerge: %v", err)
	}
	if s.Similar != nil {
		t.Errorf("expected no similar selection, got %v", s.Similar)
	}
}

func TestSplitSelectsNewClusters(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{1}})

	s, err := l.RecordSplit([]int{1}, []int{7, 8})
	if err != nil {
		t.Fatalf("RecordSplit: %v", err)
	}
	if !reflect.DeepEqual(s.ClusterIDs, []int{7, 8}) {
		t.Errorf("expected clusters [7 8], got %v", s.ClusterIDs)
	}
	if s.Similar != nil {
		t.Errorf("expected no similar selection, got %v", s.Similar)
	}
}

func TestMoveSubsetOfSelection(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{1, 2}, NextCluster: intPtr(3)})

	s, err := l.RecordMove([]int{1, 2}, "noise")
	if err != nil {
		t.Fatalf("RecordMove: %v", err)
	}
	if !reflect.DeepEqual(s.ClusterIDs, []int{3}) {
		t.Errorf("expected clusters [3], got %v", s.ClusterIDs)
	}
}

func TestMoveSubsetOfSelectionNoNext(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{1, 2}})

	s, err := l.RecordMove([]int{1}, "noise")
	if err != nil {
		t.Fatalf("RecordMove: %v", err)
	}
	// No next-cluster suggestion: the state defers everything.
	if s.ClusterIDs != nil || s.Wizard != "" {
		t.Errorf("expected deferred empty state, got %v", s)
	}
}

func TestMoveSubsetOfSimilar(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{1}, Similar: []int{5, 6}, NextSimilar: intPtr(9)})

	s, err := l.RecordMove([]int{5}, "good")
	if err != nil {
		t.Fatalf("RecordMove: %v", err)
	}
	if !reflect.DeepEqual(s.ClusterIDs, []int{1}) {
		t.Errorf("expected clusters kept as [1], got %v", s.ClusterIDs)
	}
	if !reflect.DeepEqual(s.Similar, []int{9}) {
		t.Errorf("expected similar [9], got %v", s.Similar)
	}
}

func TestMoveNonSubsetFallsBackToWizard(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{1, 2}, Similar: []int{5}, NextSimilar: intPtr(9)})

	s, err := l.RecordMove([]int{99}, "good")
	if err != nil {
		t.Fatalf("RecordMove: %v", err)
	}
	if s.Wizard != "next_best" {
		t.Errorf("expected wizard next_best, got %q", s.Wizard)
	}
	if !reflect.DeepEqual(s.Similar, []int{9}) {
		t.Errorf("expected similar [9], got %v", s.Similar)
	}
}

func TestUndoStepsBackTwoStates(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{1, 2}, NextSimilar: intPtr(5)})
	if _, err := l.RecordMerge([]int{1, 2}, 6); err != nil {
		t.Fatalf("RecordMerge: %v", err)
	}

	s, err := l.RecordUndo(nil)
	if err != nil {
		t.Fatalf("RecordUndo: %v", err)
	}
	if !reflect.DeepEqual(s.ClusterIDs, []int{1, 2}) {
		t.Errorf("expected clusters [1 2] restored, got %v", s.ClusterIDs)
	}
}

func TestUndoPastBeginningClearsSelection(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{4}})

	s, err := l.RecordUndo(nil)
	if err != nil {
		t.Fatalf("RecordUndo: %v", err)
	}
	if s.ClusterIDs != nil {
		t.Errorf("expected empty state, got %v", s)
	}
	// Invariant: the action is still paired with a state.
	if l.Current() != s {
		t.Error("current entry is not the recorded state")
	}
}

func TestRedoRestoresPreUndoState(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{1, 2}})
	merged, err := l.RecordMerge([]int{1, 2}, 6)
	if err != nil {
		t.Fatalf("RecordMerge: %v", err)
	}
	if _, err := l.RecordUndo(nil); err != nil {
		t.Fatalf("RecordUndo: %v", err)
	}

	s, err := l.RecordRedo(nil)
	if err != nil {
		t.Fatalf("RecordRedo: %v", err)
	}
	if s == nil {
		t.Fatal("expected a state after redo")
	}
	if !reflect.DeepEqual(s.ClusterIDs, merged.ClusterIDs) {
		t.Errorf("redo state %v, want %v", s.ClusterIDs, merged.ClusterIDs)
	}
	if s == merged {
		t.Error("redo state aliases an earlier log entry")
	}
}

func TestRedoWithoutUndoIsNoOp(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{1}})
	before := l.Len()

	s, err := l.RecordRedo(nil)
	if err != nil {
		t.Fatalf("RecordRedo: %v", err)
	}
	if s != nil {
		t.Errorf("expected nil state, got %v", s)
	}
	if l.Len() != before {
		t.Errorf("log grew by %d entries on no-op redo", l.Len()-before)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	run := func() []string {
		l := New()
		l.AddState(State{ClusterIDs: []int{1, 2}, NextCluster: intPtr(3), NextSimilar: intPtr(9)})
		l.RecordMerge([]int{1, 2}, 6)
		l.RecordSplit([]int{6}, []int{7, 8})
		l.RecordMove([]int{7, 8}, "noise")
		l.RecordUndo(nil)
		l.RecordRedo(nil)
		return l.Tail(l.Len())
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Errorf("replay diverged:\n%v\nvs\n%v", a, b)
	}
}

func TestUpdateCurrentStateFirstWriteWins(t *testing.T) {
	l := New()
	s := l.AddState(State{ClusterIDs: []int{1}})

	got := l.UpdateCurrentState(State{ClusterIDs: []int{2}, NextCluster: intPtr(4)})
	if got != s {
		t.Error("UpdateCurrentState did not preserve state identity")
	}
	if !reflect.DeepEqual(s.ClusterIDs, []int{1}) {
		t.Errorf("cluster ids overwritten: %v", s.ClusterIDs)
	}
	if s.NextCluster == nil || *s.NextCluster != 4 {
		t.Errorf("next cluster not filled in: %v", s.NextCluster)
	}
}

func TestUpdateCurrentStateOnActionlessLog(t *testing.T) {
	l := New()
	s := l.UpdateCurrentState(State{ClusterIDs: []int{3}})
	if l.Current() != s {
		t.Error("fresh state not appended as current")
	}
	if !reflect.DeepEqual(s.ClusterIDs, []int{3}) {
		t.Errorf("unexpected state %v", s)
	}
}

func TestPreviousStateWindowExceeded(t *testing.T) {
	l := New()
	l.AddState(State{ClusterIDs: []int{1}})
	// Pathological log: a long run of action entries with no states.
	for i := 0; i < PreviousStateWindow+1; i++ {
		l.entries = append(l.entries, entry{action: &Action{Kind: ActionMove}})
	}

	_, err := l.RecordMerge([]int{1}, 2)
	if !errors.Is(err, ErrWindowExceeded) {
		t.Errorf("expected ErrWindowExceeded, got %v", err)
	}
}
