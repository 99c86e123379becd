package supervisor

import (
	"reflect"
	"testing"

	"github.com/lotas/sortbench/internal/clustering"
	"github.com/lotas/sortbench/internal/meta"
	"github.com/lotas/sortbench/internal/types"
)

// pump collects the deferred view callbacks so tests control when the
// asynchronous part of a selection sequence runs.
type pump struct {
	fns []func()
}

func (p *pump) add(f func()) { p.fns = append(p.fns, f) }

func (p *pump) run() {
	for len(p.fns) > 0 {
		f := p.fns[0]
		p.fns = p.fns[1:]
		f()
	}
}

// fakeList settles asynchronously: every selection first fires the view's
// select event (as a real table would) and then the done callback.
type fakeList struct {
	p     *pump
	event func(types.Selection)

	selected  []int
	next      *int  // suggestion reported with every selection
	navRows   []int // what First/Next/Previous land on
	navigated int

	added, removed, changed int
}

func (v *fakeList) fire(ids []int, done func(types.Selection)) {
	v.selected = append([]int(nil), ids...)
	sel := types.Selection{IDs: append([]int(nil), ids...), Next: v.next}
	v.p.add(func() {
		v.event(sel)
		if done != nil {
			done(sel)
		}
	})
}

func (v *fakeList) Select(ids []int, done func(types.Selection)) { v.fire(ids, done) }

func (v *fakeList) First(done func(types.Selection)) {
	v.navigated++
	v.fire(v.navRows, done)
}

func (v *fakeList) Next(done func(types.Selection))     { v.First(done) }
func (v *fakeList) Previous(done func(types.Selection)) { v.First(done) }

func (v *fakeList) Add(rows []types.ClusterInfo)    { v.added += len(rows) }
func (v *fakeList) Remove(ids []int)                { v.removed += len(ids) }
func (v *fakeList) Change(rows []types.ClusterInfo) { v.changed += len(rows) }

type fakeSimilar struct {
	fakeList
	resets  [][]int
	cleared int
}

func (v *fakeSimilar) Reset(ids []int) {
	v.resets = append(v.resets, append([]int(nil), ids...))
}

func (v *fakeSimilar) ClearSelection() {
	v.cleared++
	v.selected = nil
}

type harness struct {
	p   *pump
	cv  *fakeList
	sv  *fakeSimilar
	eng *clustering.Engine
	met *meta.Store
	s   *Supervisor

	settled int
	errs    []string
	splits  []int
}

// spikes 0,1 → cluster 1; spikes 2,3 → cluster 2; spike 4 → cluster 3
func newHarness(t *testing.T, groups map[int]string) *harness {
	t.Helper()
	h := &harness{p: &pump{}}
	h.cv = &fakeList{p: h.p}
	h.sv = &fakeSimilar{fakeList: fakeList{p: h.p}}
	h.eng = clustering.New([]int{1, 1, 2, 2, 3}, 0)
	h.met = meta.New(groups)

	s, err := New(Config{
		ClusterView:    h.cv,
		SimilarityView: h.sv,
		Clustering:     h.eng,
		Meta:           h.met,
		RequestSplit:   func() []int { return h.splits },
		Settled:        func() { h.settled++ },
		OnError:        func(msg string) { h.errs = append(h.errs, msg) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.s = s
	h.cv.event = s.ClustersSelected
	h.sv.event = s.SimilarSelected
	return h
}

func intp(v int) *int { return &v }

func TestUserSelectionRecordsState(t *testing.T) {
	h := newHarness(t, nil)

	h.s.ClustersSelected(types.Selection{IDs: []int{1, 2}, Next: intp(3)})
	if got := h.s.SelectedClusters(); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("selected clusters: %v", got)
	}
	if len(h.sv.resets) != 1 || !reflect.DeepEqual(h.sv.resets[0], []int{1, 2}) {
		t.Errorf("similarity view not repopulated: %v", h.sv.resets)
	}

	h.s.SimilarSelected(types.Selection{IDs: []int{2, 3}})
	if got := h.s.Selected(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("union should deduplicate, clusters first: %v", got)
	}
	if h.s.FlowLen() != 2 {
		t.Errorf("expected 2 user states, flow has %d entries", h.s.FlowLen())
	}
}

func TestMergeSelectsNewCluster(t *testing.T) {
	h := newHarness(t, nil)
	h.s.ClustersSelected(types.Selection{IDs: []int{1, 2}})

	before := h.s.FlowLen()
	h.s.Merge(nil, 0)
	h.p.run()

	if !reflect.DeepEqual(h.cv.selected, []int{4}) {
		t.Errorf("cluster view selection: %v", h.cv.selected)
	}
	if h.sv.cleared == 0 {
		t.Error("similarity view should be deselected when the state has no similar")
	}
	if h.s.Guarded() {
		t.Error("guard still held after the sequence settled")
	}
	if h.settled != 1 {
		t.Errorf("settled notifications: %d", h.settled)
	}
	// One action plus one state; the guarded view echoes add nothing.
	if got := h.s.FlowLen(); got != before+2 {
		t.Errorf("flow grew by %d entries, want 2", got-before)
	}
	if got := h.s.SelectedClusters(); !reflect.DeepEqual(got, []int{4}) {
		t.Errorf("selected after merge: %v", got)
	}
}

func TestMergeCarriesNextSimilar(t *testing.T) {
	h := newHarness(t, nil)
	h.s.ClustersSelected(types.Selection{IDs: []int{1, 2}})
	h.s.SimilarSelected(types.Selection{IDs: []int{3}, Next: intp(3)})

	h.s.Merge([]int{1, 2}, 0)
	h.p.run()

	if !reflect.DeepEqual(h.cv.selected, []int{4}) {
		t.Errorf("cluster view selection: %v", h.cv.selected)
	}
	if !reflect.DeepEqual(h.sv.selected, []int{3}) {
		t.Errorf("similarity view should move to the next candidate: %v", h.sv.selected)
	}
	if got := h.s.Selected(); !reflect.DeepEqual(got, []int{4, 3}) {
		t.Errorf("combined selection: %v", got)
	}
}

func TestMergeSingletonIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	h.s.ClustersSelected(types.Selection{IDs: []int{1}})

	before := h.s.FlowLen()
	h.s.Merge(nil, 0)
	h.p.run()

	if h.s.FlowLen() != before {
		t.Error("merging a single cluster must record nothing")
	}
	if len(h.errs) != 0 {
		t.Errorf("unexpected error: %v", h.errs)
	}
}

func TestSplitSelectsNewClusters(t *testing.T) {
	h := newHarness(t, nil)
	h.splits = []int{0}

	h.s.Split(nil)
	h.p.run()

	// Split cluster plus the remainder of cluster 1.
	if !reflect.DeepEqual(h.cv.selected, []int{4, 5}) {
		t.Errorf("cluster view selection: %v", h.cv.selected)
	}
}

func TestSplitWithoutSpikesReportsError(t *testing.T) {
	h := newHarness(t, nil)

	before := h.s.FlowLen()
	h.s.Split(nil)
	h.p.run()

	if len(h.errs) != 1 {
		t.Fatalf("expected one user error, got %v", h.errs)
	}
	if h.s.FlowLen() != before {
		t.Error("a rejected split must leave no trace in the flow log")
	}
	if got := h.eng.ClusterIDs(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("engine mutated by rejected split: %v", got)
	}
}

func TestMoveBadSelectorIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.s.ClustersSelected(types.Selection{IDs: []int{1}})

	before := h.s.FlowLen()
	h.s.Move(types.GroupGood, "wat")
	h.p.run()

	if h.s.FlowLen() != before || len(h.errs) != 0 {
		t.Error("unknown selector must be a silent no-op")
	}
	if h.met.Get(meta.GroupField, 1) != "" {
		t.Error("group must not change on a dropped move")
	}
}

func TestMoveBestAdvancesSelection(t *testing.T) {
	h := newHarness(t, nil)
	h.s.ClustersSelected(types.Selection{IDs: []int{1}, Next: intp(2)})

	h.s.Move(types.GroupNoise, "best")
	h.p.run()

	if h.met.Get(meta.GroupField, 1) != "noise" {
		t.Errorf("group: %q", h.met.Get(meta.GroupField, 1))
	}
	if !reflect.DeepEqual(h.cv.selected, []int{2}) {
		t.Errorf("selection should advance to the next cluster: %v", h.cv.selected)
	}
}

func TestMoveOutsideSelectionUsesWizard(t *testing.T) {
	h := newHarness(t, nil)
	h.s.ClustersSelected(types.Selection{IDs: []int{1, 2}})
	h.s.SimilarSelected(types.Selection{IDs: []int{3}, Next: intp(3)})
	h.cv.navRows = []int{2}

	h.s.MoveClusters(types.GroupMUA, []int{1, 3})
	h.p.run()

	if h.cv.navigated == 0 {
		t.Error("non-subset move should fall back to wizard navigation")
	}
	if !reflect.DeepEqual(h.sv.selected, []int{3}) {
		t.Errorf("similarity selection: %v", h.sv.selected)
	}
}

func TestGuardedSequenceQueuesNextState(t *testing.T) {
	h := newHarness(t, nil)
	h.s.ClustersSelected(types.Selection{IDs: []int{1, 2}})
	h.s.Merge([]int{1, 2}, 0)

	// Second action before the first sequence settles.
	h.s.MoveClusters(types.GroupGood, []int{4})
	if !h.s.Guarded() {
		t.Fatal("guard should be held with a sequence in flight")
	}

	h.p.run()

	if h.s.Guarded() {
		t.Error("guard still held after both sequences")
	}
	if h.settled != 2 {
		t.Errorf("both queued sequences should settle, got %d", h.settled)
	}
}

func TestUndoRedoAcrossStacks(t *testing.T) {
	h := newHarness(t, map[int]string{1: types.GroupGood})
	h.s.ClustersSelected(types.Selection{IDs: []int{1, 2}})
	h.s.Merge(nil, 0)
	h.p.run()

	if h.met.Get(meta.GroupField, 4) != "good" {
		t.Fatalf("merged cluster should inherit the group, got %q", h.met.Get(meta.GroupField, 4))
	}

	h.s.Undo()
	h.p.run()
	if got := h.s.SelectedClusters(); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("undo should restore the pre-merge selection: %v", got)
	}
	if got := h.eng.ClusterIDs(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("undo should restore membership: %v", got)
	}
	if h.met.Get(meta.GroupField, 4) != "" {
		t.Error("undo should revert the inherited group too")
	}

	h.s.Redo()
	h.p.run()
	if got := h.s.SelectedClusters(); !reflect.DeepEqual(got, []int{4}) {
		t.Errorf("redo should restore the post-merge selection: %v", got)
	}
	if h.met.Get(meta.GroupField, 4) != "good" {
		t.Error("redo should reapply the inherited group")
	}
}

func TestUndoWithEmptyHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.s.Undo()
	h.s.Redo()
	h.p.run()
	if len(h.errs) != 0 || h.s.FlowLen() != 0 {
		t.Error("empty history must be a silent no-op")
	}
}

func TestCancelOrphansInFlightSequence(t *testing.T) {
	h := newHarness(t, nil)
	h.s.ClustersSelected(types.Selection{IDs: []int{1, 2}})
	h.s.Merge([]int{1, 2}, 0)

	h.s.Cancel()
	h.p.run()

	if h.s.Guarded() {
		t.Error("cancel must release the guard")
	}
	if h.settled != 0 {
		t.Errorf("orphaned sequence must not settle, got %d", h.settled)
	}
}

func TestSaveCollectsFullCuration(t *testing.T) {
	h := newHarness(t, map[int]string{2: types.GroupNoise})
	h.met.Set("note", []int{3}, "check later")

	var req SaveRequest
	h.s.cfg.RequestSave = func(r SaveRequest) { req = r }
	h.s.Save()

	if len(req.Assignments) != 5 {
		t.Fatalf("assignments: %v", req.Assignments)
	}
	if req.Groups[1] != "unsorted" || req.Groups[2] != "noise" {
		t.Errorf("groups: %v", req.Groups)
	}
	if req.Labels["note"][3] != "check later" {
		t.Errorf("labels: %v", req.Labels)
	}
}

func TestSimilarClustersRanked(t *testing.T) {
	h := newHarness(t, map[int]string{3: types.GroupNoise})
	h.s.cfg.Similarity = func(c int) []Score {
		return []Score{{ID: 2, Value: 0.9}, {ID: 3, Value: 0.4}, {ID: 99, Value: 0.2}}
	}

	rows := h.s.SimilarClusters(1, []int{2})
	if len(rows) != 1 || rows[0].ID != 3 {
		t.Fatalf("rows: %v", rows)
	}
	if rows[0].Similarity != 0.4 || !rows[0].IsMasked {
		t.Errorf("row: %+v", rows[0])
	}
}
