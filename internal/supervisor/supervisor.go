// Package supervisor orchestrates manual curation: it owns the flow log,
// routes clustering/metadata updates into it, and translates each computed
// state into the ordered cluster-view → similarity-view selection sequence.
//
// The two views are injected as interfaces; every selection call is
// asynchronous and reports back through a callback. While the supervisor is
// driving a selection sequence the guard is held, and view select events
// arriving in that window are treated as echoes of the programmatic
// selection rather than user actions.
package supervisor

import (
	"fmt"
	"strings"

	"github.com/lotas/sortbench/internal/applog"
	"github.com/lotas/sortbench/internal/clustering"
	"github.com/lotas/sortbench/internal/flow"
	"github.com/lotas/sortbench/internal/history"
	"github.com/lotas/sortbench/internal/meta"
	"github.com/lotas/sortbench/internal/types"
)

// ClusterList is the capability a view must expose: asynchronous selection
// and navigation (the done callback fires when the view has settled), plus
// row management for membership updates.
type ClusterList interface {
	Select(ids []int, done func(types.Selection))
	First(done func(types.Selection))
	Next(done func(types.Selection))
	Previous(done func(types.Selection))

	Add(rows []types.ClusterInfo)
	Remove(ids []int)
	Change(rows []types.ClusterInfo)
}

// SimilarityList extends ClusterList with repopulation for a new focal
// selection and explicit deselection.
type SimilarityList interface {
	ClusterList
	Reset(clusterIDs []int)
	ClearSelection()
}

// Score is one similarity candidate for a focal cluster.
type Score struct {
	ID    int
	Value float64
}

// SaveRequest carries everything a persistence collaborator needs to write
// the curation back to disk.
type SaveRequest struct {
	Assignments []int             // spike index → cluster id
	Groups      map[int]string    // cluster id → group ("unsorted" when unset)
	Labels      map[string]map[int]string
}

// Config enumerates the supervisor's collaborators. ClusterView,
// SimilarityView, Clustering and Meta are required; the callbacks are
// optional notifications.
type Config struct {
	ClusterView    ClusterList
	SimilarityView SimilarityList
	Clustering     *clustering.Engine
	Meta           *meta.Store

	// Quality scores a cluster for the cluster table. Defaults to spike
	// count.
	Quality func(clusterID int) float64
	// Similarity ranks candidates for a focal cluster, best first.
	Similarity func(clusterID int) []Score
	// SimilarLimit caps similarity rows (0 = unlimited).
	SimilarLimit int

	// RequestSplit pulls the spike ids the host considers selected when
	// Split is called without explicit spikes.
	RequestSplit func() []int

	Settled     func()                 // a selection sequence finished
	OnUpdate    func(types.UpdateInfo) // a mutation was applied
	OnError     func(msg string)       // user-visible error
	RequestSave func(SaveRequest)
}

// Supervisor glues the clustering engine, metadata store, flow log and the
// two views together.
type Supervisor struct {
	cfg  Config
	flow *flow.Log
	hist *history.Global

	guard bool
	queue []*flow.State
	gen   int // cancellation generation; bumping it orphans in-flight callbacks
}

// New wires a supervisor from its collaborators.
func New(cfg Config) (*Supervisor, error) {
	if cfg.ClusterView == nil || cfg.SimilarityView == nil {
		return nil, fmt.Errorf("supervisor: both views are required")
	}
	if cfg.Clustering == nil || cfg.Meta == nil {
		return nil, fmt.Errorf("supervisor: clustering engine and meta store are required")
	}
	if cfg.Quality == nil {
		eng := cfg.Clustering
		cfg.Quality = func(c int) float64 { return float64(eng.NSpikes(c)) }
	}
	s := &Supervisor{
		cfg:  cfg,
		flow: flow.New(),
		hist: history.NewGlobal(),
	}
	return s, nil
}

// Guarded reports whether a programmatic selection sequence is in flight.
func (s *Supervisor) Guarded() bool {
	return s.guard
}

// FlowLen exposes the flow log length for diagnostics and tests.
func (s *Supervisor) FlowLen() int {
	return s.flow.Len()
}

// Rows and metrics
// ----------------------------------------------------------------------

// ClusterInfo builds the table row for one cluster.
func (s *Supervisor) ClusterInfo(clusterID int) types.ClusterInfo {
	group := s.cfg.Meta.Get(meta.GroupField, clusterID)
	return types.ClusterInfo{
		ID:       clusterID,
		NSpikes:  s.cfg.Clustering.NSpikes(clusterID),
		Quality:  s.cfg.Quality(clusterID),
		Group:    group,
		IsMasked: types.IsGroupMasked(group),
	}
}

// ClusterRows builds rows for every cluster, for the initial table fill.
func (s *Supervisor) ClusterRows() []types.ClusterInfo {
	ids := s.cfg.Clustering.ClusterIDs()
	rows := make([]types.ClusterInfo, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, s.ClusterInfo(id))
	}
	return rows
}

// SimilarClusters ranks similarity rows for a focal cluster, excluding the
// given ids and clusters that no longer exist.
func (s *Supervisor) SimilarClusters(focalID int, exclude []int) []types.ClusterInfo {
	if s.cfg.Similarity == nil {
		return nil
	}
	skip := make(map[int]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var rows []types.ClusterInfo
	for _, sc := range s.cfg.Similarity(focalID) {
		if skip[sc.ID] || s.cfg.Clustering.NSpikes(sc.ID) == 0 {
			continue
		}
		row := s.ClusterInfo(sc.ID)
		row.Similarity = sc.Value
		rows = append(rows, row)
		if s.cfg.SimilarLimit > 0 && len(rows) >= s.cfg.SimilarLimit {
			break
		}
	}
	return rows
}

// Selection bookkeeping
// ----------------------------------------------------------------------

// SelectedClusters returns the cluster ids of the current state.
func (s *Supervisor) SelectedClusters() []int {
	if cur := s.flow.Current(); cur != nil && cur.ClusterIDs != nil {
		return append([]int(nil), cur.ClusterIDs...)
	}
	return []int{}
}

// SelectedSimilar returns the similarity ids of the current state.
func (s *Supervisor) SelectedSimilar() []int {
	if cur := s.flow.Current(); cur != nil && cur.Similar != nil {
		return append([]int(nil), cur.Similar...)
	}
	return []int{}
}

// Selected returns the deduplicated union, clusters first.
func (s *Supervisor) Selected() []int {
	return types.Uniq(append(s.SelectedClusters(), s.SelectedSimilar()...))
}

// View events
// ----------------------------------------------------------------------

// ClustersSelected handles a select event from the cluster view. Outside a
// guarded sequence it records the selection as a new user state; either way
// the similarity view is repopulated for the new focal cluster.
func (s *Supervisor) ClustersSelected(sel types.Selection) {
	applog.Info("select.clusters", "ids", sel.IDs, "next", fmtNext(sel.Next))
	if !s.guard {
		s.flow.AddState(flow.State{ClusterIDs: sel.IDs, NextCluster: sel.Next})
	}
	s.cfg.SimilarityView.Reset(sel.IDs)
}

// SimilarSelected handles a select event from the similarity view. The new
// user state keeps the current cluster selection and adds the similar ids.
func (s *Supervisor) SimilarSelected(sel types.Selection) {
	applog.Info("select.similar", "ids", sel.IDs, "next", fmtNext(sel.Next))
	if s.guard {
		return
	}
	cur := s.flow.Current()
	st := flow.State{Similar: sel.IDs, NextSimilar: sel.Next}
	if cur != nil {
		st.ClusterIDs = cur.ClusterIDs
		st.NextCluster = cur.NextCluster
	}
	s.flow.AddState(st)
}

// Mutations
// ----------------------------------------------------------------------

// Merge merges the given clusters (default: the current selection) into one
// new cluster. Fewer than two clusters is a silent no-op.
func (s *Supervisor) Merge(clusterIDs []int, to int) {
	if clusterIDs == nil {
		clusterIDs = s.Selected()
	}
	if len(clusterIDs) <= 1 {
		return
	}
	up, err := s.cfg.Clustering.Merge(clusterIDs, to)
	if err != nil {
		s.fail("merge", err)
		return
	}
	applog.Info("merge.done", "from", up.Deleted, "to", up.Added[0])
	s.recordMutation(up)
}

// Split pulls the given spikes (default: the host's spike selection) into a
// new cluster. An empty spike set is a user error, reported and dropped
// before anything is recorded.
func (s *Supervisor) Split(spikeIDs []int) {
	if spikeIDs == nil && s.cfg.RequestSplit != nil {
		spikeIDs = s.cfg.RequestSplit()
	}
	if len(spikeIDs) == 0 {
		s.userError("Select spikes first: a split needs at least one spike.")
		return
	}
	up, err := s.cfg.Clustering.Split(spikeIDs)
	if err != nil {
		s.fail("split", err)
		return
	}
	applog.Info("split.done", "spikes", len(up.SpikeIDs), "new", up.Added)
	s.recordMutation(up)
}

// recordMutation finishes a clustering mutation: group inheritance, global
// history checkpoint, then the shared update path.
func (s *Supervisor) recordMutation(up types.UpdateInfo) {
	if inherit, ok := s.cfg.Meta.Inherit(up.Deleted, up.Added); ok {
		s.hist.Action(s.cfg.Clustering, s.cfg.Meta)
		s.handleUpdate(up)
		s.groupsChanged(inherit.MetadataChanged)
		return
	}
	s.hist.Action(s.cfg.Clustering)
	s.handleUpdate(up)
}

// Move assigns a group to a slice of the selection: which is "best"
// (cluster view), "similar" (similarity view) or "all". An unknown selector
// is a misuse, logged and dropped.
func (s *Supervisor) Move(group, which string) {
	var ids []int
	switch which {
	case "all":
		ids = s.Selected()
	case "best":
		ids = s.SelectedClusters()
	case "similar":
		ids = s.SelectedSimilar()
	default:
		applog.Warn("move.bad_selector", "which", which)
		return
	}
	if len(ids) == 0 {
		return
	}
	applog.Info("move.done", "ids", ids, "group", group)
	if group == "unsorted" {
		group = ""
	}
	s.Label(meta.GroupField, group, ids)
}

// MoveClusters assigns a group to explicit cluster ids.
func (s *Supervisor) MoveClusters(group string, clusterIDs []int) {
	if len(clusterIDs) == 0 {
		return
	}
	if group == "unsorted" {
		group = ""
	}
	s.Label(meta.GroupField, group, clusterIDs)
}

// Label assigns a metadata value to clusters (default: the current
// selection). An empty id set is a silent no-op.
func (s *Supervisor) Label(field, value string, clusterIDs []int) {
	if clusterIDs == nil {
		clusterIDs = s.Selected()
	}
	if len(clusterIDs) == 0 {
		return
	}
	up := s.cfg.Meta.Set(field, clusterIDs, value)
	s.hist.Action(s.cfg.Meta)
	s.handleUpdate(up)
}

// Undo reverts the last action across both stacks.
func (s *Supervisor) Undo() {
	up, err := s.hist.Undo()
	if err != nil {
		s.fail("undo", err)
		return
	}
	if up == nil {
		return
	}
	applog.Info("undo.done", "description", up.Description)
	s.handleUpdate(*up)
}

// Redo replays the last undone action.
func (s *Supervisor) Redo() {
	up, err := s.hist.Redo()
	if err != nil {
		s.fail("redo", err)
		return
	}
	if up == nil {
		return
	}
	applog.Info("redo.done", "description", up.Description)
	s.handleUpdate(*up)
}

// Save hands the full curation to the persistence collaborator.
func (s *Supervisor) Save() {
	if s.cfg.RequestSave == nil {
		return
	}
	groups := make(map[int]string)
	for _, c := range s.cfg.Clustering.ClusterIDs() {
		g := s.cfg.Meta.Get(meta.GroupField, c)
		if g == "" {
			g = "unsorted"
		}
		groups[c] = g
	}
	labels := make(map[string]map[int]string)
	for _, f := range s.cfg.Meta.Fields() {
		labels[f] = s.cfg.Meta.All(f)
	}
	s.cfg.RequestSave(SaveRequest{
		Assignments: s.cfg.Clustering.Assignments(),
		Groups:      groups,
		Labels:      labels,
	})
}

// Wizard and selection actions
// ----------------------------------------------------------------------

// SelectClusters drives the cluster view to the given ids. The resulting
// select event takes the user path and records the state.
func (s *Supervisor) SelectClusters(clusterIDs []int) {
	s.cfg.ClusterView.Select(clusterIDs, nil)
}

// Reset restarts the wizard at the best cluster.
func (s *Supervisor) Reset() {
	s.cfg.ClusterView.First(nil)
}

// NextBest moves the cluster-view cursor forward.
func (s *Supervisor) NextBest() {
	s.cfg.ClusterView.Next(nil)
}

// PreviousBest moves the cluster-view cursor backward.
func (s *Supervisor) PreviousBest() {
	s.cfg.ClusterView.Previous(nil)
}

// NextSimilar advances the similarity view, falling back to the first best
// cluster when nothing is selected yet.
func (s *Supervisor) NextSimilar() {
	cur := s.flow.Current()
	if cur == nil || cur.ClusterIDs == nil {
		s.cfg.ClusterView.First(nil)
		return
	}
	s.cfg.SimilarityView.Next(nil)
}

// PreviousSimilar steps the similarity view backward.
func (s *Supervisor) PreviousSimilar() {
	s.cfg.SimilarityView.Previous(nil)
}

// Cancel abandons any in-flight selection sequence and the queue. Callbacks
// from the orphaned sequence are ignored when they eventually fire.
func (s *Supervisor) Cancel() {
	s.gen++
	s.guard = false
	s.queue = nil
}

// Update routing
// ----------------------------------------------------------------------

// handleUpdate is the single entry point for every applied mutation: it
// refreshes view membership, records the action in the flow log, and starts
// the selection sequence for the computed state.
func (s *Supervisor) handleUpdate(up types.UpdateInfo) {
	if len(up.Added) > 0 {
		rows := make([]types.ClusterInfo, 0, len(up.Added))
		for _, id := range up.Added {
			rows = append(rows, s.ClusterInfo(id))
		}
		s.cfg.ClusterView.Add(rows)
		s.cfg.SimilarityView.Add(rows)
	}
	if len(up.Deleted) > 0 {
		s.cfg.ClusterView.Remove(up.Deleted)
		s.cfg.SimilarityView.Remove(up.Deleted)
	}
	if len(up.MetadataChanged) > 0 {
		s.groupsChanged(up.MetadataChanged)
	}

	st, err := s.recordInFlow(up)
	if err != nil {
		s.fail("flow", err)
		return
	}
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(up)
	}
	if st != nil {
		s.applyState(st)
	}
}

// recordInFlow dispatches an update to the flow log per its history tag and
// description. Metadata fields other than group leave no flow entry.
func (s *Supervisor) recordInFlow(up types.UpdateInfo) (*flow.State, error) {
	switch {
	case up.History == "undo":
		u := up
		return s.flow.RecordUndo(&u)
	case up.History == "redo":
		u := up
		return s.flow.RecordRedo(&u)
	case up.Description == "merge":
		return s.flow.RecordMerge(up.Deleted, up.Added[0])
	case up.Description == "assign":
		return s.flow.RecordSplit(up.Deleted, up.Added)
	case up.Description == "metadata_group":
		return s.flow.RecordMove(up.MetadataChanged, up.MetadataValue)
	}
	return nil, nil
}

// groupsChanged refreshes the styling-relevant columns on both views.
func (s *Supervisor) groupsChanged(clusterIDs []int) {
	rows := make([]types.ClusterInfo, 0, len(clusterIDs))
	for _, id := range clusterIDs {
		rows = append(rows, s.ClusterInfo(id))
	}
	s.cfg.ClusterView.Change(rows)
	s.cfg.SimilarityView.Change(rows)
}

// Selection sequence
// ----------------------------------------------------------------------

// applyState starts the two-phase selection sequence for a computed state,
// or queues it when a sequence is already in flight.
func (s *Supervisor) applyState(st *flow.State) {
	if st == nil {
		return
	}
	if s.guard {
		s.queue = append(s.queue, st)
		return
	}
	s.startSequence(st)
}

func (s *Supervisor) startSequence(st *flow.State) {
	s.guard = true
	gen := s.gen

	finish := func(sel types.Selection) {
		if gen != s.gen {
			return
		}
		if st.NextSimilar == nil {
			s.flow.UpdateCurrentState(flow.State{NextSimilar: sel.Next})
		}
		s.guard = false
		for _, line := range s.flow.Tail(5) {
			applog.Info("flow.tail", "entry", line)
		}
		if s.cfg.Settled != nil {
			s.cfg.Settled()
		}
		if len(s.queue) > 0 {
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.startSequence(next)
		}
	}

	selectSimilar := func(sel types.Selection) {
		if gen != s.gen {
			return
		}
		if st.NextCluster == nil {
			ids := st.ClusterIDs
			if ids == nil {
				ids = sel.IDs
			}
			s.flow.UpdateCurrentState(flow.State{ClusterIDs: ids, NextCluster: sel.Next})
		}
		if st.Similar != nil {
			s.cfg.SimilarityView.Select(st.Similar, finish)
			return
		}
		s.cfg.SimilarityView.ClearSelection()
		finish(types.Selection{})
	}

	switch {
	case st.Wizard != "":
		s.wizard(st.Wizard, selectSimilar)
	case st.ClusterIDs != nil:
		s.cfg.ClusterView.Select(st.ClusterIDs, selectSimilar)
	default:
		selectSimilar(types.Selection{})
	}
}

// wizard runs a navigation directive in place of a direct select.
func (s *Supervisor) wizard(name string, done func(types.Selection)) {
	switch name {
	case "next_best":
		s.cfg.ClusterView.Next(done)
	default:
		applog.Warn("wizard.unknown", "name", name)
		done(types.Selection{})
	}
}

// Errors
// ----------------------------------------------------------------------

func (s *Supervisor) fail(op string, err error) {
	applog.Error(op+".failed", err)
	s.userError(strings.ToUpper(op[:1]) + op[1:] + " failed: " + err.Error())
}

func (s *Supervisor) userError(msg string) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(msg)
	}
}

func fmtNext(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprint(*n)
}
