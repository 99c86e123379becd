// Package clustering maintains the per-spike cluster assignment and its undo
// stack. Merge and split never reuse ids: every cluster touched by a
// mutation is replaced by freshly allocated ids, so an id uniquely names one
// version of a cluster for the whole session.
package clustering

import (
	"fmt"
	"sort"

	"github.com/lotas/sortbench/internal/types"
)

// Engine owns the spike → cluster assignment.
type Engine struct {
	assignments []int         // spike index → cluster id
	perCluster  map[int][]int // cluster id → sorted spike indices
	nextID      int

	undo []checkpoint
	redo []checkpoint
}

// checkpoint captures one mutation: the affected spikes with their
// assignments before and after, plus the forward update it produced.
type checkpoint struct {
	spikes []int
	before []int
	after  []int
	up     types.UpdateInfo
}

// New builds an engine from initial per-spike assignments. nextID overrides
// the fresh-id counter (pass 0 to derive it from the data); a restored
// counter must never be lower than the derived one.
func New(assignments []int, nextID int) *Engine {
	e := &Engine{
		assignments: append([]int(nil), assignments...),
		perCluster:  make(map[int][]int),
	}
	maxID := 0
	for spike, c := range e.assignments {
		e.perCluster[c] = append(e.perCluster[c], spike)
		if c > maxID {
			maxID = c
		}
	}
	e.nextID = maxID + 1
	if nextID > e.nextID {
		e.nextID = nextID
	}
	return e
}

// ClusterIDs returns all cluster ids in ascending order.
func (e *Engine) ClusterIDs() []int {
	ids := make([]int, 0, len(e.perCluster))
	for c := range e.perCluster {
		ids = append(ids, c)
	}
	sort.Ints(ids)
	return ids
}

// NSpikes returns the spike count of a cluster (0 if unknown).
func (e *Engine) NSpikes(clusterID int) int {
	return len(e.perCluster[clusterID])
}

// Spikes returns the spike indices of a cluster.
func (e *Engine) Spikes(clusterID int) []int {
	return append([]int(nil), e.perCluster[clusterID]...)
}

// SpikesPerCluster returns a copy of the full mapping, for caching.
func (e *Engine) SpikesPerCluster() map[int][]int {
	out := make(map[int][]int, len(e.perCluster))
	for c, spikes := range e.perCluster {
		out[c] = append([]int(nil), spikes...)
	}
	return out
}

// Assignments returns a copy of the per-spike assignment array.
func (e *Engine) Assignments() []int {
	return append([]int(nil), e.assignments...)
}

// NewClusterID returns the id the next mutation will allocate.
func (e *Engine) NewClusterID() int {
	return e.nextID
}

// Merge reassigns all spikes of the given clusters to one new cluster and
// returns the update. to <= 0 allocates a fresh id.
func (e *Engine) Merge(clusterIDs []int, to int) (types.UpdateInfo, error) {
	clusterIDs = types.Uniq(clusterIDs)
	if len(clusterIDs) < 2 {
		return types.UpdateInfo{}, fmt.Errorf("clustering: merge needs at least 2 clusters, got %d", len(clusterIDs))
	}
	for _, c := range clusterIDs {
		if len(e.perCluster[c]) == 0 {
			return types.UpdateInfo{}, fmt.Errorf("clustering: unknown cluster %d", c)
		}
	}
	if to <= 0 {
		to = e.allocID()
	} else if to >= e.nextID {
		e.nextID = to + 1
	}

	var spikes []int
	for _, c := range clusterIDs {
		spikes = append(spikes, e.perCluster[c]...)
	}
	sort.Ints(spikes)

	deleted := append([]int(nil), clusterIDs...)
	sort.Ints(deleted)

	up := types.UpdateInfo{
		Description: "merge",
		Added:       []int{to},
		Deleted:     deleted,
		SpikeIDs:    spikes,
	}
	e.apply(spikes, uniform(to, len(spikes)), up)
	return up, nil
}

// Split pulls the given spikes into a new cluster. Every old cluster that
// loses spikes is replaced: its remaining spikes also get a fresh id.
func (e *Engine) Split(spikeIDs []int) (types.UpdateInfo, error) {
	spikeIDs = types.Uniq(spikeIDs)
	if len(spikeIDs) == 0 {
		return types.UpdateInfo{}, fmt.Errorf("clustering: split needs at least 1 spike")
	}
	inSplit := make(map[int]bool, len(spikeIDs))
	touched := make(map[int]bool)
	for _, s := range spikeIDs {
		if s < 0 || s >= len(e.assignments) {
			return types.UpdateInfo{}, fmt.Errorf("clustering: spike %d out of range", s)
		}
		inSplit[s] = true
		touched[e.assignments[s]] = true
	}

	deleted := make([]int, 0, len(touched))
	for c := range touched {
		deleted = append(deleted, c)
	}
	sort.Ints(deleted)

	// The split cluster gets the first fresh id, remainders follow in
	// ascending order of their old id.
	splitID := e.allocID()
	added := []int{splitID}

	var spikes, after []int
	for _, s := range spikeIDs {
		spikes = append(spikes, s)
		after = append(after, splitID)
	}
	for _, old := range deleted {
		var rest []int
		for _, s := range e.perCluster[old] {
			if !inSplit[s] {
				rest = append(rest, s)
			}
		}
		if len(rest) == 0 {
			continue
		}
		restID := e.allocID()
		added = append(added, restID)
		for _, s := range rest {
			spikes = append(spikes, s)
			after = append(after, restID)
		}
	}

	up := types.UpdateInfo{
		Description: "assign",
		Added:       added,
		Deleted:     deleted,
		SpikeIDs:    append([]int(nil), spikeIDs...),
	}
	e.apply(spikes, after, up)
	return up, nil
}

// Undo reverts the latest mutation. Implements history.Stack.
func (e *Engine) Undo() (types.UpdateInfo, bool) {
	if len(e.undo) == 0 {
		return types.UpdateInfo{}, false
	}
	cp := e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]
	e.redo = append(e.redo, cp)

	e.assign(cp.spikes, cp.before)
	up := cp.up
	up.History = "undo"
	up.Added, up.Deleted = cp.up.Deleted, cp.up.Added
	return up, true
}

// Redo replays the latest undone mutation. Implements history.Stack.
func (e *Engine) Redo() (types.UpdateInfo, bool) {
	if len(e.redo) == 0 {
		return types.UpdateInfo{}, false
	}
	cp := e.redo[len(e.redo)-1]
	e.redo = e.redo[:len(e.redo)-1]
	e.undo = append(e.undo, cp)

	e.assign(cp.spikes, cp.after)
	up := cp.up
	up.History = "redo"
	return up, true
}

func (e *Engine) allocID() int {
	id := e.nextID
	e.nextID++
	return id
}

// apply records a checkpoint and performs the assignment.
func (e *Engine) apply(spikes, after []int, up types.UpdateInfo) {
	before := make([]int, len(spikes))
	for i, s := range spikes {
		before[i] = e.assignments[s]
	}
	e.undo = append(e.undo, checkpoint{spikes: spikes, before: before, after: after, up: up})
	e.redo = nil
	e.assign(spikes, after)
}

// assign rewrites the assignment of the given spikes and rebuilds the
// per-cluster index for every cluster involved.
func (e *Engine) assign(spikes, clusters []int) {
	dirty := make(map[int]bool)
	for i, s := range spikes {
		dirty[e.assignments[s]] = true
		dirty[clusters[i]] = true
		e.assignments[s] = clusters[i]
	}
	for c := range dirty {
		delete(e.perCluster, c)
	}
	for spike, c := range e.assignments {
		if dirty[c] {
			e.perCluster[c] = append(e.perCluster[c], spike)
		}
	}
}

func uniform(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}
