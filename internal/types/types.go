package types

// UpdateInfo describes the effect of one clustering or metadata mutation.
// It is produced by the clustering engine and the metadata store and consumed
// read-only by everything downstream (flow log, views, bridge).
type UpdateInfo struct {
	Description     string // "merge", "assign", "metadata_group", "metadata_<field>"
	History         string // "undo", "redo", or "" for a forward action
	Added           []int  // cluster ids created by the mutation
	Deleted         []int  // cluster ids removed by the mutation
	SpikeIDs        []int  // spikes whose assignment changed
	MetadataChanged []int  // cluster ids whose metadata changed
	MetadataValue   string // new metadata value ("" clears)
}

// ClusterInfo is one row of the cluster or similarity table.
type ClusterInfo struct {
	ID         int
	NSpikes    int
	Quality    float64
	Similarity float64 // only meaningful in the similarity view
	Group      string  // "" means unsorted
	IsMasked   bool    // noise/mua rows render dimmed
}

// Selection is what a view reports when its selection settles: the ids
// actually selected and the view's suggestion for the next interesting id.
type Selection struct {
	IDs  []int
	Next *int // nil when the view has no suggestion
}

// Cluster group names. Unsorted is represented by the empty string.
const (
	GroupNoise = "noise"
	GroupMUA   = "mua"
	GroupGood  = "good"
)

// IsGroupMasked reports whether rows in the given group render dimmed.
func IsGroupMasked(group string) bool {
	return group == GroupNoise || group == GroupMUA
}

// Uniq returns ids deduplicated, preserving first-seen order.
func Uniq(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
