// Package meta holds per-cluster metadata: the group field plus arbitrary
// label fields, with its own undo stack. Clusters created by a merge or
// split inherit the group of their ancestors.
package meta

import (
	"sort"

	"github.com/lotas/sortbench/internal/types"
)

// GroupField is the reserved field driving row styling and move actions.
const GroupField = "group"

// Store maps field name → cluster id → value. Absent means unset; setting
// the empty string clears.
type Store struct {
	fields map[string]map[int]string

	undo []checkpoint
	redo []checkpoint
}

type checkpoint struct {
	field  string
	ids    []int
	before map[int]string
	value  string
	up     types.UpdateInfo
}

// New builds a store seeded with initial group assignments.
func New(groups map[int]string) *Store {
	s := &Store{fields: map[string]map[int]string{GroupField: {}}}
	for c, g := range groups {
		if g != "" {
			s.fields[GroupField][c] = g
		}
	}
	return s
}

// Seed bulk-loads stored values for a field without touching the undo
// stack. Used when restoring a saved curation.
func (s *Store) Seed(field string, values map[int]string) {
	for c, v := range values {
		s.writeOne(field, c, v)
	}
}

// Get returns the value of field for a cluster ("" when unset).
func (s *Store) Get(field string, clusterID int) string {
	return s.fields[field][clusterID]
}

// Fields returns all label field names in sorted order, excluding group.
func (s *Store) Fields() []string {
	var out []string
	for f := range s.fields {
		if f != GroupField {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// All returns a copy of field → cluster → value for the given field.
func (s *Store) All(field string) map[int]string {
	out := make(map[int]string, len(s.fields[field]))
	for c, v := range s.fields[field] {
		out[c] = v
	}
	return out
}

// Set assigns value to field for the given clusters and returns the update.
// The update's description is "metadata_<field>".
func (s *Store) Set(field string, clusterIDs []int, value string) types.UpdateInfo {
	ids := types.Uniq(clusterIDs)
	cp := checkpoint{
		field:  field,
		ids:    ids,
		before: make(map[int]string, len(ids)),
		value:  value,
	}
	for _, c := range ids {
		cp.before[c] = s.fields[field][c]
	}
	cp.up = types.UpdateInfo{
		Description:     "metadata_" + field,
		MetadataChanged: ids,
		MetadataValue:   value,
	}
	s.undo = append(s.undo, cp)
	s.redo = nil
	s.write(field, ids, value)
	return cp.up
}

// Inherit copies the group of the ancestor clusters onto newly created ones:
// the first ancestor with a group wins. Returns ok=false (and records
// nothing) when no ancestor carries a group.
func (s *Store) Inherit(ancestors, created []int) (types.UpdateInfo, bool) {
	for _, c := range ancestors {
		if g := s.Get(GroupField, c); g != "" {
			return s.Set(GroupField, created, g), true
		}
	}
	return types.UpdateInfo{}, false
}

// Undo reverts the latest metadata change. Implements history.Stack.
func (s *Store) Undo() (types.UpdateInfo, bool) {
	if len(s.undo) == 0 {
		return types.UpdateInfo{}, false
	}
	cp := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, cp)

	for _, c := range cp.ids {
		s.writeOne(cp.field, c, cp.before[c])
	}
	up := cp.up
	up.History = "undo"
	return up, true
}

// Redo replays the latest undone change. Implements history.Stack.
func (s *Store) Redo() (types.UpdateInfo, bool) {
	if len(s.redo) == 0 {
		return types.UpdateInfo{}, false
	}
	cp := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.undo = append(s.undo, cp)

	s.write(cp.field, cp.ids, cp.value)
	up := cp.up
	up.History = "redo"
	return up, true
}

func (s *Store) write(field string, ids []int, value string) {
	for _, c := range ids {
		s.writeOne(field, c, value)
	}
}

func (s *Store) writeOne(field string, clusterID int, value string) {
	m := s.fields[field]
	if m == nil {
		m = make(map[int]string)
		s.fields[field] = m
	}
	if value == "" {
		delete(m, clusterID)
		return
	}
	m[clusterID] = value
}
