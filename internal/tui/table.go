package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/sortbench/internal/types"
)

var (
	borderFocused = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))
	borderBlurred = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Underline(true)
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	maskedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Faint(true)
	groupStyles   = map[string]lipgloss.Style{
		types.GroupGood:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		types.GroupMUA:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		types.GroupNoise: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
)

// clusterTable is one selectable cluster pane. The supervisor drives it
// through the view interface; key handling drives it through moveCursor and
// toggleExtend, which report back through onSelect.
type clusterTable struct {
	title    string
	showSim  bool // render the similarity column
	rows     []types.ClusterInfo
	cursor   int
	sel      []int
	onSelect func(types.Selection)
	less     func(a, b types.ClusterInfo) bool

	focused       bool
	width, height int
	offset        int
}

func newClusterTable(title string, showSim bool, less func(a, b types.ClusterInfo) bool) *clusterTable {
	return &clusterTable{title: title, showSim: showSim, less: less}
}

func (t *clusterTable) setRows(rows []types.ClusterInfo) {
	t.rows = append([]types.ClusterInfo(nil), rows...)
	t.resort()
	t.clampCursor()
}

func (t *clusterTable) resort() {
	sort.SliceStable(t.rows, func(i, j int) bool { return t.less(t.rows[i], t.rows[j]) })
}

func (t *clusterTable) clampCursor() {
	if t.cursor >= len(t.rows) {
		t.cursor = len(t.rows) - 1
	}
	if t.cursor < 0 {
		t.cursor = 0
	}
}

func (t *clusterTable) indexOf(clusterID int) int {
	for i, r := range t.rows {
		if r.ID == clusterID {
			return i
		}
	}
	return -1
}

// suggestion is the id of the first unmasked row below the cursor, the
// candidate a wizard step would move to.
func (t *clusterTable) suggestion() *int {
	for i := t.cursor + 1; i < len(t.rows); i++ {
		if !t.rows[i].IsMasked {
			id := t.rows[i].ID
			return &id
		}
	}
	return nil
}

func (t *clusterTable) selection() types.Selection {
	return types.Selection{IDs: append([]int(nil), t.sel...), Next: t.suggestion()}
}

func (t *clusterTable) emit(done func(types.Selection)) {
	sel := t.selection()
	if t.onSelect != nil {
		t.onSelect(sel)
	}
	if done != nil {
		done(sel)
	}
}

// Select implements the supervisor view interface: ids unknown to the table
// are dropped silently.
func (t *clusterTable) Select(ids []int, done func(types.Selection)) {
	t.sel = nil
	for _, id := range ids {
		if t.indexOf(id) >= 0 {
			t.sel = append(t.sel, id)
		}
	}
	if len(t.sel) > 0 {
		t.cursor = t.indexOf(t.sel[0])
	}
	t.scrollToCursor()
	t.emit(done)
}

func (t *clusterTable) First(done func(types.Selection)) {
	for i, r := range t.rows {
		if !r.IsMasked {
			t.selectRow(i, done)
			return
		}
	}
	t.sel = nil
	t.emit(done)
}

func (t *clusterTable) Next(done func(types.Selection)) {
	t.step(1, done)
}

func (t *clusterTable) Previous(done func(types.Selection)) {
	t.step(-1, done)
}

// step moves to the nearest unmasked row in the given direction. At the end
// of the table the selection stays put.
func (t *clusterTable) step(dir int, done func(types.Selection)) {
	for i := t.cursor + dir; i >= 0 && i < len(t.rows); i += dir {
		if !t.rows[i].IsMasked {
			t.selectRow(i, done)
			return
		}
	}
	t.emit(done)
}

func (t *clusterTable) selectRow(i int, done func(types.Selection)) {
	t.cursor = i
	t.sel = []int{t.rows[i].ID}
	t.scrollToCursor()
	t.emit(done)
}

func (t *clusterTable) Add(rows []types.ClusterInfo) {
	t.rows = append(t.rows, rows...)
	t.resort()
	t.clampCursor()
}

func (t *clusterTable) Remove(ids []int) {
	drop := make(map[int]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := t.rows[:0]
	for _, r := range t.rows {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	t.rows = kept
	sel := t.sel[:0]
	for _, id := range t.sel {
		if !drop[id] {
			sel = append(sel, id)
		}
	}
	t.sel = sel
	t.clampCursor()
}

func (t *clusterTable) Change(rows []types.ClusterInfo) {
	for _, row := range rows {
		if i := t.indexOf(row.ID); i >= 0 {
			t.rows[i] = row
		}
	}
	t.resort()
}

// moveCursor is a user cursor move: it selects the row under the cursor.
func (t *clusterTable) moveCursor(delta int) {
	if len(t.rows) == 0 {
		return
	}
	t.cursor += delta
	t.clampCursor()
	t.sel = []int{t.rows[t.cursor].ID}
	t.scrollToCursor()
	t.emit(nil)
}

// toggleExtend adds or removes the cursor row from the selection.
func (t *clusterTable) toggleExtend() {
	if len(t.rows) == 0 {
		return
	}
	id := t.rows[t.cursor].ID
	for i, s := range t.sel {
		if s == id {
			t.sel = append(t.sel[:i], t.sel[i+1:]...)
			t.emit(nil)
			return
		}
	}
	t.sel = append(t.sel, id)
	t.emit(nil)
}

func (t *clusterTable) isSelected(clusterID int) bool {
	for _, s := range t.sel {
		if s == clusterID {
			return true
		}
	}
	return false
}

func (t *clusterTable) setSize(w, h int) {
	t.width = w
	t.height = h
	t.scrollToCursor()
}

func (t *clusterTable) visibleRows() int {
	// border, title, header
	n := t.height - 4
	if n < 1 {
		n = 1
	}
	return n
}

func (t *clusterTable) scrollToCursor() {
	vis := t.visibleRows()
	if t.cursor < t.offset {
		t.offset = t.cursor
	}
	if t.cursor >= t.offset+vis {
		t.offset = t.cursor - vis + 1
	}
	if t.offset < 0 {
		t.offset = 0
	}
}

func (t *clusterTable) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s (%d)", t.title, len(t.rows))))
	b.WriteString("\n")

	header := fmt.Sprintf("   %5s %8s %8s", "id", "spikes", "quality")
	if t.showSim {
		header = fmt.Sprintf("   %5s %8s %8s", "id", "spikes", "sim")
	}
	header += "  group"
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	vis := t.visibleRows()
	end := t.offset + vis
	if end > len(t.rows) {
		end = len(t.rows)
	}
	for i := t.offset; i < end; i++ {
		r := t.rows[i]
		prefix := "  "
		if i == t.cursor && t.focused {
			prefix = cursorStyle.Render("▸") + " "
		}
		mark := " "
		if t.isSelected(r.ID) {
			mark = selectedStyle.Render("●")
		}

		metric := r.Quality
		if t.showSim {
			metric = r.Similarity
		}
		line := fmt.Sprintf("%5d %8d %8.2f  %s", r.ID, r.NSpikes, metric, r.Group)

		switch {
		case r.IsMasked:
			line = maskedStyle.Render(line)
		case t.isSelected(r.ID):
			line = selectedStyle.Render(line)
		default:
			if st, ok := groupStyles[r.Group]; ok {
				line = st.Render(line)
			}
		}
		b.WriteString(prefix + mark + line + "\n")
	}

	style := borderBlurred
	if t.focused {
		style = borderFocused
	}
	return style.Width(t.width - 2).Height(t.height - 2).Render(b.String())
}

// similarTable is the similarity pane: a clusterTable that can repopulate
// itself for a new focal selection.
type similarTable struct {
	clusterTable
	rowsFor func(focal []int) []types.ClusterInfo
}

func newSimilarTable(rowsFor func([]int) []types.ClusterInfo) *similarTable {
	return &similarTable{
		clusterTable: clusterTable{
			title:   "similar",
			showSim: true,
			less: func(a, b types.ClusterInfo) bool {
				return a.Similarity > b.Similarity
			},
		},
		rowsFor: rowsFor,
	}
}

// Reset repopulates the pane for a new focal selection. The previous
// selection and cursor are discarded.
func (t *similarTable) Reset(clusterIDs []int) {
	t.sel = nil
	t.cursor = 0
	t.offset = 0
	if t.rowsFor == nil || len(clusterIDs) == 0 {
		t.rows = nil
		return
	}
	t.setRows(t.rowsFor(clusterIDs))
}

func (t *similarTable) ClearSelection() {
	t.sel = nil
}
