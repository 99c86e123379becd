package tui

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/sortbench/internal/applog"
	"github.com/lotas/sortbench/internal/bridge"
	"github.com/lotas/sortbench/internal/clustering"
	"github.com/lotas/sortbench/internal/config"
	"github.com/lotas/sortbench/internal/dataset"
	"github.com/lotas/sortbench/internal/meta"
	"github.com/lotas/sortbench/internal/store"
	"github.com/lotas/sortbench/internal/supervisor"
	"github.com/lotas/sortbench/internal/types"
)

// --- Messages ---

type bridgeMsg struct {
	msg bridge.IncomingMsg
}

type bridgeClosedMsg struct{}

// --- Session ---

// Session holds the long-lived collaborators shared between the bubbletea
// model and the supervisor callbacks.
type Session struct {
	Cfg     *config.Config
	DB      *sql.DB
	Dataset *dataset.Dataset
	Engine  *clustering.Engine
	Meta    *meta.Store
	Sup     *supervisor.Supervisor
	Server  *bridge.Server // nil when the bridge is disabled

	cv *clusterTable
	sv *similarTable

	pendingSpikes []int
	notice        string
}

// NewSession wires the curation session. When cur is non-nil the saved
// curation overrides the dataset's assignments, groups and labels.
func NewSession(cfg *config.Config, db *sql.DB, ds *dataset.Dataset, srv *bridge.Server, cur *store.CurationFull) (*Session, error) {
	assignments := ds.Assignments
	nextID := ds.NextClusterID
	groups := ds.Groups
	labels := ds.Labels
	if cur != nil {
		assignments = cur.Assignments
		nextID = cur.NextClusterID
		groups = make(map[int]string)
		for c, g := range cur.Groups {
			if g != "unsorted" {
				groups[c] = g
			}
		}
		labels = cur.Labels
	}

	s := &Session{
		Cfg:     cfg,
		DB:      db,
		Dataset: ds,
		Engine:  clustering.New(assignments, nextID),
		Meta:    meta.New(groups),
		Server:  srv,
	}
	for field, values := range labels {
		s.Meta.Seed(field, values)
	}

	s.cv = newClusterTable("clusters", false, func(a, b types.ClusterInfo) bool {
		if a.Quality != b.Quality {
			return a.Quality > b.Quality
		}
		return a.ID < b.ID
	})
	s.sv = newSimilarTable(func(focal []int) []types.ClusterInfo {
		return s.Sup.SimilarClusters(focal[0], focal)
	})

	sup, err := supervisor.New(supervisor.Config{
		ClusterView:    s.cv,
		SimilarityView: s.sv,
		Clustering:     s.Engine,
		Meta:           s.Meta,
		Similarity: func(clusterID int) []supervisor.Score {
			var out []supervisor.Score
			for _, n := range ds.Similar(clusterID) {
				out = append(out, supervisor.Score{ID: n.ID, Value: n.Score})
			}
			return out
		},
		SimilarLimit: cfg.SimilarLimit,
		RequestSplit: func() []int { return s.pendingSpikes },
		Settled:      s.broadcastSelection,
		OnUpdate:     s.onUpdate,
		OnError:      func(msg string) { s.notice = msg },
		RequestSave:  s.saveCuration,
	})
	if err != nil {
		return nil, err
	}
	s.Sup = sup
	s.cv.onSelect = sup.ClustersSelected
	s.sv.onSelect = sup.SimilarSelected
	s.cv.setRows(sup.ClusterRows())
	return s, nil
}

func (s *Session) send(ev bridge.Event) {
	if s.Server == nil {
		return
	}
	if err := s.Server.Send(ev); err != nil {
		applog.Error("bridge.send", err)
	}
}

func (s *Session) broadcastSelection() {
	s.send(bridge.Event{
		Type:       "select",
		ClusterIDs: s.Sup.SelectedClusters(),
		Similar:    s.Sup.SelectedSimilar(),
	})
}

// onUpdate broadcasts the mutation and refreshes the derived-data cache.
func (s *Session) onUpdate(up types.UpdateInfo) {
	s.send(bridge.Event{
		Type:        "update",
		Description: up.Description,
		History:     up.History,
		Added:       up.Added,
		Deleted:     up.Deleted,
	})
	key := s.Dataset.Name + "/spikes_per_cluster"
	if err := store.PutCache(s.DB, key, s.Engine.SpikesPerCluster()); err != nil {
		applog.Error("cache.spikes", err)
	}
	if err := store.PutCache(s.DB, s.Dataset.Name+"/next_cluster_id", s.Engine.NewClusterID()); err != nil {
		applog.Error("cache.next_id", err)
	}
}

func (s *Session) saveCuration(req supervisor.SaveRequest) {
	rev, err := store.SaveCuration(s.DB, s.Dataset.Name, store.CurationFull{
		NextClusterID: s.Engine.NewClusterID(),
		Assignments:   req.Assignments,
		Groups:        req.Groups,
		Labels:        req.Labels,
	})
	if err != nil {
		applog.Error("save.failed", err)
		s.notice = "Save failed: " + err.Error()
		return
	}
	applog.Info("save.done", "dataset", s.Dataset.Name, "rev", rev)
	s.notice = fmt.Sprintf("Saved %s rev %d", s.Dataset.Name, rev)
	s.send(bridge.Event{Type: "save", Dataset: s.Dataset.Name, Rev: rev})
}

// Export writes the current curation as a dataset file.
func (s *Session) Export(path string) error {
	groups := make(map[int]string)
	for _, c := range s.Engine.ClusterIDs() {
		if g := s.Meta.Get(meta.GroupField, c); g != "" {
			groups[c] = g
		}
	}
	labels := make(map[string]map[int]string)
	for _, f := range s.Meta.Fields() {
		labels[f] = s.Meta.All(f)
	}
	return dataset.Write(path, dataset.Export{
		Name:          s.Dataset.Name,
		SpikeClusters: s.Engine.Assignments(),
		NextClusterID: s.Engine.NewClusterID(),
		Groups:        groups,
		Labels:        labels,
	})
}

// takeNotice returns and clears the pending user-facing message.
func (s *Session) takeNotice() string {
	n := s.notice
	s.notice = ""
	return n
}

// --- Model ---

type Model struct {
	s     *Session
	focus int // 0 = cluster pane, 1 = similarity pane

	labeling bool
	input    textinput.Model

	status string
	width  int
	height int
}

func NewModel(s *Session) Model {
	input := textinput.New()
	input.Placeholder = "field value (e.g. note drifting)"
	input.CharLimit = 120
	m := Model{s: s, input: input}
	s.cv.focused = true
	return m
}

func (m Model) Init() tea.Cmd {
	if m.s.Server == nil {
		return nil
	}
	return tea.Batch(
		listenBridge(m.s.Server),
		startBridge(m.s.Server),
	)
}

func startBridge(srv *bridge.Server) tea.Cmd {
	return func() tea.Msg {
		srv.ListenAndServe(context.Background())
		return bridgeClosedMsg{}
	}
}

func listenBridge(srv *bridge.Server) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-srv.Messages()
		if !ok {
			return bridgeClosedMsg{}
		}
		return bridgeMsg{msg: msg}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		paneH := m.height - 3
		m.s.cv.setSize(m.width/2, paneH)
		m.s.sv.setSize(m.width-m.width/2, paneH)
		return m, nil

	case bridgeClosedMsg:
		return m, nil

	case bridgeMsg:
		switch msg.msg.Type {
		case "select":
			m.s.Sup.SelectClusters(msg.msg.ClusterIDs)
		case "spikes":
			m.s.pendingSpikes = msg.msg.SpikeIDs
			m.status = fmt.Sprintf("%d spikes staged for split", len(msg.msg.SpikeIDs))
		case "request_state":
			m.s.send(bridge.Event{
				Type:       "state",
				Dataset:    m.s.Dataset.Name,
				ClusterIDs: m.s.Sup.SelectedClusters(),
				Similar:    m.s.Sup.SelectedSimilar(),
			})
		}
		return m, listenBridge(m.s.Server)

	case tea.KeyMsg:
		if m.labeling {
			return m.updateLabeling(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m Model) updateLabeling(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		field, value, ok := strings.Cut(strings.TrimSpace(m.input.Value()), " ")
		if ok && field != "" {
			m.s.Sup.Label(field, strings.TrimSpace(value), nil)
			m.status = fmt.Sprintf("labeled %s", field)
		}
		m.labeling = false
		m.input.Reset()
		return m, nil
	case "esc":
		m.labeling = false
		m.input.Reset()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	which := "best"
	if m.focus == 1 {
		which = "similar"
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.SwitchPane):
		m.focus = 1 - m.focus
		m.s.cv.focused = m.focus == 0
		m.s.sv.focused = m.focus == 1

	case key.Matches(msg, keys.Up):
		m.focusedTable().moveCursor(-1)

	case key.Matches(msg, keys.Down):
		m.focusedTable().moveCursor(1)

	case key.Matches(msg, keys.Extend):
		m.focusedTable().toggleExtend()

	case key.Matches(msg, keys.Merge):
		m.s.Sup.Merge(nil, 0)

	case key.Matches(msg, keys.Split):
		m.s.Sup.Split(nil)

	case key.Matches(msg, keys.Undo):
		m.s.Sup.Undo()

	case key.Matches(msg, keys.Redo):
		m.s.Sup.Redo()

	case key.Matches(msg, keys.Good):
		m.s.Sup.Move(types.GroupGood, which)

	case key.Matches(msg, keys.MUA):
		m.s.Sup.Move(types.GroupMUA, which)

	case key.Matches(msg, keys.Noise):
		m.s.Sup.Move(types.GroupNoise, which)

	case key.Matches(msg, keys.Unsort):
		m.s.Sup.Move("unsorted", which)

	case key.Matches(msg, keys.Label):
		m.labeling = true
		m.input.Focus()
		return m, textinput.Blink

	case key.Matches(msg, keys.NextSim):
		m.s.Sup.NextSimilar()

	case key.Matches(msg, keys.PrevSim):
		m.s.Sup.PreviousSimilar()

	case key.Matches(msg, keys.Restart):
		m.s.Sup.Reset()

	case key.Matches(msg, keys.Save):
		m.s.Sup.Save()

	case key.Matches(msg, keys.Export):
		path := m.s.Dataset.Name + ".curated.json"
		if err := m.s.Export(path); err != nil {
			m.status = "Export failed: " + err.Error()
		} else {
			m.status = "Exported " + path
		}
	}

	if n := m.s.takeNotice(); n != "" {
		m.status = n
	}
	return m, nil
}

func (m *Model) focusedTable() *clusterTable {
	if m.focus == 1 {
		return &m.s.sv.clusterTable
	}
	return m.s.cv
}

var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	panes := lipgloss.JoinHorizontal(lipgloss.Top, m.s.cv.View(), m.s.sv.View())

	sel := m.s.Sup.Selected()
	status := fmt.Sprintf("%s · %d clusters · selected %v", m.s.Dataset.Name, len(m.s.Engine.ClusterIDs()), sel)
	if m.s.Server != nil && m.s.Server.Connected() {
		status += " · viewer connected"
	}
	if m.status != "" {
		status += " · " + m.status
	}

	bottom := statusStyle.Render(status)
	if m.labeling {
		bottom = "label: " + m.input.View()
	}
	help := helpStyle.Render("m merge · x split · g/v/n/0 move · l label · u/r undo/redo · ./, wizard · w save · e export · q quit")

	return lipgloss.JoinVertical(lipgloss.Left, panes, bottom, help)
}

// Run starts the TUI event loop.
func Run(s *Session) error {
	p := tea.NewProgram(NewModel(s), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
