// Package bridge exposes the curation session to companion viewers (waveform
// or feature plots) over a local WebSocket. The TUI broadcasts selection and
// update events; a viewer can drive the selection remotely.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/lotas/sortbench/internal/applog"
	"nhooyr.io/websocket"
)

// IncomingMsg is a command from a companion viewer. "spikes" carries the
// viewer's lasso selection, used as the source for the next split.
type IncomingMsg struct {
	Type       string `json:"type"` // "select", "spikes" or "request_state"
	ClusterIDs []int  `json:"clusterIds,omitempty"`
	SpikeIDs   []int  `json:"spikeIds,omitempty"`
}

// Event is a message from the TUI to the viewer.
type Event struct {
	Type        string `json:"type"` // "update", "select", "save", "state"
	Description string `json:"description,omitempty"`
	History     string `json:"history,omitempty"`
	Added       []int  `json:"added,omitempty"`
	Deleted     []int  `json:"deleted,omitempty"`
	ClusterIDs  []int  `json:"clusterIds,omitempty"`
	Similar     []int  `json:"similar,omitempty"`
	Dataset     string `json:"dataset,omitempty"`
	Rev         int    `json:"rev,omitempty"`
}

// Server manages the WebSocket connection to a companion viewer. A new
// connection replaces the previous one.
type Server struct {
	port    int
	msgs    chan IncomingMsg
	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
}

// New creates a new Server.
func New(port int) *Server {
	return &Server{
		port: port,
		msgs: make(chan IncomingMsg, 64),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Messages returns the channel of incoming viewer commands.
func (s *Server) Messages() <-chan IncomingMsg {
	return s.msgs
}

// Connected reports whether a viewer is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send broadcasts an event to the connected viewer. With no viewer
// connected it is a no-op.
func (s *Server) Send(ev Event) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	applog.Info("ws.send", "type", ev.Type, "description", ev.Description)
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(1 << 20)

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.connCtx = nil
			}
			s.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			applog.Info("ws.recv", "type", msg.Type)
			select {
			case s.msgs <- msg:
			default:
			}
		}
	})
}

// ListenAndServe starts the WebSocket server on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("bridge.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	return srv.ListenAndServe()
}
