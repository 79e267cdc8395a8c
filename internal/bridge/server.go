// Package bridge hosts the WebSocket server that the companion browser
// extension connects to, and implements the browser.Accessor on top of it.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/lotas/tabgruppen/internal/applog"
	"nhooyr.io/websocket"
)

// IncomingMsg is a message from the extension to the daemon. It is either a
// response to a previously sent command (correlated by ID), a tab event, or
// a request originating from the extension popup.
type IncomingMsg struct {
	Type  string `json:"type"` // "response", "event", "request"
	ID    string `json:"id,omitempty"`
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`

	// Response payloads
	Tabs     json.RawMessage `json:"tabs,omitempty"`
	Groups   json.RawMessage `json:"groups,omitempty"`
	Group    json.RawMessage `json:"group,omitempty"`
	GroupID  int             `json:"groupId,omitempty"`
	WindowID int             `json:"windowId,omitempty"`

	// Event/request fields
	Action  string          `json:"action,omitempty"`
	TabID   int             `json:"tabId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutgoingMsg is a command or reply from the daemon to the extension.
type OutgoingMsg struct {
	ID     string `json:"id"`
	Action string `json:"action,omitempty"`

	TabID     int    `json:"tabId,omitempty"`
	TabIDs    []int  `json:"tabIds,omitempty"`
	GroupID   int    `json:"groupId,omitempty"`
	WindowID  int    `json:"windowId,omitempty"`
	Title     string `json:"title,omitempty"`
	Collapsed *bool  `json:"collapsed,omitempty"`
	Index     *int   `json:"index,omitempty"`
	Text      string `json:"text,omitempty"`    // badge label
	Message   string `json:"message,omitempty"` // notification body
	Kind      string `json:"kind,omitempty"`    // notification kind

	// Request reply fields
	OK      *bool  `json:"ok,omitempty"`
	Error   string `json:"error,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Server manages the WebSocket connection to the extension. A new extension
// connection replaces any previous one. Commands sent through Call are
// correlated with their responses by message ID; everything else flows out
// through Events.
type Server struct {
	port   int
	events chan IncomingMsg

	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg

	nextID atomic.Uint64
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port:    port,
		events:  make(chan IncomingMsg, 64),
		pending: make(map[string]chan IncomingMsg),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Events returns the channel of uncorrelated messages from the extension:
// tab events and popup requests.
func (s *Server) Events() <-chan IncomingMsg {
	return s.events
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send sends a message to the connected extension without waiting for a
// response. Returns an error if no extension is connected.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("send %s: no extension connected", msg.Action)
	}

	applog.Debug("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Call sends a command and waits for the extension's response with the same
// ID. The context bounds the wait; a command whose response never arrives is
// abandoned (its slot is cleaned up) when the context ends.
func (s *Server) Call(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	if msg.ID == "" {
		msg.ID = "c" + strconv.FormatUint(s.nextID.Add(1), 10)
	}

	ch := make(chan IncomingMsg, 1)
	s.mu.Lock()
	s.pending[msg.ID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.Send(msg); err != nil {
		return IncomingMsg{}, err
	}

	select {
	case resp := <-ch:
		if resp.OK != nil && !*resp.OK {
			return resp, fmt.Errorf("%s: %s", msg.Action, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, ctx.Err())
	}
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

		conn.SetReadLimit(16 << 20) // tab lists with many tabs can be large

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
			applog.Debug("ws.recv", "type", msg.Type, "id", msg.ID, "action", msg.Action)

			// Route responses to their waiting Call; everything else is
			// an event or request for the daemon loop.
			if msg.ID != "" {
				s.mu.Lock()
				ch, ok := s.pending[msg.ID]
				s.mu.Unlock()
				if ok {
					ch <- msg
					continue
				}
			}

			select {
			case s.events <- msg:
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
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	return srv.ListenAndServe()
}
