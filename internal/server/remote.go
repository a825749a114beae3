package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/nowplaying"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

// Remote is the player side of the control surface. [nowplaying.Publisher] satisfies it.
type Remote interface {
	CurrentSnapshot() nowplaying.Snapshot
	HandleRemote(ctx context.Context, cmd nowplaying.Command) error
}

// Message is what websocket clients receive.
type Message struct {
	Type     string               `json:"type"` // snapshot or error
	Snapshot *nowplaying.Snapshot `json:"snapshot,omitempty"`
	Error    string               `json:"error,omitempty"`
}

type client struct {
	conn *websocket.Conn
	out  chan Message
}

// RemoteHandler exposes now-playing over HTTP and websockets. It is the publisher's delegate:
// every published snapshot fans out to the connected sockets.
//
//	GET  /nowplaying  current snapshot
//	POST /command     apply a [nowplaying.Command]
//	GET  /ws          snapshot stream; clients may send commands
type RemoteHandler struct {
	remote   Remote
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewRemoteHandler(remote Remote, logger *log.Logger) *RemoteHandler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &RemoteHandler{
		remote: remote,
		logger: shared.WithLogger(logger, "component", "remote"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (h *RemoteHandler) Routes() []string {
	return []string{"/nowplaying", "/command", "/ws"}
}

func (h *RemoteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/nowplaying" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, h.remote.CurrentSnapshot())
	case r.URL.Path == "/command" && r.Method == http.MethodPost:
		h.command(w, r)
	case r.URL.Path == "/ws" && r.Method == http.MethodGet:
		h.socket(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *RemoteHandler) command(w http.ResponseWriter, r *http.Request) {
	var cmd nowplaying.Command
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed command"})
		return
	}
	if err := h.remote.HandleRemote(r.Context(), cmd); err != nil {
		h.logger.Debug("command rejected", "command", cmd, "error", err)
		writeJSON(w, StatusFor(err), map[string]string{"error": shared.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, h.remote.CurrentSnapshot())
}

func (h *RemoteHandler) socket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, out: make(chan Message, 8)}
	snap := h.remote.CurrentSnapshot()
	c.out <- Message{Type: "snapshot", Snapshot: &snap}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go h.write(c, done)

	for {
		var cmd nowplaying.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", "error", err)
			}
			break
		}
		if err := h.remote.HandleRemote(r.Context(), cmd); err != nil {
			h.enqueue(c, Message{Type: "error", Error: shared.UserMessage(err)})
		}
	}

	h.drop(c)
	<-done
	conn.Close()
}

func (h *RemoteHandler) write(c *client, done chan<- struct{}) {
	defer close(done)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *RemoteHandler) enqueue(c *client, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.out <- msg:
	default:
	}
}

func (h *RemoteHandler) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.out)
	}
}

// Publish implements [nowplaying.Delegate]. Slow clients miss snapshots.
func (h *RemoteHandler) Publish(snap nowplaying.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		s := snap
		select {
		case c.out <- Message{Type: "snapshot", Snapshot: &s}:
		default:
		}
	}
}

// Clients returns the number of connected sockets.
func (h *RemoteHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every socket.
func (h *RemoteHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.out)
	}
}

// StatusFor maps a player error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrInvalidArgument), errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrInvalidState), errors.Is(err, shared.ErrEmptyQueue):
		return http.StatusConflict
	case errors.Is(err, shared.ErrNotPlayable), errors.Is(err, shared.ErrEntityNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ nowplaying.Delegate = (*RemoteHandler)(nil)
