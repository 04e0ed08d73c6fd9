package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/reelroom/reel/internal/backend/schema"
)

// Server exposes a Hub over WebSocket. Each connection holds exactly one
// subscription, chosen by the "filter" query parameter:
//
//	GET /realtime?filter=movie_comments:movie_id=eq.42
//
// The server first sends a "subscribed" message, then one "change" message
// per matching row change.
type Server struct {
	hub *Hub

	// WebSocket client management
	clients   map[*websocket.Conn]*serverClient
	clientsMu sync.RWMutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc

	writeTimeout   time.Duration
	originPatterns []string
	logger         *log.Logger
}

// Config holds server configuration
type Config struct {
	// WriteTimeout bounds each frame write (default: 5s)
	WriteTimeout time.Duration

	// OriginPatterns allowed for browser clients (default: all)
	OriginPatterns []string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		WriteTimeout:   5 * time.Second,
		OriginPatterns: []string{"*"},
		Logger:         log.New(os.Stderr, "[realtime] ", log.LstdFlags),
	}
}

type serverClient struct {
	sub Subscription
	key schema.FilterKey
}

// NewServer creates a WebSocket front end for hub.
func NewServer(hub *Hub, config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.OriginPatterns == nil {
		config.OriginPatterns = defaults.OriginPatterns
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		hub:            hub,
		clients:        make(map[*websocket.Conn]*serverClient),
		ctx:            ctx,
		cancel:         cancel,
		writeTimeout:   config.WriteTimeout,
		originPatterns: config.OriginPatterns,
		logger:         config.Logger,
	}
}

// ServeHTTP upgrades the request and streams changes until the client
// disconnects or the server closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, err := schema.ParseFilterKey(r.URL.Query().Get("filter"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid filter: %v", err), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Changes must not overtake the acknowledgement.
	handler := &connHandler{server: s, conn: conn, key: key, ready: make(chan struct{})}

	sub, err := s.hub.Subscribe(r.Context(), key, handler)
	if err != nil {
		s.logger.Printf("Subscribe %s failed: %v", key, err)
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = &serverClient{sub: sub, key: key}
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client subscribed to %s (total: %d)", key, clientCount)

	ack := Message{Type: MessageTypeSubscribed}
	if idSub, ok := sub.(interface{ ID() string }); ok {
		ack.Subscription = idSub.ID()
	}
	if err := s.write(conn, ack); err != nil {
		s.logger.Printf("Failed to acknowledge subscription: %v", err)
		s.removeClient(conn)
		close(handler.ready)
		return
	}
	close(handler.ready)

	s.readLoop(conn)
}

// connHandler writes the changes of one subscription to its connection.
type connHandler struct {
	server *Server
	conn   *websocket.Conn
	key    schema.FilterKey
	ready  chan struct{}
}

func (h *connHandler) handleChange(c schema.Change) {
	select {
	case <-h.ready:
	case <-h.server.ctx.Done():
		return
	}

	if c.Table == "" {
		c.Table = h.key.Table
	}
	if err := h.server.write(h.conn, changeMessage(c)); err != nil {
		h.server.logger.Printf("Failed to send to client: %v", err)
		h.server.removeClient(h.conn)
	}
}

func (h *connHandler) OnInsert(r schema.Record) {
	h.handleChange(schema.Change{Type: schema.ChangeInsert, Record: r, CommitTime: time.Now()})
}

func (h *connHandler) OnUpdate(r schema.Record) {
	h.handleChange(schema.Change{Type: schema.ChangeUpdate, Record: r, CommitTime: time.Now()})
}

func (h *connHandler) OnDelete(id string) {
	h.handleChange(schema.Change{Type: schema.ChangeDelete, Record: schema.Record{ID: id}, CommitTime: time.Now()})
}

func (s *Server) write(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
		// Clients have nothing to say after subscribing.
	}
}

// removeClient safely removes a client connection and its subscription
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	client, exists := s.clients[conn]
	if !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = client.sub.Unsubscribe()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client unsubscribed from %s (total: %d)", client.key, clientCount)
}

// Close disconnects every client.
func (s *Server) Close() {
	s.cancel()

	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[*websocket.Conn]*serverClient)
	s.clientsMu.Unlock()

	for conn, client := range clients {
		_ = client.sub.Unsubscribe()
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
	}
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
