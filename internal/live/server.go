// Package live provides a real-time WebSocket server over the query
// stream.
//
// The server broadcasts each delivered result snapshot and each sync
// completion to connected WebSocket clients, so a UI can mirror the
// directory without polling. Clients receive the latest snapshot on
// connect and every subsequent delivery as it happens.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Sashemishi/userdir/internal/record"
)

// MessageType defines the type of live message
type MessageType string

const (
	// MessageTypeRecords carries the current filtered result set
	MessageTypeRecords MessageType = "records"

	// MessageTypeSync indicates a refresh against the remote completed
	MessageTypeSync MessageType = "sync"
)

// Message represents a live broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RecordsData contains a result snapshot
type RecordsData struct {
	Filter  string          `json:"filter"`
	Count   int             `json:"count"`
	Records []record.Record `json:"records"`
}

// SyncData contains refresh completion information
type SyncData struct {
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	LastSync time.Time `json:"last_sync,omitempty"`
}

// Server manages WebSocket connections and broadcasts live messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting; lastMu guards the snapshot replayed to
	// newly connected clients
	broadcast chan Message
	lastMu    sync.RWMutex
	last      *Message

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Logging
	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080; 0 picks an ephemeral port)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// NewServer creates a new live WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Live server listening on %s", s.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping live server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Live server stopped")
	return nil
}

// BroadcastRecords sends a result snapshot to all connected clients.
// The snapshot is also retained for replay to clients connecting later.
func (s *Server) BroadcastRecords(filter string, records []record.Record) {
	data, err := json.Marshal(RecordsData{
		Filter:  filter,
		Count:   len(records),
		Records: records,
	})
	if err != nil {
		s.logger.Printf("Failed to marshal records data: %v", err)
		return
	}

	msg := Message{
		Type:      MessageTypeRecords,
		Timestamp: time.Now(),
		Data:      data,
	}

	s.lastMu.Lock()
	s.last = &msg
	s.lastMu.Unlock()

	s.send(msg)
}

// BroadcastSync sends refresh completion information to all clients
func (s *Server) BroadcastSync(syncErr error, lastSync time.Time) {
	sd := SyncData{Success: syncErr == nil}
	if syncErr != nil {
		sd.Error = syncErr.Error()
	}
	if !lastSync.IsZero() {
		sd.LastSync = lastSync
	}

	data, err := json.Marshal(sd)
	if err != nil {
		s.logger.Printf("Failed to marshal sync data: %v", err)
		return
	}

	s.send(Message{
		Type:      MessageTypeSync,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// send enqueues a message for broadcasting without blocking the caller
func (s *Server) send(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop fans queued messages out to every connected client
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
				continue
			}

			// Writes happen outside the lock; a stalled socket must not
			// hold up registration of new clients.
			for _, conn := range s.clientList() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Dropping client, write failed: %v", err)
					s.dropClient(conn)
				}
			}
		}
	}
}

// clientList snapshots the connected clients under the read lock
func (s *Server) clientList() []*websocket.Conn {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	clients := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		clients = append(clients, conn)
	}
	return clients
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Allow all origins for development
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Replay the latest snapshot so the client renders immediately
	s.lastMu.RLock()
	last := s.last
	s.lastMu.RUnlock()

	if last != nil {
		if data, err := json.Marshal(*last); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, data)
			cancel()
		}
	}

	go s.drainClient(conn)
}

// drainClient reads the socket until the client goes away. The feed is
// one-way; inbound frames carry no meaning and are discarded.
func (s *Server) drainClient(conn *websocket.Conn) {
	defer s.dropClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// dropClient closes and forgets a client connection. Safe to call more
// than once for the same connection.
func (s *Server) dropClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, known := s.clients[conn]
	delete(s.clients, conn)
	remaining := len(s.clients)
	s.clientsMu.Unlock()

	if !known {
		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected, %d remaining", remaining)
}

// handleHealth reports liveness, the client count, and whether a result
// snapshot has been broadcast yet
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	s.lastMu.RLock()
	hasSnapshot := s.last != nil
	s.lastMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"clients":  clientCount,
		"snapshot": hasSnapshot,
	})
}

// handleRoot serves a plain landing page describing the feed
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>userdir live feed</title>
</head>
<body>
    <h1>User Directory Live Feed</h1>
    <p>Subscribe at <code>ws://%s/ws</code>. Two message types are sent:</p>
    <ul>
        <li><code>records</code> &ndash; the current result set and the filter that produced it</li>
        <li><code>sync</code> &ndash; outcome and time of the latest remote refresh</li>
    </ul>
    <p>New connections immediately receive the latest <code>records</code> snapshot.</p>
    <p>Health: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
