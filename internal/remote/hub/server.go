package hub

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/mod/semver"

	"habitd/internal/remote"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on, host:port. Use ":0" to pick a free port.
	Addr string

	// StatePath is where the JSON snapshot lives. Empty keeps state in
	// memory only.
	StatePath string

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// Server accepts device connections and fans document updates out to
// subscribers.
type Server struct {
	state  *State
	logger *log.Logger
	addr   string

	listener net.Listener
	server   *http.Server

	clientsMu sync.Mutex
	clients   map[*client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// client is one connected device.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[string]struct{}
}

func (c *client) write(ctx context.Context, env remote.Envelope) error {
	raw, err := remote.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, raw)
}

func (c *client) subscribed(key string) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	_, ok := c.subs[key]
	return ok
}

// NewServer creates a hub server. Call Start to begin serving.
func NewServer(config Config) (*Server, error) {
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Addr == "" {
		config.Addr = ":7780"
	}

	state, err := LoadState(config.StatePath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		state:   state,
		logger:  config.Logger,
		addr:    config.Addr,
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins listening. It returns once the listener is active.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Hub listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address. Only valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the hub down, closing all device connections.
func (s *Server) Stop() error {
	s.logger.Println("Stopping hub")
	s.cancel()

	s.clientsMu.Lock()
	for c := range s.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "hub shutting down")
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("hub shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Hub stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// handleSync upgrades the connection and runs the per-device loop.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("Upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	c := &client{conn: conn, subs: make(map[string]struct{})}

	if err := s.hello(c); err != nil {
		s.logger.Printf("Rejecting client: %v", err)
		_ = conn.Close(websocket.StatusProtocolError, "hello failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Device connected (total: %d)", total)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}

// hello validates the protocol version and acknowledges the connection.
func (s *Server) hello(c *client) error {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	_, raw, err := c.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read hello: %w", err)
	}
	var env remote.Envelope
	if err := remote.DecodeEnvelope(raw, &env); err != nil {
		return err
	}
	if env.Type != remote.MessageHello {
		return fmt.Errorf("first frame was %q, want hello", env.Type)
	}

	reply := remote.Envelope{Type: remote.MessageHello, Proto: remote.ProtocolVersion}
	if semver.Major(env.Proto) != semver.Major(remote.ProtocolVersion) {
		reply.Error = fmt.Sprintf("unsupported protocol %s (hub speaks %s)", env.Proto, remote.ProtocolVersion)
		_ = c.write(ctx, reply)
		return fmt.Errorf("protocol mismatch: client %s", env.Proto)
	}
	return c.write(ctx, reply)
}

// readLoop processes frames from one device until it disconnects.
func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)

	for {
		_, raw, err := c.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var env remote.Envelope
		if err := remote.DecodeEnvelope(raw, &env); err != nil {
			s.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}

		switch env.Type {
		case remote.MessageGet:
			s.reply(c, env.ID, s.state.Get(env.Key), nil)

		case remote.MessageGetLog:
			s.reply(c, env.ID, s.state.GetLog(env.Date), nil)

		case remote.MessageSubscribe:
			c.subsMu.Lock()
			c.subs[env.Key] = struct{}{}
			c.subsMu.Unlock()

		case remote.MessageUnsubscribe:
			c.subsMu.Lock()
			delete(c.subs, env.Key)
			c.subsMu.Unlock()

		case remote.MessageUpdate:
			s.handleUpdate(env)

		case remote.MessageUpdateLog:
			s.handleLogUpdate(env)

		default:
			s.logger.Printf("Dropping unexpected frame type %q", env.Type)
		}
	}
}

func (s *Server) handleUpdate(env remote.Envelope) {
	partial, err := remote.DecodeDocument(env.Data)
	if err != nil {
		s.logger.Printf("Dropping malformed update for %q: %v", env.Key, err)
		return
	}
	merged, err := s.state.ApplyUpdate(env.Key, partial)
	if err != nil {
		s.logger.Printf("Failed to persist update for %q: %v", env.Key, err)
	}
	s.broadcast(env.Key, "", merged)
}

func (s *Server) handleLogUpdate(env remote.Envelope) {
	partial, err := remote.DecodeDocument(env.Data)
	if err != nil {
		s.logger.Printf("Dropping malformed log update for %q: %v", env.Key, err)
		return
	}
	merged, err := s.state.ApplyLogUpdate(env.Date, env.Key, partial)
	if err != nil {
		s.logger.Printf("Failed to persist log update for %q: %v", env.Key, err)
	}
	s.broadcast(remote.LogStreamKey, env.Date, merged)
}

// reply sends a result frame for a get/get_log request.
func (s *Server) reply(c *client, id int64, doc remote.Document, replyErr error) {
	env := remote.Envelope{Type: remote.MessageResult, ID: id}
	if replyErr != nil {
		env.Error = replyErr.Error()
	} else {
		raw, err := remote.EncodeDocument(doc)
		if err != nil {
			env.Error = err.Error()
		} else {
			env.Data = raw
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := c.write(ctx, env); err != nil {
		s.logger.Printf("Failed to reply to device: %v", err)
	}
}

// broadcast delivers a merged document to every device subscribed to key.
func (s *Server) broadcast(key, date string, doc remote.Document) {
	raw, err := remote.EncodeDocument(doc)
	if err != nil {
		s.logger.Printf("Failed to encode event for %q: %v", key, err)
		return
	}
	env := remote.Envelope{Type: remote.MessageEvent, Key: key, Date: date, Data: raw}

	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		if !c.subscribed(key) {
			continue
		}
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err := c.write(ctx, env)
		cancel()
		if err != nil {
			s.logger.Printf("Failed to send event to device: %v", err)
			s.removeClient(c)
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c)
	total := len(s.clients)
	s.clientsMu.Unlock()

	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Device disconnected (total: %d)", total)
}
