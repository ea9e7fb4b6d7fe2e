package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"pulse/config"
	"pulse/internal/bus"
	"pulse/internal/credentials"
	"pulse/internal/event"
	"pulse/internal/ipc"
	"pulse/internal/store"
	"pulse/internal/stream"
)

// Options configures a server instance. Tests construct servers directly
// with temp paths; production goes through NewFromConfig.
type Options struct {
	SocketPath     string
	DBPath         string
	TCPPort        string
	AuthToken      string
	MaxSubscribers int

	// ConfigPath enables the reload watcher when non-empty.
	ConfigPath string
}

type Server struct {
	opts      Options
	store     *store.Store
	bus       *bus.Bus
	listener  net.Listener
	lock      *processLock
	logFile   *os.File
	stopWatch func()
	startedAt time.Time

	authMu    sync.RWMutex
	authToken string

	exitOnShutdown bool
}

// New builds a server from explicit options.
func New(opts Options) (*Server, error) {
	st, err := store.Open(opts.DBPath)
	if err != nil {
		return nil, err
	}
	return &Server{
		opts:      opts,
		store:     st,
		bus:       bus.NewWithLimit(opts.MaxSubscribers),
		authToken: opts.AuthToken,
		startedAt: time.Now(),
	}, nil
}

// NewFromConfig builds the production server: process lock, log file, and
// settings from the user's config file.
func NewFromConfig() (*Server, error) {
	lock, err := acquireProcessLock()
	if err != nil {
		return nil, err
	}

	logPath, err := config.GetServerLogPath()
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("failed to get server log path: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	log.SetOutput(logFile)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	log.Printf("=== Server starting ===")
	log.Printf("Log file: %s", logPath)

	if err := config.EnsureConfigExists(); err != nil {
		logFile.Close()
		lock.Release()
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}

	configPath, err := config.GetConfigFile()
	if err != nil {
		logFile.Close()
		lock.Release()
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logFile.Close()
		lock.Release()
		return nil, err
	}

	socketPath, err := config.GetSocketPath()
	if err != nil {
		logFile.Close()
		lock.Release()
		return nil, err
	}
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		logFile.Close()
		lock.Release()
		return nil, err
	}
	log.Printf("Opening database: %s", dbPath)

	srv, err := New(Options{
		SocketPath:     socketPath,
		DBPath:         dbPath,
		TCPPort:        cfg.TCPPort,
		AuthToken:      resolveAuthToken(cfg),
		MaxSubscribers: cfg.MaxSubscribers,
		ConfigPath:     configPath,
	})
	if err != nil {
		logFile.Close()
		lock.Release()
		return nil, err
	}
	srv.lock = lock
	srv.logFile = logFile
	srv.exitOnShutdown = true
	return srv, nil
}

// Start listens on the unix socket (and TCP if configured) and serves until
// Stop closes the listener.
func (s *Server) Start() (err error) {
	_ = os.Remove(s.opts.SocketPath)

	defer func() {
		if err != nil {
			s.releaseLock()
		}
	}()

	l, err := net.Listen("unix", s.opts.SocketPath)
	if err != nil {
		return err
	}
	s.listener = l
	if err := os.Chmod(s.opts.SocketPath, 0660); err != nil {
		log.Printf("server: failed to update socket permissions: %v", err)
	}

	log.Printf("Server started, listening on %s", s.opts.SocketPath)

	if s.opts.TCPPort != "" {
		if s.currentAuthToken() == "" {
			log.Printf("WARNING: TCP port configured but no auth token set")
			log.Printf("WARNING: TCP listener will not be started for security reasons")
		} else {
			go s.startTCPListener(s.opts.TCPPort)
		}
	}

	if s.opts.ConfigPath != "" {
		stop, watchErr := config.Watch(s.opts.ConfigPath, func() {
			log.Printf("Config file changed, reloading...")
			if err := s.reloadConfig(); err != nil {
				log.Printf("Error reloading config: %v", err)
			}
		})
		if watchErr != nil {
			log.Printf("Error creating config watcher: %v", watchErr)
		} else {
			s.stopWatch = stop
		}
	}

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				log.Printf("temporary accept error: %v", err)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server accept: %w", err)
		}
		go s.handleConnection(conn, fmt.Sprintf("%p", conn))
	}
}

func (s *Server) startTCPListener(port string) {
	addr := ":" + port
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Printf("TCP: Failed to start TCP listener on %s: %v", addr, err)
		return
	}
	defer listener.Close()

	log.Printf("TCP: Started TCP listener on %s (auth enabled)", addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				log.Printf("TCP: temporary accept error: %v", err)
				continue
			}
			log.Printf("TCP: Accept error: %v", err)
			return
		}
		go s.handleTCPConnection(conn)
	}
}

// handleTCPConnection performs the token handshake before request mode.
func (s *Server) handleTCPConnection(conn net.Conn) {
	defer conn.Close()
	connID := fmt.Sprintf("TCP-%p", conn)
	log.Printf("[%s] New TCP connection from %s", connID, conn.RemoteAddr())

	conn.SetDeadline(time.Now().Add(5 * time.Second))

	reader := bufio.NewReader(conn)
	authLine, err := reader.ReadString('\n')
	if err != nil {
		log.Printf("[%s] Failed to read auth: %v", connID, err)
		return
	}

	parts := strings.SplitN(strings.TrimSpace(authLine), " ", 2)
	if len(parts) != 2 || parts[0] != "AUTH" {
		log.Printf("[%s] Invalid auth format", connID)
		conn.Write([]byte("ERR invalid auth format\n"))
		return
	}

	if parts[1] != s.currentAuthToken() {
		log.Printf("[%s] Authentication failed: invalid token", connID)
		conn.Write([]byte("ERR invalid token\n"))
		return
	}

	log.Printf("[%s] Authentication successful", connID)
	conn.Write([]byte("OK\n"))
	conn.SetDeadline(time.Time{})

	s.serveRequests(conn, connID, reader)
}

func (s *Server) handleConnection(conn net.Conn, connID string) {
	defer conn.Close()
	log.Printf("[%s] New connection", connID)
	s.serveRequests(conn, connID, bufio.NewReader(conn))
}

func (s *Server) serveRequests(conn net.Conn, connID string, reader *bufio.Reader) {
	requestCount := 0
	for {
		data, err := reader.ReadBytes('\n')
		if err != nil {
			log.Printf("[%s] Connection closed after %d requests", connID, requestCount)
			return
		}

		req, err := ipc.DecodeRequest(data)
		if err != nil {
			log.Printf("[%s] Invalid request: %v", connID, err)
			s.writeResponse(conn, ipc.Response{Success: false, Error: "invalid request"})
			continue
		}

		requestCount++
		log.Printf("[%s] Request #%d: type=%s", connID, requestCount, req.Type)

		if req.Type == ipc.RequestWatch {
			log.Printf("[%s] Switching to event streaming mode", connID)
			s.streamEvents(conn, connID, reader)
			return
		}

		resp := s.processRequest(req)
		s.writeResponse(conn, resp)
	}
}

func (s *Server) writeResponse(conn net.Conn, resp ipc.Response) {
	if b, err := ipc.EncodeResponse(resp); err == nil {
		_, _ = conn.Write(append(b, '\n'))
	}
}

// streamEvents runs one subscription stream over the connection until the
// client disconnects or the server shuts down. Disconnect is a normal
// termination path, not an error.
func (s *Server) streamEvents(conn net.Conn, connID string, reader *bufio.Reader) {
	sub, err := s.bus.Subscribe()
	if err != nil {
		s.writeResponse(conn, ipc.Response{Success: false, Error: err.Error()})
		return
	}

	st := stream.New(sub)
	defer st.Close()

	s.writeResponse(conn, ipc.Response{Success: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The client sends nothing after the watch request; a read completing
	// means the connection dropped.
	go func() {
		_, _ = io.Copy(io.Discard, reader)
		cancel()
	}()

	encoder := json.NewEncoder(conn)
	frameCount := 0
	for {
		ev, err := st.Next(ctx)
		if err != nil {
			log.Printf("[%s] Stream ended after %d frames", connID, frameCount)
			return
		}
		if err := encoder.Encode(ev); err != nil {
			log.Printf("[%s] Failed to send frame: %v", connID, err)
			return
		}
		frameCount++
	}
}

// processRequest routes requests to the appropriate handlers. Mutations
// commit to the store first, then publish; the publish never blocks on
// subscriber behavior.
func (s *Server) processRequest(req ipc.Request) ipc.Response {
	ctx := context.Background()

	switch req.Type {
	case ipc.RequestList:
		resources, err := s.store.List(ctx)
		if err != nil {
			return ipc.Response{Success: false, Error: err.Error()}
		}
		converted := make([]event.Resource, 0, len(resources))
		for _, r := range resources {
			converted = append(converted, toWire(r))
		}
		return ipc.Response{Success: true, Resources: converted}

	case ipc.RequestGet:
		r, err := s.store.Get(ctx, req.ResourceID)
		if err != nil {
			return ipc.Response{Success: false, Error: err.Error()}
		}
		wire := toWire(r)
		return ipc.Response{Success: true, Resource: &wire}

	case ipc.RequestCreate:
		r, err := s.store.Create(ctx, req.Name, req.Body)
		if err != nil {
			return ipc.Response{Success: false, Error: err.Error()}
		}
		wire := toWire(r)
		s.bus.Publish(event.ResourceCreated(wire))
		return ipc.Response{Success: true, Resource: &wire}

	case ipc.RequestUpdate:
		r, err := s.store.Update(ctx, req.ResourceID, req.Name, req.Body)
		if err != nil {
			return ipc.Response{Success: false, Error: err.Error()}
		}
		wire := toWire(r)
		s.bus.Publish(event.ResourceUpdated(wire))
		return ipc.Response{Success: true, Resource: &wire}

	case ipc.RequestDelete:
		if err := s.store.Delete(ctx, req.ResourceID); err != nil {
			return ipc.Response{Success: false, Error: err.Error()}
		}
		s.bus.Publish(event.ResourceDeleted(req.ResourceID))
		return ipc.Response{Success: true}

	case ipc.RequestStatus:
		count, err := s.store.Count(ctx)
		if err != nil {
			return ipc.Response{Success: false, Error: err.Error()}
		}
		return ipc.Response{Success: true, Status: &ipc.ServerStatus{
			Subscribers:   s.bus.SubscriberCount(),
			Resources:     count,
			UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		}}

	case ipc.RequestReloadConfig:
		if err := s.reloadConfig(); err != nil {
			return ipc.Response{Success: false, Error: err.Error()}
		}
		return ipc.Response{Success: true}

	case ipc.RequestShutdown:
		return s.shutdown()

	default:
		return ipc.Response{Success: false, Error: "unknown request type"}
	}
}

func (s *Server) shutdown() ipc.Response {
	go func() {
		time.Sleep(100 * time.Millisecond) // give time to send the response
		s.Stop()
		if s.exitOnShutdown {
			os.Exit(0)
		}
	}()
	return ipc.Response{Success: true}
}

// reloadConfig re-reads the config file. Only the auth token takes effect
// live; listener and subscriber-limit changes need a restart.
func (s *Server) reloadConfig() error {
	if s.opts.ConfigPath == "" {
		return nil
	}
	cfg, err := config.Load(s.opts.ConfigPath)
	if err != nil {
		return err
	}

	token := resolveAuthToken(cfg)

	s.authMu.Lock()
	changed := token != s.authToken
	s.authToken = token
	s.authMu.Unlock()

	if changed {
		log.Printf("Auth token updated")
	}
	if cfg.TCPPort != s.opts.TCPPort {
		log.Printf("Note: tcp_port change requires a restart")
	}
	if cfg.MaxSubscribers != s.opts.MaxSubscribers {
		log.Printf("Note: max_subscribers change requires a restart")
	}
	return nil
}

func (s *Server) currentAuthToken() string {
	s.authMu.RLock()
	defer s.authMu.RUnlock()
	return s.authToken
}

// resolveAuthToken prefers the keyring entry managed by the setup wizard
// and the token CLI; the config file's auth_token is the fallback for
// installs without a usable keyring.
func resolveAuthToken(cfg config.Config) string {
	if token, err := keyringAuthToken(); err == nil && token != "" {
		return token
	}
	return cfg.AuthToken
}

// Stubbed in tests; the real implementation talks to the system keyring.
var keyringAuthToken = credentials.GetAuthToken

// Bus exposes the event bus so embedding code (and tests) can publish
// without going through the wire.
func (s *Server) Bus() *bus.Bus {
	return s.bus
}

func (s *Server) Stop() {
	log.Printf("=== Server stopping ===")
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	s.bus.Shutdown()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	_ = os.Remove(s.opts.SocketPath)
	s.releaseLock()
	if s.logFile != nil {
		log.Printf("Server stopped")
		_ = s.logFile.Close()
		s.logFile = nil
	}
}

func (s *Server) releaseLock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Release(); err != nil {
		log.Printf("failed to release server lock: %v", err)
	}
	s.lock = nil
}

func toWire(r store.Resource) event.Resource {
	return event.Resource{
		ID:        r.ID,
		Name:      r.Name,
		Body:      r.Body,
		CreatedAt: r.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339Nano),
	}
}
