// Package server implements the FDI server role: a TCP listener that
// serves the shared tag registry to filling-line clients, one request
// loop per connection.
package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"taglink/fdi"
	"taglink/logging"
	"taglink/tagstore"
)

// Server accepts FDI connections and answers requests against a Store.
type Server struct {
	mu       sync.RWMutex
	listener net.Listener
	addr     string
	store    *tagstore.Store
	clients  map[uint64]net.Conn
	nextID   uint64
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	logFn    func(string, ...interface{})

	clientCount atomic.Int64
}

// NewServer creates a server (not yet listening) over the given registry.
func NewServer(store *tagstore.Store) *Server {
	return &Server{
		store:    store,
		clients:  make(map[uint64]net.Conn),
		stopChan: make(chan struct{}),
		logFn:    func(string, ...interface{}) {},
	}
}

// SetLogFunc sets the logging callback.
func (s *Server) SetLogFunc(fn func(string, ...interface{})) {
	s.logFn = fn
}

// Store returns the registry the server answers from.
func (s *Server) Store() *tagstore.Store {
	return s.store
}

// Start binds the listener and launches the supervised accept loop.
func (s *Server) Start(listenAddr string) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("fdi listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.addr = listenAddr
	s.running = true
	s.mu.Unlock()

	s.logFn("FDI server listening on %s", listenAddr)
	logging.DebugLog("server", "listening on %s", listenAddr)

	s.wg.Add(1)
	go s.superviseAccept()
	return nil
}

// Stop closes the listener and every client socket, then waits for all
// connection loops to exit.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.listener.Close()
	for _, conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[uint64]net.Conn)
	s.clientCount.Store(0)
	s.mu.Unlock()

	s.wg.Wait()
	s.logFn("FDI server stopped")
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the listener's bound address, useful when listening on
// port 0.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ClientCount returns the number of currently connected clients.
func (s *Server) ClientCount() int {
	return int(s.clientCount.Load())
}

// superviseAccept keeps the accept loop alive: if the listener fails
// while the server is running, it is reopened and accepting resumes.
func (s *Server) superviseAccept() {
	defer s.wg.Done()

	for {
		err := s.acceptLoop()

		select {
		case <-s.stopChan:
			return
		default:
		}

		s.logFn("FDI accept loop failed: %v - restarting", err)
		logging.DebugError("server", "accept loop", err)

		ln, lerr := net.Listen("tcp", s.addr)
		if lerr != nil {
			s.logFn("FDI listener restart failed: %v", lerr)
			select {
			case <-s.stopChan:
				return
			case <-time.After(time.Second):
				continue
			}
		}
		s.mu.Lock()
		s.listener = ln
		s.mu.Unlock()
	}
}

// acceptLoop accepts connections until the listener dies or Stop is
// called. Each accepted connection gets its own request loop goroutine.
func (s *Server) acceptLoop() error {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}

		s.mu.Lock()
		id := s.nextID
		s.nextID++
		s.clients[id] = conn
		s.clientCount.Add(1)
		s.mu.Unlock()

		s.logFn("FDI client connected: %s", conn.RemoteAddr())
		logging.DebugLog("server", "client %d connected from %s", id, conn.RemoteAddr())

		s.wg.Add(1)
		go s.serveConn(id, conn)
	}
}

// removeClient closes and forgets a client connection.
func (s *Server) removeClient(id uint64) {
	s.mu.Lock()
	if conn, ok := s.clients[id]; ok {
		delete(s.clients, id)
		s.clientCount.Add(-1)
		conn.Close()
		s.logFn("FDI client disconnected: %s", conn.RemoteAddr())
		logging.DebugLog("server", "client %d disconnected", id)
	}
	s.mu.Unlock()
}

// serveConn runs the strict request loop: read one frame, dispatch,
// reply, repeat. Per-request errors are answered with a status frame and
// the connection stays open; only transport failures end the loop.
func (s *Server) serveConn(id uint64, conn net.Conn) {
	defer s.wg.Done()
	defer s.removeClient(id)

	for {
		frame, err := fdi.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, fdi.ErrPeerClosed) {
				logging.DebugError("server", "read request", err)
			}
			return
		}
		logging.DebugRX("server", frame)

		if err := s.dispatch(conn, frame); err != nil {
			logging.DebugError("server", "dispatch", err)
			return
		}
	}
}

// dispatch decodes one request frame and routes it to its handler.
// Unknown and reserved commands are answered with UnknownCommand; the
// returned error is transport-level only.
func (s *Server) dispatch(conn net.Conn, frame []byte) error {
	cmd, tagID, payload, err := fdi.DecodeRequest(frame)
	if err != nil {
		// The frame arrived intact; only the command field is bad.
		return s.respond(conn, fdi.StatusUnknownCommand, 0, fdi.ZeroPayload())
	}

	switch cmd {
	case fdi.CmdNoOp:
		return s.handleNoOp(conn, tagID, payload)
	case fdi.CmdReadValue:
		return s.handleReadValue(conn, tagID, payload)
	case fdi.CmdWriteValue:
		return s.handleWriteValue(conn, tagID, payload)
	case fdi.CmdReadString:
		return s.handleReadString(conn, tagID, payload)
	case fdi.CmdWriteString:
		return s.handleWriteString(conn, tagID, payload)
	default:
		// ReadList / WriteList are reserved.
		return s.respond(conn, fdi.StatusUnknownCommand, 0, fdi.ZeroPayload())
	}
}

// respond encodes and writes a single response frame.
func (s *Server) respond(conn net.Conn, status fdi.Status, tagID uint16, payload []byte) error {
	frame, err := fdi.EncodeResponse(status, tagID, payload)
	if err != nil {
		return err
	}
	logging.DebugTX("server", frame)
	return fdi.WriteFrame(conn, frame)
}
