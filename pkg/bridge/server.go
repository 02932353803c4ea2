package bridge

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"quantum-rover/pkg/log"
)

// Server accepts TCP connections and feeds their lines to the session
// manager. Only one connection at a time ever holds the session slot;
// the rest are rejected at Accept.
type Server struct {
	manager *Manager
	logger  *log.Logger
	addr    string

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewServer wraps a manager with a TCP listener on addr.
func NewServer(addr string, manager *Manager, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.GetLogger("bridge")
	}
	return &Server{manager: manager, logger: logger, addr: addr}
}

// Manager returns the underlying session manager.
func (s *Server) Manager() *Manager {
	return s.manager
}

// Addr returns the bound listen address, or the configured one before
// ListenAndServe.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// ListenAndServe blocks accepting connections until ctx is cancelled
// or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("Bridge listening on %s", ln.Addr())

	s.wg.Add(1)
	go s.timeoutLoop(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			s.wg.Wait()
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

// ServeConn runs the read loop for one connection. Exported so tests
// can drive the server over net.Pipe without a listener.
func (s *Server) ServeConn(conn net.Conn) {
	sess, err := s.manager.Accept(conn)
	if err != nil {
		return
	}
	defer s.manager.Detach(sess)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 512), 512)
	for scanner.Scan() {
		s.manager.HandleLine(sess, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("Session %s read ended: %v", sess.ID, err)
	}
}

// timeoutLoop sweeps the idle window once a second.
func (s *Server) timeoutLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.manager.CheckTimeout(now)
		}
	}
}
