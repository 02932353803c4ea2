package bridge

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/websocket"

	"quantum-rover/pkg/log"
	"quantum-rover/pkg/metrics"
)

// StatusServer is the read-only monitoring surface. It carries no
// session, requires no authentication, and cannot relay commands.
type StatusServer struct {
	manager  *Manager
	registry *metrics.Registry
	logger   *log.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// NewStatusServer builds the HTTP surface on addr.
func NewStatusServer(addr string, manager *Manager, registry *metrics.Registry, logger *log.Logger) *StatusServer {
	if logger == nil {
		logger = log.GetLogger("bridge-status")
	}
	s := &StatusServer{
		manager:  manager,
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/telemetry/ws", s.handleTelemetryWS)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks serving HTTP until Close.
func (s *StatusServer) ListenAndServe() error {
	s.logger.Info("Status surface listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Close shuts the HTTP server down.
func (s *StatusServer) Close() error {
	return s.httpServer.Close()
}

// Handler exposes the mux for tests.
func (s *StatusServer) Handler() http.Handler {
	return s.httpServer.Handler
}

type statusResponse struct {
	Status
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes   uint64 `json:"heap_sys_bytes"`
	Goroutines     int    `json:"goroutines"`
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	resp := statusResponse{
		Status:         s.manager.Snapshot(),
		HeapAllocBytes: ms.HeapAlloc,
		HeapSysBytes:   ms.HeapSys,
		Goroutines:     runtime.NumGoroutine(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *StatusServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(s.registry.Export()))
}

// handleTelemetryWS pushes telemetry lines to a passive observer. Any
// number of observers may attach; they never occupy the session slot.
func (s *StatusServer) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Observer upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	lines, cancel := s.manager.SubscribeTelemetry()
	defer cancel()

	// Drain and discard client frames so pings are answered and a
	// close from the observer ends the subscription.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
