// Package bridge multiplexes a single authenticated remote session onto
// the half-duplex link shared with the rover controller, and exposes a
// read-only status surface for passive monitoring.
package bridge

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantum-rover/pkg/log"
	"quantum-rover/pkg/metrics"
	"quantum-rover/pkg/params"
	"quantum-rover/pkg/roverrs"
)

// SessionState tracks the single allowed remote session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// ControllerLink is the write side of the shared link to the controller.
type ControllerLink interface {
	WriteLine(line string) error
}

// Session holds metadata for the one active remote connection.
type Session struct {
	ID           string
	Remote       string
	StartedAt    time.Time
	LastActivity time.Time

	conn net.Conn
}

// Config holds the manager's tunables.
type Config struct {
	AuthToken      string
	SessionTimeout time.Duration
	Link           ControllerLink
	Store          *params.Store
	Logger         *log.Logger
	Registry       *metrics.Registry

	// OnReset is invoked when an authenticated RESET command arrives.
	OnReset func()
}

// Manager owns the session state machine. All state transitions happen
// under its lock; connection read loops and the controller relay may
// call in from different goroutines.
type Manager struct {
	logger    *log.Logger
	authToken string
	timeout   time.Duration
	link      ControllerLink
	store     *params.Store
	onReset   func()
	startTime time.Time

	mu            sync.Mutex
	state         SessionState
	session       *Session
	lastTelemetry string
	telemetrySubs map[int]chan string
	nextSubID     int

	commandsTotal   *metrics.Counter
	relayedTotal    *metrics.Counter
	droppedTotal    *metrics.Counter
	authFailures    *metrics.Counter
	rejectedTotal   *metrics.Counter
	bytesToClient   *metrics.Counter
	bytesFromClient *metrics.Counter
	sessionActive   *metrics.Gauge
}

// NewManager creates a session manager. A nil registry gets a private one.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger("bridge")
	}
	reg := cfg.Registry
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	token := cfg.AuthToken
	if token == "" {
		token = params.DefaultNetworkConfig().AuthToken
	}
	return &Manager{
		logger:          logger,
		authToken:       token,
		timeout:         timeout,
		link:            cfg.Link,
		store:           cfg.Store,
		onReset:         cfg.OnReset,
		startTime:       time.Now(),
		telemetrySubs:   make(map[int]chan string),
		commandsTotal:   reg.Counter("bridge_commands_total", "Authenticated commands handled"),
		relayedTotal:    reg.Counter("bridge_relayed_total", "Commands forwarded to the controller"),
		droppedTotal:    reg.Counter("bridge_dropped_total", "Controller lines dropped with no session"),
		authFailures:    reg.Counter("bridge_auth_failures_total", "Lines rejected for a bad auth prefix"),
		rejectedTotal:   reg.Counter("bridge_rejected_connections_total", "Connections rejected while a session was active"),
		bytesToClient:   reg.Counter("bridge_bytes_out_total", "Bytes written to remote clients"),
		bytesFromClient: reg.Counter("bridge_bytes_in_total", "Bytes read from remote clients"),
		sessionActive:   reg.Gauge("bridge_session_active", "1 while a session holds the slot"),
	}
}

// Accept admits a new connection if the slot is free. A busy slot gets
// a notice and the newcomer is closed; the existing session is never
// touched. On success the welcome line and the most recent telemetry
// snapshot are written before the session becomes active.
func (m *Manager) Accept(conn net.Conn) (*Session, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		m.rejectedTotal.Inc()
		// A newcomer that never reads must not park this goroutine.
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		fmt.Fprintf(conn, "ERROR: Bridge busy, session active\n")
		conn.Close()
		return nil, roverrs.New(roverrs.ErrSessionBusy, "session slot occupied")
	}
	m.state = StateConnecting
	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		Remote:       conn.RemoteAddr().String(),
		StartedAt:    now,
		LastActivity: now,
		conn:         conn,
	}
	m.session = sess
	snapshot := m.lastTelemetry
	m.mu.Unlock()

	m.writeToSession(sess, "OK:CONNECTED "+sess.ID)
	if snapshot != "" {
		m.writeToSession(sess, snapshot)
	}

	m.mu.Lock()
	// The slot may have been torn down while the welcome was in flight.
	if m.session == sess {
		m.state = StateActive
		m.sessionActive.Set(1)
	}
	m.mu.Unlock()

	m.logger.Info("Session %s accepted from %s", sess.ID, sess.Remote)
	return sess, nil
}

// HandleLine processes one line from the remote client. The line must
// carry the auth token as a raw prefix; a mismatch is reported and the
// session stays open.
func (m *Manager) HandleLine(sess *Session, line string) {
	line = strings.TrimRight(line, "\r\n")
	m.bytesFromClient.Add(uint64(len(line)) + 1)

	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	sess.LastActivity = time.Now()
	m.mu.Unlock()

	if !strings.HasPrefix(line, m.authToken) {
		m.authFailures.Inc()
		m.logger.Warn("Rejected unauthenticated line from %s", sess.Remote)
		m.writeToSession(sess, "ERROR: Authentication failed")
		return
	}
	cmd := strings.TrimPrefix(line, m.authToken)
	if cmd == "" {
		m.writeToSession(sess, "ERROR: Authentication failed")
		return
	}
	m.commandsTotal.Inc()

	switch {
	case cmd == "PING":
		m.writeToSession(sess, "PONG")
		m.mu.Lock()
		snapshot := m.lastTelemetry
		m.mu.Unlock()
		if snapshot != "" {
			m.writeToSession(sess, snapshot)
		}

	case cmd == "STATUS":
		m.writeToSession(sess, m.statusLine())

	case strings.HasPrefix(cmd, "CONFIG:"):
		m.handleConfig(sess, strings.TrimPrefix(cmd, "CONFIG:"))

	case cmd == "RESET":
		m.writeToSession(sess, "OK:RESETTING")
		m.logger.Warn("Bridge reset requested by session %s", sess.ID)
		if m.onReset != nil {
			m.onReset()
		}

	default:
		if m.link == nil {
			m.writeToSession(sess, "ERROR: Controller link down")
			return
		}
		if err := m.link.WriteLine(cmd); err != nil {
			m.logger.Error("Forward to controller failed: %v", err)
			m.writeToSession(sess, "ERROR: Controller link down")
			return
		}
		m.relayedTotal.Inc()
	}
}

// handleConfig persists a JSON network-config update.
func (m *Manager) handleConfig(sess *Session, payload string) {
	if m.store == nil {
		m.writeToSession(sess, "ERROR: No parameter store")
		return
	}
	nc, _ := m.store.LoadNetwork()
	if err := json.Unmarshal([]byte(payload), &nc); err != nil {
		m.writeToSession(sess, "ERROR: Invalid config payload")
		return
	}
	if err := m.store.SaveNetwork(nc); err != nil {
		m.logger.Error("Network config save failed: %v", err)
		m.writeToSession(sess, "ERROR: Config save failed")
		return
	}
	m.logger.Info("Network config updated by session %s", sess.ID)
	m.writeToSession(sess, "OK:CONFIG_SAVED")
}

// RelayFromController forwards a controller line to the active session
// verbatim, or drops it. Telemetry lines are cached for the next PING
// and fanned out to status-surface observers.
func (m *Manager) RelayFromController(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}

	m.mu.Lock()
	if strings.HasPrefix(line, "TELEMETRY:") {
		m.lastTelemetry = line
		for _, ch := range m.telemetrySubs {
			select {
			case ch <- line:
			default:
			}
		}
	}
	sess := m.session
	active := m.state == StateActive
	m.mu.Unlock()

	if !active || sess == nil {
		m.droppedTotal.Inc()
		return
	}
	m.writeToSession(sess, line)
}

// CheckTimeout tears the session down unconditionally once the idle
// window is exceeded. Returns true if a teardown happened.
func (m *Manager) CheckTimeout(now time.Time) bool {
	m.mu.Lock()
	sess := m.session
	if sess == nil || now.Sub(sess.LastActivity) <= m.timeout {
		m.mu.Unlock()
		return false
	}
	m.teardownLocked(sess)
	m.mu.Unlock()

	m.logger.Warn("Session %s timed out after %s idle", sess.ID, m.timeout)
	return true
}

// Detach frees the slot when the given session's connection ends.
// A stale session (already replaced) is ignored.
func (m *Manager) Detach(sess *Session) {
	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	m.teardownLocked(sess)
	m.mu.Unlock()

	m.logger.Info("Session %s closed", sess.ID)
}

func (m *Manager) teardownLocked(sess *Session) {
	sess.conn.Close()
	m.session = nil
	m.state = StateIdle
	m.sessionActive.Set(0)
}

// SubscribeTelemetry registers a status-surface observer. The returned
// cancel function must be called when the observer goes away.
func (m *Manager) SubscribeTelemetry() (<-chan string, func()) {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan string, 16)
	m.telemetrySubs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.telemetrySubs, id)
		m.mu.Unlock()
	}
	return ch, cancel
}

// Status describes the bridge for the read-only surface.
type Status struct {
	State           string  `json:"state"`
	SessionID       string  `json:"session_id,omitempty"`
	SessionRemote   string  `json:"session_remote,omitempty"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Commands        uint64  `json:"commands_total"`
	Relayed         uint64  `json:"relayed_total"`
	Dropped         uint64  `json:"dropped_total"`
	AuthFailures    uint64  `json:"auth_failures_total"`
	Rejected        uint64  `json:"rejected_connections_total"`
	BytesIn         uint64  `json:"bytes_in_total"`
	BytesOut        uint64  `json:"bytes_out_total"`
	ObserverClients int     `json:"observer_clients"`
}

// Snapshot returns the current status.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	st := Status{
		State:           m.state.String(),
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
		ObserverClients: len(m.telemetrySubs),
	}
	if m.session != nil {
		st.SessionID = m.session.ID
		st.SessionRemote = m.session.Remote
	}
	m.mu.Unlock()

	st.Commands = m.commandsTotal.Value()
	st.Relayed = m.relayedTotal.Value()
	st.Dropped = m.droppedTotal.Value()
	st.AuthFailures = m.authFailures.Value()
	st.Rejected = m.rejectedTotal.Value()
	st.BytesIn = m.bytesFromClient.Value()
	st.BytesOut = m.bytesToClient.Value()
	return st
}

func (m *Manager) statusLine() string {
	st := m.Snapshot()
	return fmt.Sprintf("STATUS:STATE=%s,UPTIME=%.0f,COMMANDS=%d,RELAYED=%d,AUTH_FAIL=%d",
		st.State, st.UptimeSeconds, st.Commands, st.Relayed, st.AuthFailures)
}

func (m *Manager) writeToSession(sess *Session, line string) {
	n, err := fmt.Fprintf(sess.conn, "%s\n", line)
	if err != nil {
		m.logger.Warn("Session %s write failed: %v", sess.ID, err)
		return
	}
	m.bytesToClient.Add(uint64(n))
}
