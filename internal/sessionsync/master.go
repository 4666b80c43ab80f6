package sessionsync

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// MasterState tracks the master's position in the handshake.
type MasterState int

const (
	MasterIdle MasterState = iota
	MasterListening
	MasterAwaitingSlaves
	MasterBroadcasting
	MasterDone
	MasterTimedOut
)

// String returns a human-readable name for the state.
func (s MasterState) String() string {
	switch s {
	case MasterIdle:
		return "idle"
	case MasterListening:
		return "listening"
	case MasterAwaitingSlaves:
		return "awaiting_slaves"
	case MasterBroadcasting:
		return "broadcasting"
	case MasterDone:
		return "done"
	case MasterTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MasterConfig configures the master side of the handshake.
type MasterConfig struct {
	// ListenAddr is the host:port to bind. Always explicit configuration;
	// use port 0 for an ephemeral port in tests.
	ListenAddr string

	// ExpectedSlaves is the number of connections to accept before
	// broadcasting.
	ExpectedSlaves int

	// Timeout bounds the whole accept phase.
	Timeout time.Duration

	// SessionName is the name to broadcast.
	SessionName string

	Logger *slog.Logger
}

// Master accepts slave connections and broadcasts the session name.
type Master struct {
	cfg    MasterConfig
	logger *slog.Logger

	mu    sync.Mutex
	state MasterState
	addr  string
}

// NewMaster creates a master coordinator.
func NewMaster(cfg MasterConfig) *Master {
	return &Master{
		cfg:    cfg,
		logger: cfg.Logger,
		state:  MasterIdle,
	}
}

// State returns the master's current state.
func (m *Master) State() MasterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Master) setState(s MasterState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Addr returns the bound listen address once the master is listening.
// Empty before Run binds the listener.
func (m *Master) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Run performs the master side of the handshake. It blocks until every
// expected slave holds the session name or the timeout expires.
func (m *Master) Run() error {
	ln, err := net.Listen("tcp", m.cfg.ListenAddr)
	if err != nil {
		m.setState(MasterTimedOut)
		return syncErr(RoleMaster, "listen", err)
	}
	defer ln.Close()

	m.mu.Lock()
	m.state = MasterListening
	m.addr = ln.Addr().String()
	m.mu.Unlock()

	m.logger.Info("sync_master_listening",
		"addr", ln.Addr().String(),
		"expected_slaves", m.cfg.ExpectedSlaves,
		"timeout", m.cfg.Timeout.String(),
	)

	deadline := time.Now().Add(m.cfg.Timeout)
	tcpLn := ln.(*net.TCPListener)

	conns := make([]net.Conn, 0, m.cfg.ExpectedSlaves)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	m.setState(MasterAwaitingSlaves)
	for len(conns) < m.cfg.ExpectedSlaves {
		if err := tcpLn.SetDeadline(deadline); err != nil {
			m.setState(MasterTimedOut)
			return syncErr(RoleMaster, "set deadline", err)
		}

		conn, err := ln.Accept()
		if err != nil {
			m.setState(MasterTimedOut)
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return syncErr(RoleMaster, "accept",
					fmt.Errorf("%d of %d slaves connected within %s",
						len(conns), m.cfg.ExpectedSlaves, m.cfg.Timeout))
			}
			return syncErr(RoleMaster, "accept", err)
		}

		conns = append(conns, conn)
		m.logger.Info("sync_slave_connected",
			"remote", conn.RemoteAddr().String(),
			"connected", len(conns),
			"expected", m.cfg.ExpectedSlaves,
		)
	}

	m.setState(MasterBroadcasting)
	m.logger.Info("sync_broadcasting_session_name",
		"session_name", m.cfg.SessionName,
		"slaves", len(conns),
	)

	payload := []byte(m.cfg.SessionName + "\n")
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Write(payload); err != nil {
			m.setState(MasterTimedOut)
			return syncErr(RoleMaster, "broadcast", err)
		}
	}

	m.setState(MasterDone)
	return nil
}
