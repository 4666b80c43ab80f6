package sessionsync

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// SlaveState tracks the slave's position in the handshake.
type SlaveState int

const (
	SlaveIdle SlaveState = iota
	SlaveConnecting
	SlaveRetrying
	SlaveAwaitingAck
	SlaveDone
	SlaveTimedOut
)

// String returns a human-readable name for the state.
func (s SlaveState) String() string {
	switch s {
	case SlaveIdle:
		return "idle"
	case SlaveConnecting:
		return "connecting"
	case SlaveRetrying:
		return "retrying"
	case SlaveAwaitingAck:
		return "awaiting_ack"
	case SlaveDone:
		return "done"
	case SlaveTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// SlaveConfig configures the slave side of the handshake.
type SlaveConfig struct {
	// Addr is the master's host:port.
	Addr string

	// Timeout bounds the whole connect phase, retries included.
	Timeout time.Duration

	// RetryDelay is the fixed wait between connection attempts.
	RetryDelay time.Duration

	// AckTimeout bounds the wait for the session name after connecting.
	AckTimeout time.Duration

	Logger *slog.Logger
}

// Slave connects to the master and receives the session name.
type Slave struct {
	cfg    SlaveConfig
	logger *slog.Logger

	mu    sync.Mutex
	state SlaveState
}

// NewSlave creates a slave coordinator.
func NewSlave(cfg SlaveConfig) *Slave {
	return &Slave{
		cfg:    cfg,
		logger: cfg.Logger,
		state:  SlaveIdle,
	}
}

// State returns the slave's current state.
func (s *Slave) State() SlaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Slave) setState(st SlaveState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run performs the slave side of the handshake and returns the session
// name assigned by the master.
func (s *Slave) Run() (string, error) {
	deadline := time.Now().Add(s.cfg.Timeout)

	var conn net.Conn
	attempt := 0
	for {
		attempt++
		s.setState(SlaveConnecting)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.setState(SlaveTimedOut)
			return "", syncErr(RoleSlave, "connect",
				fmt.Errorf("master at %s unreachable within %s (%d attempts)",
					s.cfg.Addr, s.cfg.Timeout, attempt-1))
		}

		var err error
		conn, err = net.DialTimeout("tcp", s.cfg.Addr, remaining)
		if err == nil {
			break
		}

		s.logger.Debug("sync_connect_attempt_failed",
			"addr", s.cfg.Addr,
			"attempt", attempt,
			"error", err,
		)

		if time.Now().Add(s.cfg.RetryDelay).After(deadline) {
			s.setState(SlaveTimedOut)
			return "", syncErr(RoleSlave, "connect",
				fmt.Errorf("master at %s unreachable within %s (%d attempts): %w",
					s.cfg.Addr, s.cfg.Timeout, attempt, err))
		}

		s.setState(SlaveRetrying)
		time.Sleep(s.cfg.RetryDelay)
	}
	defer conn.Close()

	s.logger.Info("sync_connected_to_master",
		"addr", s.cfg.Addr,
		"attempts", attempt,
	)

	s.setState(SlaveAwaitingAck)
	conn.SetReadDeadline(time.Now().Add(s.cfg.AckTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		s.setState(SlaveTimedOut)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", syncErr(RoleSlave, "await session name",
				fmt.Errorf("no session name within %s", s.cfg.AckTimeout))
		}
		return "", syncErr(RoleSlave, "await session name", err)
	}

	name := strings.TrimSpace(line)
	if name == "" {
		s.setState(SlaveTimedOut)
		return "", syncErr(RoleSlave, "await session name",
			errors.New("master sent an empty session name"))
	}

	s.setState(SlaveDone)
	s.logger.Info("sync_session_name_received", "session_name", name)
	return name, nil
}
