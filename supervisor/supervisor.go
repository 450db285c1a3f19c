// Package supervisor owns the wrappee process lifecycle: it spawns the child,
// runs the MCP handshake and tool discovery, restarts it on demand or when a
// watched file settles, and drains its stderr into the log store.
package supervisor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petal-labs/mcpwrap/logstore"
	"github.com/petal-labs/mcpwrap/proxy"
	"github.com/petal-labs/mcpwrap/wrappee"
)

// RestartGrace is the pause between killing the old wrappee and spawning its
// replacement, giving the OS time to release the process's resources.
const RestartGrace = 500 * time.Millisecond

const stderrPollInterval = 100 * time.Millisecond

// Config assembles a Supervisor. Wrappee is captured once and reused verbatim
// by every restart.
type Config struct {
	Wrappee         wrappee.Config
	ProtocolVersion string
	Proxy           *proxy.Proxy
	Store           *logstore.Store
	// OnToolsChanged fires after discovery replaces the tool set, both at
	// first start and after every restart.
	OnToolsChanged func()
	RestartGrace   time.Duration
	Logger         *slog.Logger
}

// Supervisor serializes tool calls and restarts against a single wrappee
// transport so a restart never swaps the process out from under an in-flight
// call.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	// callMu serializes Call, Restart, and Stop.
	callMu sync.Mutex
	// mu guards the transport pointer for lock-free-ish readers like the
	// stderr drain and PID.
	mu        sync.Mutex
	transport *wrappee.Transport

	drainStop chan struct{}
	drainDone chan struct{}
}

// New builds a Supervisor; Start must be called before any tool call.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RestartGrace <= 0 {
		cfg.RestartGrace = RestartGrace
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

// Start spawns the wrappee, completes the initialize handshake, discovers its
// tools, and begins draining stderr.
func (s *Supervisor) Start() error {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	if s.current() != nil {
		return ErrAlreadyRunning
	}
	if err := s.spawnLocked(); err != nil {
		return err
	}

	s.drainStop = make(chan struct{})
	s.drainDone = make(chan struct{})
	go s.drainLoop()
	return nil
}

// Restart kills the current wrappee, waits out the grace period, and brings
// up a fresh process with a full handshake and rediscovery. The old tool set
// is cleared before the new one is published.
func (s *Supervisor) Restart() error {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	old := s.current()
	if old == nil {
		return ErrNotRunning
	}

	s.logger.Info("restarting wrappee", "pid", old.PID())
	if err := old.Shutdown(); err != nil {
		s.logger.Warn("wrappee shutdown failed", "error", err)
	}
	s.setTransport(nil)
	s.cfg.Proxy.ClearTools()

	time.Sleep(s.cfg.RestartGrace)
	return s.spawnLocked()
}

// Call forwards one tool invocation to the wrappee through the proxy. It
// holds the call lock for the full round trip, so a concurrent Restart waits
// for the response (or timeout) before swapping transports.
func (s *Supervisor) Call(name string, arguments json.RawMessage) (*proxy.ToolResult, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	transport := s.current()
	if transport == nil {
		return nil, ErrNotRunning
	}
	return s.cfg.Proxy.Call(name, arguments, transport)
}

// Stop kills the wrappee and stops the stderr drain. The supervisor cannot be
// started again afterwards.
func (s *Supervisor) Stop() error {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	if s.drainStop != nil {
		close(s.drainStop)
		<-s.drainDone
		s.drainStop = nil
	}

	transport := s.current()
	if transport == nil {
		return nil
	}
	s.setTransport(nil)
	return transport.Shutdown()
}

// PID reports the wrappee's process id, or 0 when nothing is running.
func (s *Supervisor) PID() int {
	if transport := s.current(); transport != nil {
		return transport.PID()
	}
	return 0
}

// spawnLocked starts a fresh transport and publishes its tool set. The caller
// must hold callMu.
func (s *Supervisor) spawnLocked() error {
	transport, err := wrappee.Spawn(s.cfg.Wrappee)
	if err != nil {
		return fmt.Errorf("supervisor: spawn wrappee: %w", err)
	}
	if _, err := transport.Initialize(s.cfg.ProtocolVersion); err != nil {
		_ = transport.Shutdown()
		return fmt.Errorf("supervisor: initialize wrappee: %w", err)
	}
	if err := s.cfg.Proxy.Discover(transport); err != nil {
		// A wrappee without a usable tools/list still serves the built-ins.
		s.logger.Warn("tool discovery failed", "error", err)
	}

	s.setTransport(transport)
	if s.cfg.OnToolsChanged != nil {
		s.cfg.OnToolsChanged()
	}
	return nil
}

func (s *Supervisor) current() *wrappee.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

func (s *Supervisor) setTransport(transport *wrappee.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = transport
}

// drainLoop moves buffered wrappee stderr lines into the log store until Stop.
func (s *Supervisor) drainLoop() {
	defer close(s.drainDone)

	ticker := time.NewTicker(stderrPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.drainStop:
			s.drainOnce()
			return
		case <-ticker.C:
			s.drainOnce()
		}
	}
}

func (s *Supervisor) drainOnce() {
	transport := s.current()
	if transport == nil {
		return
	}
	for {
		line, ok := transport.PollStderr()
		if !ok {
			return
		}
		s.cfg.Store.AddStderr(line)
	}
}
