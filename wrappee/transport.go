package wrappee

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds AwaitResponse when the config leaves it unset.
	DefaultTimeout = 30 * time.Second

	lineChannelCapacity = 100
	maxLineBytes        = 1 << 20
)

// Config describes how to spawn a wrappee process. It is captured at first
// start and reused verbatim by every restart.
type Config struct {
	Command string
	Args    []string
	// DisableColors injects NO_COLOR-style environment variables so the
	// wrappee's own diagnostics come out uncolored.
	DisableColors bool
	Timeout       time.Duration
	ClientName    string
	ClientVersion string
	Logger        *slog.Logger
}

// Transport owns one wrappee process and frames a line-per-message JSON-RPC
// channel over its stdio. Calls are correlated positionally: callers must
// serialize access so that at most one request is in flight.
type Transport struct {
	cfg    Config
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	writeMu  sync.Mutex
	stdoutCh chan string
	stderrCh chan string
}

// Spawn launches the wrappee with piped stdio and starts the two line-reader
// loops. Initialize must be called exactly once before any other request.
func Spawn(cfg Config) (*Transport, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, &SpawnError{Command: cfg.Command, Err: errors.New("command is required")}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// #nosec G204 -- the command comes from the operator's own CLI invocation.
	cmd := exec.Command(cfg.Command, slices.Clone(cfg.Args)...)
	if cfg.DisableColors {
		cmd.Env = append(os.Environ(),
			"NO_COLOR=1",
			"CLICOLOR=0",
			"RUST_LOG_STYLE=never",
		)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: cfg.Command, Err: fmt.Errorf("open stdin: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: cfg.Command, Err: fmt.Errorf("open stdout: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: cfg.Command, Err: fmt.Errorf("open stderr: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: cfg.Command, Err: err}
	}
	logger.Info("wrappee spawned", "command", cfg.Command, "args", cfg.Args, "pid", cmd.Process.Pid)

	t := &Transport{
		cfg:      cfg,
		cmd:      cmd,
		stdin:    stdin,
		logger:   logger,
		stdoutCh: make(chan string, lineChannelCapacity),
		stderrCh: make(chan string, lineChannelCapacity),
	}
	go t.readLines(stdout, t.stdoutCh)
	go t.readLines(stderr, t.stderrCh)

	return t, nil
}

// readLines blocks on the pipe and feeds complete lines into ch, closing it
// when the pipe closes.
func (t *Transport) readLines(r io.Reader, ch chan<- string) {
	defer close(ch)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		ch <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("wrappee pipe read ended", "error", err)
	}
}

// Send serializes the message to one line and writes it to the wrappee's stdin.
func (t *Transport) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wrappee: encode message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("wrappee: write message: %w", err)
	}
	return nil
}

// AwaitResponse waits for the next stdout line within timeout and parses it
// as one complete JSON-RPC message. It returns ErrTimeout on expiry and
// ErrClosed when the process exited before answering.
func (t *Transport) AwaitResponse(timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = t.cfg.Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-t.stdoutCh:
		if !ok {
			return Message{}, ErrClosed
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return Message{}, &ProtocolError{Line: line, Err: err}
		}
		return msg, nil
	case <-timer.C:
		return Message{}, ErrTimeout
	}
}

// PollStderr returns the next buffered diagnostic line without blocking.
func (t *Transport) PollStderr() (string, bool) {
	select {
	case line, ok := <-t.stderrCh:
		if !ok {
			return "", false
		}
		return line, true
	default:
		return "", false
	}
}

// Initialize performs the fixed handshake: an initialize request, its
// response, then a fire-and-forget notifications/initialized.
func (t *Transport) Initialize(protocolVersion string) (Message, error) {
	params, err := json.Marshal(InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: ClientInfo{
			Name:    t.cfg.ClientName,
			Version: t.cfg.ClientVersion,
		},
	})
	if err != nil {
		return Message{}, fmt.Errorf("wrappee: encode initialize params: %w", err)
	}

	if err := t.Send(Message{JSONRPC: jsonRPCVersion, ID: initializeID, Method: "initialize", Params: params}); err != nil {
		return Message{}, err
	}
	response, err := t.AwaitResponse(t.cfg.Timeout)
	if err != nil {
		return Message{}, err
	}

	if err := t.Send(Message{JSONRPC: jsonRPCVersion, Method: "notifications/initialized"}); err != nil {
		return Message{}, err
	}
	return response, nil
}

// ListTools requests the wrappee's tool list and awaits the one response.
func (t *Transport) ListTools() (Message, error) {
	if err := t.Send(Message{JSONRPC: jsonRPCVersion, ID: listToolsID, Method: "tools/list", Params: json.RawMessage(`{}`)}); err != nil {
		return Message{}, err
	}
	return t.AwaitResponse(t.cfg.Timeout)
}

// CallTool forwards one tool invocation and awaits the one response.
func (t *Transport) CallTool(name string, arguments json.RawMessage) (Message, error) {
	params, err := json.Marshal(ToolsCallParams{Name: name, Arguments: arguments})
	if err != nil {
		return Message{}, fmt.Errorf("wrappee: encode call params: %w", err)
	}
	if err := t.Send(Message{JSONRPC: jsonRPCVersion, ID: callToolID, Method: "tools/call", Params: params}); err != nil {
		return Message{}, err
	}
	return t.AwaitResponse(t.cfg.Timeout)
}

// Shutdown force-kills the wrappee and waits for the process to exit. No
// graceful signal is attempted.
func (t *Transport) Shutdown() error {
	if t.cmd.Process == nil {
		return nil
	}
	if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("wrappee: kill: %w", err)
	}
	_ = t.cmd.Wait()
	return nil
}

// PID returns the OS process id of the wrappee.
func (t *Transport) PID() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Timeout reports the per-call response deadline.
func (t *Transport) Timeout() time.Duration {
	return t.cfg.Timeout
}
