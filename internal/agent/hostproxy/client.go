// Package hostproxy relays commands to a daemon running on the real host
// when the orchestrator itself runs inside a sandbox. One call is one TCP
// connection: the client writes a single JSON request, then reads
// newline-delimited JSON responses until complete, error, or close.
package hostproxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/common/constants"
	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
)

const maxResponseLine = 1024 * 1024

// Config carries connection parameters for the host daemon.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration

	// SandboxRoot/HostRoot enable working-directory rewriting: paths under
	// SandboxRoot are translated to the equivalent path under HostRoot
	// before being sent to the daemon.
	SandboxRoot string
	HostRoot    string
}

// Request is the single JSON object written to the daemon.
type Request struct {
	Tool             string            `json:"tool"`
	Command          string            `json:"command"`
	WorkingDirectory string            `json:"workingDirectory"`
	Env              map[string]string `json:"env,omitempty"`
}

// response is one newline-delimited JSON object read back from the daemon.
type response struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	PID      int    `json:"pid,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// Result is the outcome of one relayed command.
type Result struct {
	Output   string
	ExitCode int
	PID      int

	// Truncated is set when the daemon closed the connection after
	// streaming some output but before sending complete. Callers that need
	// to distinguish a clean result from a connection-loss partial check
	// this flag.
	Truncated bool
}

// Client executes commands against the host daemon.
type Client struct {
	cfg    Config
	logger *logger.Logger
}

// NewClient creates a host-proxy client. Zero config fields fall back to the
// package defaults.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.Host == "" {
		cfg.Host = constants.DefaultHostProxyHost
	}
	if cfg.Port == 0 {
		cfg.Port = constants.DefaultHostProxyPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.HostProxyTimeout
	}
	return &Client{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "host-proxy")),
	}
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Ping checks daemon reachability with a short connect attempt.
func (c *Client) Ping(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrHostProxyConnection, err)
	}
	_ = conn.Close()
	return nil
}

// Execute relays one command and accumulates the streamed output. onStream,
// if non-nil, is invoked once per stream chunk as it arrives.
//
// The call times out after the configured timeout, closing the socket so no
// further data is delivered. If the daemon closes the connection after
// streaming some output but before complete, the partial output is returned
// with Truncated set rather than an error; a close with zero output is a
// connection error.
func (c *Client) Execute(ctx context.Context, req Request, onStream func(string)) (*Result, error) {
	req.WorkingDirectory = c.rewritePath(req.WorkingDirectory)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", errors.ErrHostProxyConnection, c.addr(), err)
	}
	defer conn.Close()

	// Destroy the socket the moment the deadline fires so the read loop
	// unblocks immediately.
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchdogDone:
		}
	}()

	c.logger.Debug("sending host-proxy request",
		zap.String("addr", c.addr()),
		zap.String("tool", req.Tool),
		zap.String("working_dir", req.WorkingDirectory))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.ErrHostProxyTimeout
		}
		return nil, fmt.Errorf("%w: write request: %v", errors.ErrHostProxyConnection, err)
	}

	result := &Result{}
	var chunks []string
	var protoErr string

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxResponseLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			c.logger.Warn("skipping malformed host-proxy response", zap.Error(err))
			continue
		}

		switch resp.Type {
		case "stream":
			chunks = append(chunks, resp.Data)
			if onStream != nil {
				onStream(resp.Data)
			}
		case "pid":
			result.PID = resp.PID
			c.logger.Debug("host process started", zap.Int("pid", resp.PID))
		case "error":
			protoErr = resp.Data
		case "complete":
			// A daemon-reported error wins over a later complete frame.
			if protoErr != "" {
				return nil, fmt.Errorf("%w: %s", errors.ErrHostProxyConnection, protoErr)
			}
			result.Output = strings.Join(chunks, "")
			if resp.ExitCode != nil {
				result.ExitCode = *resp.ExitCode
			}
			return result, nil
		default:
			// Unknown response types are ignored for forward compatibility.
			c.logger.Warn("ignoring unknown host-proxy response type",
				zap.String("type", resp.Type))
		}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, errors.ErrHostProxyTimeout
	}
	if protoErr != "" {
		return nil, fmt.Errorf("%w: %s", errors.ErrHostProxyConnection, protoErr)
	}
	if err := scanner.Err(); err != nil && len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %v", errors.ErrHostProxyConnection, err)
	}

	// Connection closed before complete. Partial output wins over the
	// failure; zero output is a real error.
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: connection closed before any output", errors.ErrHostProxyConnection)
	}
	result.Output = strings.Join(chunks, "")
	result.Truncated = true
	c.logger.Warn("host-proxy connection closed early, returning partial output",
		zap.Int("chunks", len(chunks)))
	return result, nil
}

// rewritePath translates a sandbox working directory to its host
// equivalent. Pure prefix substitution; paths outside the sandbox root pass
// through untouched.
func (c *Client) rewritePath(path string) string {
	if c.cfg.SandboxRoot == "" || c.cfg.HostRoot == "" || path == "" {
		return path
	}
	if !strings.HasPrefix(path, c.cfg.SandboxRoot) {
		return path
	}
	rewritten := c.cfg.HostRoot + strings.TrimPrefix(path, c.cfg.SandboxRoot)
	c.logger.Debug("rewrote sandbox path",
		zap.String("from", path),
		zap.String("to", rewritten))
	return rewritten
}
