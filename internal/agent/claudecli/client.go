// Package claudecli drives the claude command-line binary as an agent
// backend. One query is one process run in streaming JSON mode; output is
// parsed line by line off the child's stdout.
package claudecli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/agent/credentials"
	"github.com/systempromptio/systemprompt-os/internal/agent/query"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
)

const (
	defaultBinary = "claude"

	// Streamed lines are JSON objects; tool results can get large.
	maxLineSize = 1024 * 1024
)

// Client executes queries by running the claude binary.
type Client struct {
	binaryPath string
	creds      *credentials.Resolver
	logger     *logger.Logger
}

var _ query.AgentClient = (*Client)(nil)

// NewClient creates a CLI-backed agent client. An empty binaryPath uses the
// binary name and relies on PATH lookup. A nil creds runs children with the
// server's environment as-is.
func NewClient(binaryPath string, creds *credentials.Resolver, log *logger.Logger) *Client {
	if binaryPath == "" {
		binaryPath = defaultBinary
	}
	return &Client{
		binaryPath: binaryPath,
		creds:      creds,
		logger:     log.WithFields(zap.String("component", "claude-cli")),
	}
}

// CheckAvailability verifies the binary exists and responds to --version.
func (c *Client) CheckAvailability(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binaryPath, "--version")
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("claude binary not available at %q: %w", c.binaryPath, err)
	}

	c.logger.Debug("claude binary available",
		zap.String("path", c.binaryPath),
		zap.String("version", strings.TrimSpace(string(out))))
	if c.creds != nil {
		c.logger.Debug("agent credentials resolved",
			zap.Strings("keys", c.creds.Available()))
	}
	return nil
}

// Query runs one prompt to completion. The child is killed when ctx is
// cancelled; the final result line decides success or failure.
func (c *Client) Query(ctx context.Context, req query.Request, onChunk func(query.StreamChunk)) (*query.Result, error) {
	args := c.buildArgs(req)

	cmd := exec.CommandContext(ctx, c.binaryPath, args...)
	cmd.Dir = req.WorkingDirectory
	if c.creds != nil {
		cmd.Env = c.creds.Environ()
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start claude: %w", err)
	}

	c.logger.Debug("claude process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("working_dir", req.WorkingDirectory))

	start := time.Now()
	result := &query.Result{}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		c.handleLine(line, result, onChunk)
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	result.Duration = time.Since(start)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if scanErr != nil {
		return nil, fmt.Errorf("failed reading claude output: %w", scanErr)
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		return nil, fmt.Errorf("claude exited with error: %s", msg)
	}

	return result, nil
}

func (c *Client) buildArgs(req query.Request) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", req.ResumeSessionID)
	}
	return append(args, req.Prompt)
}

// streamLine is the wire shape of one stdout line in stream-json mode.
type streamLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
			Name string `json:"name,omitempty"`
		} `json:"content"`
	} `json:"message,omitempty"`
	Result   string `json:"result,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`
	NumTurns int    `json:"num_turns,omitempty"`
}

// handleLine folds one stdout line into the running result. Unparseable
// lines are logged and skipped rather than failing the query.
func (c *Client) handleLine(line []byte, result *query.Result, onChunk func(query.StreamChunk)) {
	var msg streamLine
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Debug("skipping unparseable output line", zap.Error(err))
		return
	}

	if msg.SessionID != "" {
		result.AgentSessionID = msg.SessionID
	}

	switch msg.Type {
	case "assistant":
		if msg.Message == nil {
			return
		}
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if onChunk != nil && block.Text != "" {
					onChunk(query.StreamChunk{Type: "assistant", Text: block.Text})
				}
			case "tool_use":
				if onChunk != nil && block.Name != "" {
					onChunk(query.StreamChunk{Type: "tool_use", Text: "using tool: " + block.Name})
				}
			}
		}
	case "result":
		result.Text = msg.Result
		result.IsError = msg.IsError
		result.NumTurns = msg.NumTurns
		if msg.IsError {
			result.ErrorText = msg.Result
		}
	case "system":
		// init lines carry the session id, already captured above
	}
}
