package hostproxy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/agent/query"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
)

// Agent runs queries through the host daemon instead of a local child
// process. The daemon execs the agent binary on the real host; streamed
// output comes back over the socket as plain text chunks.
type Agent struct {
	client *Client
	binary string
	logger *logger.Logger
}

var _ query.AgentClient = (*Agent)(nil)

// NewAgent adapts a host-proxy client into an agent backend. An empty
// binary falls back to the default binary name.
func NewAgent(client *Client, binary string, log *logger.Logger) *Agent {
	if binary == "" {
		binary = "claude"
	}
	return &Agent{
		client: client,
		binary: binary,
		logger: log.WithFields(zap.String("component", "host-proxy-agent")),
	}
}

// CheckAvailability probes daemon reachability.
func (a *Agent) CheckAvailability(ctx context.Context) error {
	return a.client.Ping(ctx)
}

// Query relays one prompt to the daemon and folds the streamed output into
// a result. A non-zero host exit code is reported as an agent error, not a
// transport error.
func (a *Agent) Query(ctx context.Context, req query.Request, onChunk func(query.StreamChunk)) (*query.Result, error) {
	start := time.Now()

	res, err := a.client.Execute(ctx, Request{
		Tool:             "claude",
		Command:          a.buildCommand(req),
		WorkingDirectory: req.WorkingDirectory,
	}, func(chunk string) {
		if onChunk != nil {
			onChunk(query.StreamChunk{Type: "assistant", Text: chunk})
		}
	})
	if err != nil {
		return nil, err
	}

	if res.Truncated {
		a.logger.Warn("host run ended with partial output",
			zap.Int("pid", res.PID))
	}

	result := &query.Result{
		Text:     strings.TrimSpace(res.Output),
		NumTurns: 1,
		Duration: time.Since(start),
	}
	if res.ExitCode != 0 {
		result.IsError = true
		result.ErrorText = fmt.Sprintf("host process exited with code %d: %s",
			res.ExitCode, result.Text)
	}
	return result, nil
}

func (a *Agent) buildCommand(req query.Request) string {
	parts := []string{a.binary, "--print"}
	if req.Model != "" {
		parts = append(parts, "--model", shellQuote(req.Model))
	}
	if req.MaxTurns > 0 {
		parts = append(parts, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if len(req.AllowedTools) > 0 {
		parts = append(parts, "--allowedTools", shellQuote(strings.Join(req.AllowedTools, ",")))
	}
	if req.SystemPrompt != "" {
		parts = append(parts, "--append-system-prompt", shellQuote(req.SystemPrompt))
	}
	if req.ResumeSessionID != "" {
		parts = append(parts, "--resume", shellQuote(req.ResumeSessionID))
	}
	parts = append(parts, shellQuote(req.Prompt))
	return strings.Join(parts, " ")
}

// shellQuote single-quotes a value for the daemon's shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
