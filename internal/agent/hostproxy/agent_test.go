package hostproxy

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/systempromptio/systemprompt-os/internal/agent/query"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
)

func TestAgentQuery(t *testing.T) {
	reqCh := make(chan Request, 1)
	host, port := startFakeDaemon(t, func(conn net.Conn, req Request) {
		reqCh <- req
		writeLine(conn, map[string]interface{}{"type": "stream", "data": "all tests pass"})
		writeLine(conn, map[string]interface{}{"type": "complete", "exitCode": 0})
	})

	agent := NewAgent(newTestClient(host, port, 5*time.Second), "claude", logger.Default())

	var chunks []string
	result, err := agent.Query(context.Background(), query.Request{
		Prompt:           "run the tests",
		WorkingDirectory: "/work",
		Model:            "sonnet",
		MaxTurns:         3,
	}, func(chunk query.StreamChunk) {
		chunks = append(chunks, chunk.Text)
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if result.Text != "all tests pass" {
		t.Errorf("unexpected result text %q", result.Text)
	}
	if result.IsError {
		t.Error("zero exit code should not be an error result")
	}
	if len(chunks) != 1 || chunks[0] != "all tests pass" {
		t.Errorf("onChunk should see streamed output, got %v", chunks)
	}

	req := <-reqCh
	if req.Tool != "claude" {
		t.Errorf("expected tool claude, got %q", req.Tool)
	}
	if req.WorkingDirectory != "/work" {
		t.Errorf("expected working dir /work, got %q", req.WorkingDirectory)
	}
	for _, want := range []string{"claude --print", "--model 'sonnet'", "--max-turns 3", "'run the tests'"} {
		if !strings.Contains(req.Command, want) {
			t.Errorf("command %q missing %q", req.Command, want)
		}
	}
}

func TestAgentQueryNonZeroExit(t *testing.T) {
	host, port := startFakeDaemon(t, func(conn net.Conn, req Request) {
		writeLine(conn, map[string]interface{}{"type": "stream", "data": "boom"})
		writeLine(conn, map[string]interface{}{"type": "complete", "exitCode": 2})
	})

	agent := NewAgent(newTestClient(host, port, 5*time.Second), "", logger.Default())

	result, err := agent.Query(context.Background(), query.Request{Prompt: "x"}, nil)
	if err != nil {
		t.Fatalf("exit code failures travel in the result, got error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError for non-zero exit code")
	}
	if !strings.Contains(result.ErrorText, "code 2") {
		t.Errorf("error text should carry the exit code, got %q", result.ErrorText)
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("it's fine"); got != `'it'\''s fine'` {
		t.Errorf("shellQuote = %q", got)
	}
}
