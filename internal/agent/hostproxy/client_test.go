package hostproxy

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"testing"
	"time"

	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
)

// startFakeDaemon accepts one connection, reads the request, and runs the
// given script against it.
func startFakeDaemon(t *testing.T, script func(conn net.Conn, req Request)) (host string, port int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		dec := json.NewDecoder(bufio.NewReader(conn))
		if err := dec.Decode(&req); err != nil {
			return
		}
		script(conn, req)
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func newTestClient(host string, port int, timeout time.Duration) *Client {
	return NewClient(Config{Host: host, Port: port, Timeout: timeout}, logger.Default())
}

func writeLine(conn net.Conn, v interface{}) {
	b, _ := json.Marshal(v)
	conn.Write(append(b, '\n'))
}

func TestExecuteStreamsAndCompletes(t *testing.T) {
	host, port := startFakeDaemon(t, func(conn net.Conn, req Request) {
		writeLine(conn, map[string]interface{}{"type": "pid", "pid": 4242})
		writeLine(conn, map[string]interface{}{"type": "stream", "data": "hello "})
		writeLine(conn, map[string]interface{}{"type": "stream", "data": "world"})
		writeLine(conn, map[string]interface{}{"type": "complete", "exitCode": 0})
	})

	client := newTestClient(host, port, 5*time.Second)

	var streamed []string
	result, err := client.Execute(context.Background(), Request{
		Tool:    "claude",
		Command: "say hello",
	}, func(chunk string) {
		streamed = append(streamed, chunk)
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Output != "hello world" {
		t.Errorf("expected concatenated output, got %q", result.Output)
	}
	if result.Truncated {
		t.Error("clean completion should not be truncated")
	}
	if result.PID != 4242 {
		t.Errorf("expected pid 4242, got %d", result.PID)
	}
	if len(streamed) != 2 || streamed[0] != "hello " || streamed[1] != "world" {
		t.Errorf("onStream should see each chunk in order, got %v", streamed)
	}
}

func TestExecutePartialOutputOnClose(t *testing.T) {
	host, port := startFakeDaemon(t, func(conn net.Conn, req Request) {
		writeLine(conn, map[string]interface{}{"type": "stream", "data": "partial"})
		// Close without sending complete.
	})

	client := newTestClient(host, port, 5*time.Second)

	result, err := client.Execute(context.Background(), Request{Tool: "claude", Command: "x"}, nil)
	if err != nil {
		t.Fatalf("partial output should resolve, got error: %v", err)
	}
	if result.Output != "partial" {
		t.Errorf("expected partial output, got %q", result.Output)
	}
	if !result.Truncated {
		t.Error("connection loss after output should set Truncated")
	}
}

func TestExecuteCloseWithoutOutputFails(t *testing.T) {
	host, port := startFakeDaemon(t, func(conn net.Conn, req Request) {
		// Close immediately.
	})

	client := newTestClient(host, port, 5*time.Second)

	_, err := client.Execute(context.Background(), Request{Tool: "claude", Command: "x"}, nil)
	if !stderrors.Is(err, errors.ErrHostProxyConnection) {
		t.Fatalf("expected ErrHostProxyConnection, got %v", err)
	}
}

func TestExecuteErrorResponse(t *testing.T) {
	host, port := startFakeDaemon(t, func(conn net.Conn, req Request) {
		writeLine(conn, map[string]interface{}{"type": "error", "data": "command not found"})
	})

	client := newTestClient(host, port, 5*time.Second)

	_, err := client.Execute(context.Background(), Request{Tool: "claude", Command: "x"}, nil)
	if !stderrors.Is(err, errors.ErrHostProxyConnection) {
		t.Fatalf("expected ErrHostProxyConnection, got %v", err)
	}
}

func TestExecuteErrorWinsOverComplete(t *testing.T) {
	host, port := startFakeDaemon(t, func(conn net.Conn, req Request) {
		writeLine(conn, map[string]interface{}{"type": "stream", "data": "some output"})
		writeLine(conn, map[string]interface{}{"type": "error", "data": "command failed: exit 127"})
		writeLine(conn, map[string]interface{}{"type": "complete", "exitCode": 127})
	})

	client := newTestClient(host, port, 5*time.Second)

	result, err := client.Execute(context.Background(), Request{Tool: "claude", Command: "x"}, nil)
	if !stderrors.Is(err, errors.ErrHostProxyConnection) {
		t.Fatalf("expected ErrHostProxyConnection, got %v", err)
	}
	if result != nil {
		t.Fatalf("a reported error must not produce a result, got %+v", result)
	}
}

func TestExecuteTimeout(t *testing.T) {
	host, port := startFakeDaemon(t, func(conn net.Conn, req Request) {
		// Never respond.
		time.Sleep(2 * time.Second)
	})

	client := newTestClient(host, port, 50*time.Millisecond)

	start := time.Now()
	_, err := client.Execute(context.Background(), Request{Tool: "claude", Command: "x"}, nil)
	if !stderrors.Is(err, errors.ErrHostProxyTimeout) {
		t.Fatalf("expected ErrHostProxyTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout should fire promptly and destroy the socket")
	}
}

func TestExecuteIgnoresUnknownResponseTypes(t *testing.T) {
	host, port := startFakeDaemon(t, func(conn net.Conn, req Request) {
		writeLine(conn, map[string]interface{}{"type": "heartbeat"})
		writeLine(conn, map[string]interface{}{"type": "stream", "data": "ok"})
		writeLine(conn, map[string]interface{}{"type": "complete"})
	})

	client := newTestClient(host, port, 5*time.Second)

	result, err := client.Execute(context.Background(), Request{Tool: "claude", Command: "x"}, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "ok" {
		t.Errorf("expected %q, got %q", "ok", result.Output)
	}
}

func TestExecuteRewritesSandboxPath(t *testing.T) {
	gotDir := make(chan string, 1)
	host, port := startFakeDaemon(t, func(conn net.Conn, req Request) {
		gotDir <- req.WorkingDirectory
		writeLine(conn, map[string]interface{}{"type": "complete"})
	})

	client := NewClient(Config{
		Host:        host,
		Port:        port,
		Timeout:     5 * time.Second,
		SandboxRoot: "/workspace",
		HostRoot:    "/Users/dev/project",
	}, logger.Default())

	_, err := client.Execute(context.Background(), Request{
		Tool:             "claude",
		Command:          "x",
		WorkingDirectory: "/workspace/src",
	}, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	select {
	case dir := <-gotDir:
		if dir != "/Users/dev/project/src" {
			t.Errorf("expected rewritten path, got %q", dir)
		}
	case <-time.After(time.Second):
		t.Fatal("daemon never saw the request")
	}
}

func TestPingUnreachable(t *testing.T) {
	client := newTestClient("127.0.0.1", 1, time.Second)
	if err := client.Ping(context.Background()); !stderrors.Is(err, errors.ErrHostProxyConnection) {
		t.Fatalf("expected ErrHostProxyConnection, got %v", err)
	}
}
