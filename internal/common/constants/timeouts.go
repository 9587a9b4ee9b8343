// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts and intervals for agent session orchestration.
const (
	// DefaultQueryTimeout is the maximum time a single agent query may run
	// before it is aborted.
	DefaultQueryTimeout = 10 * time.Minute

	// HostProxyTimeout is the maximum time to wait for a host-proxy daemon
	// round trip to complete.
	HostProxyTimeout = 5 * time.Minute

	// SessionIdleTimeout is the age past which an inactive agent session is
	// eligible for the periodic cleanup sweep.
	SessionIdleTimeout = 30 * time.Minute

	// SessionSweepInterval is how often the session manager scans for idle
	// sessions.
	SessionSweepInterval = 5 * time.Minute

	// ProgressHeartbeatInterval is how often a progress log entry is written
	// to the task store while a query is outstanding.
	ProgressHeartbeatInterval = 30 * time.Second

	// ProgressEscalationThreshold is the elapsed time past which heartbeat
	// wording escalates to flag a long-running query.
	ProgressEscalationThreshold = 2 * time.Minute

	// ShutdownTimeout bounds graceful HTTP server shutdown.
	ShutdownTimeout = 10 * time.Second
)

// Defaults for the host-proxy daemon connection.
const (
	DefaultHostProxyHost = "host.docker.internal"
	DefaultHostProxyPort = 9876
)
