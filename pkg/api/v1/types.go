// Package v1 holds the wire types of the public HTTP API. Handlers in
// internal/api produce and consume these; external clients can import this
// package without pulling in server internals.
package v1

import "time"

// ToolCallRequest is the body of POST /api/v1/tools/:name. Args are passed
// through to the tool handler untouched; validation happens there.
type ToolCallRequest struct {
	Args map[string]interface{} `json:"args"`
}

// SessionInfo describes one live agent session.
type SessionInfo struct {
	SessionID        string    `json:"session_id"`
	Status           string    `json:"status"`
	TaskID           string    `json:"task_id,omitempty"`
	WorkingDirectory string    `json:"working_dir"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
}

// SessionMetrics aggregates session counts by state.
type SessionMetrics struct {
	Active     int `json:"active"`
	Busy       int `json:"busy"`
	Errored    int `json:"errored"`
	Terminated int `json:"terminated"`

	// AvgTerminatedSeconds is the mean lifetime of terminated sessions.
	AvgTerminatedSeconds float64 `json:"avg_terminated_seconds"`
}

// SessionListResponse is the body of GET /api/v1/sessions.
type SessionListResponse struct {
	Sessions []SessionInfo  `json:"sessions"`
	Metrics  SessionMetrics `json:"metrics"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string                  `json:"status"`
	Modules map[string]ModuleHealth `json:"modules,omitempty"`
}

// ModuleHealth reports one module's health in the health endpoint.
type ModuleHealth struct {
	Status  string `json:"status"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}
