package errors

import "errors"

// Sentinel errors for the module lifecycle subsystem.
var (
	// ErrDuplicateModule is returned when registering a module whose name is
	// already present in the registry.
	ErrDuplicateModule = errors.New("module already registered")

	// ErrModuleNotFound is returned by "must exist" module lookups.
	ErrModuleNotFound = errors.New("module not found")

	// ErrDependencyCycle is returned when the module dependency graph
	// contains a cycle. No module is touched when this is raised.
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// ErrDependencyNotRunning is returned when a module is started before
	// all of its dependencies reached the running state.
	ErrDependencyNotRunning = errors.New("dependency not running")
)

// Sentinel errors for agent session orchestration.
var (
	// ErrSessionNotFound is returned by "must exist" session lookups.
	// Advisory lookups return nil without an error instead.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy is returned when execute is called on a session that
	// already has a query in flight.
	ErrSessionBusy = errors.New("session already has a query in flight")

	// ErrTaskNotFound is returned by "must exist" task lookups.
	ErrTaskNotFound = errors.New("task not found")

	// ErrUnsupportedTool is returned when an agent tool other than the
	// supported kinds is requested.
	ErrUnsupportedTool = errors.New("unsupported agent tool")
)

// Sentinel errors for query execution.
var (
	// ErrQueryTimeout is returned when a query does not complete within its
	// configured timeout. The in-flight query is aborted first.
	ErrQueryTimeout = errors.New("query timed out")

	// ErrQueryAborted is returned when a query is cancelled mid-flight.
	ErrQueryAborted = errors.New("query aborted")

	// ErrCreditBalance is the reclassification of provider output reporting
	// an exhausted credit balance.
	ErrCreditBalance = errors.New("credit balance exhausted")

	// ErrInvalidAPIKey is the reclassification of provider output reporting
	// an invalid API key.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Sentinel errors for the host-proxy transport.
var (
	// ErrHostProxyConnection is returned on socket-level failures before the
	// daemon reports completion.
	ErrHostProxyConnection = errors.New("host proxy connection failed")

	// ErrHostProxyTimeout is returned when the daemon round trip exceeds the
	// configured timeout. The socket is destroyed.
	ErrHostProxyTimeout = errors.New("host proxy timed out")
)
