package flyport

import "errors"

// Errors returned by the bridge components. Callers match them with errors.Is;
// the wrapped chain carries the board address and the underlying cause.
var (
	// ErrConfiguration is returned for a board or bridge setting that cannot
	// be turned into a valid descriptor.
	ErrConfiguration = errors.New("flyport: invalid configuration")

	// ErrConnectFailed is returned when a board socket cannot be opened or
	// the board does not answer within the socket timeout.
	ErrConnectFailed = errors.New("flyport: cannot reach board")

	// ErrFetchFailed is returned when the status document is missing,
	// rejected by the board, or malformed.
	ErrFetchFailed = errors.New("flyport: status fetch failed")

	// ErrLineParse is returned for a single unreadable line value. It never
	// aborts a poll cycle.
	ErrLineParse = errors.New("flyport: cannot parse line value")

	// ErrAddressFormat is returned for a command address that is not
	// host, port and line joined by the configured delimiter.
	ErrAddressFormat = errors.New("flyport: malformed command address")

	// ErrUnknownOperation is returned for a command with no wire template.
	ErrUnknownOperation = errors.New("flyport: unknown command operation")

	// ErrExecutionFailed is returned when a command could not be written or
	// its reply could not be read.
	ErrExecutionFailed = errors.New("flyport: command execution failed")

	// ErrAlreadyRunning is returned by Poller.Start when it is not stopped.
	ErrAlreadyRunning = errors.New("flyport: poller already running")

	// ErrNotRunning is returned by operations that need a running poller.
	ErrNotRunning = errors.New("flyport: poller not running")

	// ErrUnknownBoard is returned when no registered board has the alias.
	ErrUnknownBoard = errors.New("flyport: unknown board")

	// ErrStopping is returned for a command submitted after Stop began.
	ErrStopping = errors.New("flyport: bridge stopping")
)
