package session

import "errors"

// Sentinel errors. Lifecycle errors are also recorded as
// state.Snapshot.LastError, wrapped with the underlying cause.
var (
	// ErrConnectFailed covers handshake rejection, network failure,
	// subscribe failure and exceeding the connect timeout.
	ErrConnectFailed = errors.New("session: connect failed")

	// ErrConnectionLost is recorded when an established connection drops.
	ErrConnectionLost = errors.New("session: connection lost")

	// ErrNotConnected is returned by Publish outside the Ready phase.
	// The command is dropped, not queued.
	ErrNotConnected = errors.New("session: not connected")

	// ErrPublishFailed wraps a transport error during publish.
	ErrPublishFailed = errors.New("session: publish failed")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session: closed")
)
