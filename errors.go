package vnc

import "errors"

// Sentinel errors a caller can match against with errors.Is. Internal
// protocol violations are wrapped around ErrProtocol with fmt.Errorf so
// the log line still carries the detail that killed the connection.
var (
	// ErrProtocol indicates the client sent a malformed or unexpected
	// message for the current connection state.
	ErrProtocol = errors.New("vnc: protocol violation")

	// ErrAuthFailed indicates VNC authentication was attempted and the
	// client's response did not match the expected challenge response.
	ErrAuthFailed = errors.New("vnc: authentication failed")

	// ErrUnsupportedFormat indicates the client requested a pixel format
	// the server will not honor.
	ErrUnsupportedFormat = errors.New("vnc: unsupported pixel format")

	// ErrConnectionClosed indicates the connection ended normally, either
	// because the client closed it or the server shut down.
	ErrConnectionClosed = errors.New("vnc: connection closed")
)
