package vnc

import "net"

// ServerEvent is the interface every value delivered on Server.Events
// implements. Callers switch on the concrete type to learn what
// happened.
type ServerEvent interface {
	eventMarker()
}

// ClientConnected is sent once a client's connection has been accepted,
// before the handshake completes.
type ClientConnected struct {
	ID      uint64
	Address net.Addr
}

// ClientDisconnected is sent when a client's connection ends, whether
// because it closed the socket, violated the protocol, or the server shut
// down. It is always the last event sent for a given ID.
type ClientDisconnected struct {
	ID uint64
}

// PointerEvent reports a client's pointer button/movement update.
type PointerEvent struct {
	ClientID   uint64
	X, Y       uint16
	ButtonMask uint8
}

// KeyEvent reports a client's key press or release. Key is an X11 keysym,
// as RFC 6143 §7.5.4 specifies.
type KeyEvent struct {
	ClientID uint64
	Key      uint32
	Pressed  bool
}

// ClipboardReceived reports text the client placed on its clipboard and
// sent via ClientCutText.
type ClipboardReceived struct {
	ClientID uint64
	Text     string
}

func (ClientConnected) eventMarker()    {}
func (ClientDisconnected) eventMarker() {}
func (PointerEvent) eventMarker()       {}
func (KeyEvent) eventMarker()           {}
func (ClipboardReceived) eventMarker()  {}
