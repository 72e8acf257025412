// Package vnc implements an RFB (RFC 6143) server: a host application
// supplies pixel data through a shared Framebuffer and receives input
// events, while the server negotiates and drives any number of concurrent
// viewer connections.
package vnc

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultName is the desktop name advertised in ServerInit when no other
// name has been set.
const DefaultName = "Go VNC Server"

// Server accepts viewer connections and multiplexes them against a shared
// Framebuffer. Create one with NewServer, optionally call SetPassword,
// then call Serve with a listener.
type Server struct {
	width, height int
	fb            *Framebuffer
	name          string

	passwordMu sync.RWMutex
	password   string
	hasAuth    bool

	nextID uint64

	connsMu sync.Mutex
	conns   map[uint64]*Conn

	events chan ServerEvent
	// Events delivers every ServerEvent the server or any of its
	// connections produces: client lifecycle, input, and clipboard.
	Events <-chan ServerEvent

	logger zerolog.Logger
}

// NewServer allocates a server with a width x height Framebuffer. width
// and height are clamped to at least 1.
func NewServer(width, height int) *Server {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	events := make(chan ServerEvent, 64)
	return &Server{
		width:  width,
		height: height,
		fb:     NewFramebuffer(width, height),
		name:   DefaultName,
		conns:  make(map[uint64]*Conn),
		events: events,
		Events: events,
		logger: log.Logger.With().Str("component", "vnc").Logger(),
	}
}

// SetName sets the desktop name advertised to viewers in ServerInit.
func (s *Server) SetName(name string) {
	if name == "" {
		name = DefaultName
	}
	s.name = name
}

// SetPassword configures VNC Authentication with the given password. An
// empty string disables authentication (security type None).
func (s *Server) SetPassword(password string) {
	s.passwordMu.Lock()
	defer s.passwordMu.Unlock()
	s.password = password
	s.hasAuth = password != ""
}

func (s *Server) authPassword() (string, bool) {
	s.passwordMu.RLock()
	defer s.passwordMu.RUnlock()
	return s.password, s.hasAuth
}

// Framebuffer returns the server's shared pixel store. Most callers
// should prefer UpdateFramebuffer; Framebuffer is exposed for callers that
// need CopyRect scheduling or direct region reads.
func (s *Server) Framebuffer() *Framebuffer {
	return s.fb
}

// UpdateFramebuffer writes pixels (RGBA32, w*h*4 bytes) into the shared
// framebuffer at (x, y) and notifies every connected viewer. Safe to call
// from any goroutine.
func (s *Server) UpdateFramebuffer(pixels []byte, x, y, w, h int) error {
	return s.fb.Update(pixels, x, y, w, h)
}

// ListenAndServe listens on the given TCP address (":5900" serves the
// conventional display 0) and blocks in Serve until the listener fails
// or is closed.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln until it returns an error (typically
// because ln was closed). Each accepted connection runs its own handshake
// and message loop in new goroutines; Serve itself never blocks on a
// connection.
func (s *Server) Serve(ln net.Listener) error {
	for {
		rwc, err := ln.Accept()
		if err != nil {
			return err
		}
		c := s.newConn(rwc)
		s.emitEvent(ClientConnected{ID: c.id, Address: rwc.RemoteAddr()})
		go c.serve()
	}
}

func (s *Server) newConn(rwc net.Conn) *Conn {
	id := atomic.AddUint64(&s.nextID, 1)
	c := &Conn{
		id:      id,
		server:  s,
		rwc:     rwc,
		br:      bufio.NewReader(rwc),
		bw:      bufio.NewWriter(rwc),
		streams: newConnStreams(),
		logger:  s.logger.With().Uint64("conn", id).Str("remote", rwc.RemoteAddr().String()).Logger(),
	}
	s.connsMu.Lock()
	s.conns[id] = c
	s.connsMu.Unlock()
	return c
}

func (s *Server) removeConn(id uint64) {
	s.connsMu.Lock()
	delete(s.conns, id)
	s.connsMu.Unlock()
}

// SendCutText places text on every connected viewer's clipboard via
// ServerCutText. Failures on individual connections are logged and
// otherwise ignored; a dying connection cleans itself up through its own
// read loop.
func (s *Server) SendCutText(text string) {
	s.connsMu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		if err := c.sendCutText(text); err != nil {
			c.logger.Debug().Err(err).Msg("ServerCutText not delivered")
		}
	}
}

// emitEvent sends ev on the server's event channel without ever blocking
// the connection goroutine indefinitely; when the channel is full the
// event being sent is dropped and a warning is logged (input events are
// inherently lossy under backpressure; client lifecycle events are rare
// enough this almost never triggers).
func (s *Server) emitEvent(ev ServerEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().Msg("event channel full, dropping event")
	}
}

func (s *Server) dimensions() (width, height int) {
	return s.width, s.height
}
