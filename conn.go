package vnc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dhlk/vnc/encoding"
	"github.com/dhlk/vnc/protocol"
)

const (
	tickInterval    = 16 * time.Millisecond
	deferralDelay   = 5 * time.Millisecond
	minUpdateGap    = 33 * time.Millisecond
	maxRectsPerSend = 50

	// maxDirtyRegions bounds how many separate rectangles a connection
	// queues before it gives up tracking them individually and coalesces
	// everything pending into one bounding rectangle.
	maxDirtyRegions  = 512
	maxCutTextLength = 10 << 20
)

func newConnStreams() *encoding.Streams {
	return encoding.NewStreams()
}

// Conn is one viewer's connection: its transport, negotiated state, and
// pending dirty regions. Conns are created by Server.Serve and exposed to
// the host only indirectly, through ServerEvent values carrying their ID.
type Conn struct {
	id     uint64
	server *Server
	rwc    net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer

	writeMu sync.Mutex

	stateMu             sync.RWMutex
	pixelFormat         protocol.PixelFormat
	encodings           map[int32]bool
	qualityLevel        int
	compressLevel       int
	requestedRegion     protocol.Rectangle
	haveRequestedRegion bool
	deferralStart       time.Time
	lastUpdateSent      time.Time

	regionMu        sync.Mutex
	modifiedRegions []protocol.Rectangle
	copyRegions     []protocol.Rectangle
	copyDX, copyDY  int
	haveCopyOffset  bool
	overflowed      bool

	streams *encoding.Streams

	done   chan struct{}
	closed sync.Once
	logger zerolog.Logger
}

// markModified implements dirtyReceiver. Called by the Framebuffer (from
// whatever goroutine updated it); must never block.
func (c *Conn) markModified(r protocol.Rectangle) {
	c.regionMu.Lock()
	defer c.regionMu.Unlock()
	c.appendModifiedLocked(r)
	c.startDeferralLocked()
}

// markCopy implements dirtyReceiver. A copy with an offset different from
// the one already pending reclassifies the pending copy rectangles as
// modified, since a viewer cannot apply two translation vectors in a
// single update.
func (c *Conn) markCopy(dest protocol.Rectangle, dx, dy int) {
	c.regionMu.Lock()
	defer c.regionMu.Unlock()

	if c.haveCopyOffset && (dx != c.copyDX || dy != c.copyDY) {
		for _, r := range c.copyRegions {
			c.appendModifiedLocked(r)
		}
		c.copyRegions = c.copyRegions[:0]
	}

	c.copyDX, c.copyDY = dx, dy
	c.haveCopyOffset = true
	c.copyRegions = append(c.copyRegions, dest)
	c.startDeferralLocked()
}

func (c *Conn) appendModifiedLocked(r protocol.Rectangle) {
	if c.overflowed {
		c.modifiedRegions[0] = unionRect(c.modifiedRegions[0], r)
		return
	}
	if len(c.modifiedRegions) >= maxDirtyRegions {
		bound := r
		for _, existing := range c.modifiedRegions {
			bound = unionRect(bound, existing)
		}
		c.modifiedRegions = []protocol.Rectangle{bound}
		c.overflowed = true
		c.logger.Warn().Int("limit", maxDirtyRegions).Msg("dirty region queue overflowed, coalescing")
		return
	}
	c.modifiedRegions = append(c.modifiedRegions, r)
}

func unionRect(a, b protocol.Rectangle) protocol.Rectangle {
	x0 := minU16(a.X, b.X)
	y0 := minU16(a.Y, b.Y)
	x1 := maxU16(a.X+a.Width, b.X+b.Width)
	y1 := maxU16(a.Y+a.Height, b.Y+b.Height)
	return protocol.Rectangle{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

func maxU16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

func (c *Conn) startDeferralLocked() {
	c.stateMu.Lock()
	if c.deferralStart.IsZero() {
		c.deferralStart = time.Now()
	}
	c.stateMu.Unlock()
}

// failf records a protocol-fatal error and unwinds the current goroutine
// via panic, mirroring the teacher's failf/recover pattern; serve's
// deferred recover turns it into a logged disconnect instead of a crash.
func (c *Conn) failf(format string, args ...interface{}) {
	panic(fmt.Errorf(format, args...))
}

func (c *Conn) readByte(what string) byte {
	b, err := c.br.ReadByte()
	if err != nil {
		c.failf("vnc: reading %s: %w", what, err)
	}
	return b
}

func (c *Conn) readFull(what string, buf []byte) {
	if _, err := io.ReadFull(c.br, buf); err != nil {
		c.failf("vnc: reading %s: %w", what, err)
	}
}

func (c *Conn) readUint16(what string) uint16 {
	var buf [2]byte
	c.readFull(what, buf[:])
	return binary.BigEndian.Uint16(buf[:])
}

func (c *Conn) readUint32(what string) uint32 {
	var buf [4]byte
	c.readFull(what, buf[:])
	return binary.BigEndian.Uint32(buf[:])
}

func (c *Conn) readInt32(what string) int32 {
	return int32(c.readUint32(what))
}

func (c *Conn) readPadding(what string, n int) {
	if n == 0 {
		return
	}
	buf := make([]byte, n)
	c.readFull(what, buf)
}

func (c *Conn) write(p []byte) {
	if _, err := c.bw.Write(p); err != nil {
		c.failf("vnc: writing: %w", err)
	}
}

func (c *Conn) flush() {
	if err := c.bw.Flush(); err != nil {
		c.failf("vnc: flushing: %w", err)
	}
}

// serve runs the handshake and then the steady-state read loop for the
// lifetime of the connection. It never returns until the connection ends.
func (c *Conn) serve() {
	defer c.cleanup()
	defer func() {
		if e := recover(); e != nil {
			c.logger.Warn().Interface("error", e).Msg("connection terminated")
		}
	}()

	c.handshake()

	c.done = make(chan struct{})
	c.server.fb.Register(c.id, c)
	go c.pushLoop()

	for {
		cmd := c.readByte("message type")
		switch cmd {
		case protocol.ClientMsgSetPixelFormat:
			c.handleSetPixelFormat()
		case protocol.ClientMsgSetEncodings:
			c.handleSetEncodings()
		case protocol.ClientMsgFramebufferUpdateRequest:
			c.handleFramebufferUpdateRequest()
		case protocol.ClientMsgKeyEvent:
			c.handleKeyEvent()
		case protocol.ClientMsgPointerEvent:
			c.handlePointerEvent()
		case protocol.ClientMsgClientCutText:
			c.handleClientCutText()
		default:
			c.failf("%w: unsupported client message type %d", ErrProtocol, int(cmd))
		}
	}
}

func (c *Conn) cleanup() {
	c.closed.Do(func() {
		if c.done != nil {
			close(c.done)
		}
		c.server.fb.Unregister(c.id)
		c.server.removeConn(c.id)
		c.streams.Close()
		c.rwc.Close()
		c.server.emitEvent(ClientDisconnected{ID: c.id})
	})
}

func (c *Conn) handshake() {
	c.bw.WriteString(protocol.Version)
	c.flush()

	sl, err := c.br.ReadSlice('\n')
	if err != nil {
		c.failf("vnc: reading client protocol version: %w", err)
	}
	c.logger.Debug().Str("client_version", string(sl)).Msg("client connected")

	password, hasAuth := c.server.authPassword()

	var securityType byte = protocol.SecurityTypeNone
	if hasAuth {
		securityType = protocol.SecurityTypeVNCAuth
	}
	c.write([]byte{1, securityType})
	c.flush()

	chosen := c.readByte("security type")
	if chosen != securityType {
		c.failf("%w: client chose security type %d, server offered %d", ErrProtocol, chosen, securityType)
	}

	if securityType == protocol.SecurityTypeVNCAuth {
		c.performVNCAuth(password)
	} else {
		c.writeSecurityResult(protocol.SecurityResultOK)
	}

	_ = c.readByte("ClientInit shared flag")

	c.stateMu.Lock()
	c.pixelFormat = protocol.RGBA32()
	c.qualityLevel = 9
	c.compressLevel = 6
	c.stateMu.Unlock()

	width, height := c.server.dimensions()
	si := protocol.ServerInit{
		FramebufferWidth:  uint16(width),
		FramebufferHeight: uint16(height),
		PixelFormat:       protocol.RGBA32(),
		Name:              c.server.name,
	}
	if err := si.WriteTo(c.bw); err != nil {
		c.failf("vnc: writing ServerInit: %w", err)
	}
	c.flush()
}

func (c *Conn) performVNCAuth(password string) {
	challenge, err := generateChallenge()
	if err != nil {
		c.failf("vnc: generating challenge: %w", err)
	}
	c.write(challenge)
	c.flush()

	response := make([]byte, challengeSize)
	c.readFull("auth response", response)

	if !checkChallengeResponse(password, challenge, response) {
		c.writeSecurityResult(protocol.SecurityResultFailed)
		c.failf("%w", ErrAuthFailed)
	}
	c.writeSecurityResult(protocol.SecurityResultOK)
}

func (c *Conn) writeSecurityResult(result uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], result)
	c.write(buf[:])
	c.flush()
}

// 6.4.1 SetPixelFormat
func (c *Conn) handleSetPixelFormat() {
	c.readPadding("SetPixelFormat padding", 3)
	buf := make([]byte, 16)
	c.readFull("pixel format", buf)

	pf, err := protocol.ReadPixelFormat(buf)
	if err != nil {
		c.failf("%w: %v", ErrProtocol, err)
	}
	if !pf.IsValid() {
		c.failf("%w", ErrUnsupportedFormat)
	}

	c.stateMu.Lock()
	c.pixelFormat = pf
	c.stateMu.Unlock()
}

// 6.4.2 SetEncodings
func (c *Conn) handleSetEncodings() {
	c.readPadding("SetEncodings padding", 1)
	count := c.readUint16("encoding count")

	encodings := make(map[int32]bool, count)
	quality, compress := -1, -1
	for i := 0; i < int(count); i++ {
		id := c.readInt32("encoding id")
		encodings[id] = true
		switch {
		case id >= protocol.EncodingQualityLevel0 && id <= protocol.EncodingQualityLevel9:
			quality = int(id - protocol.EncodingQualityLevel0)
		case id >= protocol.EncodingCompressLevel0 && id <= protocol.EncodingCompressLevel9:
			compress = int(id - protocol.EncodingCompressLevel0)
		}
	}

	c.stateMu.Lock()
	c.encodings = encodings
	if quality >= 0 {
		c.qualityLevel = quality
	}
	if compress >= 0 {
		c.compressLevel = compress
	}
	c.stateMu.Unlock()
}

// 6.4.3 FramebufferUpdateRequest
func (c *Conn) handleFramebufferUpdateRequest() {
	incremental := c.readByte("incremental flag") != 0
	x := c.readUint16("x")
	y := c.readUint16("y")
	w := c.readUint16("width")
	h := c.readUint16("height")

	region := protocol.Rectangle{X: x, Y: y, Width: w, Height: h}

	c.stateMu.Lock()
	c.requestedRegion = region
	c.haveRequestedRegion = true
	c.stateMu.Unlock()

	c.regionMu.Lock()
	if !incremental {
		c.modifiedRegions = c.modifiedRegions[:0]
		c.copyRegions = c.copyRegions[:0]
		c.haveCopyOffset = false
		c.overflowed = false
		c.appendModifiedLocked(region)
	}
	// Arm the deferral timer even for incremental requests: regions that
	// went dirty before this request arrived are ready to send now.
	c.startDeferralLocked()
	c.regionMu.Unlock()
}

// 6.4.4 KeyEvent
func (c *Conn) handleKeyEvent() {
	down := c.readByte("key down flag")
	c.readPadding("KeyEvent padding", 2)
	key := c.readUint32("keysym")
	c.server.emitEvent(KeyEvent{ClientID: c.id, Key: key, Pressed: down != 0})
}

// 6.4.5 PointerEvent
func (c *Conn) handlePointerEvent() {
	mask := c.readByte("button mask")
	x := c.readUint16("x")
	y := c.readUint16("y")
	c.server.emitEvent(PointerEvent{ClientID: c.id, X: x, Y: y, ButtonMask: mask})
}

// 6.4.6 ClientCutText
func (c *Conn) handleClientCutText() {
	c.readPadding("ClientCutText padding", 3)
	length := c.readUint32("cut text length")
	if length > maxCutTextLength {
		c.failf("%w: ClientCutText length %d exceeds limit", ErrProtocol, length)
	}
	buf := make([]byte, length)
	c.readFull("cut text", buf)
	c.server.emitEvent(ClipboardReceived{ClientID: c.id, Text: string(buf)})
}

// sendCutText writes a ServerCutText message under the connection's send
// mutex so it never interleaves with a FramebufferUpdate in flight. It is
// called from host goroutines, so errors are returned rather than routed
// through failf.
func (c *Conn) sendCutText(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	buf := make([]byte, 8, 8+len(text))
	buf[0] = protocol.ServerMsgServerCutText
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(text)))
	buf = append(buf, text...)
	if _, err := c.bw.Write(buf); err != nil {
		return fmt.Errorf("vnc: writing ServerCutText: %w", err)
	}
	if err := c.bw.Flush(); err != nil {
		return fmt.Errorf("vnc: flushing ServerCutText: %w", err)
	}
	return nil
}

func (c *Conn) pushLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer func() {
		// The emitter writes through the same failf/panic path as the
		// reader; a transport error here ends the connection rather than
		// the process.
		if e := recover(); e != nil {
			c.logger.Debug().Interface("error", e).Msg("push loop terminated")
			c.cleanup()
		}
	}()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.maybeEmit()
		}
	}
}

func (c *Conn) maybeEmit() {
	c.stateMu.RLock()
	deferralStart := c.deferralStart
	lastSent := c.lastUpdateSent
	c.stateMu.RUnlock()

	if deferralStart.IsZero() {
		return
	}
	now := time.Now()
	if now.Sub(deferralStart) < deferralDelay {
		return
	}
	if !lastSent.IsZero() && now.Sub(lastSent) < minUpdateGap {
		return
	}

	if err := emitUpdate(c); err != nil {
		c.logger.Warn().Err(err).Msg("update emission failed")
		return
	}

	c.stateMu.Lock()
	c.deferralStart = time.Time{}
	c.lastUpdateSent = now
	c.stateMu.Unlock()

	// Rectangles held back by the per-update cap or the requested region
	// are still pending; re-arm so the next tick picks them up.
	c.regionMu.Lock()
	if len(c.modifiedRegions) > 0 || len(c.copyRegions) > 0 {
		c.startDeferralLocked()
	}
	c.regionMu.Unlock()
}
