package vnc

import (
	"fmt"
	"sync"

	"github.com/dhlk/vnc/protocol"
)

// dirtyReceiver is the notification surface a Conn registers with a
// Framebuffer. markModified and markCopy are called with the
// framebuffer's lock held, so implementations must not block or call back
// into the Framebuffer.
type dirtyReceiver interface {
	markModified(r protocol.Rectangle)
	markCopy(dest protocol.Rectangle, dx, dy int)
}

// Framebuffer holds the server's canonical RGBA32 pixel buffer and fans
// out every update to the connections currently registered against it.
// The application updates it from whatever produces frames (a capture
// loop, a rendering backend, a test harness); every connected client sees
// the same pixel data without the application needing to know how many
// clients are attached.
type Framebuffer struct {
	mu            sync.RWMutex
	width, height int
	pixels        []byte // RGBA32, width*height*4

	receiversMu sync.Mutex
	receivers   map[uint64]dirtyReceiver
}

// NewFramebuffer allocates a width x height buffer initialized to black.
func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{
		width:     width,
		height:    height,
		pixels:    make([]byte, width*height*4),
		receivers: make(map[uint64]dirtyReceiver),
	}
}

// Dimensions returns the framebuffer's current width and height.
func (fb *Framebuffer) Dimensions() (width, height int) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.width, fb.height
}

// Register attaches a receiver so it is notified of every future Update
// and CopyRect call. It does not retroactively notify about the
// framebuffer's current contents; the caller is expected to request a
// full update separately (as the protocol's initial FramebufferUpdateRequest
// already does).
func (fb *Framebuffer) Register(id uint64, recv dirtyReceiver) {
	fb.receiversMu.Lock()
	defer fb.receiversMu.Unlock()
	fb.receivers[id] = recv
}

// Unregister detaches a previously registered receiver. It is a no-op if
// id was never registered.
func (fb *Framebuffer) Unregister(id uint64) {
	fb.receiversMu.Lock()
	defer fb.receiversMu.Unlock()
	delete(fb.receivers, id)
}

// Update writes pixels (RGBA32, w*h*4 bytes) into the framebuffer at
// (x, y) and notifies every registered receiver that the region changed.
func (fb *Framebuffer) Update(pixels []byte, x, y, w, h int) error {
	if len(pixels) != w*h*4 {
		return fmt.Errorf("vnc: Update expected %d bytes for a %dx%d region, got %d", w*h*4, w, h, len(pixels))
	}

	fb.mu.Lock()
	if x < 0 || y < 0 || x+w > fb.width || y+h > fb.height {
		fb.mu.Unlock()
		return fmt.Errorf("vnc: Update region (%d,%d,%d,%d) outside %dx%d framebuffer", x, y, w, h, fb.width, fb.height)
	}
	for row := 0; row < h; row++ {
		dstOff := ((y+row)*fb.width + x) * 4
		srcOff := row * w * 4
		copy(fb.pixels[dstOff:dstOff+w*4], pixels[srcOff:srcOff+w*4])
	}
	fb.mu.Unlock()

	rect := protocol.Rectangle{X: uint16(x), Y: uint16(y), Width: uint16(w), Height: uint16(h)}
	fb.receiversMu.Lock()
	for _, recv := range fb.receivers {
		recv.markModified(rect)
	}
	fb.receiversMu.Unlock()
	return nil
}

// CopyRect moves the width x height region at (srcX, srcY) to (destX,
// destY) within the framebuffer's own pixel data and notifies receivers
// of a copy rather than a generic modification, so a client advertising
// the CopyRect encoding can be sent the cheap (dx, dy) form instead of
// the full pixel payload.
func (fb *Framebuffer) CopyRect(destX, destY, width, height, srcX, srcY int) error {
	fb.mu.Lock()
	if srcX < 0 || srcY < 0 || srcX+width > fb.width || srcY+height > fb.height ||
		destX < 0 || destY < 0 || destX+width > fb.width || destY+height > fb.height {
		fb.mu.Unlock()
		return fmt.Errorf("vnc: CopyRect region outside %dx%d framebuffer", fb.width, fb.height)
	}

	region := make([]byte, width*4)
	rowOrder := make([]int, height)
	for i := range rowOrder {
		rowOrder[i] = i
	}
	// Copy row-by-row in an order safe for overlapping source/dest: when
	// the destination is below the source, copy bottom-up so a row is
	// never overwritten before it has been read.
	if destY > srcY {
		for i, j := 0, height-1; i < j; i, j = i+1, j-1 {
			rowOrder[i], rowOrder[j] = rowOrder[j], rowOrder[i]
		}
	}
	for _, row := range rowOrder {
		srcOff := ((srcY+row)*fb.width + srcX) * 4
		dstOff := ((destY+row)*fb.width + destX) * 4
		copy(region, fb.pixels[srcOff:srcOff+width*4])
		copy(fb.pixels[dstOff:dstOff+width*4], region)
	}
	fb.mu.Unlock()

	dest := protocol.Rectangle{X: uint16(destX), Y: uint16(destY), Width: uint16(width), Height: uint16(height)}
	// source = destination + offset.
	dx, dy := srcX-destX, srcY-destY
	fb.receiversMu.Lock()
	for _, recv := range fb.receivers {
		recv.markCopy(dest, dx, dy)
	}
	fb.receiversMu.Unlock()
	return nil
}

// GetRect returns a fresh copy of the framebuffer's RGBA32 pixels for the
// given region, row-major, for a connection to encode and send. A region
// reaching outside the framebuffer is an error; callers skip the
// offending rectangle rather than clamping it.
func (fb *Framebuffer) GetRect(x, y, w, h int) ([]byte, error) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > fb.width || y+h > fb.height {
		return nil, fmt.Errorf("vnc: GetRect region (%d,%d,%d,%d) outside %dx%d framebuffer", x, y, w, h, fb.width, fb.height)
	}

	out := make([]byte, w*h*4)
	for row := 0; row < h; row++ {
		srcOff := ((y+row)*fb.width + x) * 4
		dstOff := row * w * 4
		copy(out[dstOff:dstOff+w*4], fb.pixels[srcOff:srcOff+w*4])
	}
	return out, nil
}
