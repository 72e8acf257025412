package vnc

import (
	"encoding/binary"
	"fmt"

	"github.com/dhlk/vnc/encoding"
	"github.com/dhlk/vnc/protocol"
)

// drainIntersecting splits queue into rectangles to send now (intersected
// against requested, capped at limit) and rectangles to keep pending
// because they fell outside the requested region or the cap.
func drainIntersecting(queue []protocol.Rectangle, requested protocol.Rectangle, limit int) (toSend, retained []protocol.Rectangle) {
	for _, r := range queue {
		if len(toSend) >= limit {
			retained = append(retained, r)
			continue
		}
		if ir, ok := protocol.Intersect(r, requested); ok {
			toSend = append(toSend, ir)
		} else {
			retained = append(retained, r)
		}
	}
	return toSend, retained
}

// emitUpdate drains c's pending dirty regions against its last requested
// region and, if there is anything to send, writes one FramebufferUpdate
// message: copy rectangles first, then modified rectangles, each encoded
// with the best encoding the viewer advertised support for. Modified
// rectangles are encoded before the message header goes out, since Tight
// may split one dirty rectangle into several wire rectangles and the
// header carries the final count.
func emitUpdate(c *Conn) error {
	c.stateMu.RLock()
	requested := c.requestedRegion
	haveRequested := c.haveRequestedRegion
	pixelFormat := c.pixelFormat
	quality := c.qualityLevel
	compressLevel := c.compressLevel
	encodings := c.encodings
	c.stateMu.RUnlock()

	if !haveRequested {
		return nil
	}

	c.regionMu.Lock()
	copyDX, copyDY := c.copyDX, c.copyDY
	copyToSend, copyRetained := drainIntersecting(c.copyRegions, requested, maxRectsPerSend)
	modifiedLimit := maxRectsPerSend - len(copyToSend)
	modifiedToSend, modifiedRetained := drainIntersecting(c.modifiedRegions, requested, modifiedLimit)
	c.copyRegions = copyRetained
	c.modifiedRegions = modifiedRetained
	if len(modifiedRetained) < maxDirtyRegions {
		c.overflowed = false
	}
	c.regionMu.Unlock()

	if len(copyToSend) == 0 && len(modifiedToSend) == 0 {
		return nil
	}

	encodingID := encoding.Select(encodings)

	var encoded []encoding.EncodedRect
	for _, rect := range modifiedToSend {
		rects, err := encodeModifiedRect(c, rect, encodingID, pixelFormat, quality, compressLevel)
		if err != nil {
			// A rectangle that fell outside the framebuffer is dropped;
			// the rest of the update still goes out.
			c.logger.Warn().Err(err).Msg("skipping rectangle")
			continue
		}
		encoded = append(encoded, rects...)
	}

	if len(copyToSend) == 0 && len(encoded) == 0 {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	header := make([]byte, 4)
	header[0] = protocol.ServerMsgFramebufferUpdate
	binary.BigEndian.PutUint16(header[2:4], uint16(len(copyToSend)+len(encoded)))
	c.write(header)

	for _, rect := range copyToSend {
		hdr := protocol.Rectangle{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height, Encoding: protocol.EncodingCopyRect}
		if err := hdr.WriteHeader(c.bw); err != nil {
			return fmt.Errorf("vnc: writing copy rectangle header: %w", err)
		}
		srcX := int(rect.X) + copyDX
		srcY := int(rect.Y) + copyDY
		c.write(encoding.EncodeCopyRect(uint16(srcX), uint16(srcY)))
	}

	for _, er := range encoded {
		if err := er.Rect.WriteHeader(c.bw); err != nil {
			return fmt.Errorf("vnc: writing rectangle header: %w", err)
		}
		c.write(er.Body)
	}

	c.flush()
	return nil
}

// encodeModifiedRect fetches the rectangle's pixels and encodes them,
// falling back to Raw when the chosen encoder fails so a compression
// error degrades one rectangle rather than killing the connection.
func encodeModifiedRect(c *Conn, rect protocol.Rectangle, encodingID int32, pixelFormat protocol.PixelFormat, quality, compressLevel int) ([]encoding.EncodedRect, error) {
	pixels, err := c.server.fb.GetRect(int(rect.X), int(rect.Y), int(rect.Width), int(rect.Height))
	if err != nil {
		return nil, err
	}

	rects, err := encoding.EncodeRects(encodingID, rect.X, rect.Y, pixels, int(rect.Width), int(rect.Height), pixelFormat, quality, compressLevel, c.streams)
	if err != nil {
		c.logger.Warn().Err(err).Int32("encoding", encodingID).Msg("encoder failed, falling back to raw")
		body := encoding.EncodeRaw(pixels, int(rect.Width), int(rect.Height), pixelFormat)
		rects = []encoding.EncodedRect{{
			Rect: protocol.Rectangle{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height, Encoding: protocol.EncodingRaw},
			Body: body,
		}}
	}
	return rects, nil
}
