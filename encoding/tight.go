package encoding

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/dhlk/vnc/protocol"
)

// Tight compression-control constants, pre-shift (the control byte's high
// nibble), following libvncserver's rfbproto naming.
const (
	tightExplicitFilter = 0x04
	tightFill           = 0x08
	tightJPEG           = 0x09

	tightFilterPalette = 0x01
)

// Tight multiplexes basic compression across three persistent zlib
// streams, selected by the control byte's low nibble.
const (
	tightStreamFullColor = 0
	tightStreamMono      = 1
	tightStreamIndexed   = 2
)

// Payloads below this size are cheaper sent raw than through zlib; the
// length prefix is omitted for them (libvncserver's tightMinToCompress).
const tightMinToCompress = 12

// Rectangles wider than this, or holding more pixels than
// tightMaxRectPixels, are split before encoding so the palette analysis
// and the viewer's decode buffers stay bounded.
const (
	tightMaxRectWidth  = 2048
	tightMaxRectPixels = 65536
)

// Rectangles of at least tightMinSplitArea pixels are scanned for
// solid-color regions of at least tightMinSolidArea pixels, which are
// cheaper to send as separate fill subrectangles than to drag through
// palette or JPEG analysis.
const (
	tightMinSplitArea = 4096
	tightMinSolidArea = 2048
	tightSolidTile    = 16
)

// TightStreams holds the three persistent zlib streams Tight's basic
// compression multiplexes: full-color RGB, mono bitmaps, and palette
// indices. They live for the whole connection; RFC 6143 requires the
// dictionaries to persist across rectangles.
type TightStreams struct {
	FullColor *ZlibStream
	Mono      *ZlibStream
	Indexed   *ZlibStream
}

// NewTightStreams allocates Tight's persistent compression streams.
func NewTightStreams() *TightStreams {
	return &TightStreams{
		FullColor: NewZlibStream(6),
		Mono:      NewZlibStream(6),
		Indexed:   NewZlibStream(6),
	}
}

// EncodedRect is one rectangle ready for the wire: its header (position,
// size, encoding id) and the body bytes that follow it. Most encoders
// produce exactly one per input rectangle; Tight may split its input and
// produce several.
type EncodedRect struct {
	Rect protocol.Rectangle
	Body []byte
}

// tightWork is one pending subrectangle, in coordinates relative to the
// encoded rectangle's origin.
type tightWork struct {
	x, y, w, h int
}

// EncodeTightRects encodes the rectangle at absolute position (x, y) as
// one or more Tight rectangles. Oversized rectangles are cut into tiles,
// large solid-color regions are carved out as separate fill
// subrectangles, and what remains is classified per subrectangle as
// solid, mono, indexed palette, full-color or JPEG. An explicit work list
// bounds the recursion a pathological rectangle could otherwise produce.
func EncodeTightRects(x, y uint16, pixels []byte, width, height int, client protocol.PixelFormat, quality, compressLevel int, streams *TightStreams) ([]EncodedRect, error) {
	packed := rgbaToPixels(pixels)

	var out []EncodedRect
	emit := func(wr tightWork, body []byte) {
		out = append(out, EncodedRect{
			Rect: protocol.Rectangle{
				X: x + uint16(wr.x), Y: y + uint16(wr.y),
				Width: uint16(wr.w), Height: uint16(wr.h),
				Encoding: protocol.EncodingTight,
			},
			Body: body,
		})
	}

	work := []tightWork{{0, 0, width, height}}
	for len(work) > 0 {
		wr := work[0]
		work = work[1:]

		if wr.w > tightMaxRectWidth || wr.w*wr.h > tightMaxRectPixels {
			work = append(splitTightRect(wr), work...)
			continue
		}

		if wr.w*wr.h >= tightMinSplitArea {
			if solid, color, ok := findSolidTightArea(packed, width, wr); ok {
				rest := surroundingTightRects(wr, solid)
				work = append(rest, work...)
				emit(solid, encodeTightSolid(color, client))
				continue
			}
		}

		tile := extractTile(packed, width, wr.x, wr.y, wr.w, wr.h)
		body, err := encodeTightSubrect(tile, wr.w, wr.h, client, quality, compressLevel, streams)
		if err != nil {
			return nil, err
		}
		emit(wr, body)
	}

	return out, nil
}

// splitTightRect cuts an oversized rectangle into tiles no wider than
// tightMaxRectWidth and no larger than tightMaxRectPixels.
func splitTightRect(wr tightWork) []tightWork {
	tileW := min(wr.w, tightMaxRectWidth)
	tileH := max(1, tightMaxRectPixels/tileW)

	var parts []tightWork
	for ty := 0; ty < wr.h; ty += tileH {
		th := min(tileH, wr.h-ty)
		for tx := 0; tx < wr.w; tx += tileW {
			tw := min(tileW, wr.w-tx)
			parts = append(parts, tightWork{wr.x + tx, wr.y + ty, tw, th})
		}
	}
	return parts
}

// findSolidTightArea scans wr in 16x16 steps for a solid tile, grows the
// solid area tile-by-tile and then pixel-by-pixel, and returns it if it
// covers at least tightMinSolidArea pixels.
func findSolidTightArea(packed []uint32, stride int, wr tightWork) (tightWork, uint32, bool) {
	at := func(px, py int) uint32 { return packed[py*stride+px] }

	isSolid := func(x0, y0, x1, y1 int, color uint32) bool {
		for py := y0; py < y1; py++ {
			for px := x0; px < x1; px++ {
				if at(px, py) != color {
					return false
				}
			}
		}
		return true
	}

	for ty := wr.y; ty < wr.y+wr.h; ty += tightSolidTile {
		th := min(tightSolidTile, wr.y+wr.h-ty)
		for tx := wr.x; tx < wr.x+wr.w; tx += tightSolidTile {
			tw := min(tightSolidTile, wr.x+wr.w-tx)

			color := at(tx, ty)
			if !isSolid(tx, ty, tx+tw, ty+th, color) {
				continue
			}

			// Grow right, then down, in whole tiles.
			x1 := tx + tw
			for x1 < wr.x+wr.w {
				step := min(tightSolidTile, wr.x+wr.w-x1)
				if !isSolid(x1, ty, x1+step, ty+th, color) {
					break
				}
				x1 += step
			}
			y1 := ty + th
			for y1 < wr.y+wr.h {
				step := min(tightSolidTile, wr.y+wr.h-y1)
				if !isSolid(tx, y1, x1, y1+step, color) {
					break
				}
				y1 += step
			}

			// Refine edges pixel by pixel.
			x0, y0 := tx, ty
			for x0 > wr.x && isSolid(x0-1, y0, x0, y1, color) {
				x0--
			}
			for x1 < wr.x+wr.w && isSolid(x1, y0, x1+1, y1, color) {
				x1++
			}
			for y0 > wr.y && isSolid(x0, y0-1, x1, y0, color) {
				y0--
			}
			for y1 < wr.y+wr.h && isSolid(x0, y1, x1, y1+1, color) {
				y1++
			}

			solid := tightWork{x0, y0, x1 - x0, y1 - y0}
			if solid.w*solid.h >= tightMinSolidArea {
				return solid, color, true
			}
		}
	}
	return tightWork{}, 0, false
}

// surroundingTightRects returns the up-to-four rectangles of wr not
// covered by solid, in top, left, right, bottom order so rows still
// arrive roughly top to bottom.
func surroundingTightRects(wr, solid tightWork) []tightWork {
	var parts []tightWork
	if solid.y > wr.y {
		parts = append(parts, tightWork{wr.x, wr.y, wr.w, solid.y - wr.y})
	}
	if solid.x > wr.x {
		parts = append(parts, tightWork{wr.x, solid.y, solid.x - wr.x, solid.h})
	}
	if right := wr.x + wr.w - (solid.x + solid.w); right > 0 {
		parts = append(parts, tightWork{solid.x + solid.w, solid.y, right, solid.h})
	}
	if bottom := wr.y + wr.h - (solid.y + solid.h); bottom > 0 {
		parts = append(parts, tightWork{wr.x, solid.y + solid.h, wr.w, bottom})
	}
	return parts
}

// encodeTightSubrect classifies one bounded subrectangle and produces its
// control byte plus body.
func encodeTightSubrect(tile []uint32, width, height int, client protocol.PixelFormat, quality, compressLevel int, streams *TightStreams) ([]byte, error) {
	if color, solid := checkSolidColor(tile); solid {
		return encodeTightSolid(color, client), nil
	}

	palette := buildPalette(tile)
	switch {
	case len(palette) == 2:
		return encodeTightMono(tile, width, height, palette, client, compressLevel, streams.Mono)
	case len(palette) >= 3 && len(palette) <= 16:
		return encodeTightIndexed(tile, palette, client, compressLevel, streams.Indexed)
	}

	if quality < 9 {
		if body, err := encodeTightJPEG(tile, width, height, quality); err == nil {
			return body, nil
		}
	}
	return encodeTightFullColor(tile, client, compressLevel, streams.FullColor)
}

// encodeTightSolid is the fill sub-mode: control 0x80 plus one pixel in
// the client's CPIXEL representation.
func encodeTightSolid(color uint32, client protocol.PixelFormat) []byte {
	out := []byte{tightFill << 4}
	return append(out, translatePixelToClientFormat(color, client)...)
}

// encodeTightMono sends a two-color rectangle as a 1-bit bitmap through
// the mono stream: control 0x50, palette filter, background and
// foreground colors, then the bitmap rows MSB-first and byte-aligned.
func encodeTightMono(tile []uint32, width, height int, palette []uint32, client protocol.PixelFormat, compressLevel int, stream *ZlibStream) ([]byte, error) {
	bg, fg := palette[0], palette[1]

	bitmap := make([]byte, 0, packedRowBytes(width, 1)*height)
	for y := 0; y < height; y++ {
		var b byte
		nbits := 0
		for x := 0; x < width; x++ {
			b <<= 1
			if tile[y*width+x] != bg {
				b |= 1
			}
			nbits++
			if nbits == 8 {
				bitmap = append(bitmap, b)
				b, nbits = 0, 0
			}
		}
		if nbits > 0 {
			bitmap = append(bitmap, b<<(8-nbits))
		}
	}

	out := []byte{(tightStreamMono | tightExplicitFilter) << 4, tightFilterPalette, 1}
	out = append(out, translatePixelToClientFormat(bg, client)...)
	out = append(out, translatePixelToClientFormat(fg, client)...)
	return appendTightPayload(out, bitmap, compressLevel, stream)
}

// encodeTightIndexed sends a 3-16 color rectangle as one index byte per
// pixel through the indexed stream: control 0x60, palette filter, the
// palette size minus one, the palette colors, then the indices.
func encodeTightIndexed(tile []uint32, palette []uint32, client protocol.PixelFormat, compressLevel int, stream *ZlibStream) ([]byte, error) {
	indices := make([]byte, len(tile))
	for i, p := range tile {
		indices[i] = paletteIndex(palette, p)
	}

	out := []byte{(tightStreamIndexed | tightExplicitFilter) << 4, tightFilterPalette, byte(len(palette) - 1)}
	for _, c := range palette {
		out = append(out, translatePixelToClientFormat(c, client)...)
	}
	return appendTightPayload(out, indices, compressLevel, stream)
}

// encodeTightFullColor sends the rectangle as CPIXELs through the
// full-color stream behind control 0x00.
func encodeTightFullColor(tile []uint32, client protocol.PixelFormat, compressLevel int, stream *ZlibStream) ([]byte, error) {
	raw := make([]byte, 0, len(tile)*3)
	for _, p := range tile {
		raw = append(raw, translatePixelToClientFormat(p, client)...)
	}

	out := []byte{tightStreamFullColor << 4}
	return appendTightPayload(out, raw, compressLevel, stream)
}

// appendTightPayload applies Tight's basic-compression framing: payloads
// under tightMinToCompress bytes travel raw with no length prefix; at
// compression level 0 the prefix is present but the payload skips zlib;
// otherwise the payload is deflated against the sub-mode's persistent
// stream and prefixed with its compact length.
func appendTightPayload(out, data []byte, compressLevel int, stream *ZlibStream) ([]byte, error) {
	if len(data) < tightMinToCompress {
		return append(out, data...), nil
	}
	if compressLevel == 0 {
		out = appendCompactLength(out, len(data))
		return append(out, data...), nil
	}

	compressed, err := stream.Compress(data)
	if err != nil {
		return nil, err
	}
	out = appendCompactLength(out, len(compressed))
	return append(out, compressed...), nil
}

func encodeTightJPEG(tile []uint32, width, height int, quality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := tile[y*width+x]
			off := img.PixOffset(x, y)
			img.Pix[off] = byte(c)
			img.Pix[off+1] = byte(c >> 8)
			img.Pix[off+2] = byte(c >> 16)
			img.Pix[off+3] = 0xFF
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: protocol.JPEGQualityTable[quality]}); err != nil {
		return nil, err
	}

	out := []byte{tightJPEG << 4}
	out = appendCompactLength(out, buf.Len())
	return append(out, buf.Bytes()...), nil
}

// appendCompactLength appends Tight's variable-length size prefix: bytes
// with the high bit set continue, so one byte covers 0-127, two cover up
// to 16383 and three up to 4194303.
func appendCompactLength(buf []byte, n int) []byte {
	if n < 128 {
		return append(buf, byte(n))
	}
	if n < 16384 {
		return append(buf, byte(n&0x7F)|0x80, byte(n>>7))
	}
	return append(buf, byte(n&0x7F)|0x80, byte(n>>7&0x7F)|0x80, byte(n>>14))
}
