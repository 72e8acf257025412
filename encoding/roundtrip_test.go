package encoding

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"

	"github.com/dhlk/vnc/protocol"
)

// Round-trip tests: every lossless encoding must decode back to the
// exact input, including at the tile-boundary sizes each format cares
// about (16 for Hextile, 64 for ZRLE, 255 for CoRRE) and at degenerate
// one-pixel-wide strips. The decoders below implement just enough of
// the viewer side to verify that, for the server's canonical RGBA32
// client format.

// patternPixels builds a deterministic image mixing solid regions (to
// exercise the palette and RLE paths) with a gradient tail (to force
// raw/full-color paths).
func patternPixels(w, h int) []byte {
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			switch {
			case x < w/3:
				out[i], out[i+1], out[i+2] = 200, 40, 40
			case y < h/3:
				out[i], out[i+1], out[i+2] = 40, 200, 40
			default:
				out[i] = byte(x * 7)
				out[i+1] = byte(y * 13)
				out[i+2] = byte((x ^ y) * 3)
			}
		}
	}
	return out
}

// stripAlpha is what the wire is allowed to carry for RGBA32: the
// padding byte zeroed.
func stripAlpha(src []byte) []byte {
	out := make([]byte, len(src))
	copy(out, src)
	for i := 3; i < len(out); i += 4 {
		out[i] = 0
	}
	return out
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) u8(t *testing.T) byte {
	t.Helper()
	require.Less(t, r.pos, len(r.data), "decoder ran past the body")
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *byteReader) take(t *testing.T, n int) []byte {
	t.Helper()
	require.LessOrEqual(t, r.pos+n, len(r.data), "decoder ran past the body")
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *byteReader) u16be(t *testing.T) uint16 {
	return binary.BigEndian.Uint16(r.take(t, 2))
}

func (r *byteReader) u32be(t *testing.T) uint32 {
	return binary.BigEndian.Uint32(r.take(t, 4))
}

// pixel32 reads one RGBA32 client pixel (R, G, B, pad).
func (r *byteReader) pixel32(t *testing.T) uint32 {
	p := r.take(t, 4)
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16
}

// cpixel reads one 3-byte compressed pixel.
func (r *byteReader) cpixel(t *testing.T) uint32 {
	p := r.take(t, 3)
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16
}

func canvasToRGBA(canvas []uint32) []byte {
	out := make([]byte, len(canvas)*4)
	for i, c := range canvas {
		out[i*4] = byte(c)
		out[i*4+1] = byte(c >> 8)
		out[i*4+2] = byte(c >> 16)
	}
	return out
}

func fillRect(canvas []uint32, stride, x, y, w, h int, color uint32) {
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			canvas[(y+dy)*stride+x+dx] = color
		}
	}
}

func decodeRRE(t *testing.T, body []byte, w, h int) []byte {
	r := &byteReader{data: body}
	count := int(r.u32be(t))
	canvas := make([]uint32, w*h)
	fillRect(canvas, w, 0, 0, w, h, r.pixel32(t))
	for i := 0; i < count; i++ {
		color := r.pixel32(t)
		x, y := int(r.u16be(t)), int(r.u16be(t))
		sw, sh := int(r.u16be(t)), int(r.u16be(t))
		fillRect(canvas, w, x, y, sw, sh, color)
	}
	require.Equal(t, len(body), r.pos)
	return canvasToRGBA(canvas)
}

func decodeCoRRE(t *testing.T, body []byte, w, h int) []byte {
	r := &byteReader{data: body}
	count := int(r.u32be(t))
	canvas := make([]uint32, w*h)
	fillRect(canvas, w, 0, 0, w, h, r.pixel32(t))
	for i := 0; i < count; i++ {
		color := r.pixel32(t)
		x, y := int(r.u8(t)), int(r.u8(t))
		sw, sh := int(r.u8(t)), int(r.u8(t))
		fillRect(canvas, w, x, y, sw, sh, color)
	}
	require.Equal(t, len(body), r.pos)
	return canvasToRGBA(canvas)
}

func decodeHextile(t *testing.T, body []byte, w, h int) []byte {
	r := &byteReader{data: body}
	canvas := make([]uint32, w*h)
	var bg, fg uint32

	for ty := 0; ty < h; ty += 16 {
		th := min(16, h-ty)
		for tx := 0; tx < w; tx += 16 {
			tw := min(16, w-tx)
			mask := r.u8(t)

			if mask&protocol.HextileRaw != 0 {
				for dy := 0; dy < th; dy++ {
					for dx := 0; dx < tw; dx++ {
						canvas[(ty+dy)*w+tx+dx] = r.pixel32(t)
					}
				}
				continue
			}

			if mask&protocol.HextileBackgroundSpecified != 0 {
				bg = r.pixel32(t)
			}
			if mask&protocol.HextileForegroundSpecified != 0 {
				fg = r.pixel32(t)
			}
			fillRect(canvas, w, tx, ty, tw, th, bg)

			if mask&protocol.HextileAnySubrects == 0 {
				continue
			}
			count := int(r.u8(t))
			for i := 0; i < count; i++ {
				color := fg
				if mask&protocol.HextileSubrectsColoured != 0 {
					color = r.pixel32(t)
				}
				xy := r.u8(t)
				wh := r.u8(t)
				sx, sy := int(xy>>4), int(xy&0x0F)
				sw, sh := int(wh>>4)+1, int(wh&0x0F)+1
				fillRect(canvas, w, tx+sx, ty+sy, sw, sh, color)
			}
		}
	}
	require.Equal(t, len(body), r.pos)
	return canvasToRGBA(canvas)
}

// readRunLength decodes ZRLE's run-length tail: the stored value is the
// run length minus one, as a sum of bytes where 255 means another byte
// follows.
func readRunLength(t *testing.T, r *byteReader) int {
	total := 0
	for {
		b := r.u8(t)
		total += int(b)
		if b != 255 {
			break
		}
	}
	return total + 1
}

func decodeZRLEBody(t *testing.T, out []byte, w, h int) []byte {
	r := &byteReader{data: out}
	length := int(r.u32be(t))
	compressed := r.take(t, length)
	require.Equal(t, len(out), r.pos)

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	var tiles []byte
	// The stream is sync-flushed, never closed, so read until the
	// flushed data runs out rather than until EOF.
	buf := make([]byte, 4096)
	for {
		n, err := zr.Read(buf)
		tiles = append(tiles, buf[:n]...)
		if err != nil || n == 0 {
			break
		}
	}

	tr := &byteReader{data: tiles}
	canvas := make([]uint32, w*h)

	for ty := 0; ty < h; ty += 64 {
		th := min(64, h-ty)
		for tx := 0; tx < w; tx += 64 {
			tw := min(64, w-tx)
			decodeZRLETile(t, tr, canvas, w, tx, ty, tw, th)
		}
	}
	require.Equal(t, len(tiles), tr.pos)
	return canvasToRGBA(canvas)
}

func decodeZRLETile(t *testing.T, r *byteReader, canvas []uint32, stride, tx, ty, tw, th int) {
	sub := r.u8(t)
	switch {
	case sub == 0: // raw
		for dy := 0; dy < th; dy++ {
			for dx := 0; dx < tw; dx++ {
				canvas[(ty+dy)*stride+tx+dx] = r.cpixel(t)
			}
		}

	case sub == 1: // solid
		fillRect(canvas, stride, tx, ty, tw, th, r.cpixel(t))

	case sub >= 2 && sub <= 16: // packed palette
		palette := make([]uint32, sub)
		for i := range palette {
			palette[i] = r.cpixel(t)
		}
		bits := zrlePackedBits(int(sub))
		for dy := 0; dy < th; dy++ {
			row := r.take(t, packedRowBytes(tw, bits))
			for dx := 0; dx < tw; dx++ {
				bit := dx * bits
				b := row[bit/8]
				shift := 8 - bits - bit%8
				idx := (b >> shift) & byte((1<<bits)-1)
				canvas[(ty+dy)*stride+tx+dx] = palette[idx]
			}
		}

	case sub == 128: // plain RLE
		pos := 0
		for pos < tw*th {
			color := r.cpixel(t)
			run := readRunLength(t, r)
			for i := 0; i < run; i++ {
				canvas[(ty+pos/tw)*stride+tx+pos%tw] = color
				pos++
			}
		}
		require.Equal(t, tw*th, pos)

	default: // palette RLE
		palette := make([]uint32, sub-128)
		for i := range palette {
			palette[i] = r.cpixel(t)
		}
		pos := 0
		for pos < tw*th {
			b := r.u8(t)
			idx := b & 0x7F
			run := 1
			if b&0x80 != 0 {
				run = readRunLength(t, r)
			}
			for i := 0; i < run; i++ {
				canvas[(ty+pos/tw)*stride+tx+pos%tw] = palette[idx]
				pos++
			}
		}
		require.Equal(t, tw*th, pos)
	}
}

var roundTripSizes = []struct{ w, h int }{
	{1, 1},
	{16, 16},
	{64, 64},
	{255, 255},
	{33, 1},
	{1, 47},
	{17, 13},
	{70, 70}, // straddles the 64-pixel ZRLE tile boundary
}

func TestRRERoundTrip(t *testing.T) {
	for _, size := range roundTripSizes {
		pixels := patternPixels(size.w, size.h)
		body := EncodeRRE(pixels, size.w, size.h, protocol.RGBA32())
		require.Equal(t, stripAlpha(pixels), decodeRRE(t, body, size.w, size.h), "%dx%d", size.w, size.h)
	}
}

func TestCoRRERoundTrip(t *testing.T) {
	for _, size := range roundTripSizes {
		pixels := patternPixels(size.w, size.h)
		body := EncodeCoRRE(pixels, size.w, size.h, protocol.RGBA32())
		require.Equal(t, stripAlpha(pixels), decodeCoRRE(t, body, size.w, size.h), "%dx%d", size.w, size.h)
	}
}

func TestHextileRoundTrip(t *testing.T) {
	for _, size := range roundTripSizes {
		pixels := patternPixels(size.w, size.h)
		body := EncodeHextile(pixels, size.w, size.h, protocol.RGBA32())
		require.Equal(t, stripAlpha(pixels), decodeHextile(t, body, size.w, size.h), "%dx%d", size.w, size.h)
	}
}

func TestZRLERoundTrip(t *testing.T) {
	for _, size := range roundTripSizes {
		streams := NewStreams()
		pixels := patternPixels(size.w, size.h)
		out, err := EncodeZRLE(pixels, size.w, size.h, protocol.RGBA32(), streams.ZRLE)
		require.NoError(t, err)
		require.Equal(t, stripAlpha(pixels), decodeZRLEBody(t, out, size.w, size.h), "%dx%d", size.w, size.h)
	}
}

func TestZRLEStreamContinuity(t *testing.T) {
	// Consecutive rectangles share one deflate dictionary: the second
	// must still decode on a reader that consumed the first, and would
	// not decode on a fresh reader.
	streams := NewStreams()
	pixels := patternPixels(64, 64)

	first, err := EncodeZRLE(pixels, 64, 64, protocol.RGBA32(), streams.ZRLE)
	require.NoError(t, err)
	second, err := EncodeZRLE(pixels, 64, 64, protocol.RGBA32(), streams.ZRLE)
	require.NoError(t, err)

	joined := append(append([]byte{}, first[4:]...), second[4:]...)
	zr, err := zlib.NewReader(bytes.NewReader(joined))
	require.NoError(t, err)
	inflated, _ := io.ReadAll(zr)
	require.NotEmpty(t, inflated)
	// Identical input rectangles produce identical tile streams, so the
	// concatenated inflate must be the same stream twice.
	half := len(inflated) / 2
	require.Equal(t, inflated[:half], inflated[half:])
}

func TestRawRoundTrip(t *testing.T) {
	for _, size := range roundTripSizes {
		pixels := patternPixels(size.w, size.h)
		body := EncodeRaw(pixels, size.w, size.h, protocol.RGBA32())
		require.Equal(t, stripAlpha(pixels), body, "%dx%d", size.w, size.h)
	}
}

func TestZlibRoundTrip(t *testing.T) {
	streams := NewStreams()
	pixels := patternPixels(33, 17)
	out, err := EncodeZlib(pixels, 33, 17, protocol.RGBA32(), streams.Zlib)
	require.NoError(t, err)

	length := binary.BigEndian.Uint32(out[:4])
	require.Equal(t, int(length), len(out)-4)

	zr, err := zlib.NewReader(bytes.NewReader(out[4:]))
	require.NoError(t, err)
	inflated := make([]byte, 33*17*4)
	_, err = io.ReadFull(zr, inflated)
	require.NoError(t, err)
	require.Equal(t, stripAlpha(pixels), inflated)
}

func TestZlibHexInflatesToHextile(t *testing.T) {
	streams := NewStreams()
	pixels := patternPixels(40, 24)

	hextile := EncodeHextile(pixels, 40, 24, protocol.RGBA32())
	out, err := EncodeZlibHex(pixels, 40, 24, protocol.RGBA32(), streams.ZlibHex)
	require.NoError(t, err)

	zr, err := zlib.NewReader(bytes.NewReader(out[4:]))
	require.NoError(t, err)
	inflated := make([]byte, len(hextile))
	_, err = io.ReadFull(zr, inflated)
	require.NoError(t, err)
	require.Equal(t, hextile, inflated)
}
