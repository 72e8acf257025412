// Package protocol implements the wire-level building blocks of the RFB
// (Remote Framebuffer) protocol described in RFC 6143: message type and
// encoding identifiers, the PixelFormat block, and rectangle header framing.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Version is the protocol version string the server advertises. It is
// exactly 12 ASCII bytes including the trailing newline.
const Version = "RFB 003.008\n"

// Client-to-server message types.
const (
	ClientMsgSetPixelFormat           uint8 = 0
	ClientMsgSetEncodings             uint8 = 2
	ClientMsgFramebufferUpdateRequest uint8 = 3
	ClientMsgKeyEvent                 uint8 = 4
	ClientMsgPointerEvent             uint8 = 5
	ClientMsgClientCutText            uint8 = 6
)

// Server-to-client message types.
const (
	ServerMsgFramebufferUpdate   uint8 = 0
	ServerMsgSetColourMapEntries uint8 = 1 // not sent
	ServerMsgBell                uint8 = 2 // not sent
	ServerMsgServerCutText       uint8 = 3
)

// Encoding identifiers, signed 32-bit as carried on the wire.
const (
	EncodingRaw      int32 = 0
	EncodingCopyRect int32 = 1
	EncodingRRE      int32 = 2
	EncodingCoRRE    int32 = 4
	EncodingHextile  int32 = 5
	EncodingZlib     int32 = 6
	EncodingTight    int32 = 7
	EncodingZlibHex  int32 = 8
	// EncodingTRLE is recognized while parsing SetEncodings for forward
	// compatibility but no encoder is registered for it.
	EncodingTRLE     int32 = 15
	EncodingZRLE     int32 = 16
	EncodingZYWRLE   int32 = 17
	// EncodingH264 is likewise recognized but never selected.
	EncodingH264     int32 = 0x4832_3634
	EncodingTightPng int32 = -260

	// Pseudo-encodings.
	EncodingCursor      int32 = -239
	EncodingDesktopSize int32 = -223

	EncodingQualityLevel0 int32 = -32
	EncodingQualityLevel9 int32 = -23

	EncodingCompressLevel0 int32 = -256
	EncodingCompressLevel9 int32 = -247
)

// Hextile subencoding mask bits.
const (
	HextileRaw                 uint8 = 1 << 0
	HextileBackgroundSpecified uint8 = 1 << 1
	HextileForegroundSpecified uint8 = 1 << 2
	HextileAnySubrects         uint8 = 1 << 3
	HextileSubrectsColoured    uint8 = 1 << 4
)

// TightPng is the Tight/TightPng control-byte sub-encoding for PNG payloads.
const TightPng uint8 = 0x0A

// Security types.
const (
	SecurityTypeInvalid uint8 = 0
	SecurityTypeNone    uint8 = 1
	SecurityTypeVNCAuth uint8 = 2
)

// Security results.
const (
	SecurityResultOK     uint32 = 0
	SecurityResultFailed uint32 = 1
)

// JPEGQualityTable maps a client-requested quality level (0..9) to a
// standard JPEG quality percentage, matching TigerVNC's table.
var JPEGQualityTable = [10]int{15, 29, 41, 42, 62, 77, 79, 86, 92, 100}

// PixelFormat describes how a single pixel is laid out on the wire.
type PixelFormat struct {
	BitsPerPixel  uint8
	Depth         uint8
	BigEndianFlag uint8
	TrueColorFlag uint8
	RedMax        uint16
	GreenMax      uint16
	BlueMax       uint16
	RedShift      uint8
	GreenShift    uint8
	BlueShift     uint8
}

// RGBA32 is the server's canonical pixel format: 32 bpp, depth 24,
// little-endian, true-color, 8 bits per channel, shifts R=0 G=8 B=16.
// The high byte is padding, never alpha.
func RGBA32() PixelFormat {
	return PixelFormat{
		BitsPerPixel:  32,
		Depth:         24,
		BigEndianFlag: 0,
		TrueColorFlag: 1,
		RedMax:        255,
		GreenMax:      255,
		BlueMax:       255,
		RedShift:      0,
		GreenShift:    8,
		BlueShift:     16,
	}
}

// RGB565 is a common 16-bit format for bandwidth-constrained clients.
func RGB565() PixelFormat {
	return PixelFormat{
		BitsPerPixel: 16, Depth: 16, BigEndianFlag: 0, TrueColorFlag: 1,
		RedMax: 31, GreenMax: 63, BlueMax: 31,
		RedShift: 11, GreenShift: 5, BlueShift: 0,
	}
}

// RGB555 uses 5 bits per channel with one unused high bit.
func RGB555() PixelFormat {
	return PixelFormat{
		BitsPerPixel: 16, Depth: 15, BigEndianFlag: 0, TrueColorFlag: 1,
		RedMax: 31, GreenMax: 31, BlueMax: 31,
		RedShift: 10, GreenShift: 5, BlueShift: 0,
	}
}

// BGR233 is an 8-bit format used by very low bandwidth or legacy clients.
func BGR233() PixelFormat {
	return PixelFormat{
		BitsPerPixel: 8, Depth: 8, BigEndianFlag: 0, TrueColorFlag: 1,
		RedMax: 7, GreenMax: 7, BlueMax: 3,
		RedShift: 0, GreenShift: 3, BlueShift: 6,
	}
}

// IsCompatibleWithRGBA32 reports whether pf is bit-identical to RGBA32, the
// fast path for the pixel translator.
func (pf PixelFormat) IsCompatibleWithRGBA32() bool {
	rgba := RGBA32()
	return pf == rgba
}

// IsValid checks the constraints the server enforces on a client-requested
// pixel format: supported bits-per-pixel, sane depth, and for true-color
// formats, component widths that fit within depth.
func (pf PixelFormat) IsValid() bool {
	switch pf.BitsPerPixel {
	case 8, 16, 24, 32:
	default:
		return false
	}

	if pf.Depth == 0 || pf.Depth > 32 {
		return false
	}

	if pf.TrueColorFlag == 0 && pf.BitsPerPixel != 8 {
		return false
	}

	if pf.TrueColorFlag != 0 {
		bitsNeeded := func(max uint16) uint8 {
			if max == 0 {
				return 0
			}
			n := uint8(0)
			for max > 0 {
				n++
				max >>= 1
			}
			return n
		}

		redBits := bitsNeeded(pf.RedMax)
		greenBits := bitsNeeded(pf.GreenMax)
		blueBits := bitsNeeded(pf.BlueMax)

		if redBits+greenBits+blueBits > pf.Depth {
			return false
		}

		if pf.RedShift >= 32 || pf.GreenShift >= 32 || pf.BlueShift >= 32 {
			return false
		}
	}

	return true
}

// WriteTo serializes the 16-byte PixelFormat block, RFC 6143 §7.4.
func (pf PixelFormat) WriteTo(w io.Writer) error {
	buf := make([]byte, 16)
	buf[0] = pf.BitsPerPixel
	buf[1] = pf.Depth
	buf[2] = pf.BigEndianFlag
	buf[3] = pf.TrueColorFlag
	binary.BigEndian.PutUint16(buf[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(buf[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(buf[8:10], pf.BlueMax)
	buf[10] = pf.RedShift
	buf[11] = pf.GreenShift
	buf[12] = pf.BlueShift
	// buf[13:16] left zero: padding.
	_, err := w.Write(buf)
	return err
}

// ReadPixelFormat parses a 16-byte PixelFormat block from b. b must be at
// least 16 bytes; only the first 16 are consumed.
func ReadPixelFormat(b []byte) (PixelFormat, error) {
	if len(b) < 16 {
		return PixelFormat{}, fmt.Errorf("protocol: short pixel format (%d bytes)", len(b))
	}
	return PixelFormat{
		BitsPerPixel:  b[0],
		Depth:         b[1],
		BigEndianFlag: b[2],
		TrueColorFlag: b[3],
		RedMax:        binary.BigEndian.Uint16(b[4:6]),
		GreenMax:      binary.BigEndian.Uint16(b[6:8]),
		BlueMax:       binary.BigEndian.Uint16(b[8:10]),
		RedShift:      b[10],
		GreenShift:    b[11],
		BlueShift:     b[12],
	}, nil
}

// ServerInit is the message the server sends once security negotiation and
// ClientInit are complete.
type ServerInit struct {
	FramebufferWidth  uint16
	FramebufferHeight uint16
	PixelFormat       PixelFormat
	Name              string
}

// WriteTo serializes ServerInit: width, height, pixel format, name length,
// name bytes. All integers big-endian.
func (si ServerInit) WriteTo(w io.Writer) error {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint16(hdr[0:2], si.FramebufferWidth)
	binary.BigEndian.PutUint16(hdr[2:4], si.FramebufferHeight)
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if err := si.PixelFormat.WriteTo(w); err != nil {
		return err
	}
	nameBytes := []byte(si.Name)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(nameBytes)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(nameBytes)
	return err
}

// Rectangle is a FramebufferUpdate rectangle header: position, size, and
// the encoding identifier of the body that follows it.
type Rectangle struct {
	X, Y, Width, Height uint16
	Encoding            int32
}

// WriteHeader writes the 12-byte rectangle header, RFC 6143 §7.6.1.
func (r Rectangle) WriteHeader(w io.Writer) error {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], r.X)
	binary.BigEndian.PutUint16(buf[2:4], r.Y)
	binary.BigEndian.PutUint16(buf[4:6], r.Width)
	binary.BigEndian.PutUint16(buf[6:8], r.Height)
	binary.BigEndian.PutUint32(buf[8:12], uint32(r.Encoding))
	_, err := w.Write(buf)
	return err
}

// Intersect returns the overlap of a and b and true, or the zero Rectangle
// and false if they do not overlap. Encoding is not considered or copied.
func Intersect(a, b Rectangle) (Rectangle, bool) {
	x0 := maxU16(a.X, b.X)
	y0 := maxU16(a.Y, b.Y)
	x1 := minU16(a.X+a.Width, b.X+b.Width)
	y1 := minU16(a.Y+a.Height, b.Y+b.Height)
	if x0 >= x1 || y0 >= y1 {
		return Rectangle{}, false
	}
	return Rectangle{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true
}

func maxU16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}
