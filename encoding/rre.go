package encoding

import (
	"encoding/binary"

	"github.com/dhlk/vnc/protocol"
)

// EncodeRRE carves the rectangle into a background color plus a list of
// solid-color subrectangles: a 4-byte subrect count, the background
// pixel in the client's format, then per subrect the pixel color
// followed by x, y, width, height as big-endian uint16.
func EncodeRRE(pixels []byte, width, height int, client protocol.PixelFormat) []byte {
	packed := rgbaToPixels(pixels)
	bg := backgroundColor(packed)
	subrects := findSubrects(packed, width, height, bg)

	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(len(subrects)))
	out = append(out, translatePixelFull(bg, client)...)

	for _, s := range subrects {
		out = append(out, translatePixelFull(s.Color, client)...)
		out = appendU16BE(out, s.X)
		out = appendU16BE(out, s.Y)
		out = appendU16BE(out, s.W)
		out = appendU16BE(out, s.H)
	}

	return out
}

func appendU16BE(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}
