package encoding

import (
	"encoding/binary"

	"github.com/dhlk/vnc/protocol"
)

// EncodeCoRRE is RRE with subrectangle coordinates and sizes packed into
// a single byte each. A rectangle larger than 255 on either axis cannot
// express subrectangle positions at all, so it degrades to a zero-subrect
// body: the viewer repaints it with the background color alone, which
// stays correct and lets the next update refine it.
func EncodeCoRRE(pixels []byte, width, height int, client protocol.PixelFormat) []byte {
	packed := rgbaToPixels(pixels)
	bg := backgroundColor(packed)

	var subrects []Subrect
	if width <= 255 && height <= 255 {
		subrects = findSubrects(packed, width, height, bg)
	}

	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(len(subrects)))
	out = append(out, translatePixelFull(bg, client)...)

	for _, s := range subrects {
		out = append(out, translatePixelFull(s.Color, client)...)
		out = append(out, byte(s.X), byte(s.Y), byte(s.W), byte(s.H))
	}

	return out
}
