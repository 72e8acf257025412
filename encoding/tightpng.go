package encoding

import (
	"bytes"
	"image"
	"image/png"

	"github.com/dhlk/vnc/protocol"
)

// tightPngCtl is Tight's control byte for a PNG payload, distinguishing
// it from the other Tight sub-modes that share the TightPng pseudo-encoding.
const tightPngCtl = protocol.TightPng << 4

// EncodeTightPng strips alpha and PNG-encodes the rectangle, since PNG
// clients decode full frames rather than participating in Tight's
// zlib-stream continuity. compressLevel is the TightVNC 0-9 scale
// requested via the CompressLevel pseudo-encoding.
func EncodeTightPng(pixels []byte, width, height int, compressLevel int) ([]byte, error) {
	packed := rgbaToPixels(pixels)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := packed[y*width+x]
			off := img.PixOffset(x, y)
			img.Pix[off] = byte(c)
			img.Pix[off+1] = byte(c >> 8)
			img.Pix[off+2] = byte(c >> 16)
			img.Pix[off+3] = 0xFF
		}
	}

	encoder := png.Encoder{CompressionLevel: pngCompressionLevel(compressLevel)}
	var buf bytes.Buffer
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, err
	}

	out := []byte{tightPngCtl}
	out = appendCompactLength(out, buf.Len())
	return append(out, buf.Bytes()...), nil
}

// pngCompressionLevel maps TightVNC's 0-9 compression scale onto the
// handful of levels image/png's deflate wrapper exposes.
func pngCompressionLevel(level int) png.CompressionLevel {
	switch {
	case level <= 1:
		return png.NoCompression
	case level <= 5:
		return png.BestSpeed
	case level <= 8:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
