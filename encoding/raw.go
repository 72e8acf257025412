package encoding

import "github.com/dhlk/vnc/protocol"

// EncodeRaw writes every pixel of the rectangle in client pixel order,
// row-major, with no compression. It is the fallback every client must
// support and the baseline every other encoder is measured against.
func EncodeRaw(pixels []byte, width, height int, client protocol.PixelFormat) []byte {
	return protocol.TranslatePixels(pixels, protocol.RGBA32(), client)
}
