package encoding

import (
	"encoding/binary"

	"github.com/dhlk/vnc/protocol"
)

// EncodeZlib deflates the rectangle's raw client-format pixels against the
// connection's persistent Zlib stream and prefixes the result with its
// 4-byte big-endian length, RFC 6143 §7.7.3.
func EncodeZlib(pixels []byte, width, height int, client protocol.PixelFormat, stream *ZlibStream) ([]byte, error) {
	raw := protocol.TranslatePixels(pixels, protocol.RGBA32(), client)
	compressed, err := stream.Compress(raw)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(compressed))
	binary.BigEndian.PutUint32(out, uint32(len(compressed)))
	return append(out, compressed...), nil
}
