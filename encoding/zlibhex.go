package encoding

import (
	"encoding/binary"

	"github.com/dhlk/vnc/protocol"
)

// EncodeZlibHex Hextile-encodes the rectangle and then deflates the result
// against the connection's persistent ZlibHex stream, which is distinct
// from the plain Zlib stream so the two dictionaries never interfere.
func EncodeZlibHex(pixels []byte, width, height int, client protocol.PixelFormat, stream *ZlibStream) ([]byte, error) {
	hex := EncodeHextile(pixels, width, height, client)
	compressed, err := stream.Compress(hex)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(compressed))
	binary.BigEndian.PutUint32(out, uint32(len(compressed)))
	return append(out, compressed...), nil
}
