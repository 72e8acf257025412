package encoding

import "encoding/binary"

// EncodeCopyRect returns the 4-byte source x/y that follows a CopyRect
// rectangle header. The destination is the rectangle's own x/y/width/
// height; only the source position needs to travel on the wire.
func EncodeCopyRect(srcX, srcY uint16) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], srcX)
	binary.BigEndian.PutUint16(out[2:4], srcY)
	return out
}
