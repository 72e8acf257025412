package encoding

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zlib"
)

// ZlibStream wraps a single persistent deflate stream. RFC 6143 requires
// Zlib, ZlibHex, ZRLE and ZYWRLE to compress against one continuous
// dictionary per connection rather than starting fresh every rectangle, so
// the server keeps one ZlibStream per encoding family (and Tight keeps up
// to three more, one per sub-stream) for the lifetime of a connection.
type ZlibStream struct {
	buf *bytes.Buffer
	w   *zlib.Writer
}

// NewZlibStream allocates a stream at the given compression level (0-9, or
// -1 for the library default).
func NewZlibStream(level int) *ZlibStream {
	buf := new(bytes.Buffer)
	w, err := zlib.NewWriterLevel(buf, level)
	if err != nil {
		w, _ = zlib.NewWriterLevel(buf, zlib.DefaultCompression)
	}
	return &ZlibStream{buf: buf, w: w}
}

// Compress deflates data against the stream's running dictionary and
// returns exactly the bytes produced for this call, equivalent to a
// Z_SYNC_FLUSH: later calls continue to benefit from back-references into
// earlier ones, but the client can decode each call's output immediately.
func (s *ZlibStream) Compress(data []byte) ([]byte, error) {
	s.buf.Reset()
	if _, err := s.w.Write(data); err != nil {
		return nil, fmt.Errorf("encoding: zlib stream write: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return nil, fmt.Errorf("encoding: zlib stream flush: %w", err)
	}
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	return out, nil
}

// Close releases the underlying deflate state. The stream must not be
// used again afterwards.
func (s *ZlibStream) Close() error {
	return s.w.Close()
}
