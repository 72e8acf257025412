package encoding

import "github.com/dhlk/vnc/protocol"

// PriorityOrder lists encodings from most to least preferred when more than
// one advertised by the client could encode a given rectangle. Raw is last:
// every client must support it, so it is the encoder of last resort rather
// than a candidate to race against the others.
var PriorityOrder = []int32{
	protocol.EncodingTight,
	protocol.EncodingTightPng,
	protocol.EncodingZRLE,
	protocol.EncodingZYWRLE,
	protocol.EncodingZlibHex,
	protocol.EncodingZlib,
	protocol.EncodingHextile,
	protocol.EncodingRRE,
	protocol.EncodingCoRRE,
	protocol.EncodingRaw,
}

// Streams holds every persistent compression stream a connection's
// negotiated encodings might need across its lifetime. RFC 6143 requires
// each of Zlib, ZlibHex, ZRLE/ZYWRLE and Tight's basic-compression
// sub-streams to maintain one continuous deflate dictionary per
// connection, so these are allocated once at connection setup and reused
// for every rectangle, never recreated per update.
type Streams struct {
	Zlib    *ZlibStream
	ZlibHex *ZlibStream
	ZRLE    *ZlibStream
	Tight   *TightStreams
}

// NewStreams allocates a fresh set of per-connection compression streams.
func NewStreams() *Streams {
	return &Streams{
		Zlib:    NewZlibStream(6),
		ZlibHex: NewZlibStream(6),
		ZRLE:    NewZlibStream(6),
		Tight:   NewTightStreams(),
	}
}

// Close releases every stream's deflate state. Called once from the
// owning connection's teardown.
func (s *Streams) Close() {
	s.Zlib.Close()
	s.ZlibHex.Close()
	s.ZRLE.Close()
	s.Tight.FullColor.Close()
	s.Tight.Mono.Close()
	s.Tight.Indexed.Close()
}

// EncodeRects renders one dirty rectangle at absolute position (x, y)
// into the wire rectangles a FramebufferUpdate carries for it. Every
// encoding returns exactly one EncodedRect except Tight, which may split
// oversized input and carve out solid regions into additional
// rectangles. quality is the client's requested JPEG/ZYWRLE quality
// level (0-9); compressLevel the requested deflate level (0-9).
func EncodeRects(encodingID int32, x, y uint16, pixels []byte, width, height int, client protocol.PixelFormat, quality, compressLevel int, streams *Streams) ([]EncodedRect, error) {
	if encodingID == protocol.EncodingTight {
		return EncodeTightRects(x, y, pixels, width, height, client, quality, compressLevel, streams.Tight)
	}

	body, err := encodeBody(encodingID, pixels, width, height, client, quality, compressLevel, streams)
	if err != nil {
		return nil, err
	}
	return []EncodedRect{{
		Rect: protocol.Rectangle{X: x, Y: y, Width: uint16(width), Height: uint16(height), Encoding: encodingID},
		Body: body,
	}}, nil
}

func encodeBody(encodingID int32, pixels []byte, width, height int, client protocol.PixelFormat, quality, compressLevel int, streams *Streams) ([]byte, error) {
	switch encodingID {
	case protocol.EncodingRaw:
		return EncodeRaw(pixels, width, height, client), nil
	case protocol.EncodingRRE:
		return EncodeRRE(pixels, width, height, client), nil
	case protocol.EncodingCoRRE:
		return EncodeCoRRE(pixels, width, height, client), nil
	case protocol.EncodingHextile:
		return EncodeHextile(pixels, width, height, client), nil
	case protocol.EncodingZlib:
		return EncodeZlib(pixels, width, height, client, streams.Zlib)
	case protocol.EncodingZlibHex:
		return EncodeZlibHex(pixels, width, height, client, streams.ZlibHex)
	case protocol.EncodingZRLE:
		return EncodeZRLE(pixels, width, height, client, streams.ZRLE)
	case protocol.EncodingZYWRLE:
		return EncodeZYWRLE(pixels, width, height, client, quality, streams.ZRLE)
	case protocol.EncodingTightPng:
		return EncodeTightPng(pixels, width, height, compressLevel)
	default:
		return EncodeRaw(pixels, width, height, client), nil
	}
}

// Select returns the highest-priority encoding from PriorityOrder that the
// client has advertised support for, defaulting to Raw when none match
// (which never happens for a protocol-compliant client, since Raw support
// is mandatory, but keeps this total rather than partial).
func Select(advertised map[int32]bool) int32 {
	for _, id := range PriorityOrder {
		if advertised[id] {
			return id
		}
	}
	return protocol.EncodingRaw
}
