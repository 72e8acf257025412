package encoding

import (
	"encoding/binary"

	"github.com/dhlk/vnc/protocol"
)

const zrleTileSize = 64

// ZRLE tile subencoding bytes: 0 raw, 1 solid, 2-16 packed palette of that
// many colors, 128 plain RLE, 130-255 palette RLE of (value-128) colors.
const (
	zrleSubencodingRaw   = 0
	zrleSubencodingSolid = 1
	zrleSubencodingRLE   = 128
)

const zrleCPIXELSize = 3

// EncodeZRLE tiles the rectangle into 64x64 blocks, encodes each with
// whichever subencoding minimizes its byte count, deflates the
// concatenated tile stream against the connection's persistent ZRLE
// stream, and prefixes the result with its 4-byte big-endian length.
func EncodeZRLE(pixels []byte, width, height int, client protocol.PixelFormat, stream *ZlibStream) ([]byte, error) {
	packed := rgbaToPixels(pixels)

	var tiles []byte
	for ty := 0; ty < height; ty += zrleTileSize {
		th := min(zrleTileSize, height-ty)
		for tx := 0; tx < width; tx += zrleTileSize {
			tw := min(zrleTileSize, width-tx)
			tile := extractTile(packed, width, tx, ty, tw, th)
			tiles = encodeZRLETile(tiles, tile, tw, th, client)
		}
	}

	compressed, err := stream.Compress(tiles)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(compressed))
	binary.BigEndian.PutUint32(out, uint32(len(compressed)))
	return append(out, compressed...), nil
}

// analyzeRunsAndPalette counts the RLE runs (length >= 2) and single
// pixels in tile and collects its distinct colors in first-appearance
// order, which RFC 6143 requires the palette to preserve.
func analyzeRunsAndPalette(tile []uint32) (runs, singles int, palette []uint32) {
	palette = make([]uint32, 0, 16)
	seen := func(color uint32) bool {
		for _, c := range palette {
			if c == color {
				return true
			}
		}
		return false
	}

	i := 0
	for i < len(tile) {
		color := tile[i]
		if len(palette) < 256 && !seen(color) {
			palette = append(palette, color)
		}

		run := 1
		for i+run < len(tile) && tile[i+run] == color {
			run++
		}
		if run == 1 {
			singles++
		} else {
			runs++
		}
		i += run
	}
	return runs, singles, palette
}

// encodeZRLETile appends one tile in whichever of the four subencodings
// (raw, solid, packed palette, plain/palette RLE) costs the fewest bytes.
func encodeZRLETile(out []byte, tile []uint32, width, height int, client protocol.PixelFormat) []byte {
	if color, solid := checkSolidColor(tile); solid {
		out = append(out, zrleSubencodingSolid)
		return appendCPIXEL(out, color, client)
	}

	runs, singles, palette := analyzeRunsAndPalette(tile)

	useRLE := false
	usePalette := false
	estimated := width * height * zrleCPIXELSize

	plainRLEBytes := (zrleCPIXELSize + 1) * (runs + singles)
	if plainRLEBytes < estimated {
		useRLE = true
		estimated = plainRLEBytes
	}

	if len(palette) < 128 {
		paletteRLEBytes := zrleCPIXELSize*len(palette) + 2*runs + singles
		if paletteRLEBytes < estimated {
			useRLE = true
			usePalette = true
			estimated = paletteRLEBytes
		}

		if len(palette) < 17 {
			packedBytes := zrleCPIXELSize*len(palette) +
				height*packedRowBytes(width, zrlePackedBits(len(palette)))
			if packedBytes < estimated {
				useRLE = false
				usePalette = true
			}
		}
	}

	switch {
	case usePalette && useRLE:
		return encodeZRLEPaletteRLETile(out, tile, palette, client)
	case usePalette:
		return encodeZRLEPackedPaletteTile(out, tile, width, height, palette, client)
	case useRLE:
		out = append(out, zrleSubencodingRLE)
		return encodeZRLEPlainRLE(out, tile, client)
	default:
		out = append(out, zrleSubencodingRaw)
		for _, p := range tile {
			out = appendCPIXEL(out, p, client)
		}
		return out
	}
}

// zrlePackedBits returns the packed-palette index width for a palette of
// the given size: 2 colors pack to 1 bit, 3-4 to 2 bits, 5-16 to 4.
func zrlePackedBits(paletteSize int) int {
	switch {
	case paletteSize <= 2:
		return 1
	case paletteSize <= 4:
		return 2
	default:
		return 4
	}
}

func packedRowBytes(width, bits int) int {
	return (width*bits + 7) / 8
}

func paletteIndex(palette []uint32, color uint32) byte {
	for i, c := range palette {
		if c == color {
			return byte(i)
		}
	}
	return 0
}

// encodeZRLEPackedPaletteTile emits subencoding 2-16: the palette as
// CPIXELs, then indices packed MSB-first at 1/2/4 bits per pixel with
// every row starting on a fresh byte.
func encodeZRLEPackedPaletteTile(out []byte, tile []uint32, width, height int, palette []uint32, client protocol.PixelFormat) []byte {
	bits := zrlePackedBits(len(palette))

	out = append(out, byte(len(palette)))
	for _, c := range palette {
		out = appendCPIXEL(out, c, client)
	}

	for row := 0; row < height; row++ {
		var packed byte
		nbits := 0
		for _, pixel := range tile[row*width : (row+1)*width] {
			packed = packed<<bits | paletteIndex(palette, pixel)
			nbits += bits
			if nbits >= 8 {
				out = append(out, packed)
				packed = 0
				nbits = 0
			}
		}
		if nbits > 0 {
			out = append(out, packed<<(8-nbits))
		}
	}
	return out
}

// encodeZRLEPaletteRLETile emits subencoding 128+n: the palette, then per
// run either the bare index (once for a single pixel, twice for a pair)
// or, for runs of three or more, the index with bit 7 set followed by the
// run length minus one as a sum of bytes where 255 means "add 255 more".
func encodeZRLEPaletteRLETile(out []byte, tile []uint32, palette []uint32, client protocol.PixelFormat) []byte {
	out = append(out, byte(zrleSubencodingRLE|len(palette)))
	for _, c := range palette {
		out = appendCPIXEL(out, c, client)
	}

	i := 0
	for i < len(tile) {
		color := tile[i]
		idx := paletteIndex(palette, color)

		run := 1
		for i+run < len(tile) && tile[i+run] == color {
			run++
		}

		if run <= 2 {
			if run == 2 {
				out = append(out, idx)
			}
			out = append(out, idx)
		} else {
			out = append(out, idx|0x80)
			out = appendZRLERunLength(out, run-1)
		}
		i += run
	}
	return out
}

// encodeZRLEPlainRLE emits (CPIXEL, run length - 1) pairs; the caller has
// already written the 128 subencoding byte.
func encodeZRLEPlainRLE(out []byte, tile []uint32, client protocol.PixelFormat) []byte {
	i := 0
	for i < len(tile) {
		color := tile[i]
		run := 1
		for i+run < len(tile) && tile[i+run] == color {
			run++
		}
		out = appendCPIXEL(out, color, client)
		out = appendZRLERunLength(out, run-1)
		i += run
	}
	return out
}

func appendZRLERunLength(out []byte, n int) []byte {
	for n >= 255 {
		out = append(out, 255)
		n -= 255
	}
	return append(out, byte(n))
}

func appendCPIXEL(out []byte, color uint32, client protocol.PixelFormat) []byte {
	return append(out, translatePixelToClientFormat(color, client)...)
}
