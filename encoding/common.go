// Package encoding implements the VNC/RFB rectangle encoders: Raw,
// CoRRE, RRE, Hextile, Zlib, ZlibHex, Tight, TightPng, ZRLE and ZYWRLE.
// All encoders consume pixel data in the server's canonical RGBA32
// format and a target protocol.PixelFormat, and return the bytes that
// follow a rectangle header on the wire.
package encoding

import (
	"sort"

	"github.com/dhlk/vnc/protocol"
)

// Subrect is a carved, single-color subrectangle used by RRE, CoRRE and
// Hextile. Color is packed as 0x00BBGGRR (R in bits 0-7, G in 8-15, B in
// 16-23), matching the server's canonical in-memory pixel layout.
type Subrect struct {
	Color      uint32
	X, Y, W, H uint16
}

// rgbaToPixels packs RGBA32 bytes (4 per pixel) into the 0x00BBGGRR u32
// values the subrectangle-carving and palette helpers operate on.
func rgbaToPixels(data []byte) []uint32 {
	n := len(data) / 4
	pixels := make([]uint32, n)
	for i := 0; i < n; i++ {
		off := i * 4
		pixels[i] = uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16
	}
	return pixels
}

// backgroundColor returns the most common color in pixels.
func backgroundColor(pixels []uint32) uint32 {
	if len(pixels) == 0 {
		return 0
	}
	counts := make(map[uint32]int, len(pixels))
	for _, p := range pixels {
		counts[p]++
	}
	best := pixels[0]
	bestCount := -1
	for color, count := range counts {
		if count > bestCount {
			best = color
			bestCount = count
		}
	}
	return best
}

// findSubrects greedily carves every non-background pixel into axis-aligned
// same-color rectangles. For each uncovered pixel it tries the largest
// horizontal-first extension and the largest vertical-first extension and
// keeps whichever covers more area.
func findSubrects(pixels []uint32, width, height int, bg uint32) []Subrect {
	var subrects []Subrect
	marked := make([]bool, len(pixels))

	idx := func(x, y int) int { return y*width + x }

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := idx(x, y)
			if marked[i] || pixels[i] == bg {
				continue
			}
			color := pixels[i]

			maxW := 0
			for tx := x; tx < width; tx++ {
				ti := idx(tx, y)
				if marked[ti] || pixels[ti] != color {
					break
				}
				maxW = tx - x + 1
			}

			h := 1
		outerH:
			for ty := y + 1; ty < height; ty++ {
				for tx := x; tx < x+maxW; tx++ {
					ti := idx(tx, ty)
					if marked[ti] || pixels[ti] != color {
						break outerH
					}
				}
				h = ty - y + 1
			}

			bestW, bestH := maxW, h

			maxH := 0
			for ty := y; ty < height; ty++ {
				ti := idx(x, ty)
				if marked[ti] || pixels[ti] != color {
					break
				}
				maxH = ty - y + 1
			}

			w2 := 1
		outerW:
			for tx := x + 1; tx < width; tx++ {
				for ty := y; ty < y+maxH; ty++ {
					ti := idx(tx, ty)
					if marked[ti] || pixels[ti] != color {
						break outerW
					}
				}
				w2 = tx - x + 1
			}

			if w2*maxH > bestW*bestH {
				bestW, bestH = w2, maxH
			}

			for dy := 0; dy < bestH; dy++ {
				for dx := 0; dx < bestW; dx++ {
					marked[idx(x+dx, y+dy)] = true
				}
			}

			subrects = append(subrects, Subrect{
				Color: color,
				X:     uint16(x), Y: uint16(y), W: uint16(bestW), H: uint16(bestH),
			})
		}
	}

	return subrects
}

// extractTile copies a tw x th block out of a width-wide pixel plane.
func extractTile(pixels []uint32, width, x, y, tw, th int) []uint32 {
	tile := make([]uint32, 0, tw*th)
	for dy := 0; dy < th; dy++ {
		row := (y+dy)*width + x
		tile = append(tile, pixels[row:row+tw]...)
	}
	return tile
}

// analyzeTileColors classifies a tile as solid (1 color), monochrome
// (exactly 2 colors, returning the more frequent as background), or
// multicolor. For multicolor tiles fg is unused (zero).
func analyzeTileColors(pixels []uint32) (solid, mono bool, bg, fg uint32) {
	if len(pixels) == 0 {
		return true, true, 0, 0
	}

	counts := make(map[uint32]int)
	for _, p := range pixels {
		counts[p]++
	}

	if len(counts) == 1 {
		return true, true, pixels[0], 0
	}

	if len(counts) == 2 {
		type colorCount struct {
			color uint32
			count int
		}
		var sorted []colorCount
		for c, n := range counts {
			sorted = append(sorted, colorCount{c, n})
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].count > sorted[j].count })
		return false, true, sorted[0].color, sorted[1].color
	}

	return false, false, backgroundColor(pixels), 0
}

// checkSolidColor returns the common color and true if every pixel in
// pixels is identical.
func checkSolidColor(pixels []uint32) (uint32, bool) {
	if len(pixels) == 0 {
		return 0, false
	}
	first := pixels[0]
	for _, p := range pixels[1:] {
		if p != first {
			return 0, false
		}
	}
	return first, true
}

// buildPalette returns the distinct colors in pixels ordered from most to
// least frequent.
func buildPalette(pixels []uint32) []uint32 {
	counts := make(map[uint32]int)
	order := make([]uint32, 0, 16)
	for _, p := range pixels {
		if _, seen := counts[p]; !seen {
			order = append(order, p)
		}
		counts[p]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	return order
}

// translatePixelFull converts one 0x00BBGGRR color into the client's
// full wire pixel (BitsPerPixel/8 bytes). RRE, CoRRE and Hextile carry
// colors in this form.
func translatePixelFull(color uint32, client protocol.PixelFormat) []byte {
	rgba := []byte{byte(color), byte(color >> 8), byte(color >> 16), 0}
	return protocol.TranslatePixels(rgba, protocol.RGBA32(), client)
}

// translatePixelToClientFormat converts one 0x00BBGGRR color into the
// client's wire format. Tight/ZRLE/ZYWRLE use a 3-byte CPIXEL shortcut
// whenever the client format is 8-bit-per-channel depth-24 truecolor;
// otherwise it falls back to the general translator.
func translatePixelToClientFormat(color uint32, client protocol.PixelFormat) []byte {
	use24bit := client.Depth == 24 && client.RedMax == 255 && client.GreenMax == 255 && client.BlueMax == 255

	r := byte(color)
	g := byte(color >> 8)
	b := byte(color >> 16)

	if use24bit {
		pixelValue := uint32(r)<<client.RedShift | uint32(g)<<client.GreenShift | uint32(b)<<client.BlueShift
		if client.BigEndianFlag != 0 {
			return []byte{byte(pixelValue >> 16), byte(pixelValue >> 8), byte(pixelValue)}
		}
		return []byte{byte(pixelValue), byte(pixelValue >> 8), byte(pixelValue >> 16)}
	}

	rgba := []byte{r, g, b, 0}
	return protocol.TranslatePixels(rgba, protocol.RGBA32(), client)
}
