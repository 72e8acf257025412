package encoding

import "github.com/dhlk/vnc/protocol"

const hextileTileSize = 16

// EncodeHextile splits the rectangle into 16x16 tiles (the last row/column
// may be smaller) and encodes each independently, so the wire format stays
// robust to partial tile updates. A tile is one of:
//   - raw: HextileRaw set, followed by the tile's pixels in client format
//   - solid: AnySubrects clear; BackgroundSpecified set with one
//     background pixel if the background changed from the previous tile,
//     otherwise the mask byte alone
//   - subrects: BackgroundSpecified (if the background changed from the
//     previous tile) and AnySubrects set, optionally ForegroundSpecified
//     and SubrectsColoured, followed by a subrect count and per-subrect
//     [color] + packed x/y + packed w/h bytes
func EncodeHextile(pixels []byte, width, height int, client protocol.PixelFormat) []byte {
	packed := rgbaToPixels(pixels)

	var out []byte
	var prevBg uint32
	havePrevBg := false

	for ty := 0; ty < height; ty += hextileTileSize {
		th := min(hextileTileSize, height-ty)
		for tx := 0; tx < width; tx += hextileTileSize {
			tw := min(hextileTileSize, width-tx)
			tile := extractTile(packed, width, tx, ty, tw, th)

			raw := encodeHextileRaw(tile, client)
			alt, usedBg, hasBg := encodeHextileSubrects(tile, tw, th, client, prevBg, havePrevBg)

			if len(alt) > 0 && len(alt) < len(raw)+1 {
				out = append(out, alt...)
				if hasBg {
					prevBg = usedBg
					havePrevBg = true
				}
			} else {
				// A raw tile invalidates the carried-over background; the
				// next tile must specify its own.
				out = append(out, protocol.HextileRaw)
				out = append(out, raw...)
				havePrevBg = false
			}
		}
	}

	return out
}

func encodeHextileRaw(tile []uint32, client protocol.PixelFormat) []byte {
	out := make([]byte, 0, len(tile)*4)
	for _, p := range tile {
		out = append(out, translatePixelFull(p, client)...)
	}
	return out
}

// encodeHextileSubrects returns the subencoding mask byte plus body for the
// background/foreground/subrects representation, the background color it
// used, and whether it emitted one (for prevBg tracking in the caller).
func encodeHextileSubrects(tile []uint32, tw, th int, client protocol.PixelFormat, prevBg uint32, havePrevBg bool) ([]byte, uint32, bool) {
	solid, mono, bg, fg := analyzeTileColors(tile)

	if solid {
		var mask uint8
		body := []byte{}
		if !havePrevBg || bg != prevBg {
			mask |= protocol.HextileBackgroundSpecified
			body = append(body, translatePixelFull(bg, client)...)
		}
		return append([]byte{mask}, body...), bg, true
	}

	subrects := findSubrects(tile, tw, th, bg)
	if len(subrects) == 0 || len(subrects) > 255 {
		return nil, 0, false
	}

	var mask uint8 = protocol.HextileAnySubrects
	var body []byte

	if !havePrevBg || bg != prevBg {
		mask |= protocol.HextileBackgroundSpecified
		body = append(body, translatePixelFull(bg, client)...)
	}

	if mono {
		mask |= protocol.HextileForegroundSpecified
		body = append(body, translatePixelFull(fg, client)...)
	} else {
		mask |= protocol.HextileSubrectsColoured
	}

	body = append(body, byte(len(subrects)))
	for _, s := range subrects {
		if mask&protocol.HextileSubrectsColoured != 0 {
			body = append(body, translatePixelFull(s.Color, client)...)
		}
		body = append(body, byte(s.X)<<4|byte(s.Y))
		body = append(body, byte(s.W-1)<<4|byte(s.H-1))
	}

	return append([]byte{mask}, body...), bg, true
}
