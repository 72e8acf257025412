package encoding

import (
	"github.com/dhlk/vnc/protocol"
)

// ZYWRLE is ZRLE with a lossy wavelet pre-filter: pixels are converted to
// YUV with the JPEG-2000 reversible color transform, run through a
// Piecewise-Linear Haar wavelet, quantized with fixed lookup tables, and
// the surviving coefficients are packed back into RGB byte order and fed
// to the ordinary ZRLE tile encoder and its persistent zlib stream. The
// algorithm is Copyright 2006 Hitachi Systems & Services, Ltd. (Noriaki
// Yamazaki, Research & Development Center).

// zywrleConv holds the non-linear quantization lookup tables, r=2.0
// quantization (x^2 forward, sqrt(x) back), mapping each signed
// coefficient byte to its quantized-dequantized value. Selection:
//
//	zywrleConv[0]: bi=5, bo=5 r=0.0 (zero everything)
//	zywrleConv[1]: bi=5, bo=5 r=2.0
//	zywrleConv[2]: bi=5, bo=4 r=2.0
//	zywrleConv[3]: bi=5, bo=2 r=2.0
var zywrleConv = [4][256]int8{
	{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	},
	{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 32, 32, 32, 32, 32, 32, 32, 32, 32,
		32, 32, 32, 32, 32, 32, 32, 32, 48, 48, 48, 48, 48, 48, 48, 48,
		48, 48, 48, 56, 56, 56, 56, 56, 56, 56, 56, 56, 64, 64, 64, 64,
		64, 64, 64, 64, 72, 72, 72, 72, 72, 72, 72, 72, 80, 80, 80, 80,
		80, 80, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 96, 96,
		96, 96, 96, 104, 104, 104, 104, 104, 104, 104, 104, 104, 104, 112, 112, 112,
		112, 112, 112, 112, 112, 112, 120, 120, 120, 120, 120, 120, 120, 120, 120, 120,
		0, -120, -120, -120, -120, -120, -120, -120, -120, -120, -120, -112, -112, -112, -112, -112,
		-112, -112, -112, -112, -104, -104, -104, -104, -104, -104, -104, -104, -104, -104, -96, -96,
		-96, -96, -96, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -80,
		-80, -80, -80, -80, -80, -72, -72, -72, -72, -72, -72, -72, -72, -64, -64, -64,
		-64, -64, -64, -64, -64, -56, -56, -56, -56, -56, -56, -56, -56, -56, -48, -48,
		-48, -48, -48, -48, -48, -48, -48, -48, -48, -32, -32, -32, -32, -32, -32, -32,
		-32, -32, -32, -32, -32, -32, -32, -32, -32, -32, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	},
	{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		48, 48, 48, 48, 48, 48, 48, 48, 48, 48, 48, 48, 48, 48, 48, 48,
		48, 48, 48, 48, 48, 48, 48, 48, 64, 64, 64, 64, 64, 64, 64, 64,
		64, 64, 64, 64, 64, 64, 64, 64, 80, 80, 80, 80, 80, 80, 80, 80,
		80, 80, 80, 80, 80, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88,
		104, 104, 104, 104, 104, 104, 104, 104, 104, 104, 104, 112, 112, 112, 112, 112,
		112, 112, 112, 112, 120, 120, 120, 120, 120, 120, 120, 120, 120, 120, 120, 120,
		0, -120, -120, -120, -120, -120, -120, -120, -120, -120, -120, -120, -120, -112, -112, -112,
		-112, -112, -112, -112, -112, -112, -104, -104, -104, -104, -104, -104, -104, -104, -104, -104,
		-104, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -80, -80, -80, -80,
		-80, -80, -80, -80, -80, -80, -80, -80, -80, -64, -64, -64, -64, -64, -64, -64,
		-64, -64, -64, -64, -64, -64, -64, -64, -64, -48, -48, -48, -48, -48, -48, -48,
		-48, -48, -48, -48, -48, -48, -48, -48, -48, -48, -48, -48, -48, -48, -48, -48,
		-48, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	},
	{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88,
		88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88,
		88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88,
		88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88, 88,
		0, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88,
		-88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88,
		-88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88,
		-88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88, -88,
		-88, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	},
}

// zywrleParam selects a quantization table per [level-1][pass][channel],
// channel order U, Y, V matching the coefficient byte layout.
var zywrleParam = [3][3][3]int{
	{{0, 2, 0}, {0, 0, 0}, {0, 0, 0}},
	{{0, 3, 0}, {1, 1, 1}, {0, 0, 0}},
	{{0, 3, 0}, {2, 2, 2}, {1, 1, 1}},
}

// zywrleLevel maps a client-requested quality level (0-9) to a wavelet
// decomposition depth via the JPEG quality it corresponds to: lower
// quality buys more decomposition and therefore more compression.
func zywrleLevel(quality int) int {
	if quality < 0 || quality > 9 {
		quality = 9
	}
	jpegQuality := protocol.JPEGQualityTable[quality]
	switch {
	case jpegQuality < 42:
		return 3
	case jpegQuality < 79:
		return 2
	default:
		return 1
	}
}

// harr is the Piecewise-Linear Haar transform on two signed bytes: an
// N-bit to N-bit reversible Haar-like kernel (Senecal et al.). On return
// x0 holds the low-frequency component and x1 the high-frequency one.
func harr(x0, x1 *int8) {
	orig0 := int32(*x0)
	orig1 := int32(*x1)
	v0, v1 := orig0, orig1

	if (v0^v1)&0x80 != 0 {
		// Different signs.
		v1 += v0
		if (v1^orig1)&0x80 == 0 {
			// |x1| > |x0|
			v0 -= v1
		}
	} else {
		// Same sign.
		v0 -= v1
		if (v0^orig0)&0x80 == 0 {
			// |x0| > |x1|
			v1 += v0
		}
	}

	*x0 = int8(v1)
	*x1 = int8(v0)
}

// zywrleWaveletPass runs one wavelet level over a single row or column
// using interleave decomposition, so low and high components stay in
// place and no line buffer is needed. data is the coefficient buffer as
// signed bytes, 4 per pixel (U, Y, V, pad); skipPixel is 1 for a
// horizontal pass and the image width for a vertical one.
func zywrleWaveletPass(data []int8, size, level, skipPixel int) {
	s := (8 << level) * skipPixel
	endOffset := (size >> (level + 1)) * s
	ofs := (4 << level) * skipPixel

	for offset := 0; offset < endOffset; offset += s {
		if offset+ofs+2 < len(data) {
			harr(&data[offset], &data[offset+ofs])
			harr(&data[offset+1], &data[offset+ofs+1])
			harr(&data[offset+2], &data[offset+ofs+2])
		}
	}
}

// zywrleWavelet applies the full analysis pipeline: a horizontal then a
// vertical wavelet pass at each level, quantizing the new high-frequency
// subbands after each level.
func zywrleWavelet(buf []int8, width, height, level int) {
	for l := 0; l < level; l++ {
		s := width << l
		for row := 0; row < height>>l; row++ {
			zywrleWaveletPass(buf[row*s*4:], width, l, 1)
		}

		s = 1 << l
		for col := 0; col < width>>l; col++ {
			zywrleWaveletPass(buf[col*s*4:], height, l, width)
		}

		zywrleFilterSquare(buf, width, height, level, l)
	}
}

// zywrleFilterSquare quantizes the three high-frequency subbands produced
// at pass l (the low-frequency quadrant is left untouched) through the
// lookup table zywrleParam selects for each channel.
func zywrleFilterSquare(buf []int8, width, height, level, l int) {
	param := &zywrleParam[level-1][l]
	s := 2 << l

	for r := 1; r < 4; r++ {
		rowStart := 0
		if r&0x01 != 0 {
			rowStart += s >> 1
		}
		if r&0x02 != 0 {
			rowStart += (s >> 1) * width
		}

		for y := 0; y < height/s; y++ {
			for x := 0; x < width/s; x++ {
				idx := (rowStart + y*s*width + x*s) * 4
				if idx+2 < len(buf) {
					buf[idx] = zywrleConv[param[0]][uint8(buf[idx])]
					buf[idx+1] = zywrleConv[param[1]][uint8(buf[idx+1])]
					buf[idx+2] = zywrleConv[param[2]][uint8(buf[idx+2])]
				}
			}
		}
	}
}

// zywrleRGBToYUV converts the aligned region to YUV via RCT:
//
//	Y = (R + 2G + B) / 4; U = B - G; V = R - G
//
// Y is centered around zero, U and V are halved, and -128 is nudged to
// -127 so the Haar kernel's sign arithmetic never overflows. Each output
// pixel is stored as the signed bytes U, Y, V, 0. stride is the source
// row width in pixels; the coefficient buffer is packed at the aligned
// width.
func zywrleRGBToYUV(buf []int8, src []byte, width, height, stride int) {
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			dataIdx := (row*stride + col) * 4
			bufIdx := (row*width + col) * 4
			if dataIdx+2 >= len(src) || bufIdx+3 >= len(buf) {
				continue
			}

			r := int32(src[dataIdx])
			g := int32(src[dataIdx+1])
			b := int32(src[dataIdx+2])

			y := (r + g<<1 + b) >> 2
			u := b - g
			v := r - g

			y -= 128
			u >>= 1
			v >>= 1

			if y == -128 {
				y++
			}
			if u == -128 {
				u++
			}
			if v == -128 {
				v++
			}

			buf[bufIdx] = int8(u)
			buf[bufIdx+1] = int8(y)
			buf[bufIdx+2] = int8(v)
			buf[bufIdx+3] = 0
		}
	}
}

// zywrlePackCoeff scatters one subband (0=L, 1=Hx, 2=Hy, 3=Hxy) of the
// coefficient buffer into dst as RGBA32 pixels: the V, Y, U coefficient
// bytes land in the R, G, B positions of each pixel. The buffer is
// packed at the aligned width; dst carries the rectangle's full stride.
func zywrlePackCoeff(buf []int8, dst []byte, r, width, height, stride, level int) {
	s := 2 << level
	ox, oy := 0, 0
	if r&0x01 != 0 {
		ox = s >> 1
	}
	if r&0x02 != 0 {
		oy = s >> 1
	}

	for y := 0; y < height/s; y++ {
		for x := 0; x < width/s; x++ {
			px := x*s + ox
			py := y*s + oy
			bufIdx := (py*width + px) * 4
			dstIdx := (py*stride + px) * 4
			if bufIdx+3 < len(buf) && dstIdx+3 < len(dst) {
				dst[dstIdx] = byte(buf[bufIdx+2])   // V -> R
				dst[dstIdx+1] = byte(buf[bufIdx+1]) // Y -> G
				dst[dstIdx+2] = byte(buf[bufIdx])   // U -> B
				dst[dstIdx+3] = 0
			}
		}
	}
}

// zywrleAlignedSize rounds width and height down to multiples of 2^level,
// the granularity the wavelet needs.
func zywrleAlignedSize(width, height, level int) (int, int) {
	mask := ^((1 << level) - 1)
	return width & mask, height & mask
}

// zywrleAnalyze runs the wavelet preprocessing over src (RGBA32) and
// returns a width*height*4 buffer ready for ZRLE tile encoding, or nil
// when the rectangle is too small for even one decomposition at the given
// level. Pixels in the unaligned right and bottom borders are passed
// through untouched.
func zywrleAnalyze(src []byte, width, height, level int) []byte {
	w, h := zywrleAlignedSize(width, height, level)
	if w == 0 || h == 0 {
		return nil
	}

	uw := width - w
	uh := height - h

	dst := make([]byte, width*height*4)

	// Right edge.
	if uw > 0 {
		for y := 0; y < h; y++ {
			off := (y*width + w) * 4
			copy(dst[off:off+uw*4], src[off:off+uw*4])
		}
	}

	// Bottom edge, including the bottom-right corner.
	if uh > 0 {
		off := h * width * 4
		copy(dst[off:], src[off:])
	}

	buf := make([]int8, w*h*4)
	zywrleRGBToYUV(buf, src, w, h, width)
	zywrleWavelet(buf, w, h, level)

	for l := 0; l < level; l++ {
		zywrlePackCoeff(buf, dst, 3, w, h, width, l) // Hxy
		zywrlePackCoeff(buf, dst, 2, w, h, width, l) // Hy
		zywrlePackCoeff(buf, dst, 1, w, h, width, l) // Hx
		if l == level-1 {
			zywrlePackCoeff(buf, dst, 0, w, h, width, l) // L, last level only
		}
	}

	return dst
}

// EncodeZYWRLE wavelet-filters the rectangle and hands the result to the
// ZRLE tile encoder, so the wire format and the persistent zlib stream
// stay identical to plain ZRLE; only the pixel content differs. A
// rectangle too small to decompose at the derived level degrades to plain
// ZRLE, which is valid ZYWRLE output (the filter is allowed to be a
// no-op).
func EncodeZYWRLE(pixels []byte, width, height int, client protocol.PixelFormat, quality int, stream *ZlibStream) ([]byte, error) {
	level := zywrleLevel(quality)

	filtered := zywrleAnalyze(pixels, width, height, level)
	if filtered == nil {
		return EncodeZRLE(pixels, width, height, client, stream)
	}
	return EncodeZRLE(filtered, width, height, client, stream)
}
