package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslatePixelsNoTranslation(t *testing.T) {
	server := RGBA32()
	client := RGBA32()

	src := []byte{255, 0, 0, 0, 0, 255, 0, 0} // red, green pixels
	dst := TranslatePixels(src, server, client)

	assert.Equal(t, src, dst)
}

func TestTranslatePixelsZeroesPaddingByte(t *testing.T) {
	// Hosts often hand over pixels with alpha set; on the wire the high
	// byte is padding and must be zero.
	src := []byte{255, 0, 0, 255, 0, 255, 0, 255}
	dst := TranslatePixels(src, RGBA32(), RGBA32())

	assert.Equal(t, []byte{255, 0, 0, 0, 0, 255, 0, 0}, dst)
}

func TestTranslatePixelsRGBA32ToRGB565(t *testing.T) {
	server := RGBA32()
	client := PixelFormat{
		BitsPerPixel: 16, Depth: 16, BigEndianFlag: 0, TrueColorFlag: 1,
		RedMax: 31, GreenMax: 63, BlueMax: 31,
		RedShift: 11, GreenShift: 5, BlueShift: 0,
	}

	src := []byte{255, 0, 0, 0} // pure red
	dst := TranslatePixels(src, server, client)

	assert.Len(t, dst, 2)
	value := uint16(dst[0]) | uint16(dst[1])<<8
	assert.Equal(t, uint16(0xF800), value)
}

func TestExtractRGBFromRGBA32(t *testing.T) {
	format := RGBA32()
	pixel := []byte{128, 64, 32, 0}

	r, g, b := extractRGB(pixel, format)
	assert.Equal(t, uint8(128), r)
	assert.Equal(t, uint8(64), g)
	assert.Equal(t, uint8(32), b)
}

func TestScaleComponent(t *testing.T) {
	assert.Equal(t, uint8(0), scaleComponent(0, 31))
	assert.Equal(t, uint8(255), scaleComponent(31, 31))
	assert.Equal(t, uint8(123), scaleComponent(15, 31))
	assert.Equal(t, uint8(128), scaleComponent(128, 255))
}

func TestDownscaleComponent(t *testing.T) {
	assert.Equal(t, uint16(0), downscaleComponent(0, 31))
	assert.Equal(t, uint16(31), downscaleComponent(255, 31))
	assert.Equal(t, uint16(16), downscaleComponent(128, 31)) // rounds to nearest
	assert.Equal(t, uint16(128), downscaleComponent(128, 255))
}

// clientPixelBytes marshals one packed pixel value in pf's width and
// endianness, mirroring packPixel's final step.
func clientPixelBytes(pf PixelFormat, v uint32) []byte {
	switch pf.BitsPerPixel {
	case 8:
		return []byte{byte(v)}
	case 16:
		if pf.BigEndianFlag != 0 {
			return []byte{byte(v >> 8), byte(v)}
		}
		return []byte{byte(v), byte(v >> 8)}
	default:
		if pf.BigEndianFlag != 0 {
			return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
		}
		return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	}
}

func TestTranslateRoundTripIsLosslessForClientValues(t *testing.T) {
	// Any color a narrow client format can express must survive the trip
	// through the server's 8-bit space unchanged. Channels scale
	// independently, so sweeping each alone covers the space.
	for _, client := range []PixelFormat{RGB565(), RGB555(), BGR233()} {
		sweep := func(max uint16, shift uint8) {
			for v := uint32(0); v <= uint32(max); v++ {
				src := clientPixelBytes(client, v<<shift)
				viaServer := TranslatePixels(src, client, RGBA32())
				back := TranslatePixels(viaServer, RGBA32(), client)
				assert.Equal(t, src, back, "bpp=%d value=%d shift=%d", client.BitsPerPixel, v, shift)
			}
		}
		sweep(client.RedMax, client.RedShift)
		sweep(client.GreenMax, client.GreenShift)
		sweep(client.BlueMax, client.BlueShift)
	}
}

func TestTranslateServerRoundTripWithinTolerance(t *testing.T) {
	// Server pixels pushed through a lossy client format must come back
	// within one quantization step per channel.
	client := RGB565()
	for _, v := range []uint8{0, 1, 7, 63, 127, 128, 200, 254, 255} {
		src := []byte{v, v, v, 0}
		back := TranslatePixels(TranslatePixels(src, RGBA32(), client), client, RGBA32())

		tolR := (255 + int(client.RedMax) - 1) / int(client.RedMax)
		tolG := (255 + int(client.GreenMax) - 1) / int(client.GreenMax)
		assert.InDelta(t, int(v), int(back[0]), float64(tolR))
		assert.InDelta(t, int(v), int(back[1]), float64(tolG))
		assert.InDelta(t, int(v), int(back[2]), float64(tolR))
	}
}

func TestPixelFormatValidity(t *testing.T) {
	assert.True(t, RGBA32().IsValid())
	assert.True(t, RGB565().IsValid())

	bad := RGBA32()
	bad.BitsPerPixel = 17
	assert.False(t, bad.IsValid())
}

func TestRectangleIntersect(t *testing.T) {
	a := Rectangle{X: 0, Y: 0, Width: 10, Height: 10}
	b := Rectangle{X: 5, Y: 5, Width: 10, Height: 10}

	r, ok := Intersect(a, b)
	assert.True(t, ok)
	assert.Equal(t, Rectangle{X: 5, Y: 5, Width: 5, Height: 5}, r)

	c := Rectangle{X: 20, Y: 20, Width: 5, Height: 5}
	_, ok = Intersect(a, c)
	assert.False(t, ok)
}
