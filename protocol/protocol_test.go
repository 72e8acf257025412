package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelFormatWriteToMatchesRGBA32Layout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RGBA32().WriteTo(&buf))
	assert.Equal(t, []byte{32, 24, 0, 1, 0, 255, 0, 255, 0, 255, 0, 8, 16, 0, 0, 0}, buf.Bytes())
}

func TestPixelFormatRoundTripsThroughReadPixelFormat(t *testing.T) {
	for _, pf := range []PixelFormat{RGBA32(), RGB565(), RGB555(), BGR233()} {
		var buf bytes.Buffer
		require.NoError(t, pf.WriteTo(&buf))
		got, err := ReadPixelFormat(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, pf, got)
	}
}

func TestReadPixelFormatRejectsShortInput(t *testing.T) {
	_, err := ReadPixelFormat(make([]byte, 10))
	assert.Error(t, err)
}

func TestPixelFormatIsValidRejectsOverflowingComponents(t *testing.T) {
	pf := RGBA32()
	pf.Depth = 8
	assert.False(t, pf.IsValid())
}

func TestPixelFormatIsValidRejectsUnsupportedBitsPerPixel(t *testing.T) {
	pf := RGBA32()
	pf.BitsPerPixel = 12
	assert.False(t, pf.IsValid())
}

func TestServerInitWriteToMatchesDocumentedVector(t *testing.T) {
	si := ServerInit{
		FramebufferWidth:  800,
		FramebufferHeight: 600,
		PixelFormat:       RGBA32(),
		Name:              "Go VNC Server",
	}
	var buf bytes.Buffer
	require.NoError(t, si.WriteTo(&buf))

	out := buf.Bytes()
	assert.Equal(t, []byte{0x03, 0x20}, out[0:2]) // width 800
	assert.Equal(t, []byte{0x02, 0x58}, out[2:4]) // height 600
	assert.Equal(t, []byte{32, 24, 0, 1, 0, 255, 0, 255, 0, 255, 0, 8, 16, 0, 0, 0}, out[4:20])
	assert.Equal(t, []byte{0, 0, 0, 13}, out[20:24]) // name length
	assert.Equal(t, "Go VNC Server", string(out[24:]))
}

func TestRectangleWriteHeaderEncodesFieldsBigEndian(t *testing.T) {
	r := Rectangle{X: 1, Y: 2, Width: 3, Height: 4, Encoding: EncodingTight}
	var buf bytes.Buffer
	require.NoError(t, r.WriteHeader(&buf))

	out := buf.Bytes()
	require.Len(t, out, 12)
	assert.Equal(t, []byte{0, 1}, out[0:2])
	assert.Equal(t, []byte{0, 2}, out[2:4])
	assert.Equal(t, []byte{0, 3}, out[4:6])
	assert.Equal(t, []byte{0, 4}, out[6:8])
	assert.Equal(t, uint32(EncodingTight), binary.BigEndian.Uint32(out[8:12]))
}

func TestIntersectOverlapping(t *testing.T) {
	a := Rectangle{X: 0, Y: 0, Width: 10, Height: 10}
	b := Rectangle{X: 5, Y: 5, Width: 10, Height: 10}
	got, ok := Intersect(a, b)
	assert.True(t, ok)
	assert.Equal(t, Rectangle{X: 5, Y: 5, Width: 5, Height: 5}, got)
}

func TestIntersectDisjointReturnsFalse(t *testing.T) {
	a := Rectangle{X: 0, Y: 0, Width: 5, Height: 5}
	b := Rectangle{X: 10, Y: 10, Width: 5, Height: 5}
	_, ok := Intersect(a, b)
	assert.False(t, ok)
}
