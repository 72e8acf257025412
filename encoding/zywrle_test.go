package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhlk/vnc/protocol"
)

func TestZYWRLELevelFromQuality(t *testing.T) {
	// JPEG qualities 15/29/41 sit below 42; 42..77 below 79; the rest map
	// to the lightest decomposition.
	assert.Equal(t, 3, zywrleLevel(0))
	assert.Equal(t, 3, zywrleLevel(2))
	assert.Equal(t, 2, zywrleLevel(3))
	assert.Equal(t, 2, zywrleLevel(5))
	assert.Equal(t, 1, zywrleLevel(6))
	assert.Equal(t, 1, zywrleLevel(9))
	assert.Equal(t, 1, zywrleLevel(-1))
}

func TestZYWRLEConvTables(t *testing.T) {
	// Table 0 zeroes every coefficient; the others must match the
	// reference quantizer at its step boundaries.
	for _, v := range zywrleConv[0] {
		assert.Equal(t, int8(0), v)
	}
	assert.Equal(t, int8(0), zywrleConv[1][22])
	assert.Equal(t, int8(32), zywrleConv[1][23])
	assert.Equal(t, int8(120), zywrleConv[1][127])
	assert.Equal(t, int8(0), zywrleConv[1][128])
	assert.Equal(t, int8(-120), zywrleConv[1][129])
	assert.Equal(t, int8(48), zywrleConv[2][32])
	assert.Equal(t, int8(88), zywrleConv[3][64])
}

func TestHarrKeepsValuesInRange(t *testing.T) {
	// The PLHarr kernel is an N-bit to N-bit transform; whatever the
	// inputs, both outputs must still be representable as signed bytes,
	// which the int8 types enforce. Spot-check the same-sign branch.
	a, b := int8(10), int8(6)
	harr(&a, &b)
	assert.Equal(t, int8(10), a)
	assert.Equal(t, int8(4), b)
}

func TestZYWRLEAlignedSize(t *testing.T) {
	w, h := zywrleAlignedSize(65, 33, 3)
	assert.Equal(t, 64, w)
	assert.Equal(t, 32, h)

	w, h = zywrleAlignedSize(7, 7, 3)
	assert.Equal(t, 0, w)
	assert.Equal(t, 0, h)
}

func TestZYWRLEAnalyzeTooSmallReturnsNil(t *testing.T) {
	assert.Nil(t, zywrleAnalyze(make([]byte, 4*4*4), 4, 4, 3))
}

func TestZYWRLEAnalyzePreservesUnalignedBorder(t *testing.T) {
	// 9x9 at level 3: only the top-left 8x8 is transformed; the last row
	// and column pass through untouched.
	const w, h = 9, 9
	src := make([]byte, w*h*4)
	for i := range src {
		src[i] = byte(i)
	}

	dst := zywrleAnalyze(src, w, h, 3)
	require.NotNil(t, dst)

	for y := 0; y < h; y++ {
		off := (y*w + 8) * 4
		assert.Equal(t, src[off:off+4], dst[off:off+4], "right border row %d", y)
	}
	assert.Equal(t, src[8*w*4:], dst[8*w*4:], "bottom border")
}

func TestZYWRLESolidRegionEncodesSmall(t *testing.T) {
	// All wavelet coefficients of a solid region are zero except the
	// low-pass corner, so ZRLE sees at most two colors per tile and the
	// result stays tiny.
	streams := NewStreams()
	pixels := solidRGBA(64, 64, 200, 100, 50)

	out, err := EncodeZYWRLE(pixels, 64, 64, protocol.RGBA32(), 0, streams.ZRLE)
	require.NoError(t, err)
	assert.Greater(t, len(out), 4)
	assert.Less(t, len(out), 256)
}

func TestZYWRLEFallsBackToZRLEWhenTooSmall(t *testing.T) {
	a := NewStreams()
	b := NewStreams()
	pixels := solidRGBA(2, 2, 1, 2, 3)

	viaZYWRLE, err := EncodeZYWRLE(pixels, 2, 2, protocol.RGBA32(), 0, a.ZRLE)
	require.NoError(t, err)
	viaZRLE, err := EncodeZRLE(pixels, 2, 2, protocol.RGBA32(), b.ZRLE)
	require.NoError(t, err)

	assert.Equal(t, viaZRLE, viaZYWRLE)
}
