package protocol

// TranslatePixels converts src, laid out in serverFormat, into
// clientFormat. When both formats describe the same layout the pixels copy
// straight through; for RGBA32 the padding byte is forced to zero: the
// host may have written alpha there, and on the wire it is padding.
func TranslatePixels(src []byte, serverFormat, clientFormat PixelFormat) []byte {
	if pixelFormatsEqual(serverFormat, clientFormat) {
		out := make([]byte, len(src))
		copy(out, src)
		if serverFormat.IsCompatibleWithRGBA32() {
			for i := 3; i < len(out); i += 4 {
				out[i] = 0
			}
		}
		return out
	}

	srcBPP := int(serverFormat.BitsPerPixel) / 8
	if srcBPP == 0 {
		srcBPP = 1
	}
	if len(src)%srcBPP != 0 {
		panic("protocol: TranslatePixels source length is not a whole number of pixels")
	}

	pixelCount := len(src) / srcBPP
	dstBPP := int(clientFormat.BitsPerPixel / 8)
	dst := make([]byte, 0, pixelCount*dstBPP)

	for i := 0; i < pixelCount; i++ {
		off := i * srcBPP
		r, g, b := extractRGB(src[off:off+srcBPP], serverFormat)
		dst = packPixel(dst, r, g, b, clientFormat)
	}

	return dst
}

// extractRGB reads a single pixel out of the given format and returns its
// R, G, B components scaled to 8 bits.
func extractRGB(pixel []byte, format PixelFormat) (r, g, b uint8) {
	var pixelValue uint32

	switch format.BitsPerPixel {
	case 8:
		pixelValue = uint32(pixel[0])
	case 16:
		if format.BigEndianFlag != 0 {
			pixelValue = uint32(pixel[0])<<8 | uint32(pixel[1])
		} else {
			pixelValue = uint32(pixel[1])<<8 | uint32(pixel[0])
		}
	case 24:
		if format.BigEndianFlag != 0 {
			pixelValue = uint32(pixel[0])<<16 | uint32(pixel[1])<<8 | uint32(pixel[2])
		} else {
			pixelValue = uint32(pixel[2])<<16 | uint32(pixel[1])<<8 | uint32(pixel[0])
		}
	case 32:
		if format.BigEndianFlag != 0 {
			pixelValue = uint32(pixel[0])<<24 | uint32(pixel[1])<<16 | uint32(pixel[2])<<8 | uint32(pixel[3])
		} else {
			pixelValue = uint32(pixel[3])<<24 | uint32(pixel[2])<<16 | uint32(pixel[1])<<8 | uint32(pixel[0])
		}
	default:
		pixelValue = uint32(pixel[0])
	}

	rRaw := (pixelValue >> format.RedShift) & uint32(format.RedMax)
	gRaw := (pixelValue >> format.GreenShift) & uint32(format.GreenMax)
	bRaw := (pixelValue >> format.BlueShift) & uint32(format.BlueMax)

	return scaleComponent(rRaw, format.RedMax), scaleComponent(gRaw, format.GreenMax), scaleComponent(bRaw, format.BlueMax)
}

// packPixel scales r, g, b down to format's component ranges, combines them
// with format's shifts, and appends the result to dst in format's
// bits-per-pixel and endianness.
func packPixel(dst []byte, r, g, b uint8, format PixelFormat) []byte {
	rScaled := downscaleComponent(r, format.RedMax)
	gScaled := downscaleComponent(g, format.GreenMax)
	bScaled := downscaleComponent(b, format.BlueMax)

	pixelValue := uint32(rScaled)<<format.RedShift | uint32(gScaled)<<format.GreenShift | uint32(bScaled)<<format.BlueShift

	switch format.BitsPerPixel {
	case 8:
		return append(dst, uint8(pixelValue))
	case 16:
		if format.BigEndianFlag != 0 {
			return append(dst, uint8(pixelValue>>8), uint8(pixelValue))
		}
		return append(dst, uint8(pixelValue), uint8(pixelValue>>8))
	case 24:
		if format.BigEndianFlag != 0 {
			return append(dst, uint8(pixelValue>>16), uint8(pixelValue>>8), uint8(pixelValue))
		}
		return append(dst, uint8(pixelValue), uint8(pixelValue>>8), uint8(pixelValue>>16))
	case 32:
		if format.BigEndianFlag != 0 {
			return append(dst, uint8(pixelValue>>24), uint8(pixelValue>>16), uint8(pixelValue>>8), uint8(pixelValue))
		}
		return append(dst, uint8(pixelValue), uint8(pixelValue>>8), uint8(pixelValue>>16), uint8(pixelValue>>24))
	default:
		return append(dst, uint8(pixelValue))
	}
}

// scaleComponent scales a component from [0, max] up to [0, 255].
func scaleComponent(value uint32, max uint16) uint8 {
	if max == 0 {
		return 0
	}
	if max == 255 {
		return uint8(value)
	}
	return uint8((uint64(value) * 255) / uint64(max))
}

// downscaleComponent scales a component from [0, 255] down to [0, max],
// rounding to nearest so that any value a narrow client format can
// express survives a trip through 8-bit space unchanged.
func downscaleComponent(value uint8, max uint16) uint16 {
	if max == 0 {
		return 0
	}
	if max == 255 {
		return uint16(value)
	}
	return uint16((uint32(value)*uint32(max) + 127) / 255)
}

func pixelFormatsEqual(a, b PixelFormat) bool {
	if a.BitsPerPixel != b.BitsPerPixel || a.Depth != b.Depth || a.TrueColorFlag != b.TrueColorFlag {
		return false
	}
	if a.BitsPerPixel != 8 && a.BigEndianFlag != b.BigEndianFlag {
		return false
	}
	if a.TrueColorFlag == 0 {
		return true
	}
	return a.RedMax == b.RedMax && a.GreenMax == b.GreenMax && a.BlueMax == b.BlueMax &&
		a.RedShift == b.RedShift && a.GreenShift == b.GreenShift && a.BlueShift == b.BlueShift
}
