// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package imaging

import (
	"bytes"
	"image"
	"image/jpeg"
)

// EncodeJPEG encodes img at the given quality (clamped to 1..100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AppendRGB24 appends the packed rgb24 pixels of img to dst. This is the
// raw layout the encoder reads from its stdin.
func AppendRGB24(dst []byte, img *image.RGBA) []byte {
	b := img.Bounds()
	need := b.Dx() * b.Dy() * 3
	if cap(dst)-len(dst) < need {
		grown := make([]byte, len(dst), len(dst)+need)
		copy(grown, dst)
		dst = grown
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := img.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			dst = append(dst, img.Pix[i], img.Pix[i+1], img.Pix[i+2])
			i += 4
		}
	}
	return dst
}
