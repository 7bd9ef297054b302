// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package imaging contains the frame transforms applied by the camera
// pipeline: resize, rotate, overlay text and encoding.
package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// ToRGBA returns img as *image.RGBA with a zero origin, copying only when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Resize scales src to w x h. It returns src unchanged when the size already
// matches or the target is not positive.
func Resize(src *image.RGBA, w, h int) *image.RGBA {
	if w <= 0 || h <= 0 {
		return src
	}
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// ResizeToHeight scales src to height h keeping the aspect ratio. Images
// already at or below h are returned unchanged.
func ResizeToHeight(src *image.RGBA, h int) *image.RGBA {
	b := src.Bounds()
	if h <= 0 || b.Dy() <= h {
		return src
	}
	w := b.Dx() * h / b.Dy()
	if w < 1 {
		w = 1
	}
	// even dimensions keep yuv420 encoders happy
	w -= w % 2
	if w == 0 {
		w = 2
	}
	return Resize(src, w, h)
}

// Rotate turns src clockwise by 0, 90, 180 or 270 degrees. Other values are
// treated as 0.
func Rotate(src *image.RGBA, degrees int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	switch degrees {
	case 90:
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				copyPixel(dst, h-1-y, x, src, x, y)
			}
		}
		return dst
	case 180:
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				copyPixel(dst, w-1-x, h-1-y, src, x, y)
			}
		}
		return dst
	case 270:
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				copyPixel(dst, y, w-1-x, src, x, y)
			}
		}
		return dst
	default:
		return src
	}
}

func copyPixel(dst *image.RGBA, dx, dy int, src *image.RGBA, sx, sy int) {
	si := src.PixOffset(sx+src.Rect.Min.X, sy+src.Rect.Min.Y)
	di := dst.PixOffset(dx, dy)
	copy(dst.Pix[di:di+4], src.Pix[si:si+4])
}

// Gray converts src to 8-bit luma using the ITU-R BT.601 weights.
func Gray(src *image.RGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		si := src.PixOffset(b.Min.X, b.Min.Y+y)
		di := dst.PixOffset(0, y)
		for x := 0; x < b.Dx(); x++ {
			r := uint32(src.Pix[si])
			g := uint32(src.Pix[si+1])
			bl := uint32(src.Pix[si+2])
			dst.Pix[di+x] = uint8((299*r + 587*g + 114*bl + 500) / 1000)
			si += 4
		}
	}
	return dst
}

// Clone returns a deep copy of src.
func Clone(src *image.RGBA) *image.RGBA {
	dst := &image.RGBA{
		Pix:    make([]byte, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(dst.Pix, src.Pix)
	return dst
}
