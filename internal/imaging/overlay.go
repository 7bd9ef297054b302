// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package imaging

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// referenceWidth is the frame width at which a text scale of 1 draws
	// the 7x13 face at its native size.
	referenceWidth = 640
	minTextScale   = 1
	textPadding    = 2
)

var (
	textColor       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	backgroundColor = color.RGBA{A: 160}
)

// TextScale returns the integer magnification used for overlay text on a
// frame of the given width. The scale never drops below 1.
func TextScale(frameWidth int, factor float64) int {
	if factor <= 0 {
		factor = 1
	}
	s := int(float64(frameWidth) / referenceWidth * factor)
	if s < minTextScale {
		s = minTextScale
	}
	return s
}

// DrawOverlay renders left aligned and right aligned labels along the bottom
// edge of img. Empty labels are skipped.
func DrawOverlay(img *image.RGBA, left, right string, factor float64) {
	b := img.Bounds()
	scale := TextScale(b.Dx(), factor)
	if left != "" {
		label := renderLabel(left)
		lb := label.Bounds()
		pos := image.Pt(b.Min.X+textPadding*scale, b.Max.Y-lb.Dy()*scale-textPadding*scale)
		blit(img, label, pos, scale)
	}
	if right != "" {
		label := renderLabel(right)
		lb := label.Bounds()
		pos := image.Pt(b.Max.X-lb.Dx()*scale-textPadding*scale, b.Max.Y-lb.Dy()*scale-textPadding*scale)
		blit(img, label, pos, scale)
	}
}

// renderLabel draws text at native size onto a translucent background.
func renderLabel(text string) *image.RGBA {
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	w := d.MeasureString(text).Ceil() + 2*textPadding
	h := face.Metrics().Height.Ceil() + 2*textPadding

	label := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(label, label.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	d.Dst = label
	d.Src = image.NewUniform(textColor)
	d.Dot = fixed.Point26_6{X: fixed.I(textPadding), Y: fixed.I(textPadding + face.Ascent)}
	d.DrawString(text)
	return label
}

func blit(dst *image.RGBA, label *image.RGBA, at image.Point, scale int) {
	lb := label.Bounds()
	target := image.Rect(at.X, at.Y, at.X+lb.Dx()*scale, at.Y+lb.Dy()*scale)
	if scale == 1 {
		draw.Draw(dst, target, label, lb.Min, draw.Over)
		return
	}
	draw.NearestNeighbor.Scale(dst, target, label, lb, draw.Over, nil)
}
