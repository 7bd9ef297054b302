// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package motion scores frames against an adaptive background and debounces
// the scores into motion start and end transitions.
package motion

import (
	"image"

	"github.com/ManuGH/vigil/internal/imaging"
)

const (
	// LearningRate is the weight of a new frame in the running background.
	LearningRate = 0.05
	// PixelThreshold is the luma difference above which a pixel counts as
	// changed.
	PixelThreshold = 25
)

// Detector keeps a per-pixel running-average background model. It is not
// safe for concurrent use; the pipeline goroutine owns it.
type Detector struct {
	analysisHeight int
	despeckle      bool

	bg     []float32
	w, h   int
	mask   []uint8
	scrap  []uint8
	seeded bool
}

// NewDetector returns a detector that downsizes frames taller than
// analysisHeight (0 analyses at full size) and optionally removes isolated
// changed pixels with a 3x3 erode then dilate.
func NewDetector(analysisHeight int, despeckle bool) *Detector {
	return &Detector{analysisHeight: analysisHeight, despeckle: despeckle}
}

// Reset drops the background; the next frame seeds it again.
func (d *Detector) Reset() {
	d.seeded = false
	d.bg = nil
}

// Score returns the fraction of changed pixels in img. The first frame after
// creation, Reset or a size change seeds the background and scores zero.
func (d *Detector) Score(img *image.RGBA) float64 {
	if img == nil {
		return 0
	}
	small := imaging.ResizeToHeight(img, d.analysisHeight)
	gray := imaging.Gray(small)
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	n := w * h
	if n == 0 {
		return 0
	}

	if !d.seeded || w != d.w || h != d.h {
		d.seed(gray, w, h)
		return 0
	}

	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x, p := range row {
			i := y*w + x
			v := float32(p)
			diff := v - d.bg[i]
			if diff < 0 {
				diff = -diff
			}
			if diff > PixelThreshold {
				d.mask[i] = 1
			} else {
				d.mask[i] = 0
			}
			d.bg[i] += LearningRate * (v - d.bg[i])
		}
	}

	if d.despeckle {
		morph(d.scrap, d.mask, w, h, false)
		morph(d.mask, d.scrap, w, h, true)
	}

	changed := 0
	for _, m := range d.mask {
		changed += int(m)
	}
	return float64(changed) / float64(n)
}

func (d *Detector) seed(gray *image.Gray, w, h int) {
	n := w * h
	d.w, d.h = w, h
	d.bg = make([]float32, n)
	d.mask = make([]uint8, n)
	d.scrap = make([]uint8, n)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x, p := range row {
			d.bg[y*w+x] = float32(p)
		}
	}
	d.seeded = true
}

// morph writes a 3x3 erosion (dilate=false) or dilation of src into dst.
// Out-of-bounds neighbours are ignored.
func morph(dst, src []uint8, w, h int, dilate bool) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var out uint8
			if !dilate {
				out = 1
			}
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					v := src[yy*w+xx]
					if dilate && v == 1 {
						out = 1
					} else if !dilate && v == 0 {
						out = 0
					}
				}
			}
			dst[y*w+x] = out
		}
	}
}
