package model

import (
	"image"
)

// Mask is a per-pixel membership grid with the same size as its source image.
type Mask struct {
	Width  int
	Height int
	Pix    []bool
}

// NewMask allocates an all-false mask.
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]bool, width*height),
	}
}

// At reports whether (x, y) is inside the mask. Out of range coordinates are false.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x]
}

func (m *Mask) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// Count returns the number of true pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// Bounds returns the tight bounding box of the true pixels. ok is false for an
// all-false mask.
func (m *Mask) Bounds() (box BBox, ok bool) {
	box = BBox{XMin: m.Width, YMin: m.Height, XMax: -1, YMax: -1}
	for y := 0; y < m.Height; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if !v {
				continue
			}
			box.XMin = min(box.XMin, x)
			box.XMax = max(box.XMax, x)
			box.YMin = min(box.YMin, y)
			box.YMax = max(box.YMax, y)
		}
	}
	if box.XMax < 0 {
		return BBox{}, false
	}
	return box, true
}

// Bytes returns the mask as a row-major 0/255 buffer.
func (m *Mask) Bytes() []byte {
	out := make([]byte, len(m.Pix))
	for i, v := range m.Pix {
		if v {
			out[i] = 255
		}
	}
	return out
}

// Gray renders the mask as a single channel image.
func (m *Mask) Gray() *image.Gray {
	return &image.Gray{
		Pix:    m.Bytes(),
		Stride: m.Width,
		Rect:   image.Rect(0, 0, m.Width, m.Height),
	}
}

// MaskFromImage thresholds any image into a mask: a pixel is set when its
// luminance is above threshold (0-255).
func MaskFromImage(img image.Image, threshold uint8) *Mask {
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			lum := (19595*r + 38470*g + 7471*bl + 1<<15) >> 24
			if uint8(lum) > threshold {
				m.Pix[(y-b.Min.Y)*m.Width+(x-b.Min.X)] = true
			}
		}
	}
	return m
}

// BBox is an inclusive pixel bounding box.
type BBox struct {
	XMin int `json:"x_min"`
	XMax int `json:"x_max"`
	YMin int `json:"y_min"`
	YMax int `json:"y_max"`
}

func (b BBox) Width() int {
	return b.XMax - b.XMin + 1
}

func (b BBox) Height() int {
	return b.YMax - b.YMin + 1
}

// Rect converts the box to a half-open image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax+1, b.YMax+1)
}

// Center returns the midpoint of the box, as the revolve axis uses it.
func (b BBox) Center() (float64, float64) {
	return float64(b.XMin+b.XMax) / 2, float64(b.YMin+b.YMax) / 2
}

// Candidate is one mask proposed by a segmentation provider.
type Candidate struct {
	Mask  *Mask
	Score float64
	// Stability is the logit stability score; providers without logits report 1.
	Stability float64
}

// Cutout is an image cropped to a mask's bounding box with alpha taken from
// the cropped mask.
type Cutout struct {
	Image *image.NRGBA
	Box   BBox
}

// Contour is a closed boundary polygon traced from a mask.
type Contour struct {
	Points []image.Point
	Area   float64
}
