package service

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/adnanwahab/vizcom-trial/model"
)

// fakeProvider returns fixed candidates and records the prompts it saw.
type fakeProvider struct {
	candidates []model.Candidate
	err        error
	prompts    []model.Prompt
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Segment(ctx context.Context, img image.Image, prompt model.Prompt, opts model.SegmentOptions) ([]model.Candidate, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func circleMask(width, height, cx, cy, r int) *model.Mask {
	m := model.NewMask(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				m.Set(x, y, true)
			}
		}
	}
	return m
}

func rectMask(width, height int, r image.Rectangle) *model.Mask {
	m := model.NewMask(width, height)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Set(x, y, true)
		}
	}
	return m
}

func solidImage(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func circleArea(r float64) float64 {
	return math.Pi * r * r
}
