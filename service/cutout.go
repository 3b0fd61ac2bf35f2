package service

import (
	"fmt"
	"image"

	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/disintegration/imaging"
)

// ExtractCutout crops img to the tight bounding box of mask and sets alpha to
// 255 inside the mask and 0 outside. The box is inclusive, so the cutout is
// (XMax-XMin+1) x (YMax-YMin+1).
func ExtractCutout(img image.Image, mask *model.Mask) (*model.Cutout, error) {
	bounds := img.Bounds()
	if bounds.Dx() != mask.Width || bounds.Dy() != mask.Height {
		return nil, fmt.Errorf("mask is %dx%d but image is %dx%d",
			mask.Width, mask.Height, bounds.Dx(), bounds.Dy())
	}

	box, ok := mask.Bounds()
	if !ok {
		return nil, model.ErrEmptyMask
	}

	crop := imaging.Crop(img, box.Rect().Add(bounds.Min))
	for y := 0; y < box.Height(); y++ {
		row := crop.Pix[y*crop.Stride:]
		for x := 0; x < box.Width(); x++ {
			alpha := uint8(0)
			if mask.At(box.XMin+x, box.YMin+y) {
				alpha = 255
			}
			row[x*4+3] = alpha
		}
	}

	return &model.Cutout{Image: crop, Box: box}, nil
}

// SaveCutout writes the cutout as PNG.
func SaveCutout(path string, cutout *model.Cutout) error {
	return imaging.Save(cutout.Image, path)
}
