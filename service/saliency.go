package service

import (
	"image"

	"gocv.io/x/gocv"
)

// SaliencyDetector finds the region of an image that stands out from its
// surroundings, using blurred gradient magnitude and an Otsu threshold.
type SaliencyDetector struct{}

func NewSaliencyDetector() *SaliencyDetector {
	return &SaliencyDetector{}
}

// Detect returns a binary 0/255 saliency map of a BGR image. The caller
// closes it.
func (sd *SaliencyDetector) Detect(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	gradX := gocv.NewMat()
	defer gradX.Close()
	gradY := gocv.NewMat()
	defer gradY.Close()
	gocv.Sobel(gray, &gradX, gocv.MatTypeCV16S, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray, &gradY, gocv.MatTypeCV16S, 0, 1, 3, 1, 0, gocv.BorderDefault)

	absX := gocv.NewMat()
	defer absX.Close()
	absY := gocv.NewMat()
	defer absY.Close()
	gocv.ConvertScaleAbs(gradX, &absX, 1, 0)
	gocv.ConvertScaleAbs(gradY, &absY, 1, 0)

	gradient := gocv.NewMat()
	defer gradient.Close()
	gocv.AddWeighted(absX, 0.5, absY, 0.5, 0, &gradient)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gradient, &blurred, image.Point{X: 21, Y: 21}, 0, 0, gocv.BorderDefault)

	saliency := gocv.NewMat()
	gocv.Threshold(blurred, &saliency, 0, 255, gocv.ThresholdOtsu)
	return saliency
}

// Rect returns the padded bounding rectangle of the largest salient blob.
// Without any blob it falls back to the image inset by 10%.
func (sd *SaliencyDetector) Rect(saliency gocv.Mat) image.Rectangle {
	width, height := saliency.Cols(), saliency.Rows()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 21, Y: 21})
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(saliency, &dilated, kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	maxArea := 0.0
	var rect image.Rectangle
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > maxArea {
			maxArea = area
			rect = gocv.BoundingRect(contours.At(i))
		}
	}
	if maxArea == 0 {
		border := width / 10
		return image.Rect(border, height/10, width-border, height-height/10)
	}

	padding := rect.Dx() / 20
	return image.Rect(rect.Min.X-padding, rect.Min.Y-padding, rect.Max.X+padding, rect.Max.Y+padding).
		Intersect(image.Rect(0, 0, width, height))
}
