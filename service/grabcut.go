package service

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/adnanwahab/vizcom-trial/config"
	"github.com/adnanwahab/vizcom-trial/model"
	"github.com/adnanwahab/vizcom-trial/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// GrabCut mask labels.
const (
	gcBackground     = 0
	gcForeground     = 1
	gcProbForeground = 3
)

const seedRadius = 2

// GrabCutProvider segments with OpenCV GrabCut. It needs no model files or
// network, so it serves as an offline fallback. A box prompt is the initial
// rectangle; a point prompt seeds a salient rectangle and is then pinned as
// sure foreground (or background) for a refinement pass.
type GrabCutProvider struct {
	iterations int
	maxSize    int
	kernelSize int
	saliency   *SaliencyDetector
	processor  *MaskProcessor
}

func NewGrabCutProvider(cfg *config.GrabCutConfig) *GrabCutProvider {
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 5
	}
	return &GrabCutProvider{
		iterations: iterations,
		maxSize:    cfg.MaxSize,
		kernelSize: cfg.KernelSize,
		saliency:   NewSaliencyDetector(),
		processor:  NewMaskProcessor(),
	}
}

func (p *GrabCutProvider) Name() string {
	return "grabcut"
}

func (p *GrabCutProvider) Segment(ctx context.Context, img image.Image, prompt model.Prompt, opts model.SegmentOptions) ([]model.Candidate, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if err := prompt.Validate(width, height); err != nil {
		return nil, err
	}
	if width < 3 || height < 3 {
		return nil, model.NewInvalidPromptError(fmt.Sprintf("image %dx%d is too small to segment", width, height))
	}

	startTime := time.Now()

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer src.Close()

	scaled, scale := p.smartResize(src)
	defer scaled.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rect := p.initRect(scaled, prompt, scale)

	mask := gocv.NewMat()
	defer mask.Close()
	bgdModel := gocv.NewMat()
	defer bgdModel.Close()
	fgdModel := gocv.NewMat()
	defer fgdModel.Close()

	gocv.GrabCut(scaled, &mask, rect, &bgdModel, &fgdModel, p.iterations, gocv.GCInitWithRect)

	if prompt.Point != nil {
		label := uint8(gcForeground)
		if prompt.Point.Label == model.LabelBackground {
			label = gcBackground
		}
		pinSeed(&mask, int(prompt.Point.X*scale), int(prompt.Point.Y*scale), label)
		gocv.GrabCut(scaled, &mask, image.Rectangle{}, &bgdModel, &fgdModel, 2, gocv.GCInitWithMask)
	}

	fg := p.processor.ExtractForeground(&mask)
	defer fg.Close()

	if p.kernelSize > 1 {
		smoothed := p.processor.Smooth(fg, p.kernelSize)
		fg.Close()
		fg = smoothed
	}

	if scale != 1.0 {
		full := gocv.NewMat()
		gocv.Resize(fg, &full, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationNearestNeighbor)
		fg.Close()
		fg = full
	}

	result, err := p.processor.FromMat(fg)
	if err != nil {
		return nil, err
	}

	utils.Component("grabcut").Info("image segmented",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Float64("scale", scale),
		zap.Int("foreground", result.Count()),
		zap.Duration("cost", time.Since(startTime)))

	candidates := []model.Candidate{{Mask: result, Score: 1, Stability: 1}}
	return FilterCandidates(candidates, opts), nil
}

// initRect picks the GrabCut rectangle in scaled coordinates. It always
// leaves at least a one pixel border so the background model has samples.
func (p *GrabCutProvider) initRect(img gocv.Mat, prompt model.Prompt, scale float64) image.Rectangle {
	var rect image.Rectangle
	if prompt.Box != nil {
		b := prompt.Box
		rect = image.Rect(int(b.X1*scale), int(b.Y1*scale), int((b.X2+1)*scale), int((b.Y2+1)*scale))
	} else {
		saliency := p.saliency.Detect(img)
		rect = p.saliency.Rect(saliency)
		saliency.Close()

		pt := image.Pt(int(prompt.Point.X*scale), int(prompt.Point.Y*scale))
		if prompt.Point.Label == model.LabelForeground && !pt.In(rect) {
			rect = rect.Union(image.Rect(pt.X-seedRadius, pt.Y-seedRadius, pt.X+seedRadius+1, pt.Y+seedRadius+1))
		}
	}

	inner := image.Rect(1, 1, img.Cols()-1, img.Rows()-1)
	rect = rect.Intersect(inner)
	if rect.Empty() {
		rect = inner
	}
	return rect
}

func (p *GrabCutProvider) smartResize(img gocv.Mat) (gocv.Mat, float64) {
	width, height := img.Cols(), img.Rows()
	maxDim := max(width, height)
	if p.maxSize <= 0 || maxDim <= p.maxSize {
		return img.Clone(), 1.0
	}

	scale := float64(p.maxSize) / float64(maxDim)
	resized := gocv.NewMat()
	gocv.Resize(img, &resized, image.Point{X: int(float64(width) * scale), Y: int(float64(height) * scale)}, 0, 0, gocv.InterpolationArea)
	return resized, scale
}

func pinSeed(mask *gocv.Mat, cx, cy int, label uint8) {
	for y := cy - seedRadius; y <= cy+seedRadius; y++ {
		for x := cx - seedRadius; x <= cx+seedRadius; x++ {
			if x >= 0 && y >= 0 && x < mask.Cols() && y < mask.Rows() {
				mask.SetUCharAt(y, x, label)
			}
		}
	}
}
