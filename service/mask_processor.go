package service

import (
	"fmt"
	"image"
	"unsafe"

	"github.com/adnanwahab/vizcom-trial/model"
	"gocv.io/x/gocv"
)

// MaskProcessor holds the gocv operations on binary masks.
type MaskProcessor struct{}

func NewMaskProcessor() *MaskProcessor {
	return &MaskProcessor{}
}

// ExtractForeground turns a GrabCut label mask into a 0/255 mask of sure and
// probable foreground.
func (mp *MaskProcessor) ExtractForeground(labels *gocv.Mat) gocv.Mat {
	fg := gocv.NewMat()
	defer fg.Close()
	sure := gocv.NewMatFromScalar(gocv.Scalar{Val1: gcForeground}, gocv.MatTypeCV8U)
	defer sure.Close()
	gocv.Compare(*labels, sure, &fg, gocv.CompareEQ)

	probable := gocv.NewMat()
	defer probable.Close()
	prob := gocv.NewMatFromScalar(gocv.Scalar{Val1: gcProbForeground}, gocv.MatTypeCV8U)
	defer prob.Close()
	gocv.Compare(*labels, prob, &probable, gocv.CompareEQ)

	combined := gocv.NewMat()
	gocv.BitwiseOr(fg, probable, &combined)
	return combined
}

// ToMat converts a mask to a single channel 0/255 Mat. The caller closes it.
func (mp *MaskProcessor) ToMat(mask *model.Mask) (gocv.Mat, error) {
	return gocv.NewMatFromBytes(mask.Height, mask.Width, gocv.MatTypeCV8U, mask.Bytes())
}

// LargestContour traces the external boundaries of mask (holes are ignored)
// and returns the one enclosing the largest area.
func (mp *MaskProcessor) LargestContour(mask *model.Mask) (model.Contour, error) {
	if mask.Count() == 0 {
		return model.Contour{}, model.ErrNoContourFound
	}

	mat, err := mp.ToMat(mask)
	if err != nil {
		return model.Contour{}, fmt.Errorf("failed to convert mask: %w", err)
	}
	defer mat.Close()

	contours := gocv.FindContours(mat, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	maxArea := -1.0
	maxIndex := -1
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if c.Size() < 3 {
			continue
		}
		area := gocv.ContourArea(c)
		if area > maxArea {
			maxArea = area
			maxIndex = i
		}
	}
	if maxIndex < 0 {
		return model.Contour{}, model.ErrNoContourFound
	}

	return model.Contour{
		Points: contours.At(maxIndex).ToPoints(),
		Area:   maxArea,
	}, nil
}

// FromMat converts a single channel 8-bit Mat to a mask; non-zero pixels are set.
func (mp *MaskProcessor) FromMat(mat gocv.Mat) (*model.Mask, error) {
	if mat.Type() != gocv.MatTypeCV8U {
		return nil, fmt.Errorf("expected 8-bit single channel mat, got %v", mat.Type())
	}
	data, err := mat.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to read mat: %w", err)
	}

	mask := model.NewMask(mat.Cols(), mat.Rows())
	for i := range mask.Pix {
		mask.Pix[i] = data[i] != 0
	}
	return mask, nil
}

// Smooth removes specks with a morphological open and fills pinholes with a
// close. The caller closes the result.
func (mp *MaskProcessor) Smooth(mask gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(mask, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
	return closed
}

// EncodePNG encodes the mask as a single channel PNG.
func (mp *MaskProcessor) EncodePNG(mask *model.Mask) ([]byte, error) {
	mat, err := mp.ToMat(mask)
	if err != nil {
		return nil, fmt.Errorf("failed to convert mask: %w", err)
	}
	defer mat.Close()

	data, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mask: %w", err)
	}
	defer data.Close()

	return append([]byte(nil), data.GetBytes()...), nil
}

// UpscaleLogits resizes a size x size logit map to the original image
// resolution and thresholds it. The upscaled logits are returned too.
func (mp *MaskProcessor) UpscaleLogits(logits []float32, size, origW, origH int, threshold float32) (*model.Mask, []float32, error) {
	if len(logits) != size*size {
		return nil, nil, fmt.Errorf("expected %d logits, got %d", size*size, len(logits))
	}

	raw := unsafe.Slice((*byte)(unsafe.Pointer(&logits[0])), len(logits)*4)
	low, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV32F, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to wrap logits: %w", err)
	}
	defer low.Close()

	full := gocv.NewMat()
	defer full.Close()
	gocv.Resize(low, &full, image.Point{X: origW, Y: origH}, 0, 0, gocv.InterpolationLinear)

	values, err := full.DataPtrFloat32()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read upscaled logits: %w", err)
	}

	out := make([]float32, len(values))
	copy(out, values)
	mask := model.NewMask(origW, origH)
	for i, v := range out {
		mask.Pix[i] = v > threshold
	}
	return mask, out, nil
}

// LargestContour runs the default processor.
func LargestContour(mask *model.Mask) (model.Contour, error) {
	return NewMaskProcessor().LargestContour(mask)
}
