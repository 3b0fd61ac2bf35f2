package model

import (
	"fmt"
)

// PointLabel marks a prompt point as foreground or background.
type PointLabel int

const (
	LabelBackground PointLabel = 0
	LabelForeground PointLabel = 1
)

type PromptPoint struct {
	X     float64    `json:"x"`
	Y     float64    `json:"y"`
	Label PointLabel `json:"label"`
}

// Box is an axis-aligned prompt box in pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Prompt tells the provider what to segment. Exactly one of Point or Box is set.
type Prompt struct {
	Point *PromptPoint `json:"point,omitempty"`
	Box   *Box         `json:"box,omitempty"`
}

// CenterPrompt returns a foreground point prompt at the image center.
func CenterPrompt(width, height int) Prompt {
	return Prompt{Point: &PromptPoint{
		X:     float64(width / 2),
		Y:     float64(height / 2),
		Label: LabelForeground,
	}}
}

// Validate checks the prompt against an image of the given size.
func (p Prompt) Validate(width, height int) error {
	inside := func(x, y float64) bool {
		return x >= 0 && y >= 0 && x < float64(width) && y < float64(height)
	}

	switch {
	case p.Point != nil && p.Box != nil:
		return NewInvalidPromptError("prompt must be a point or a box, not both")
	case p.Point != nil:
		if !inside(p.Point.X, p.Point.Y) {
			return NewInvalidPromptError(fmt.Sprintf("point (%.0f, %.0f) outside %dx%d image",
				p.Point.X, p.Point.Y, width, height))
		}
	case p.Box != nil:
		b := p.Box
		if !inside(b.X1, b.Y1) || !inside(b.X2, b.Y2) {
			return NewInvalidPromptError(fmt.Sprintf("box (%.0f, %.0f)-(%.0f, %.0f) outside %dx%d image",
				b.X1, b.Y1, b.X2, b.Y2, width, height))
		}
		if b.X2 < b.X1 || b.Y2 < b.Y1 {
			return NewInvalidPromptError("box corners are inverted")
		}
	default:
		return NewInvalidPromptError("prompt is empty")
	}
	return nil
}

// Hits reports whether a mask agrees with the prompt: it contains a
// foreground point, excludes a background point, or overlaps a box.
func (p Prompt) Hits(m *Mask) bool {
	switch {
	case p.Point != nil:
		in := m.At(int(p.Point.X), int(p.Point.Y))
		if p.Point.Label == LabelBackground {
			return !in
		}
		return in
	case p.Box != nil:
		for y := int(p.Box.Y1); y <= int(p.Box.Y2); y++ {
			for x := int(p.Box.X1); x <= int(p.Box.X2); x++ {
				if m.At(x, y) {
					return true
				}
			}
		}
	}
	return false
}

// SegmentOptions is the tuning bag understood by segmentation providers.
// Zero values disable the corresponding filter.
type SegmentOptions struct {
	MaskLimit                  int     `json:"mask_limit" mapstructure:"mask_limit"`
	MultimaskOutput            bool    `json:"multimask_output" mapstructure:"multimask_output"`
	Mask2Mask                  bool    `json:"mask_2_mask" mapstructure:"mask_2_mask"`
	PredIoUThresh              float64 `json:"pred_iou_thresh" mapstructure:"pred_iou_thresh"`
	StabilityScoreThresh       float64 `json:"stability_score_thresh" mapstructure:"stability_score_thresh"`
	StabilityScoreOffset       float64 `json:"stability_score_offset" mapstructure:"stability_score_offset"`
	PointsPerSide              int     `json:"points_per_side" mapstructure:"points_per_side"`
	PointsPerBatch             int     `json:"points_per_batch" mapstructure:"points_per_batch"`
	BoxNMSThresh               float64 `json:"box_nms_thresh" mapstructure:"box_nms_thresh"`
	MinMaskRegionArea          int     `json:"min_mask_region_area" mapstructure:"min_mask_region_area"`
	CropNLayers                int     `json:"crop_n_layers" mapstructure:"crop_n_layers"`
	CropNPointsDownscaleFactor int     `json:"crop_n_points_downscale_factor" mapstructure:"crop_n_points_downscale_factor"`
}
