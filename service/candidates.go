package service

import (
	"sort"

	"github.com/adnanwahab/vizcom-trial/model"
)

// FilterCandidates applies the tuning thresholds of opts: predicted IoU,
// stability, minimum area, box NMS and finally the mask limit. Zero-valued
// options are skipped. Survivors are ordered by descending score, ties in
// input order, so the mask limit always keeps the best candidates.
func FilterCandidates(candidates []model.Candidate, opts model.SegmentOptions) []model.Candidate {
	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if opts.PredIoUThresh > 0 && c.Score < opts.PredIoUThresh {
			continue
		}
		if opts.StabilityScoreThresh > 0 && c.Stability < opts.StabilityScoreThresh {
			continue
		}
		if opts.MinMaskRegionArea > 0 && c.Mask.Count() < opts.MinMaskRegionArea {
			continue
		}
		out = append(out, c)
	}

	sortByScore(out)
	if opts.BoxNMSThresh > 0 {
		out = suppressOverlaps(out, opts.BoxNMSThresh)
	}
	if opts.MaskLimit > 0 && len(out) > opts.MaskLimit {
		out = out[:opts.MaskLimit]
	}
	return out
}

func sortByScore(candidates []model.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}

// suppressOverlaps keeps the best scoring candidate of every group whose
// bounding boxes overlap by more than thresh IoU. Input must be sorted by
// descending score.
func suppressOverlaps(candidates []model.Candidate, thresh float64) []model.Candidate {
	kept := make([]model.Candidate, 0, len(candidates))
	keptBoxes := make([]model.BBox, 0, len(candidates))
	for _, c := range candidates {
		box, ok := c.Mask.Bounds()
		if !ok {
			continue
		}
		overlaps := false
		for _, k := range keptBoxes {
			if boxIoU(box, k) > thresh {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
			keptBoxes = append(keptBoxes, box)
		}
	}
	return kept
}

func boxIoU(a, b model.BBox) float64 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0
	}
	i := float64(inter.Dx() * inter.Dy())
	u := float64(a.Width()*a.Height()+b.Width()*b.Height()) - i
	return i / u
}

// StabilityScore is the IoU between the masks obtained by thresholding logits
// at threshold+offset and threshold-offset.
func StabilityScore(logits []float32, threshold, offset float32) float64 {
	inter, union := 0, 0
	for _, v := range logits {
		if v > threshold+offset {
			inter++
		}
		if v > threshold-offset {
			union++
		}
	}
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}
