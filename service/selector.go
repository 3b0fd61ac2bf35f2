package service

import (
	"github.com/adnanwahab/vizcom-trial/model"
)

// SelectBest returns the mask of the highest scoring candidate. Ties go to
// the earliest candidate.
func SelectBest(candidates []model.Candidate) (*model.Mask, error) {
	if len(candidates) == 0 {
		return nil, model.ErrEmptyCandidateSet
	}

	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Score > candidates[best].Score {
			best = i
		}
	}
	return candidates[best].Mask, nil
}
