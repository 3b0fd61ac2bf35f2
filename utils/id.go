package utils

import (
	"github.com/google/uuid"
)

// NewJobID returns a random identifier for a pipeline run. It doubles as the
// artifact directory name and the result store key.
func NewJobID() string {
	return uuid.NewString()
}

// IsJobID reports whether id has the shape produced by NewJobID.
func IsJobID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
