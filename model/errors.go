package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies pipeline failures.
type ErrorCode string

const (
	ErrorProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrorInvalidPrompt       ErrorCode = "INVALID_PROMPT"
	ErrorEmptyCandidateSet   ErrorCode = "EMPTY_CANDIDATE_SET"
	ErrorEmptyMask           ErrorCode = "EMPTY_MASK"
	ErrorNoContourFound      ErrorCode = "NO_CONTOUR_FOUND"
	ErrorDegenerateProfile   ErrorCode = "DEGENERATE_PROFILE"
)

// Sentinels for errors.Is. Any PipelineError with the same code matches.
var (
	ErrProviderUnavailable = &PipelineError{Code: ErrorProviderUnavailable, Message: "segmentation provider unavailable"}
	ErrInvalidPrompt       = &PipelineError{Code: ErrorInvalidPrompt, Message: "invalid prompt"}
	ErrEmptyCandidateSet   = &PipelineError{Code: ErrorEmptyCandidateSet, Message: "no candidate masks"}
	ErrEmptyMask           = &PipelineError{Code: ErrorEmptyMask, Message: "mask has no foreground pixels"}
	ErrNoContourFound      = &PipelineError{Code: ErrorNoContourFound, Message: "no contour found in mask"}
	ErrDegenerateProfile   = &PipelineError{Code: ErrorDegenerateProfile, Message: "profile cannot be revolved"}
)

// PipelineError is a classified failure from one pipeline stage.
type PipelineError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches any PipelineError carrying the same code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the code of the first PipelineError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

func NewProviderUnavailableError(message string, cause error) *PipelineError {
	return &PipelineError{Code: ErrorProviderUnavailable, Message: message, Cause: cause}
}

func NewInvalidPromptError(message string) *PipelineError {
	return &PipelineError{Code: ErrorInvalidPrompt, Message: message}
}

func NewDegenerateProfileError(message string) *PipelineError {
	return &PipelineError{Code: ErrorDegenerateProfile, Message: message}
}
