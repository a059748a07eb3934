package timeline

import (
	"errors"
	"fmt"
)

// ErrValidation matches every rejected timeline query.
// Use errors.Is(err, ErrValidation) to map it onto a client error.
var ErrValidation = errors.New("timeline validation failed")

// Validation error codes.
const (
	CodeLimitInvalid     = "TIMELINE_LIMIT_INVALID"
	CodeTimezoneAware    = "TIMELINE_TIMEZONE_AWARE"
	CodeTimestampInvalid = "TIMELINE_TIMESTAMP_INVALID"
	CodeInvalidRange     = "TIMELINE_INVALID_RANGE"
	CodeRiskBandInvalid  = "TIMELINE_RISK_BAND_INVALID"
	CodeCursorInvalid    = "TIMELINE_CURSOR_INVALID"
	CodeEventInvalid     = "TIMELINE_EVENT_INVALID"
)

// ValidationError describes why a query was rejected.
type ValidationError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(code, message string, context map[string]any) *ValidationError {
	return &ValidationError{Code: code, Message: message, Context: context}
}
