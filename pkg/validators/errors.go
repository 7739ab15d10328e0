package validators

import "net/http"

// Reason codes returned to clients in the "reason" field
const (
	ReasonEmptyFile          = "empty_file"
	ReasonFilenameTooLong    = "filename_too_long"
	ReasonUnknownCategory    = "unknown_category"
	ReasonCategoryMismatch   = "category_mismatch"
	ReasonUnsupportedType    = "unsupported_type"
	ReasonSizeExceeded       = "size_exceeded"
	ReasonDimensionsExceeded = "dimensions_exceeded"
	ReasonDurationExceeded   = "duration_exceeded"
	ReasonProbeFailed        = "probe_failed"
	ReasonInvalidField       = "invalid_field"
)

// ValidationError rejects an upload. It is never retried and no state
// exists for the upload when it is returned.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Status maps the reason to the HTTP status the API answers with
func (e *ValidationError) Status() int {
	switch e.Reason {
	case ReasonSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case ReasonUnsupportedType, ReasonCategoryMismatch, ReasonDimensionsExceeded,
		ReasonDurationExceeded, ReasonProbeFailed:
		return http.StatusUnprocessableEntity
	}

	return http.StatusBadRequest
}

func invalid(reason, msg string) *ValidationError {
	return &ValidationError{Reason: reason, Message: msg}
}
