package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// Pipeline stages MUST use these constants instead of hardcoded strings.
const (
	// Skip conditions. A pair that ends with one of these is not a failure.
	ErrCodeSkipIneligible      ErrorCode = "skip_ineligible"
	ErrCodeSkipTilesAgree      ErrorCode = "skip_tiles_agree"
	ErrCodeSkipAlreadySmoothed ErrorCode = "skip_already_smoothed"
	ErrCodeSkipStalePatches    ErrorCode = "skip_stale_patches"
	ErrCodeSkipTileLocked      ErrorCode = "skip_tile_locked"

	// Pair failures (abort one tile pair only)
	ErrCodePairEmptyTemporal      ErrorCode = "pair_empty_temporal"
	ErrCodePairUnsupportedCadence ErrorCode = "pair_unsupported_radar_cadence"
	ErrCodePairShapeMismatch      ErrorCode = "pair_shape_mismatch"
	ErrCodePairTimeout            ErrorCode = "pair_timeout"

	// Mosaic
	ErrCodeMosaicNoUsablePatches ErrorCode = "mosaic_no_usable_patches"

	// Validation
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationTensorShape  ErrorCode = "validation_tensor_shape"
	ErrCodeValidationArrayMeta    ErrorCode = "validation_array_metadata"
	ErrCodeValidationCatalog      ErrorCode = "validation_catalog_row"

	// Not Found
	ErrCodeNotFoundTile   ErrorCode = "not_found_tile"
	ErrCodeNotFoundRaster ErrorCode = "not_found_finished_raster"
	ErrCodeNotFoundPatch  ErrorCode = "not_found_prediction_patch"
	ErrCodeNotFoundArray  ErrorCode = "not_found_array"

	// Internal/Upstream
	ErrCodeInternalDB              ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected      ErrorCode = "internal_unexpected_error"
	ErrCodeInternalArrayCorruption ErrorCode = "internal_array_corruption"
	ErrCodeUpstreamStorage         ErrorCode = "upstream_storage_unavailable"
	ErrCodeUpstreamPredictor       ErrorCode = "upstream_predictor_unavailable"
	ErrCodeUpstreamUnavailable     ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited     ErrorCode = "upstream_rate_limited"
)

// IsSkip reports whether the code describes a skip condition rather than a
// failure. Batch runs log skips at info level and do not count them as errors.
func (c ErrorCode) IsSkip() bool {
	return strings.HasPrefix(string(c), "skip_")
}

// Category returns the code prefix ("skip", "pair", "upstream", ...), used as
// a low-cardinality metric dimension.
func (c ErrorCode) Category() string {
	s := string(c)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return s
}

// AppError is the standard application error type used throughout the pipeline.
// Stage errors should be expressed as AppError so the batch runner can tell
// skips from failures and attach structured details to log lines.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from the first AppError in err's chain.
// Errors that carry no AppError map to ErrCodeInternalUnexpected.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}
