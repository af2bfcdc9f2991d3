// Package errors provides the structured error model for amanrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store and IO errors
//   - 3XX: Collaborator (network) errors
//   - 4XX: Validation errors
//   - 5XX: Retrieval outcome errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates store and file I/O errors.
	CategoryStore Category = "STORE"
	// CategoryNetwork indicates failures talking to remote collaborators.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryRetrieval indicates a retrieval request outcome.
	CategoryRetrieval Category = "RETRIEVAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal means the request produced no result.
	SeverityFatal Severity = "FATAL"
	// SeverityError means the operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning means degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo is informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeInvalidWeights = "ERR_106_INVALID_WEIGHTS"

	// Store errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeStoreCorrupt     = "ERR_202_STORE_CORRUPT"
	ErrCodeFixtureInvalid   = "ERR_203_FIXTURE_INVALID"
	ErrCodeStoreLocked      = "ERR_204_STORE_LOCKED"

	// Collaborator errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeMalformedResponse  = "ERR_303_MALFORMED_RESPONSE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeQueryTooLong      = "ERR_405_QUERY_TOO_LONG"
	ErrCodeInvalidNamespace  = "ERR_406_INVALID_NAMESPACE"

	// Retrieval errors (500-599)
	ErrCodeSourceTimeout     = "ERR_501_SOURCE_TIMEOUT"
	ErrCodeSourceUnavailable = "ERR_502_SOURCE_UNAVAILABLE"
	ErrCodeAllSourcesFailed  = "ERR_503_ALL_SOURCES_FAILED"
	ErrCodeCanceled          = "ERR_504_CANCELED"
	ErrCodeCircuitOpen       = "ERR_505_CIRCUIT_OPEN"
	ErrCodeInternal          = "ERR_599_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryRetrieval
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryRetrieval
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeAllSourcesFailed, ErrCodeStoreCorrupt:
		return SeverityFatal
	case ErrCodeCanceled:
		return SeverityInfo
	case ErrCodeSourceTimeout, ErrCodeSourceUnavailable, ErrCodeCircuitOpen:
		// recovered locally by dropping the source
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether a failed call with this code may succeed on retry.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeStoreUnavailable:
		return true
	default:
		return false
	}
}
