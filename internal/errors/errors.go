package errors

import (
	"errors"
	"fmt"
	"strings"
)

// AmanError is the structured error type used across amanrag.
// It carries enough context for logging, CLI output and MCP error mapping.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_503_ALL_SOURCES_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// SourceErrs are the per-source failures behind ERR_503. They are not
	// part of the Unwrap chain.
	SourceErrs []error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrInvalidQuery      = &AmanError{Code: ErrCodeInvalidQuery}
	ErrAllSourcesFailed  = &AmanError{Code: ErrCodeAllSourcesFailed}
	ErrCanceled          = &AmanError{Code: ErrCodeCanceled}
	ErrSourceTimeout     = &AmanError{Code: ErrCodeSourceTimeout}
	ErrSourceUnavailable = &AmanError{Code: ErrCodeSourceUnavailable}
	ErrCircuitOpen       = &AmanError{Code: ErrCodeCircuitOpen}
	ErrInvalidWeights    = &AmanError{Code: ErrCodeInvalidWeights}
)

// Error implements the error interface.
func (e *AmanError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("[%s]", e.Code)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AmanError with the same code.
// Invalid-query subcodes (empty, too long, namespace) also match ErrInvalidQuery.
func (e *AmanError) Is(target error) bool {
	t, ok := target.(*AmanError)
	if !ok {
		return false
	}
	if e.Code == t.Code {
		return true
	}
	return t.Code == ErrCodeInvalidQuery && isInvalidQueryCode(e.Code)
}

func isInvalidQueryCode(code string) bool {
	switch code {
	case ErrCodeQueryEmpty, ErrCodeQueryTooLong, ErrCodeInvalidNamespace, ErrCodeInvalidWeights:
		return true
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AmanError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError from an existing error.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InvalidQuery creates a validation error for a rejected retrieval request.
func InvalidQuery(code, message string) *AmanError {
	if code == "" {
		code = ErrCodeInvalidQuery
	}
	return New(code, message, nil).
		WithSuggestion("Check the query text, namespace and top_k values")
}

// SourceTimeout reports that a retrieval source missed the shared deadline.
func SourceTimeout(source string, cause error) *AmanError {
	return New(ErrCodeSourceTimeout, source+" timed out", cause).WithDetail("source", source)
}

// SourceUnavailable reports that a retrieval source could not be reached.
func SourceUnavailable(source string, cause error) *AmanError {
	msg := source + " unavailable"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return New(ErrCodeSourceUnavailable, msg, cause).WithDetail("source", source)
}

// AllSourcesFailed reports that no retrieval source survived. The source
// errors are reported in SourceErrs and Details, not unwrapped.
func AllSourcesFailed(sourceErrs ...error) *AmanError {
	e := New(ErrCodeAllSourcesFailed, "all retrieval sources failed", nil).
		WithSuggestion("Check that the vector and graph stores are reachable, or raise the deadline")
	var msgs []string
	for _, err := range sourceErrs {
		if err != nil {
			e.SourceErrs = append(e.SourceErrs, err)
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) > 0 {
		e.WithDetail("sources", strings.Join(msgs, "; "))
	}
	return e
}

// Canceled reports that the caller abandoned the request.
func Canceled(cause error) *AmanError {
	return New(ErrCodeCanceled, "retrieval canceled by caller", cause)
}

// NetworkError creates a collaborator transport error. These are retryable.
func NetworkError(message string, cause error) *AmanError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if any AmanError in the chain is retryable.
func IsRetryable(err error) bool {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first AmanError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from the first AmanError in the chain.
func GetCategory(err error) Category {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
