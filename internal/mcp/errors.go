// Package mcp exposes the retrieval engine as a Model Context Protocol
// server.
package mcp

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// MCP error codes. Application codes sit in the JSON-RPC server range.
const (
	ErrCodeStoreUnavailable = -32001
	ErrCodeAllSourcesFailed = -32002
	ErrCodeTimeout          = -32003
	ErrCodeCanceled         = -32004

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrToolNotFound is returned by CallTool for an unknown tool name.
var ErrToolNotFound = errors.New("tool not found")

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError reports a bad tool argument.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError converts an internal error to an MCPError. AmanErrors keep
// their message and suggestion.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var me *MCPError
	if errors.As(err, &me) {
		return me
	}

	var ae *amerrors.AmanError
	if errors.As(err, &ae) {
		return mapAmanError(ae)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeCanceled, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

func mapAmanError(ae *amerrors.AmanError) *MCPError {
	msg := ae.Message
	if msg == "" {
		msg = ae.Code
	}
	if ae.Suggestion != "" {
		msg = fmt.Sprintf("%s %s", msg, ae.Suggestion)
	}

	switch ae.Code {
	case amerrors.ErrCodeAllSourcesFailed:
		return &MCPError{Code: ErrCodeAllSourcesFailed, Message: msg}
	case amerrors.ErrCodeCanceled:
		return &MCPError{Code: ErrCodeCanceled, Message: msg}
	case amerrors.ErrCodeSourceTimeout, amerrors.ErrCodeNetworkTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: msg}
	case amerrors.ErrCodeInvalidWeights:
		return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
	}

	switch ae.Category {
	case amerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
	case amerrors.CategoryStore:
		return &MCPError{Code: ErrCodeStoreUnavailable, Message: msg}
	case amerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: msg}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: msg}
	}
}
