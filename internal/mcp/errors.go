// Package mcp serves find-usages over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexUnavailable indicates the usage index could not be used.
	ErrCodeIndexUnavailable = -32001

	// ErrCodeResourcePressure indicates derivation stopped for lack of memory.
	ErrCodeResourcePressure = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound indicates a unit no longer exists on disk.
	ErrCodeFileNotFound = -32004

	// ErrCodeFileTooLarge indicates a unit is too large to decode.
	ErrCodeFileTooLarge = -32005

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var me *MCPError
	if errors.As(err, &me) {
		return me
	}
	if xe, ok := xerrors.As(err); ok {
		return mapXrefError(xe)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an invalid-parameters error.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for an unknown tool.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

func mapXrefError(xe *xerrors.XrefError) *MCPError {
	message := xe.Message
	if xe.Suggestion != "" {
		message = fmt.Sprintf("%s %s", xe.Message, xe.Suggestion)
	}

	switch xe.Code {
	case xerrors.ErrCodeFileNotFound:
		return &MCPError{Code: ErrCodeFileNotFound, Message: message}
	case xerrors.ErrCodeFileTooLarge:
		return &MCPError{Code: ErrCodeFileTooLarge, Message: message}
	case xerrors.ErrCodeResourceExhausted:
		return &MCPError{Code: ErrCodeResourcePressure, Message: message}
	case xerrors.ErrCodeIndexFailed, xerrors.ErrCodeExecutorClosed, xerrors.ErrCodeRunAborted:
		return &MCPError{Code: ErrCodeIndexUnavailable, Message: message}
	}

	if xe.Category == xerrors.CategoryValidation {
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	}
	return &MCPError{Code: ErrCodeInternalError, Message: message}
}
