package mcp

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pitchy/client/api"
)

type ErrorCode string

const (
	ErrNotFound        ErrorCode = "not_found"
	ErrValidation      ErrorCode = "validation"
	ErrUnauthenticated ErrorCode = "unauthenticated"
	ErrRequestFailed   ErrorCode = "request_failed"
	ErrInternal        ErrorCode = "internal"
)

type ToolError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e ToolError) ToResult() *mcp.CallToolResult {
	data, _ := json.Marshal(e)
	return mcp.NewToolResultError(string(data))
}

func NotFound(resource string, id int64) *mcp.CallToolResult {
	return ToolError{
		Code:    ErrNotFound,
		Message: resource + " not found",
		Details: map[string]any{resource + "_id": strconv.FormatInt(id, 10)},
	}.ToResult()
}

func ValidationError(msg string) *mcp.CallToolResult {
	return ToolError{
		Code:    ErrValidation,
		Message: msg,
	}.ToResult()
}

func Unauthenticated() *mcp.CallToolResult {
	return ToolError{
		Code:    ErrUnauthenticated,
		Message: "Not signed in. Run `pitchy login` first.",
	}.ToResult()
}

// RequestError reports a failed backend call with its user-facing message.
func RequestError(err error) *mcp.CallToolResult {
	var reqErr *api.RequestError
	if !errors.As(err, &reqErr) {
		return InternalError(err)
	}
	if api.IsUnauthorized(err) {
		return Unauthenticated()
	}
	te := ToolError{Code: ErrRequestFailed, Message: reqErr.Message}
	if reqErr.Status != 0 {
		te.Details = map[string]any{"status": reqErr.Status}
	}
	return te.ToResult()
}

func InternalError(err error) *mcp.CallToolResult {
	return ToolError{
		Code:    ErrInternal,
		Message: err.Error(),
	}.ToResult()
}
