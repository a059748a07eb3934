package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/casegraph/internal/client"
)

// ErrorResult creates a tool error result with optional recovery hint.
// If hint is non-empty, formats as "{msg}. {hint}".
// Returns IsError=true so LLM can see the error and self-correct.
func ErrorResult(msg, hint string) *mcp.CallToolResult {
	text := msg
	if hint != "" {
		text = msg + ". " + hint
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}

// TextResult creates a success result with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// JSONResult renders v as indented JSON text.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult("Failed to encode result", err.Error())
	}
	return TextResult(string(data))
}

// APIErrorResult turns a failed API call into a tool error. Server-side
// validation codes are passed through so the caller can fix its input.
func APIErrorResult(deps *Dependencies, op string, err error) *mcp.CallToolResult {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		deps.Logger.Error(op+" failed", "error", err)
		return ErrorResult(fmt.Sprintf("%s failed", op), "casegraph server may be unavailable")
	}

	switch {
	case apiErr.Status == http.StatusNotFound:
		return ErrorResult(apiErr.Message, "Check the case and run IDs")
	case apiErr.Status == http.StatusConflict:
		return ErrorResult(apiErr.Message, "Wait for the run to finish or pause it first")
	case apiErr.Status < http.StatusInternalServerError:
		return ErrorResult(fmt.Sprintf("%s: %s", apiErr.Code, apiErr.Message), "")
	default:
		deps.Logger.Error(op+" failed", "status", apiErr.Status, "error", apiErr.Message)
		return ErrorResult(fmt.Sprintf("%s failed", op), "casegraph server returned "+apiErr.Code)
	}
}
