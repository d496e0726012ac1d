package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"git.cscs.ch/openchami/filemaker-mcp/internal/metrics"
)

const unknownToolFailure = "unknown tool execution error"

// ToolCaller executes one tool call and returns structured content.
// *tools.Runner implements it.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

type statusCoder interface {
	StatusCode() int
}

// invokeTool runs one call through caller and records its outcome.
func invokeTool(ctx context.Context, caller ToolCaller, name string, args map[string]any) (map[string]any, error) {
	started := time.Now()
	payload, err := caller.Call(ctx, name, args)
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ObserveToolCall(name, result, time.Since(started))
	return payload, err
}

// toolErrorStatus is the 4xx/5xx status an error carries, or 500.
func toolErrorStatus(err error) int {
	var withStatus statusCoder
	if errors.As(err, &withStatus) {
		if status := withStatus.StatusCode(); status >= 400 && status <= 599 {
			return status
		}
	}
	return http.StatusInternalServerError
}

func toolErrorMessage(err error) string {
	if err == nil {
		return unknownToolFailure
	}
	if message := strings.TrimSpace(err.Error()); message != "" {
		return message
	}
	return unknownToolFailure
}

// toolCallResultFromExecution renders payload as indented JSON text, which
// is what MCP clients show the model, and repeats it as structured content.
func toolCallResultFromExecution(name, mode string, payload map[string]any) callToolResult {
	if payload == nil {
		payload = map[string]any{}
	}
	text, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return toolCallResultFromError(name, mode, err)
	}
	return newToolResult(name, mode, string(text), false, "result", payload)
}

func toolCallResultFromError(name, mode string, err error) callToolResult {
	message := toolErrorMessage(err)
	return newToolResult(name, mode, "Error: "+message, true, "error", map[string]any{
		"status":  toolErrorStatus(err),
		"message": message,
	})
}

func newToolResult(name, mode, text string, isError bool, key string, detail map[string]any) callToolResult {
	status := "ok"
	if isError {
		status = "error"
	}
	return callToolResult{
		Content: []contentBlock{{Type: "text", Text: text}},
		IsError: isError,
		StructuredContent: map[string]any{
			"tool":   strings.TrimSpace(name),
			"mode":   strings.TrimSpace(mode),
			"status": status,
			key:      detail,
		},
	}
}
