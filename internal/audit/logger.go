// Package audit provides structured audit logging for MCP tool calls.
package audit

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`)
	keyValuePattern    = regexp.MustCompile(`(?i)\b(token|secret|password|authorization)\s*[:=]\s*([^\s,;]+)`)
)

// Argument keys that name layouts, and the array arguments whose length is
// the number of items a call touches.
var (
	layoutKeys = []string{"layout", "sourceLayout", "targetLayout"}
	itemKeys   = []string{"records", "data"}
)

// ToolCallCompletion captures one finalized tool-call outcome.
type ToolCallCompletion struct {
	RequestID    string
	SessionID    string
	Transport    string
	ToolName     string
	Mode         string
	CallerSub    string
	Arguments    map[string]any
	Result       string
	ErrorDetail  string
	Duration     time.Duration
	ResponseCode int
}

// TargetSummary is what a call touched, without field values.
type TargetSummary struct {
	Layouts   []string `json:"layouts,omitempty"`
	Operation string   `json:"operation,omitempty"`
	RecordIDs []string `json:"record_ids,omitempty"`
	ItemCount int      `json:"item_count,omitempty"`
	CacheKey  string   `json:"cache_key,omitempty"`
}

// Logger emits structured audit entries.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates an audit logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Complete writes a single completion log entry for one tool call.
func (l *Logger) Complete(event ToolCallCompletion) {
	if l == nil {
		return
	}

	result := strings.TrimSpace(event.Result)
	if result == "" {
		result = "error"
	}
	tool := strings.TrimSpace(event.ToolName)
	if tool == "" {
		tool = "unknown"
	}
	mode := strings.TrimSpace(event.Mode)
	if mode == "" {
		mode = "read-only"
	}
	duration := max(event.Duration, 0)

	entry := l.logger.Info().
		Str("event", "mcp.tool_call.completed").
		Str("request_id", strings.TrimSpace(event.RequestID)).
		Str("session_id", strings.TrimSpace(event.SessionID)).
		Str("transport", strings.TrimSpace(event.Transport)).
		Str("tool", tool).
		Str("mode", mode).
		Str("caller_subject", strings.TrimSpace(event.CallerSub)).
		Str("result", result).
		Int64("duration_ms", duration.Milliseconds()).
		Interface("target", SummarizeTargets(event.Arguments))

	if event.ResponseCode > 0 {
		entry = entry.Int("response_code", event.ResponseCode)
	}
	if redactedError := RedactSensitiveText(event.ErrorDetail); redactedError != "" {
		entry = entry.Str("error_detail", redactedError)
	}

	entry.Msg("tool call completed")
}

// SummarizeTargets reduces tool arguments to layouts, record IDs and item
// counts. Field data never reaches the audit log.
func SummarizeTargets(args map[string]any) TargetSummary {
	if args == nil {
		return TargetSummary{}
	}

	summary := TargetSummary{
		Layouts:   uniqueStrings(readStrings(args, layoutKeys...)),
		Operation: firstString(args, "operation", "action"),
		CacheKey:  firstString(args, "key"),
	}
	var ids []string
	for _, key := range itemKeys {
		items, ok := args[key].([]any)
		if !ok {
			continue
		}
		summary.ItemCount += len(items)
		for _, item := range items {
			if fields, ok := item.(map[string]any); ok {
				if id := idText(fields["recordId"]); id != "" {
					ids = append(ids, id)
				}
			}
		}
	}
	summary.RecordIDs = uniqueStrings(ids)
	return summary
}

// RedactSensitiveText removes obvious secrets from free-text error details.
func RedactSensitiveText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	redacted := bearerTokenPattern.ReplaceAllString(trimmed, "Bearer [REDACTED]")
	redacted = keyValuePattern.ReplaceAllStringFunc(redacted, func(match string) string {
		parts := strings.SplitN(match, ":", 2)
		if len(parts) == 2 {
			return fmt.Sprintf("%s: [REDACTED]", strings.TrimSpace(parts[0]))
		}
		parts = strings.SplitN(match, "=", 2)
		if len(parts) == 2 {
			return fmt.Sprintf("%s=[REDACTED]", strings.TrimSpace(parts[0]))
		}
		return "[REDACTED]"
	})
	return redacted
}

func readStrings(args map[string]any, keys ...string) []string {
	values := make([]string, 0, len(keys))
	for _, key := range keys {
		if s, ok := args[key].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				values = append(values, trimmed)
			}
		}
	}
	return values
}

func firstString(args map[string]any, keys ...string) string {
	if values := readStrings(args, keys...); len(values) > 0 {
		return strings.ToLower(values[0])
	}
	return ""
}

func idText(raw any) string {
	switch typed := raw.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return fmt.Sprintf("%.0f", typed)
	case int:
		return fmt.Sprint(typed)
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	unique := slices.Clone(values)
	slices.Sort(unique)
	return slices.Compact(unique)
}
