package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/filemaker-mcp/internal/audit"
)

const (
	rpcCodeInvalidRequest = -32600
	rpcCodeMethodNotFound = -32601
	rpcCodeInvalidParams  = -32602
	rpcCodeInternalError  = -32603

	maxStdioMessage = 4 << 20
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
	Capabilities struct {
		Tools struct {
			ListChanged bool `json:"listChanged"`
		} `json:"tools"`
	} `json:"capabilities"`
}

type listToolsResult struct {
	Tools []toolDescriptor `json:"tools"`
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type callToolResult struct {
	Content           []contentBlock `json:"content"`
	IsError           bool           `json:"isError"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// stdioSession is the state shared by every request on one stdio stream.
type stdioSession struct {
	id      string
	gate    toolGate
	authn   SessionAuthenticator
	caller  ToolCaller
	version string
	logger  zerolog.Logger
	audit   *audit.Logger
}

// RunStdio handles MCP requests over stdin/stdout using line-delimited
// JSON-RPC messages. Notifications get no response.
func RunStdio(
	ctx context.Context,
	in io.Reader,
	out io.Writer,
	registry *ToolRegistry,
	authorizer ToolAuthorizer,
	authn SessionAuthenticator,
	caller ToolCaller,
	version string,
	logger zerolog.Logger,
) error {
	session := &stdioSession{
		id:      uuid.NewString(),
		gate:    toolGate{registry: registry, authorizer: authorizer},
		authn:   authn,
		caller:  caller,
		version: version,
		logger:  logger,
		audit:   audit.NewLogger(logger),
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdioMessage)
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			if writeErr := writeRPC(writer, rpcResponse{
				JSONRPC: "2.0",
				Error: &rpcError{
					Code:    rpcCodeInvalidRequest,
					Message: fmt.Sprintf("invalid json-rpc payload: %v", err),
				},
			}); writeErr != nil {
				return writeErr
			}
			continue
		}

		resp, reply := session.handle(ctx, req)
		if !reply {
			continue
		}
		if err := writeRPC(writer, resp); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdio request: %w", err)
	}
	return nil
}

func writeRPC(w *bufio.Writer, resp rpcResponse) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding rpc response: %w", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("writing rpc response: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing rpc newline: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing rpc response: %w", err)
	}
	return nil
}

func (s *stdioSession) handle(ctx context.Context, req rpcRequest) (rpcResponse, bool) {
	response := rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
	}
	method := strings.TrimSpace(req.Method)

	if strings.TrimSpace(req.JSONRPC) != "2.0" {
		response.Error = &rpcError{
			Code:    rpcCodeInvalidRequest,
			Message: "jsonrpc must be 2.0",
		}
		return response, true
	}
	if req.ID == nil && strings.HasPrefix(method, "notifications/") {
		return response, false
	}

	switch method {
	case "initialize":
		response.Result = newInitializeResult(s.gate.registry, s.version)

	case "ping":
		response.Result = map[string]any{}

	case "tools/list":
		response.Result = listToolsResult{Tools: toolDescriptors(s.gate.registry)}

	case "tools/call":
		response.Result, response.Error = s.callTool(ctx, req.Params)

	default:
		response.Error = &rpcError{
			Code:    rpcCodeMethodNotFound,
			Message: fmt.Sprintf("unknown method: %s", method),
		}
	}
	return response, true
}

func (s *stdioSession) callTool(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	started := time.Now()
	mode := s.gate.mode()
	event := audit.ToolCallCompletion{
		SessionID: s.id,
		Transport: "stdio",
		Mode:      mode,
		Result:    "error",
	}
	defer func() {
		event.Duration = time.Since(started)
		s.audit.Complete(event)
	}()
	reject := func(code int, message string) (any, *rpcError) {
		event.ErrorDetail = message
		return nil, &rpcError{Code: code, Message: message}
	}

	if len(raw) == 0 {
		return reject(rpcCodeInvalidParams, "missing params")
	}
	var params callToolParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return reject(rpcCodeInvalidParams, fmt.Sprintf("invalid tools/call params: %v", err))
	}
	name := strings.TrimSpace(params.Name)
	event.ToolName = name
	event.Arguments = params.Arguments

	principal, err := authenticateStdio(s.authn)
	if err != nil {
		return reject(rpcCodeInvalidRequest, err.Error())
	}
	event.CallerSub = principal.Subject

	tool, rejected := s.gate.admit(name, params.Arguments, principal)
	if rejected != nil {
		event.ResponseCode = rejected.status
		return reject(rpcCodeInvalidParams, rejected.message)
	}

	s.logger.Info().Str("transport", "stdio").Str("tool", tool.Name).Msg("received tool call")
	if s.caller == nil {
		event.Result = "success"
		return callToolResult{
			Content: []contentBlock{{
				Type: "text",
				Text: fmt.Sprintf("tool %s accepted (no caller configured)", tool.Name),
			}},
			StructuredContent: map[string]any{
				"tool":   tool.Name,
				"status": "accepted",
				"mode":   mode,
			},
		}, nil
	}

	payload, err := invokeTool(ctx, s.caller, tool.Name, params.Arguments)
	if err != nil {
		event.ErrorDetail = toolErrorMessage(err)
		event.ResponseCode = toolErrorStatus(err)
		return toolCallResultFromError(tool.Name, mode, err), nil
	}
	event.Result = "success"
	return toolCallResultFromExecution(tool.Name, mode, payload), nil
}

func newInitializeResult(registry *ToolRegistry, version string) initializeResult {
	result := initializeResult{ProtocolVersion: defaultProtocolVersion}
	result.ServerInfo.Name = registry.ServerName()
	result.ServerInfo.Version = strings.TrimSpace(version)
	return result
}

func authenticateStdio(authn SessionAuthenticator) (SessionPrincipal, error) {
	if authn == nil {
		return SessionPrincipal{Subject: localSubject, Scopes: []string{"admin"}}, nil
	}
	return authn.AuthenticateStdio()
}

func toolDescriptors(registry *ToolRegistry) []toolDescriptor {
	items := make([]toolDescriptor, 0, len(registry.List()))
	for _, tool := range registry.List() {
		items = append(items, toolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return items
}
