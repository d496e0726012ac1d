package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/filemaker-mcp/internal/audit"
	"git.cscs.ch/openchami/filemaker-mcp/internal/httputil"
)

// httpCall is a decoded tool call. tool is set once the gate admits it.
type httpCall struct {
	name string
	args map[string]any
	mode string
	tool ToolSpec
}

// callOutcome is what the audit log records for a finished HTTP call.
type callOutcome struct {
	status int
	detail string
}

// responder writes an admitted call's result. run executes the tool.
type responder func(w http.ResponseWriter, r *http.Request, call httpCall, run func() (map[string]any, error)) callOutcome

type httpToolCalls struct {
	gate   toolGate
	authn  SessionAuthenticator
	caller ToolCaller
	logger zerolog.Logger
	audit  *audit.Logger
}

func registerMCPHTTPRoutes(r chi.Router, gate toolGate, authn SessionAuthenticator, caller ToolCaller, version string, logger zerolog.Logger) {
	calls := &httpToolCalls{
		gate:   gate,
		authn:  authn,
		caller: caller,
		logger: logger,
		audit:  audit.NewLogger(logger),
	}

	r.Route("/mcp/v1", func(r chi.Router) {
		r.Post("/initialize", func(w http.ResponseWriter, _ *http.Request) {
			httputil.RespondJSON(w, http.StatusOK, newInitializeResult(gate.registry, version))
		})
		r.Get("/tools", func(w http.ResponseWriter, _ *http.Request) {
			httputil.RespondJSON(w, http.StatusOK, listToolsResult{Tools: toolDescriptors(gate.registry)})
		})
		r.Post("/tools/call", calls.handler("http", respondJSON))
		r.Post("/tools/call/sse", calls.handler("http-sse", respondSSE))
	})
}

func (h *httpToolCalls) handler(transport string, respond responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := httputil.RequestIDFromContext(r.Context())
		event := audit.ToolCallCompletion{
			RequestID: requestID,
			SessionID: sessionIDFromHTTPRequest(r, requestID),
			Transport: transport,
			Mode:      h.gate.mode(),
			Result:    "error",
		}
		defer func() {
			event.Duration = time.Since(started)
			h.audit.Complete(event)
		}()

		call, principal, rejected := h.admit(r)
		event.ToolName = call.name
		event.Arguments = call.args
		event.CallerSub = principal.Subject
		if rejected != nil {
			event.ErrorDetail = rejected.message
			event.ResponseCode = rejected.status
			httputil.RespondProblem(w, r, rejected.status, rejected.message)
			return
		}

		h.logger.Info().Str("transport", transport).Str("tool", call.tool.Name).Msg("received tool call")
		outcome := respond(w, r, call, func() (map[string]any, error) {
			if h.caller == nil {
				return map[string]any{}, nil
			}
			return invokeTool(r.Context(), h.caller, call.tool.Name, call.args)
		})
		event.ResponseCode = outcome.status
		event.ErrorDetail = outcome.detail
		if outcome.detail == "" {
			event.Result = "success"
		}
	}
}

func (h *httpToolCalls) admit(r *http.Request) (httpCall, SessionPrincipal, *rejection) {
	call := httpCall{mode: h.gate.mode()}

	principal, err := authenticateHTTPToolCall(r, h.authn)
	if err != nil {
		status, detail := authFailureResponse(err)
		return call, SessionPrincipal{}, &rejection{status: status, message: detail}
	}

	var params callToolParams
	if err := decodeJSONStrict(r, &params); err != nil {
		return call, principal, rejectf(http.StatusBadRequest, "invalid request body: %v", err)
	}
	call.name = strings.TrimSpace(params.Name)
	call.args = params.Arguments
	if call.name == "" {
		return call, principal, rejectf(http.StatusBadRequest, "tool name is required")
	}

	tool, rejected := h.gate.admit(call.name, call.args, principal)
	call.tool = tool
	return call, principal, rejected
}

func respondJSON(w http.ResponseWriter, r *http.Request, call httpCall, run func() (map[string]any, error)) callOutcome {
	payload, err := run()
	if err != nil {
		outcome := callOutcome{status: toolErrorStatus(err), detail: toolErrorMessage(err)}
		httputil.RespondProblem(w, r, outcome.status, outcome.detail)
		return outcome
	}
	httputil.RespondJSON(w, http.StatusOK, toolCallResultFromExecution(call.tool.Name, call.mode, payload))
	return callOutcome{status: http.StatusOK}
}

// respondSSE streams accepted, result and done events. Tool failures travel
// inside the result event, so the HTTP status stays 200 once streaming starts.
func respondSSE(w http.ResponseWriter, r *http.Request, call httpCall, run func() (map[string]any, error)) callOutcome {
	stream := newSSEStream(r.Context(), w)
	if err := stream.send("accepted", map[string]any{
		"tool":      call.tool.Name,
		"status":    "accepted",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return callOutcome{status: http.StatusInternalServerError, detail: err.Error()}
	}

	var result callToolResult
	payload, runErr := run()
	if runErr != nil {
		result = toolCallResultFromError(call.tool.Name, call.mode, runErr)
	} else {
		result = toolCallResultFromExecution(call.tool.Name, call.mode, payload)
	}
	if err := stream.send("result", result); err != nil {
		return callOutcome{status: http.StatusInternalServerError, detail: err.Error()}
	}
	_ = stream.send("done", map[string]any{"status": "done"})

	if runErr != nil {
		return callOutcome{status: toolErrorStatus(runErr), detail: toolErrorMessage(runErr)}
	}
	return callOutcome{status: http.StatusOK}
}

type sseStream struct {
	ctx        context.Context
	w          http.ResponseWriter
	controller *http.ResponseController
}

func newSSEStream(ctx context.Context, w http.ResponseWriter) *sseStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseStream{ctx: ctx, w: w, controller: http.NewResponseController(w)}
}

// send writes one event and flushes it. It fails once the client is gone.
func (s *sseStream) send(event string, payload any) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	_ = s.controller.Flush()
	return nil
}

func authenticateHTTPToolCall(r *http.Request, authn SessionAuthenticator) (SessionPrincipal, error) {
	if authn == nil {
		return SessionPrincipal{}, ErrSessionTokenMissing
	}
	return authn.AuthenticateHTTP(r)
}

func authFailureResponse(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSessionTokenMissing):
		return http.StatusUnauthorized, "MCP session token is not configured; set FILEMAKER_MCP_SESSION_TOKEN"
	case errors.Is(err, ErrBearerTokenMissing):
		return http.StatusUnauthorized, "missing or malformed Authorization header; expected Bearer <token>"
	case errors.Is(err, ErrBearerTokenInvalid):
		return http.StatusUnauthorized, "invalid bearer token for MCP session"
	case err == nil:
		return http.StatusUnauthorized, "unauthorized"
	default:
		return http.StatusUnauthorized, err.Error()
	}
}

func decodeJSONStrict(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("request must contain exactly one JSON object")
	}
	return nil
}

// sessionIDFromHTTPRequest prefers the client's session header, then the
// request ID, then a fresh UUID so every audit entry carries a session.
func sessionIDFromHTTPRequest(r *http.Request, fallback string) string {
	if r != nil {
		for _, header := range []string{"Mcp-Session-Id", "X-Session-ID"} {
			if sessionID := strings.TrimSpace(r.Header.Get(header)); sessionID != "" {
				return sessionID
			}
		}
	}
	if trimmed := strings.TrimSpace(fallback); trimmed != "" {
		return trimmed
	}
	return uuid.NewString()
}
