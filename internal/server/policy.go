package server

import (
	"fmt"
	"net/http"

	"git.cscs.ch/openchami/filemaker-mcp/internal/policy"
)

// ToolAuthorizer is the execution mode gate. *policy.Guard implements it.
type ToolAuthorizer interface {
	Mode() string
	AuthorizeTool(name, capability string) error
}

// rejection is a tool call refused before execution. The HTTP transport
// answers with status; stdio reports message as invalid params.
type rejection struct {
	status  int
	message string
}

func (e *rejection) Error() string { return e.message }

func rejectf(status int, format string, args ...any) *rejection {
	return &rejection{status: status, message: fmt.Sprintf(format, args...)}
}

// toolGate admits a call only when the tool exists, the mode allows its
// capability, a destructive call is confirmed and the caller holds the
// tool's scopes. Checks run in that order.
type toolGate struct {
	registry   *ToolRegistry
	authorizer ToolAuthorizer
}

func (g toolGate) admit(name string, args map[string]any, principal SessionPrincipal) (ToolSpec, *rejection) {
	tool, ok := g.registry.Lookup(name)
	if !ok {
		return ToolSpec{}, rejectf(http.StatusNotFound, "unknown tool: %s", name)
	}
	if g.authorizer != nil {
		if err := g.authorizer.AuthorizeTool(tool.Name, tool.Capability); err != nil {
			return tool, rejectf(http.StatusForbidden, "tool authorization denied: %v", err)
		}
	}
	if err := policy.RequireConfirmation(tool.Name, tool.ConfirmationRequired, args); err != nil {
		return tool, rejectf(http.StatusBadRequest, "%v", err)
	}
	if err := requireToolScopes(tool, principal); err != nil {
		return tool, rejectf(http.StatusForbidden, "%v", err)
	}
	return tool, nil
}

func (g toolGate) mode() string {
	if g.authorizer == nil {
		return policy.ModeReadOnly
	}
	return g.authorizer.Mode()
}
