// Package policy gates MCP tool calls: server mode against tool capability,
// explicit confirmation for destructive calls, and caller scopes.
package policy

import (
	"fmt"
	"strings"
)

const (
	// ModeReadOnly allows only read capability tools.
	ModeReadOnly = "read-only"
	// ModeReadWrite allows read and write capability tools.
	ModeReadWrite = "read-write"

	CapabilityRead  = "read"
	CapabilityWrite = "write"
)

// Guard enforces mode-based tool execution policy.
type Guard struct {
	mode string
}

// NewGuard validates the mode. read-write also needs enableWrite, so writing
// to FileMaker takes two separate settings.
func NewGuard(mode string, enableWrite bool) (*Guard, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(mode)); normalized {
	case "", ModeReadOnly:
		return &Guard{mode: ModeReadOnly}, nil
	case ModeReadWrite:
		if !enableWrite {
			return nil, fmt.Errorf("read-write mode requires FILEMAKER_MCP_ENABLE_WRITE=true")
		}
		return &Guard{mode: ModeReadWrite}, nil
	default:
		return nil, fmt.Errorf("invalid mode %q (allowed: %s|%s)", normalized, ModeReadOnly, ModeReadWrite)
	}
}

// Mode returns the resolved mode. A nil guard is read-only.
func (g *Guard) Mode() string {
	if g == nil {
		return ModeReadOnly
	}
	return g.mode
}

// AuthorizeTool rejects write tools outside read-write mode.
func (g *Guard) AuthorizeTool(name, capability string) error {
	toolName := strings.TrimSpace(name)
	if toolName == "" {
		toolName = "unknown"
	}

	switch strings.ToLower(strings.TrimSpace(capability)) {
	case CapabilityRead:
		return nil
	case CapabilityWrite:
		if g.Mode() == ModeReadWrite {
			return nil
		}
		return fmt.Errorf("tool %s writes to FileMaker and requires read-write mode", toolName)
	default:
		return fmt.Errorf("tool %s has unknown capability %q", toolName, strings.TrimSpace(capability))
	}
}
