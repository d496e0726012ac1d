package server

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"git.cscs.ch/openchami/filemaker-mcp/internal/policy"
)

const (
	defaultProtocolVersion = "2024-11-05"
	defaultServerName      = "filemaker-mcp"
)

// ToolSpec is one tool entry of api/tools.yaml.
type ToolSpec struct {
	Name                 string         `yaml:"name" json:"name"`
	Capability           string         `yaml:"capability" json:"capability"`
	Description          string         `yaml:"description,omitempty" json:"description,omitempty"`
	RequiredScopes       []string       `yaml:"requiredScopes,omitempty" json:"requiredScopes,omitempty"`
	ConfirmationRequired bool           `yaml:"confirmationRequired,omitempty" json:"confirmationRequired,omitempty"`
	InputSchema          map[string]any `yaml:"inputSchema,omitempty" json:"inputSchema,omitempty"`
}

type toolContract struct {
	Version    string     `yaml:"version"`
	Service    string     `yaml:"service"`
	APIVersion string     `yaml:"apiVersion"`
	Tools      []ToolSpec `yaml:"tools"`
}

// ToolRegistry is the parsed, validated tool contract. It is read-only after
// construction.
type ToolRegistry struct {
	service string
	tools   []ToolSpec
	byName  map[string]int
}

// NewToolRegistry parses contractYAML. Tool names must be unique and
// non-empty, capabilities must be read or write, and an input schema, when
// present, must describe an object.
func NewToolRegistry(contractYAML []byte) (*ToolRegistry, error) {
	var parsed toolContract
	if err := yaml.Unmarshal(contractYAML, &parsed); err != nil {
		return nil, fmt.Errorf("decoding tool contract: %w", err)
	}
	if len(parsed.Tools) == 0 {
		return nil, fmt.Errorf("tool contract has no tools")
	}

	registry := &ToolRegistry{
		service: strings.TrimSpace(parsed.Service),
		tools:   make([]ToolSpec, 0, len(parsed.Tools)),
		byName:  make(map[string]int, len(parsed.Tools)),
	}
	for _, tool := range parsed.Tools {
		normalized, err := normalizeToolSpec(tool)
		if err != nil {
			return nil, err
		}
		if _, exists := registry.byName[normalized.Name]; exists {
			return nil, fmt.Errorf("tool contract contains duplicate tool %q", normalized.Name)
		}
		registry.byName[normalized.Name] = len(registry.tools)
		registry.tools = append(registry.tools, normalized)
	}
	return registry, nil
}

func normalizeToolSpec(tool ToolSpec) (ToolSpec, error) {
	tool.Name = strings.TrimSpace(tool.Name)
	if tool.Name == "" {
		return ToolSpec{}, fmt.Errorf("tool contract contains empty tool name")
	}

	tool.Capability = strings.ToLower(strings.TrimSpace(tool.Capability))
	switch tool.Capability {
	case policy.CapabilityRead, policy.CapabilityWrite:
	case "":
		return ToolSpec{}, fmt.Errorf("tool %q has empty capability", tool.Name)
	default:
		return ToolSpec{}, fmt.Errorf("tool %q has unknown capability %q", tool.Name, tool.Capability)
	}

	if tool.InputSchema != nil {
		if kind, _ := tool.InputSchema["type"].(string); kind != "object" {
			return ToolSpec{}, fmt.Errorf("tool %q input schema must have type object", tool.Name)
		}
	}

	scopes := make([]string, 0, len(tool.RequiredScopes))
	for _, scope := range tool.RequiredScopes {
		if scope = strings.ToLower(strings.TrimSpace(scope)); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	slices.Sort(scopes)
	tool.RequiredScopes = slices.Compact(scopes)
	tool.Description = strings.TrimSpace(tool.Description)
	return tool, nil
}

// ServerName is the service named in the contract header, used as the MCP
// serverInfo name.
func (r *ToolRegistry) ServerName() string {
	if r == nil || r.service == "" {
		return defaultServerName
	}
	return r.service
}

// List returns all registered tools in contract order.
func (r *ToolRegistry) List() []ToolSpec {
	return slices.Clone(r.tools)
}

// Lookup returns a tool by name.
func (r *ToolRegistry) Lookup(name string) (ToolSpec, bool) {
	i, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return ToolSpec{}, false
	}
	return r.tools[i], true
}
