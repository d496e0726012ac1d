package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"git.cscs.ch/openchami/filemaker-mcp/api"
)

func TestNewToolRegistry_Success(t *testing.T) {
	contract := []byte(`
version: "1.0"
service: "filemaker-mcp"
apiVersion: "mcp/v1"
tools:
  - name: fm_api_bulk_export
    capability: Read
    requiredScopes: ["read:records"]
    inputSchema:
      type: object
  - name: fm_api_bulk_import
    capability: write
`)
	registry, err := NewToolRegistry(contract)
	require.NoError(t, err)
	require.Len(t, registry.List(), 2)
	require.Equal(t, "fm_api_bulk_export", registry.List()[0].Name)

	tool, ok := registry.Lookup(" fm_api_bulk_export ")
	require.True(t, ok)
	require.Equal(t, "read", tool.Capability)
	require.Equal(t, []string{"read:records"}, tool.RequiredScopes)

	_, ok = registry.Lookup("fm_api_nope")
	require.False(t, ok)
}

func TestNewToolRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		contract string
		want     string
	}{
		{
			name: "duplicate",
			contract: `
tools:
  - name: same
    capability: read
  - name: same
    capability: write
`,
			want: "duplicate tool",
		},
		{
			name:     "empty",
			contract: "tools: []\n",
			want:     "no tools",
		},
		{
			name: "blank name",
			contract: `
tools:
  - name: "  "
    capability: read
`,
			want: "empty tool name",
		},
		{
			name: "missing capability",
			contract: `
tools:
  - name: fm_api_bulk_export
`,
			want: "empty capability",
		},
		{
			name: "unknown capability",
			contract: `
tools:
  - name: fm_api_bulk_export
    capability: admin
`,
			want: "unknown capability",
		},
		{
			name: "non-object schema",
			contract: `
tools:
  - name: fm_api_bulk_export
    capability: read
    inputSchema:
      type: array
`,
			want: "input schema must have type object",
		},
		{
			name:     "malformed yaml",
			contract: "tools: [",
			want:     "decoding tool contract",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewToolRegistry([]byte(tt.contract))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewToolRegistry_NormalizesScopesAndServerName(t *testing.T) {
	registry, err := NewToolRegistry([]byte(`
service: "  "
tools:
  - name: fm_api_data_sync
    capability: write
    requiredScopes: [" Write:Records ", "write:records", "", "read:records"]
`))
	require.NoError(t, err)
	require.Equal(t, defaultServerName, registry.ServerName())

	tool, ok := registry.Lookup("fm_api_data_sync")
	require.True(t, ok)
	require.Equal(t, []string{"read:records", "write:records"}, tool.RequiredScopes)

	listed := registry.List()
	listed[0].Name = "mutated"
	again, _ := registry.Lookup("fm_api_data_sync")
	require.Equal(t, "fm_api_data_sync", again.Name)
}

func TestToolGate_ChecksInOrder(t *testing.T) {
	registry, err := NewToolRegistry([]byte(`
service: "filemaker-mcp"
tools:
  - name: fm_api_batch_operations
    capability: write
    requiredScopes: ["write:records"]
  - name: fm_api_cache_management
    capability: read
    requiredScopes: ["read:runtime"]
`))
	require.NoError(t, err)
	readOnly := toolGate{registry: registry, authorizer: mustReadOnlyGuard(t)}
	readWrite := toolGate{registry: registry, authorizer: mustReadWriteGuard(t)}
	admin := SessionPrincipal{Subject: "a", Scopes: []string{"admin"}}
	reader := SessionPrincipal{Subject: "r", Scopes: []string{"read:records"}}

	_, rejected := readWrite.admit("fm_api_nope", nil, admin)
	require.Equal(t, 404, rejected.status)

	_, rejected = readOnly.admit("fm_api_batch_operations", map[string]any{"operation": "delete"}, reader)
	require.Equal(t, 403, rejected.status)
	require.Contains(t, rejected.message, "requires read-write mode")

	_, rejected = readWrite.admit("fm_api_batch_operations", map[string]any{"operation": "delete"}, reader)
	require.Equal(t, 400, rejected.status)

	_, rejected = readWrite.admit("fm_api_batch_operations", map[string]any{"operation": "delete", "confirm": true}, reader)
	require.Equal(t, 403, rejected.status)
	require.Contains(t, rejected.message, "write:records")

	_, rejected = readOnly.admit("fm_api_cache_management", map[string]any{"action": "clear"}, admin)
	require.Equal(t, 400, rejected.status)

	tool, rejected := readOnly.admit("fm_api_cache_management", map[string]any{"action": "stats"}, admin)
	require.Nil(t, rejected)
	require.Equal(t, "fm_api_cache_management", tool.Name)
	require.Equal(t, "read-only", readOnly.mode())
	require.Equal(t, "read-only", toolGate{registry: registry}.mode())
}

func TestNewToolRegistry_EmbeddedContract(t *testing.T) {
	registry, err := NewToolRegistry(api.ToolsContract)
	require.NoError(t, err)
	require.Equal(t, "filemaker-mcp", registry.ServerName())
	require.Len(t, registry.List(), 8)

	batch, ok := registry.Lookup("fm_api_batch_operations")
	require.True(t, ok)
	require.Equal(t, "write", batch.Capability)
	require.Equal(t, []string{"write:records"}, batch.RequiredScopes)
}
