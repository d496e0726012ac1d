// Package api embeds the MCP tool contract for filemaker-mcp.
package api

import _ "embed"

// ToolsContract contains the raw tools.yaml contract.
//
//go:embed tools.yaml
var ToolsContract []byte
