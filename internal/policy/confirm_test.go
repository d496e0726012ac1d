package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequireConfirmation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name                 string
		toolName             string
		confirmationRequired bool
		args                 map[string]any
		wantErr              string
	}{
		{
			name:     "read tool needs no confirmation",
			toolName: "fm_api_paginated_query",
			args:     map[string]any{"layout": "People"},
		},
		{
			name:     "batch create needs no confirmation",
			toolName: "fm_api_batch_operations",
			args:     map[string]any{"operation": "create"},
		},
		{
			name:     "batch delete requires confirmation",
			toolName: "fm_api_batch_operations",
			args:     map[string]any{"operation": " Delete "},
			wantErr:  "requires confirm=true when operation=delete",
		},
		{
			name:     "batch delete accepts confirm true",
			toolName: "fm_api_batch_operations",
			args:     map[string]any{"operation": "delete", "confirm": true},
		},
		{
			name:     "cache clear requires confirmation",
			toolName: "fm_api_cache_management",
			args:     map[string]any{"action": "clear"},
			wantErr:  "when action=clear",
		},
		{
			name:     "cache get needs no confirmation",
			toolName: "fm_api_cache_management",
			args:     map[string]any{"action": "get", "key": "k"},
		},
		{
			name:                 "explicit confirmationRequired metadata is honored",
			toolName:             "custom.destructive",
			confirmationRequired: true,
			args:                 map[string]any{},
			wantErr:              "requires confirm=true",
		},
		{
			name:     "confirm must be boolean true",
			toolName: "fm_api_batch_operations",
			args:     map[string]any{"operation": "delete", "confirm": "true"},
			wantErr:  "requires confirm=true",
		},
		{
			name:     "nil arguments are tolerated",
			toolName: "fm_api_batch_operations",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := RequireConfirmation(tc.toolName, tc.confirmationRequired, tc.args)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
