package policy

import (
	"fmt"
	"slices"
	"strings"
)

// RequireScopes validates that granted scopes satisfy the scopes a tool
// requires. No required scopes means no gate. A granted "admin" allows
// everything, and a granted "<prefix>:*" covers every "<prefix>:<name>".
func RequireScopes(toolName string, required, granted []string) error {
	requiredScopes := normalizeScopeList(required)
	if len(requiredScopes) == 0 {
		return nil
	}

	grantedScopes := normalizeScopeList(granted)
	if slices.Contains(grantedScopes, "admin") {
		return nil
	}

	var missing []string
	for _, scope := range requiredScopes {
		if !scopeGranted(scope, grantedScopes) {
			missing = append(missing, scope)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	tool := strings.TrimSpace(toolName)
	if tool == "" {
		tool = "unknown"
	}
	grantedSummary := "none"
	if len(grantedScopes) > 0 {
		grantedSummary = strings.Join(grantedScopes, ", ")
	}
	return fmt.Errorf("tool %s missing required scope(s): %s (granted: %s)",
		tool, strings.Join(missing, ", "), grantedSummary)
}

func scopeGranted(scope string, granted []string) bool {
	for _, g := range granted {
		if g == scope {
			return true
		}
		if prefix, ok := strings.CutSuffix(g, ":*"); ok && strings.HasPrefix(scope, prefix+":") {
			return true
		}
	}
	return false
}

func normalizeScopeList(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	result := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		trimmed := strings.TrimSpace(scope)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
