package policy

import (
	"fmt"
	"strings"
)

// destructiveArgument names the argument whose values make a tool call
// destructive.
type destructiveArgument struct {
	argument string
	values   []string
}

var destructiveCalls = map[string]destructiveArgument{
	"fm_api_batch_operations": {argument: "operation", values: []string{"delete"}},
	"fm_api_cache_management": {argument: "action", values: []string{"clear"}},
}

// RequireConfirmation enforces explicit confirm=true for destructive calls:
// tools flagged confirmationRequired in the contract and the argument values
// listed in destructiveCalls.
func RequireConfirmation(toolName string, confirmationRequired bool, args map[string]any) error {
	name := strings.TrimSpace(toolName)
	if name == "" {
		return nil
	}

	required, reason := confirmationRequirement(name, confirmationRequired, args)
	if !required || hasConfirmTrue(args) {
		return nil
	}
	return fmt.Errorf("tool %s requires confirm=true %s", name, reason)
}

func confirmationRequirement(toolName string, confirmationRequired bool, args map[string]any) (bool, string) {
	if confirmationRequired {
		return true, "for destructive operations"
	}
	rule, ok := destructiveCalls[toolName]
	if !ok {
		return false, ""
	}

	raw, ok := args[rule.argument].(string)
	if !ok {
		return false, ""
	}
	value := strings.ToLower(strings.TrimSpace(raw))
	for _, destructive := range rule.values {
		if value == destructive {
			return true, fmt.Sprintf("when %s=%s", rule.argument, value)
		}
	}
	return false, ""
}

func hasConfirmTrue(args map[string]any) bool {
	confirm, ok := args["confirm"].(bool)
	return ok && confirm
}
