package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
)

// CheckCommandAllowed enforces the --enable-commands allowlist. An empty
// allowlist allows everything.
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if allowed(allowlist, commandPath) {
		return nil
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// CheckToolAllowed enforces the planner tool allowlist. Tool names compare
// case-insensitively.
func CheckToolAllowed(allowlist []string, tool string) error {
	if allowed(allowlist, tool) {
		return nil
	}
	return clierr.New(clierr.CodeBlocked, "tool "+strings.TrimSpace(tool)+" is not enabled")
}

func allowed(allowlist []string, v string) bool {
	if len(allowlist) == 0 {
		return true
	}
	norm := normalize(v)
	for _, entry := range allowlist {
		if normalize(entry) == norm {
			return true
		}
	}
	return false
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
