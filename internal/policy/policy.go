package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
)

// CheckCommandAllowed enforces --enable-commands. An allowlist entry admits
// the named command and everything beneath it, so "wallet" admits
// "wallet create".
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		a := normalize(allowed)
		if a == "" {
			continue
		}
		if a == normPath || strings.HasPrefix(normPath, a+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// Mutating reports whether a command path moves funds or changes custody.
func Mutating(commandPath string) bool {
	switch normalize(commandPath) {
	case "swap", "withdraw", "wallet create", "wallet import", "serve":
		return true
	default:
		return false
	}
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
