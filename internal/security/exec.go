package security

import (
	"fmt"
	"sort"
	"strings"
)

// CommandGuard validates subprocess invocations before they run. Commands are
// executed without a shell, so the guard only needs to keep the binary on an
// allowlist and reject arguments that would be meaningful to a shell if a
// command line were ever logged and replayed.
type CommandGuard struct {
	allowed map[string]bool
}

// NewCommandGuard creates a guard permitting only the named binaries.
func NewCommandGuard(commands ...string) *CommandGuard {
	allowed := make(map[string]bool, len(commands))
	for _, cmd := range commands {
		allowed[cmd] = true
	}
	return &CommandGuard{allowed: allowed}
}

// Validate checks a command before execution.
func (g *CommandGuard) Validate(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	if !g.allowed[cmdParts[0]] {
		return fmt.Errorf("command not allowed: %s (must be one of: %v)", cmdParts[0], g.Allowed())
	}

	for i, arg := range cmdParts[1:] {
		if containsShellMetachars(arg) {
			return fmt.Errorf("argument %d contains shell metacharacters", i+1)
		}
	}

	return nil
}

// Allowed returns the sorted list of permitted binaries.
func (g *CommandGuard) Allowed() []string {
	commands := make([]string, 0, len(g.allowed))
	for cmd := range g.allowed {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}

// containsShellMetachars checks for characters used in command injection.
func containsShellMetachars(s string) bool {
	return strings.ContainsAny(s, ";|&$`\n><")
}
