package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches ${NAME}, ${NAME:-fallback} and ${NAME:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:-|:\?)([^}]*))?\}`)

// ExpandEnv substitutes environment references in a config document.
//
//   - ${NAME} is the variable's value, empty when unset
//   - ${NAME:-fallback} uses fallback when NAME is unset or empty
//   - ${NAME:?message} is required: unset or empty is an error naming NAME
//
// Lines that are YAML comments are copied unchanged, so commented-out
// examples never trip a required reference. Every missing required
// variable is reported, not just the first.
func ExpandEnv(doc string) (string, error) {
	lines := strings.SplitAfter(doc, "\n")
	var missing []error
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines[i] = envRef.ReplaceAllStringFunc(line, func(ref string) string {
			m := envRef.FindStringSubmatch(ref)
			name, op, arg := m[1], m[2], m[3]
			if v := os.Getenv(name); v != "" {
				return v
			}
			switch op {
			case ":-":
				return arg
			case ":?":
				if arg == "" {
					arg = "required"
				}
				missing = append(missing, fmt.Errorf("line %d: ${%s}: %s", i+1, name, arg))
			}
			return ""
		})
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("environment: %w", errors.Join(missing...))
	}
	return strings.Join(lines, ""), nil
}
