package config

import (
	"os"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// GetEnvObject returns the process environment as a cty object, exposed to
// config files as env.NAME.
func GetEnvObject() cty.Value {
	vars := make(map[string]cty.Value)

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		vars[sanitizeEnvVarName(name)] = cty.StringVal(value)
	}

	if len(vars) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(vars)
}

// sanitizeEnvVarName maps name onto a valid HCL identifier: a letter or
// underscore followed by letters, digits, underscores and hyphens.
func sanitizeEnvVarName(name string) string {
	if name == "" {
		return "_"
	}

	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || isLetter(r):
			b.WriteRune(r)
		case i > 0 && (r == '-' || isDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func isLetter(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }
func isDigit(r rune) bool  { return r >= '0' && r <= '9' }
