package config

import (
	"os"
	"regexp"
)

// envVarRe matches ${VAR} or ${VAR:-default} references in a raw YAML
// document, expanded before unmarshaling.
var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} references in data with the
// corresponding environment variable value, or the default if the
// variable is unset or empty.
func ExpandEnv(data []byte) []byte {
	return envVarRe.ReplaceAllFunc(data, func(match []byte) []byte {
		groups := envVarRe.FindSubmatch(match)
		name := string(groups[1])
		def := string(groups[3])
		if v := os.Getenv(name); v != "" {
			return []byte(v)
		}
		return []byte(def)
	})
}
