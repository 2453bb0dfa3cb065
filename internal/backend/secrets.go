package backend

import (
	"fmt"
	"os"
	"strings"
)

// LoadSecrets reads a KEY=value env file (optionally with `export ` prefixes
// and quoted values) into a map for adapter constructors.
func LoadSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets env file: %w", err)
	}
	secrets := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || s[0] == '#' {
			continue
		}
		s = strings.TrimPrefix(s, "export ")
		eqIdx := strings.IndexByte(s, '=')
		if eqIdx < 0 {
			continue
		}
		key := s[:eqIdx]
		val := stripQuotes(s[eqIdx+1:])
		secrets[key] = val
	}
	return secrets, nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
