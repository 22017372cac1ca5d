package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} placeholders. Expansion
// runs over the raw YAML text before parsing, so placeholders work in any
// position.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads a cronhub.yaml file, expands environment placeholders, and
// overlays the parsed document on Default so omitted keys keep their
// defaults. The result is not validated; callers run Validate so the
// `config check` command can report both stages separately.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load except that an empty path yields the
// built-in defaults, so the daemon can start without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// expandEnv substitutes ${VAR} and ${VAR:-default} placeholders. A set
// environment variable wins over the inline default; a placeholder with
// neither is an error, and every such name is reported at once.
func expandEnv(raw []byte) ([]byte, error) {
	matches := envPattern.FindAllSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return raw, nil
	}

	var (
		out        bytes.Buffer
		unresolved []string
		last       int
	)
	for _, m := range matches {
		out.Write(raw[last:m[0]])
		last = m[1]

		name := string(raw[m[2]:m[3]])
		if value, ok := os.LookupEnv(name); ok {
			out.WriteString(value)
			continue
		}
		if m[4] >= 0 {
			out.Write(raw[m[4]:m[5]])
			continue
		}
		unresolved = append(unresolved, name)
	}
	out.Write(raw[last:])

	if len(unresolved) > 0 {
		return nil, fmt.Errorf("unresolved variables: %s", strings.Join(unresolved, ", "))
	}
	return out.Bytes(), nil
}
