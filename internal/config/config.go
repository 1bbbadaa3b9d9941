// Package config resolves the vitrine data directory and reads the
// environment-variable configuration surface.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Env reads name with the VITRINE_ prefix, falling back to the M4_VITRINE_
// alias.
func Env(name string) string {
	if v := os.Getenv("VITRINE_" + name); v != "" {
		return v
	}
	return os.Getenv("M4_VITRINE_" + name)
}

// ResolveDir resolves the vitrine directory: explicit env override, else the
// nearest ancestor ".vitrine/" directory above the current working
// directory, else "<cwd>/.vitrine".
func ResolveDir() (string, error) {
	if dir := Env("DATA_DIR"); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if dir, ok := findAncestorVitrineDir(cwd); ok {
		return dir, nil
	}
	return filepath.Join(cwd, ".vitrine"), nil
}

func findAncestorVitrineDir(start string) (string, bool) {
	dir := start
	for {
		candidate := filepath.Join(dir, ".vitrine")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// RedactionOverrides is the optional <vitrine-dir>/redaction.yaml seed file:
// column-name regex overrides for the renderer's PHI masking, consulted only
// when VITRINE_REDACT_PATTERNS is not already set in the environment.
type RedactionOverrides struct {
	Patterns []string `yaml:"patterns"`
	MaxRows  int      `yaml:"max_rows"`
	HashIDs  bool     `yaml:"hash_ids"`
}

// LoadRedactionOverrides reads <vitrineDir>/redaction.yaml. A missing file is
// not an error: it returns a zero-value RedactionOverrides.
func LoadRedactionOverrides(vitrineDir string) (*RedactionOverrides, error) {
	path := filepath.Join(vitrineDir, "redaction.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RedactionOverrides{}, nil
		}
		return nil, err
	}
	var cfg RedactionOverrides
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyRedactionOverrides copies a loaded redaction.yaml's settings into the
// process environment under the VITRINE_ prefix, but only for variables not
// already set — the YAML file seeds defaults, it never overrides an explicit
// environment variable.
func ApplyRedactionOverrides(cfg *RedactionOverrides) {
	if cfg == nil {
		return
	}
	if len(cfg.Patterns) > 0 && Env("REDACT_PATTERNS") == "" {
		joined := ""
		for i, p := range cfg.Patterns {
			if i > 0 {
				joined += ","
			}
			joined += p
		}
		os.Setenv("VITRINE_REDACT_PATTERNS", joined)
	}
	if cfg.MaxRows > 0 && Env("MAX_ROWS") == "" {
		os.Setenv("VITRINE_MAX_ROWS", strconv.Itoa(cfg.MaxRows))
	}
	if cfg.HashIDs && Env("HASH_IDS") == "" {
		os.Setenv("VITRINE_HASH_IDS", "1")
	}
}
