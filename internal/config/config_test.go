package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvFallsBackToM4Prefix(t *testing.T) {
	os.Unsetenv("VITRINE_REDACT")
	os.Setenv("M4_VITRINE_REDACT", "0")
	defer os.Unsetenv("M4_VITRINE_REDACT")

	if got := Env("REDACT"); got != "0" {
		t.Errorf("Env(REDACT) = %q, want %q", got, "0")
	}

	os.Setenv("VITRINE_REDACT", "1")
	defer os.Unsetenv("VITRINE_REDACT")
	if got := Env("REDACT"); got != "1" {
		t.Errorf("Env(REDACT) should prefer VITRINE_ prefix, got %q", got)
	}
}

func TestResolveDirExplicitOverride(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("VITRINE_DATA_DIR", dir)
	defer os.Unsetenv("VITRINE_DATA_DIR")

	got, err := ResolveDir()
	if err != nil {
		t.Fatalf("ResolveDir: %v", err)
	}
	if got != dir {
		t.Errorf("ResolveDir() = %q, want %q", got, dir)
	}
}

func TestResolveDirFindsAncestor(t *testing.T) {
	os.Unsetenv("VITRINE_DATA_DIR")
	root := t.TempDir()
	vitrineDir := filepath.Join(root, ".vitrine")
	if err := os.MkdirAll(vitrineDir, 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	if err := os.Chdir(nested); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveDir()
	if err != nil {
		t.Fatalf("ResolveDir: %v", err)
	}
	want, _ := filepath.EvalSymlinks(vitrineDir)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Errorf("ResolveDir() = %q, want %q", got, vitrineDir)
	}
}

func TestLoadRedactionOverridesMissingFileIsNotError(t *testing.T) {
	cfg, err := LoadRedactionOverrides(t.TempDir())
	if err != nil {
		t.Fatalf("LoadRedactionOverrides: %v", err)
	}
	if len(cfg.Patterns) != 0 {
		t.Errorf("expected zero-value overrides, got %+v", cfg)
	}
}

func TestApplyRedactionOverridesDoesNotClobberExplicitEnv(t *testing.T) {
	os.Setenv("VITRINE_HASH_IDS", "0")
	defer os.Unsetenv("VITRINE_HASH_IDS")

	ApplyRedactionOverrides(&RedactionOverrides{HashIDs: true})
	if got := Env("HASH_IDS"); got != "0" {
		t.Errorf("ApplyRedactionOverrides must not override an explicit env var, got %q", got)
	}
}
