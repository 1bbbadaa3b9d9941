package dispatch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateSandboxCopiesTreeAndReplacesPrior(t *testing.T) {
	dir := t.TempDir()
	outputDir := filepath.Join(dir, "mystudy")
	os.MkdirAll(filepath.Join(outputDir, "scripts"), 0o755)
	os.WriteFile(filepath.Join(outputDir, "scripts", "01_run.py"), []byte("print(1)"), 0o644)

	sandbox, err := CreateSandbox(outputDir)
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	if filepath.Base(sandbox) != "mystudy_reproduce" {
		t.Fatalf("sandbox name = %q", sandbox)
	}
	data, err := os.ReadFile(filepath.Join(sandbox, "scripts", "01_run.py"))
	if err != nil || string(data) != "print(1)" {
		t.Fatalf("sandbox copy missing content: %v", err)
	}

	// A stray file from a prior sandbox should be gone after a second call.
	os.WriteFile(filepath.Join(sandbox, "stale.txt"), []byte("x"), 0o644)
	if _, err := CreateSandbox(outputDir); err != nil {
		t.Fatalf("CreateSandbox (second): %v", err)
	}
	if _, err := os.Stat(filepath.Join(sandbox, "stale.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected stale.txt removed by replacement sandbox copy")
	}
}

func TestCreatePaperWorkspaceOnlyCopiesNamedItemsAndNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "scripts"), 0o755)
	os.WriteFile(filepath.Join(dir, "scripts", "a.py"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(dir, "RESULTS.md"), []byte("results"), 0o644)
	os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("nope"), 0o644)

	paperDir, copied, err := CreatePaperWorkspace(dir)
	if err != nil {
		t.Fatalf("CreatePaperWorkspace: %v", err)
	}
	if len(copied) != 2 {
		t.Fatalf("copied = %v, want 2 items", copied)
	}
	if _, err := os.Stat(filepath.Join(paperDir, "unrelated.txt")); !os.IsNotExist(err) {
		t.Fatalf("unrelated.txt should not have been copied")
	}

	// Pre-existing destination file should be left untouched by a second run.
	os.WriteFile(filepath.Join(paperDir, "RESULTS.md"), []byte("edited by agent"), 0o644)
	_, copied2, err := CreatePaperWorkspace(dir)
	if err != nil {
		t.Fatalf("CreatePaperWorkspace (second): %v", err)
	}
	for _, item := range copied2 {
		if item == "RESULTS.md" {
			t.Fatalf("RESULTS.md should not be recopied once it exists")
		}
	}
	data, _ := os.ReadFile(filepath.Join(paperDir, "RESULTS.md"))
	if string(data) != "edited by agent" {
		t.Fatalf("existing RESULTS.md was overwritten")
	}
}

func TestCleanupPaperWorkspacePreservesUncopiedFiles(t *testing.T) {
	dir := t.TempDir()
	paperDir := filepath.Join(dir, "paper")
	os.MkdirAll(paperDir, 0o755)
	os.WriteFile(filepath.Join(paperDir, "scripts_copy_marker"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(paperDir, "paper.md"), []byte("agent output"), 0o644)

	CleanupPaperWorkspace(paperDir, []string{"scripts_copy_marker"})

	if _, err := os.Stat(filepath.Join(paperDir, "scripts_copy_marker")); !os.IsNotExist(err) {
		t.Fatalf("copied item should have been removed")
	}
	if _, err := os.Stat(filepath.Join(paperDir, "paper.md")); err != nil {
		t.Fatalf("agent-generated file should survive cleanup: %v", err)
	}
}
