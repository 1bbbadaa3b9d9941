package dispatch

import (
	"io"
	"os"
	"path/filepath"
)

// PaperWorkspaceItems are the only study-output entries a "paper" dispatch
// is allowed to copy into its workspace.
var PaperWorkspaceItems = []string{"scripts", "data", "plots", "PROTOCOL.md", "RESULTS.md", "REPORT.md"}

// CreateSandbox recursively copies outputDir into a sibling "<name>_reproduce"
// directory, replacing any prior sandbox, for the "reproduce" task.
func CreateSandbox(outputDir string) (string, error) {
	sandbox := filepath.Join(filepath.Dir(outputDir), filepath.Base(outputDir)+SandboxSuffix)
	if err := os.RemoveAll(sandbox); err != nil {
		return "", err
	}
	if err := copyTree(outputDir, sandbox); err != nil {
		return "", err
	}
	return sandbox, nil
}

// CleanupSandbox removes a sandbox directory, best-effort, ignoring errors.
func CleanupSandbox(sandbox string) {
	if sandbox == "" {
		return
	}
	os.RemoveAll(sandbox)
}

// CreatePaperWorkspace copies only PaperWorkspaceItems from outputDir into
// outputDir/paper, never overwriting an item that already exists there.
// Returns the workspace path and the list of items actually copied (so
// cleanup only removes what this run added).
func CreatePaperWorkspace(outputDir string) (string, []string, error) {
	paperDir := filepath.Join(outputDir, "paper")
	if err := os.MkdirAll(paperDir, 0o755); err != nil {
		return "", nil, err
	}
	var copied []string
	for _, item := range PaperWorkspaceItems {
		src := filepath.Join(outputDir, item)
		dst := filepath.Join(paperDir, item)
		info, err := os.Stat(src)
		if err != nil {
			continue
		}
		if _, err := os.Stat(dst); err == nil {
			continue // already exists, never overwrite
		}
		if info.IsDir() {
			if err := copyTree(src, dst); err != nil {
				return paperDir, copied, err
			}
		} else {
			if err := copyFile(src, dst); err != nil {
				return paperDir, copied, err
			}
		}
		copied = append(copied, item)
	}
	return paperDir, copied, nil
}

// CleanupPaperWorkspace removes only the items this run copied in, so
// agent-generated outputs (paper.md, references.bib, new subdirectories)
// survive.
func CleanupPaperWorkspace(paperDir string, copied []string) {
	for _, item := range copied {
		os.RemoveAll(filepath.Join(paperDir, item))
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err == nil {
		os.Chmod(dst, info.Mode())
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target)
	})
}
