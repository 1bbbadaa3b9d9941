package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hannesill/vitrine/internal/config"
	"github.com/hannesill/vitrine/internal/study"
)

// SkillsDir resolves the directory containing one subdirectory per task,
// each holding a SKILL.md template. Overridable via VITRINE_SKILLS_DIR;
// defaults to a "skills" directory next to the running binary.
func SkillsDir() string {
	if dir := config.Env("SKILLS_DIR"); dir != "" {
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		return "skills"
	}
	return filepath.Join(filepath.Dir(exe), "skills")
}

func skillPath(skillsDir, task string) (string, error) {
	cfg, ok := DefaultTaskConfig[task]
	if !ok {
		return "", fmt.Errorf("unknown dispatch task: %q", task)
	}
	return filepath.Join(skillsDir, cfg.SkillDir, "SKILL.md"), nil
}

// ReadSkill reads the SKILL.md template for task, or "" if not present —
// callers decide whether a missing template is fatal (Run) or tolerable
// (preview building, where an empty prompt_preview is fine).
func ReadSkill(skillsDir, task string) string {
	path, err := skillPath(skillsDir, task)
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// BuildPrompt assembles the full prompt sent to a dispatched agent's stdin:
// the skill content, the study's output directory (or sandboxed work dir),
// any researcher-supplied additional instructions, and a JSON dump of the
// study context.
func BuildPrompt(skillsDir, task, studyLabel string, mgr *study.Manager, workDir, additionalPrompt string) (string, error) {
	skillContent := ReadSkill(skillsDir, task)
	if skillContent == "" {
		path, _ := skillPath(skillsDir, task)
		return "", fmt.Errorf("skill file not found: %s", path)
	}

	mgr.Refresh()
	ctx := mgr.BuildContext(studyLabel)
	ctxJSON, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling study context: %w", err)
	}

	outputDirStr := workDir
	sandboxNote := ""
	if workDir != "" {
		sandboxNote = "\n> **Sandbox:** This is a copy of the original study output. " +
			"You may freely run scripts and modify files here — the original study data is untouched.\n"
	} else {
		if dir := mgr.GetOutputDir(studyLabel); dir != "" {
			if _, err := os.Stat(dir); err == nil {
				outputDirStr = dir
			}
		}
		if outputDirStr == "" {
			outputDirStr = "(none)"
		}
	}

	additionalSection := ""
	if strings.TrimSpace(additionalPrompt) != "" {
		additionalSection = fmt.Sprintf("\n### Additional Instructions\n\n%s\n", strings.TrimSpace(additionalPrompt))
	}

	return fmt.Sprintf(`%s

---

## Dispatch Context

**Study:** %s
**Output directory:** `+"`%s`"+`
%s
Use Glob, Read, and Grep to explore the output directory. Key locations:
- `+"`scripts/`"+` — analysis scripts (numbered .py files)
- `+"`data/`"+` — saved DataFrames (.parquet)
- `+"`plots/`"+` — figures (.png, .html)
- `+"`PROTOCOL.md`"+` — research protocol
- `+"`STUDY.md`"+` — study description
- `+"`RESULTS.md`"+` — findings (if completed)
%s
### Study Context (cards, decisions, annotations)

`+"```json\n%s\n```"+`

---

## Output Instructions

Your output is streamed directly into a single vitrine card as markdown.
Write your analysis as markdown to stdout — that IS the card content.
Structure your output with clear headings. Start writing immediately so the
user sees progress.
`, skillContent, studyLabel, outputDirStr, sandboxNote, additionalSection, string(ctxJSON)), nil
}

// BuildPreview constructs the preview dict stored on a newly-created AGENT
// card.
func BuildPreview(skillsDir, task, status, model string, additionalPrompt string, budget *int) map[string]any {
	cfg := DefaultTaskConfig[task]
	fullPrompt := ReadSkill(skillsDir, task)
	preview := fullPrompt
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}

	tools := []string{}
	if cfg.Tools != "" {
		tools = strings.Split(cfg.Tools, ",")
	}

	var budgetVal any
	if budget != nil {
		budgetVal = *budget
	}

	return map[string]any{
		"task":             task,
		"status":           status,
		"model":            model,
		"tools":            tools,
		"prompt_preview":   preview,
		"full_prompt":      fullPrompt,
		"additional_prompt": additionalPrompt,
		"budget":           budgetVal,
		"output":           "",
		"started_at":       nil,
		"completed_at":     nil,
		"duration":         nil,
		"error":            nil,
		"last_activity_at": nil,
		"usage": map[string]any{
			"input_tokens":   0,
			"output_tokens":  0,
			"context_window": ModelContextWindows[model],
			"cost_usd":       nil,
		},
	}
}
