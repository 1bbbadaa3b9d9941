// Package study implements the cross-study index on top of internal/artifact:
// discovery, label/dir-name/card-id bookkeeping, rename/delete, age-based
// cleanup, agent-facing context summaries, and output-directory bookkeeping,
// generalized from study_manager.py.
package study

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hannesill/vitrine/internal/artifact"
	"github.com/hannesill/vitrine/internal/card"
)

var labelSanitizeRe = regexp.MustCompile(`[^a-z0-9]+`)

func sanitizeLabel(label string) string {
	s := strings.ToLower(label)
	s = labelSanitizeRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = s[:64]
	}
	if s == "" {
		return "unnamed"
	}
	return s
}

func makeStudyDirName(label string) string {
	ts := time.Now().UTC().Format("2006-01-02_150405")
	return ts + "_" + sanitizeLabel(label)
}

var ageRe = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*([dhms]?)$`)

// ParseAge parses a duration string like "7d", "24h", "30m", or a bare
// integer (seconds), matching study_manager.py's _parse_age.
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	m := ageRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid age string %q (expected e.g. %q, %q)", s, "7d", "24h")
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid age string %q: %w", s, err)
	}
	unit := strings.ToLower(m[2])
	if unit == "" {
		unit = "s"
	}
	multipliers := map[string]float64{"d": 86400, "h": 3600, "m": 60, "s": 1}
	return time.Duration(value * multipliers[unit] * float64(time.Second)), nil
}

// Summary is the per-study row returned by ListStudies.
type Summary struct {
	Label     string `json:"label"`
	DirName   string `json:"dir_name"`
	StartTime string `json:"start_time"`
	CardCount int    `json:"card_count"`
	SessionID string `json:"session_id,omitempty"`
}

// Context is the agent-facing re-orientation summary built by BuildContext.
type Context struct {
	Study             string           `json:"study"`
	CardCount         int              `json:"card_count"`
	Cards             []map[string]any `json:"cards"`
	Decisions         []map[string]any `json:"decisions"`
	PendingResponses  []map[string]any `json:"pending_responses"`
	DecisionsMade     []map[string]any `json:"decisions_made"`
	CurrentSelections map[string]any   `json:"current_selections"`
}

// OutputFile describes one entry under a study's registered output
// directory.
type OutputFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
	Type     string `json:"type"`
	IsDir    bool   `json:"is_dir"`
}

var extTypes = map[string]string{
	".py": "python", ".r": "r", ".sql": "sql", ".md": "markdown",
	".csv": "csv", ".parquet": "parquet", ".tsv": "csv", ".json": "data",
	".yaml": "data", ".yml": "data", ".toml": "data", ".cfg": "text",
	".txt": "text", ".log": "text", ".png": "image", ".jpg": "image",
	".jpeg": "image", ".gif": "image", ".svg": "image", ".pdf": "pdf",
	".html": "html", ".htm": "html",
}

// Manager owns every study's ArtifactStore and the cross-study indexes.
type Manager struct {
	mu sync.RWMutex

	studiesDir string

	stores    map[string]*artifact.Store // dir_name -> store
	labelToDir map[string]string          // label -> dir_name
	cardIndex  map[string]string          // card_id -> dir_name
}

// NewManager opens (creating if absent) the studies directory under
// vitrineDir and discovers any existing study directories.
func NewManager(vitrineDir string) (*Manager, error) {
	studiesDir := filepath.Join(vitrineDir, "studies")
	if err := os.MkdirAll(studiesDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating studies dir: %w", err)
	}
	m := &Manager{
		studiesDir: studiesDir,
		stores:     map[string]*artifact.Store{},
		labelToDir: map[string]string{},
		cardIndex:  map[string]string{},
	}
	m.discover()
	return m, nil
}

func atomicWriteMeta(path string, meta map[string]any) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".meta-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func readMeta(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]any{}
	}
	var meta map[string]any
	if json.Unmarshal(data, &meta) != nil {
		return map[string]any{}
	}
	return meta
}

func (m *Manager) discover() {
	entries, err := os.ReadDir(m.studiesDir)
	if err != nil {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m.loadStudyLocked(e.Name())
	}
}

// loadStudyLocked instantiates a store for dir_name and indexes its cards.
// Caller must hold m.mu for writing.
func (m *Manager) loadStudyLocked(dirName string) (*artifact.Store, error) {
	studyDir := filepath.Join(m.studiesDir, dirName)
	metaPath := filepath.Join(studyDir, "meta.json")
	meta := readMeta(metaPath)
	label, _ := meta["label"].(string)
	if label == "" {
		label = dirName
	}

	store, err := artifact.Open(studyDir, dirName)
	if err != nil {
		return nil, err
	}
	m.stores[dirName] = store
	m.labelToDir[label] = dirName

	cards, err := store.ListCards("")
	if err == nil {
		for _, c := range cards {
			m.cardIndex[c.ID] = dirName
		}
	}
	return store, nil
}

// GetOrCreateStudy returns the existing study for label, or creates one. If
// label is empty, an auto-generated label is synthesized.
func (m *Manager) GetOrCreateStudy(label string) (string, *artifact.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if label == "" {
		label = time.Now().UTC().Format("auto-20060102-150405")
	}
	if dirName, ok := m.labelToDir[label]; ok {
		if store, ok := m.stores[dirName]; ok {
			return label, store, nil
		}
		store, err := m.loadStudyLocked(dirName)
		return label, store, err
	}

	dirName := makeStudyDirName(label)
	studyDir := filepath.Join(m.studiesDir, dirName)
	if err := os.MkdirAll(studyDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating study dir: %w", err)
	}

	meta := map[string]any{
		"label":      label,
		"dir_name":   dirName,
		"start_time": time.Now().UTC().Format(time.RFC3339),
	}
	if err := atomicWriteMeta(filepath.Join(studyDir, "meta.json"), meta); err != nil {
		return "", nil, fmt.Errorf("writing study meta: %w", err)
	}

	store, err := artifact.Open(studyDir, dirName)
	if err != nil {
		return "", nil, err
	}
	m.stores[dirName] = store
	m.labelToDir[label] = dirName
	log.Printf("[STUDY] created study %q -> %s", label, dirName)
	return label, store, nil
}

// EnsureStudyLoaded loads dirName into memory if its directory exists and it
// is not already known.
func (m *Manager) EnsureStudyLoaded(dirName string) (*artifact.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[dirName]; ok {
		return store, nil
	}
	studyDir := filepath.Join(m.studiesDir, dirName)
	if _, err := os.Stat(studyDir); err != nil {
		return nil, nil
	}
	return m.loadStudyLocked(dirName)
}

// DeleteStudy recursively removes a study's directory and evicts it from
// every in-memory index.
func (m *Manager) DeleteStudy(label string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dirName, ok := m.labelToDir[label]
	if !ok {
		return false, nil
	}

	if store, ok := m.stores[dirName]; ok {
		if err := store.DeleteSession(); err != nil {
			return false, fmt.Errorf("deleting study directory: %w", err)
		}
	} else {
		os.RemoveAll(filepath.Join(m.studiesDir, dirName))
	}

	delete(m.stores, dirName)
	delete(m.labelToDir, label)
	for cid, dn := range m.cardIndex {
		if dn == dirName {
			delete(m.cardIndex, cid)
		}
	}
	log.Printf("[STUDY] deleted study %q (%s)", label, dirName)
	return true, nil
}

// RenameStudy renames a study's label and directory, preserving the
// directory's timestamp prefix.
func (m *Manager) RenameStudy(oldLabel, newLabel string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.labelToDir[oldLabel]; !ok {
		return false, nil
	}
	if _, ok := m.labelToDir[newLabel]; ok {
		return false, nil
	}
	if strings.TrimSpace(newLabel) == "" {
		return false, nil
	}

	oldDirName := m.labelToDir[oldLabel]
	oldDir := filepath.Join(m.studiesDir, oldDirName)

	parts := strings.SplitN(oldDirName, "_", 3)
	var newDirName string
	if len(parts) == 3 {
		newDirName = parts[0] + "_" + parts[1] + "_" + sanitizeLabel(newLabel)
	} else {
		newDirName = sanitizeLabel(newLabel)
	}
	newDir := filepath.Join(m.studiesDir, newDirName)

	store := m.stores[oldDirName]
	if store != nil {
		if _, err := store.RenameStudy(oldLabel, newLabel); err != nil {
			return false, fmt.Errorf("updating card study fields: %w", err)
		}
	}

	if _, err := os.Stat(oldDir); err == nil {
		if _, err := os.Stat(newDir); err == nil {
			return false, fmt.Errorf("renaming study directory: target %q already exists", newDirName)
		}
		if err := os.Rename(oldDir, newDir); err != nil {
			return false, fmt.Errorf("renaming study directory: %w", err)
		}
	}

	if store != nil {
		store.Relocate(newDir, newDirName)
	}

	delete(m.labelToDir, oldLabel)
	m.labelToDir[newLabel] = newDirName
	if s, ok := m.stores[oldDirName]; ok {
		m.stores[newDirName] = s
		delete(m.stores, oldDirName)
	}
	for cid, dn := range m.cardIndex {
		if dn == oldDirName {
			m.cardIndex[cid] = newDirName
		}
	}

	metaPath := filepath.Join(newDir, "meta.json")
	if meta := readMeta(metaPath); len(meta) > 0 {
		meta["label"] = newLabel
		meta["dir_name"] = newDirName
		atomicWriteMeta(metaPath, meta)
	}

	log.Printf("[STUDY] renamed study %q -> %q (%s -> %s)", oldLabel, newLabel, oldDirName, newDirName)
	return true, nil
}

// CleanStudies removes every study older than olderThan, returning the
// count removed.
func (m *Manager) CleanStudies(olderThan string) (int, error) {
	maxAge, err := ParseAge(olderThan)
	if err != nil {
		return 0, err
	}

	m.mu.RLock()
	labels := make([]string, 0, len(m.labelToDir))
	for label := range m.labelToDir {
		labels = append(labels, label)
	}
	m.mu.RUnlock()

	now := time.Now()
	removed := 0
	for _, label := range labels {
		m.mu.RLock()
		dirName, ok := m.labelToDir[label]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		metaPath := filepath.Join(m.studiesDir, dirName, "meta.json")
		meta := readMeta(metaPath)
		startTimeStr, _ := meta["start_time"].(string)
		if startTimeStr != "" {
			if startTime, err := time.Parse(time.RFC3339, startTimeStr); err == nil {
				if now.Sub(startTime) < maxAge {
					continue
				}
			}
		}
		if deleted, err := m.DeleteStudy(label); err == nil && deleted {
			removed++
		}
	}
	return removed, nil
}

// ListStudies returns every known study's summary, sorted newest first.
func (m *Manager) ListStudies() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]Summary, 0, len(m.labelToDir))
	for label, dirName := range m.labelToDir {
		metaPath := filepath.Join(m.studiesDir, dirName, "meta.json")
		meta := readMeta(metaPath)
		startTime, _ := meta["start_time"].(string)
		sessionID, _ := meta["session_id"].(string)

		cardCount := 0
		if store, ok := m.stores[dirName]; ok {
			if cards, err := store.ListCards(""); err == nil {
				for _, c := range cards {
					if c.CountsTowardCardCount() {
						cardCount++
					}
				}
			}
		}
		summaries = append(summaries, Summary{
			Label: label, DirName: dirName, StartTime: startTime,
			CardCount: cardCount, SessionID: sessionID,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].StartTime > summaries[j].StartTime })
	return summaries
}

// ListAllCards returns cards across every study, or a single study's cards
// if study is non-empty, sorted by timestamp.
func (m *Manager) ListAllCards(label string) ([]*card.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if label != "" {
		dirName, ok := m.labelToDir[label]
		if !ok {
			return nil, nil
		}
		store, ok := m.stores[dirName]
		if !ok {
			return nil, nil
		}
		return store.ListCards("")
	}

	var all []*card.Card
	for _, dirName := range m.labelToDir {
		store, ok := m.stores[dirName]
		if !ok {
			continue
		}
		cards, err := store.ListCards("")
		if err != nil {
			continue
		}
		all = append(all, cards...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	return all, nil
}

// GetStoreForCard looks up which store owns cardID.
func (m *Manager) GetStoreForCard(cardID string) *artifact.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dirName, ok := m.cardIndex[cardID]
	if !ok {
		return nil
	}
	return m.stores[dirName]
}

// RegisterCard records cardID as belonging to dirName in the cross-study
// index.
func (m *Manager) RegisterCard(cardID, dirName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cardIndex[cardID] = dirName
}

func emptyContext(label string) Context {
	return Context{
		Study: label, Cards: []map[string]any{}, Decisions: []map[string]any{},
		PendingResponses: []map[string]any{}, DecisionsMade: []map[string]any{},
		CurrentSelections: map[string]any{},
	}
}

// BuildContext returns a structured re-orientation summary for label.
func (m *Manager) BuildContext(label string) Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dirName, ok := m.labelToDir[label]
	if !ok {
		return emptyContext(label)
	}
	store, ok := m.stores[dirName]
	if !ok {
		return emptyContext(label)
	}
	all, err := store.ListCards("")
	if err != nil {
		return emptyContext(label)
	}

	ctx := emptyContext(label)
	for _, c := range all {
		if c.Deleted {
			continue
		}
		if c.CountsTowardCardCount() {
			ctx.CardCount++
		}
		summary := map[string]any{
			"card_id": c.ID, "card_type": string(c.Type), "title": c.Title,
			"timestamp": c.Timestamp, "response_requested": c.ResponseRequested,
		}
		if len(c.Annotations) > 0 {
			anns := make([]map[string]any, 0, len(c.Annotations))
			for _, a := range c.Annotations {
				anns = append(anns, map[string]any{
					"id": a.ID, "text": a.Text, "timestamp": a.Timestamp,
					"card_title": c.Title, "card_id": c.ID, "card_type": string(c.Type),
				})
			}
			summary["annotations"] = anns
		}
		ctx.Cards = append(ctx.Cards, summary)

		if c.ResponseAction != "" {
			fields, _ := c.Preview["fields"].([]any)
			enriched := resolveFieldDescriptions(c.ResponseValues, fields)
			ctx.DecisionsMade = append(ctx.DecisionsMade, map[string]any{
				"card_id": c.ID, "title": c.Title, "action": c.ResponseAction,
				"message": c.ResponseMessage, "values": enriched,
				"summary": c.ResponseSummary, "artifact_id": c.ResponseArtifactID,
				"timestamp": c.ResponseTimestamp,
			})
		}
		if c.ResponseRequested {
			ctx.PendingResponses = append(ctx.PendingResponses, map[string]any{
				"card_id": c.ID, "title": c.Title, "prompt": c.Prompt,
			})
		}
	}
	ctx.Decisions = ctx.PendingResponses
	return ctx
}

func resolveFieldDescriptions(values map[string]any, fields []any) map[string]any {
	if len(values) == 0 || len(fields) == 0 {
		return values
	}
	specs := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		if spec, ok := f.(map[string]any); ok {
			specs = append(specs, spec)
		}
	}
	return card.ResolveOptionDescriptions(values, specs)
}

// Refresh scans the studies directory for any subdirectory not yet in
// memory and loads it.
func (m *Manager) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.studiesDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := m.stores[e.Name()]; ok {
			continue
		}
		m.loadStudyLocked(e.Name())
	}
}

// RegisterOutputDir registers (creating if needed) an output directory for
// label: the study's own output/ subdirectory if path is empty, or the given
// absolute external path otherwise.
func (m *Manager) RegisterOutputDir(label, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dirName, ok := m.labelToDir[label]
	if !ok {
		return "", fmt.Errorf("study %q not found", label)
	}
	studyDir := filepath.Join(m.studiesDir, dirName)

	var outputDir, rel string
	if path == "" {
		outputDir = filepath.Join(studyDir, "output")
		rel = "output"
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		outputDir = abs
		rel = abs
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	metaPath := filepath.Join(studyDir, "meta.json")
	meta := readMeta(metaPath)
	meta["output_dir"] = rel
	if err := atomicWriteMeta(metaPath, meta); err != nil {
		return "", fmt.Errorf("writing study meta: %w", err)
	}
	return outputDir, nil
}

// GetOutputDir resolves label's registered output directory, or "" if none
// is registered or it no longer exists.
func (m *Manager) GetOutputDir(label string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dirName, ok := m.labelToDir[label]
	if !ok {
		return ""
	}
	studyDir := filepath.Join(m.studiesDir, dirName)
	meta := readMeta(filepath.Join(studyDir, "meta.json"))
	ref, _ := meta["output_dir"].(string)
	if ref == "" {
		return ""
	}
	outputPath := ref
	if !filepath.IsAbs(outputPath) {
		outputPath = filepath.Join(studyDir, outputPath)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return ""
	}
	return outputPath
}

// SetSessionID records an agent session id in a study's meta.json.
func (m *Manager) SetSessionID(label, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dirName, ok := m.labelToDir[label]
	if !ok {
		return
	}
	metaPath := filepath.Join(m.studiesDir, dirName, "meta.json")
	meta := readMeta(metaPath)
	if len(meta) == 0 {
		return
	}
	meta["session_id"] = sessionID
	atomicWriteMeta(metaPath, meta)
}

// GetSessionID retrieves the agent session id recorded for label, if any.
func (m *Manager) GetSessionID(label string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dirName, ok := m.labelToDir[label]
	if !ok {
		return ""
	}
	meta := readMeta(filepath.Join(m.studiesDir, dirName, "meta.json"))
	sessionID, _ := meta["session_id"].(string)
	return sessionID
}

// ListOutputFiles lists every file under label's output directory,
// excluding dot-prefixed names.
func (m *Manager) ListOutputFiles(label string) []OutputFile {
	outputDir := m.GetOutputDir(label)
	if outputDir == "" {
		return nil
	}

	var files []OutputFile
	filepath.Walk(outputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || path == outputDir {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return nil
		}
		ftype := "other"
		if info.IsDir() {
			ftype = "directory"
		} else if t, ok := extTypes[strings.ToLower(filepath.Ext(path))]; ok {
			ftype = t
		}
		size := int64(0)
		if !info.IsDir() {
			size = info.Size()
		}
		files = append(files, OutputFile{
			Name: info.Name(), Path: rel, Size: size,
			Modified: info.ModTime().UTC().Format(time.RFC3339),
			Type:     ftype, IsDir: info.IsDir(),
		})
		return nil
	})
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// GetOutputFilePath resolves relPath against label's output directory,
// rejecting any path that escapes it.
func (m *Manager) GetOutputFilePath(label, relPath string) (string, bool) {
	outputDir := m.GetOutputDir(label)
	if outputDir == "" {
		return "", false
	}
	resolved, err := filepath.Abs(filepath.Join(outputDir, relPath))
	if err != nil {
		return "", false
	}
	resolvedOutputDir, err := filepath.Abs(outputDir)
	if err != nil {
		return "", false
	}
	if resolved != resolvedOutputDir && !strings.HasPrefix(resolved, resolvedOutputDir+string(filepath.Separator)) {
		return "", false
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", false
	}
	return resolved, true
}
