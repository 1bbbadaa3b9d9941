// Package artifact implements the per-study, on-disk card and artifact
// store: an ordered index.json of card records, a meta.json of study
// metadata, and an artifacts/ directory of table/JSON/image payloads,
// generalized from internal/persistence's debounce-free whole-file JSON
// rewrite idiom to one store per study directory.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hannesill/vitrine/internal/card"
	"github.com/hannesill/vitrine/internal/render"
)

// Store persists one study's cards and artifacts to disk.
type Store struct {
	mu sync.RWMutex

	dir          string
	dirName      string
	indexPath    string
	metaPath     string
	artifactsDir string
}

// Open constructs (or attaches to) a study directory, creating the artifacts
// subdirectory, index.json, and meta.json if any are missing. dirName is the
// study's directory name, used as the fallback session id in meta.json.
func Open(dir, dirName string) (*Store, error) {
	s := &Store{
		dir:          dir,
		dirName:      dirName,
		indexPath:    filepath.Join(dir, "index.json"),
		metaPath:     filepath.Join(dir, "meta.json"),
		artifactsDir: filepath.Join(dir, "artifacts"),
	}
	if err := os.MkdirAll(s.artifactsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifacts dir: %w", err)
	}
	if _, err := os.Stat(s.indexPath); os.IsNotExist(err) {
		if err := s.writeIndex(nil); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(s.metaPath); os.IsNotExist(err) {
		meta := map[string]any{
			"session_id":  dirName,
			"start_time":  time.Now().UTC().Format(time.RFC3339),
			"study_names": []string{},
		}
		if err := writeJSONFile(s.metaPath, meta); err != nil {
			return nil, fmt.Errorf("writing initial meta.json: %w", err)
		}
	}
	return s, nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// atomicWriteJSON writes via a temp file in the same directory followed by
// an atomic rename, matching study_manager.py's _atomic_write_json.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
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

func (s *Store) readIndex() ([]map[string]any, error) {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		return []map[string]any{}, nil
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return []map[string]any{}, nil
	}
	return records, nil
}

func (s *Store) writeIndex(records []map[string]any) error {
	if records == nil {
		records = []map[string]any{}
	}
	return writeJSONFile(s.indexPath, records)
}

func (s *Store) readMeta() (map[string]any, error) {
	data, err := os.ReadFile(s.metaPath)
	if err != nil {
		return map[string]any{}, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return map[string]any{}, nil
	}
	return meta, nil
}

func (s *Store) trackStudy(study string) error {
	if study == "" {
		return nil
	}
	meta, err := s.readMeta()
	if err != nil {
		return err
	}
	names, _ := meta["study_names"].([]any)
	for _, n := range names {
		if n == study {
			return nil
		}
	}
	names = append(names, study)
	meta["study_names"] = names
	return atomicWriteJSON(s.metaPath, meta)
}

// cardToRecord serializes a card to the JSON record shape persisted in
// index.json, matching artifacts.py's _serialize_card field order.
func cardToRecord(c *card.Card) (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return record, nil
}

func recordToCard(record map[string]any) (*card.Card, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var c card.Card
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if c.Type == "form" {
		c.Type = card.Decision
	}
	return &c, nil
}

// AppendCard serializes c and appends it to the index, tracking its study
// name in meta.json if not already present.
func (s *Store) AppendCard(c *card.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := cardToRecord(c)
	if err != nil {
		return fmt.Errorf("serializing card: %w", err)
	}
	records, err := s.readIndex()
	if err != nil {
		return err
	}
	records = append(records, record)
	if err := s.writeIndex(records); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return s.trackStudy(c.Study)
}

// ListCards returns every card in insertion order, optionally filtered to a
// single study label.
func (s *Store) ListCards(study string) ([]*card.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	cards := make([]*card.Card, 0, len(records))
	for _, r := range records {
		c, err := recordToCard(r)
		if err != nil {
			continue
		}
		if study != "" && c.Study != study {
			continue
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// UpdateCard merges changes into the record whose card_id matches id and
// rewrites the index. Returns (nil, nil) if no record matches.
func (s *Store) UpdateCard(id string, changes map[string]any) (*card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	for i, r := range records {
		if r["card_id"] != id {
			continue
		}
		for k, v := range changes {
			r[k] = v
		}
		records[i] = r
		if err := s.writeIndex(records); err != nil {
			return nil, fmt.Errorf("writing index: %w", err)
		}
		return recordToCard(r)
	}
	return nil, nil
}

// RenameStudy updates the study field on every record matching oldLabel,
// returning the number of cards updated.
func (s *Store) RenameStudy(oldLabel, newLabel string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readIndex()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range records {
		if r["study"] == oldLabel {
			r["study"] = newLabel
			count++
		}
	}
	if count > 0 {
		if err := s.writeIndex(records); err != nil {
			return 0, fmt.Errorf("writing index: %w", err)
		}
	}
	return count, nil
}

// Relocate re-points the store's paths after its directory has been renamed
// on disk. No file I/O is performed here.
func (s *Store) Relocate(newDir, newDirName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dir = newDir
	s.dirName = newDirName
	s.indexPath = filepath.Join(newDir, "index.json")
	s.metaPath = filepath.Join(newDir, "meta.json")
	s.artifactsDir = filepath.Join(newDir, "artifacts")
}

// DeleteSession recursively removes the study directory.
func (s *Store) DeleteSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.RemoveAll(s.dir)
}

// Dir returns the study's directory path.
func (s *Store) Dir() string { return s.dir }

// DirName returns the study's directory name, used as the cross-study card
// index key in internal/study.Manager.
func (s *Store) DirName() string { return s.dirName }

// ArtifactsDir returns the study's artifacts/ directory path, used by
// internal/export to locate raw artifact files for a JSON zip archive.
func (s *Store) ArtifactsDir() string { return s.artifactsDir }

// StoreJSON writes data as a JSON artifact, matching artifacts.py's
// store_json (best-effort JSON, non-serializable values stringified).
func (s *Store) StoreJSON(cardID string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.artifactsDir, cardID+".json")
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json artifact: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// StoreImage writes raw bytes as an image artifact under the given format
// extension (svg, png).
func (s *Store) StoreImage(cardID string, data []byte, format string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.artifactsDir, cardID+"."+format)
	return os.WriteFile(path, data, 0o644)
}

// GetArtifact retrieves a raw artifact by card id, checking sqlite, json,
// svg, and png in that order. JSON artifacts are returned decoded; others as
// raw bytes.
func (s *Store) GetArtifact(cardID string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ext := range []string{"sqlite", "json", "svg", "png"} {
		path := filepath.Join(s.artifactsDir, cardID+"."+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if ext == "json" {
			var v any
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, fmt.Errorf("decoding json artifact: %w", err)
			}
			return v, nil
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: no artifact for card %s", ErrNotFound, cardID)
}

// StoreSelection stores a row selection as a table artifact, mirroring
// artifacts.py's store_selection.
func (s *Store) StoreSelection(selectionID string, t *render.Table) error {
	return s.StoreTable(selectionID, t)
}

// StoreSelectionJSON stores a chart point selection (e.g. {"points": [...]})
// as a JSON artifact.
func (s *Store) StoreSelectionJSON(selectionID string, data any) error {
	return s.StoreJSON(selectionID, data)
}
