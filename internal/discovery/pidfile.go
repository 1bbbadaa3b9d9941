// Package discovery implements the cross-process singleton-server lifecycle:
// a cross-process file lock, a PID-file handshake, a reserved-port-range
// health probe, and orphan reclamation. The lock is POSIX-first (flock(2),
// lsof, SIGTERM; orphan reclamation is skipped on Windows), built over
// golang.org/x/sys/unix with a Windows fallback using exclusive CreateFile.
package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PIDRecord is the singleton marker persisted at <vitrine-dir>/.server.json.
type PIDRecord struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	Host      string `json:"host"`
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	StartedAt string `json:"started_at"`
}

func pidFilePath(vitrineDir string) string {
	return filepath.Join(vitrineDir, ".server.json")
}

func lockFilePath(vitrineDir string) string {
	return filepath.Join(vitrineDir, ".server.lock")
}

// WritePIDFile atomically (whole-file, written after a successful bind)
// persists rec to <vitrineDir>/.server.json.
func WritePIDFile(vitrineDir string, rec *PIDRecord) error {
	if err := os.MkdirAll(vitrineDir, 0o755); err != nil {
		return fmt.Errorf("creating vitrine dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pid record: %w", err)
	}
	path := pidFilePath(vitrineDir)
	tmp, err := os.CreateTemp(vitrineDir, ".server-*.tmp")
	if err != nil {
		return fmt.Errorf("creating pid file temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing pid file temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming pid file into place: %w", err)
	}
	return nil
}

// ReadPIDFile reads and parses <vitrineDir>/.server.json. Returns
// (nil, nil) if the file does not exist.
func ReadPIDFile(vitrineDir string) (*PIDRecord, error) {
	data, err := os.ReadFile(pidFilePath(vitrineDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pid file: %w", err)
	}
	var rec PIDRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing pid file: %w", err)
	}
	return &rec, nil
}

// RemovePIDFile deletes <vitrineDir>/.server.json only if its recorded pid
// equals ownerPID; a PID file belonging to another pid is left alone.
func RemovePIDFile(vitrineDir string, ownerPID int) error {
	rec, err := ReadPIDFile(vitrineDir)
	if err != nil || rec == nil {
		return err
	}
	if rec.PID != ownerPID {
		return nil
	}
	if err := os.Remove(pidFilePath(vitrineDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file: %w", err)
	}
	return nil
}

// DeleteStalePIDFile unconditionally removes the pid file, used by the
// client-side discovery path once it has independently confirmed the
// recorded server is gone.
func DeleteStalePIDFile(vitrineDir string) error {
	if err := os.Remove(pidFilePath(vitrineDir)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// NowISO returns the current UTC time formatted as ISO-8601/RFC3339.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
