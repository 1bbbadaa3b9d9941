// This file implements the client-side half of discovery: a short library
// consumer (the CLI, or a client-layer call) finds or spawns the singleton
// server and returns a ready-to-use base URL, never itself racing another
// client over the startup lock.
package discovery

import (
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ServerInfo is what a successful Connect hands back to a client: the
// resolved API base URL (used for requests) and a separate display URL
// (used when opening a browser).
type ServerInfo struct {
	PID        int
	Port       int
	SessionID  string
	Token      string
	APIBaseURL string
	DisplayURL string
}

func toServerInfo(rec *PIDRecord) *ServerInfo {
	return &ServerInfo{
		PID:        rec.PID,
		Port:       rec.Port,
		SessionID:  rec.SessionID,
		Token:      rec.Token,
		APIBaseURL: fmt.Sprintf("http://127.0.0.1:%d", rec.Port),
		DisplayURL: fmt.Sprintf("http://%s:%d", DisplayHost(), rec.Port),
	}
}

// StarterFunc launches a detached server process for the given vitrine
// directory. The caller supplies this since the binary to exec (the vitrine
// CLI re-invoking itself with a "serve" subcommand) is a cmd/vitrine
// concern, not something internal/discovery should hardcode.
type StarterFunc func(vitrineDir string) error

// DefaultStarter re-execs the running binary with "serve --detached" as a
// detached starter process. Its stdio is redirected away from the caller so
// the parent can exit without waiting on it.
func DefaultStarter(vitrineDir string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable: %w", err)
	}
	cmd := exec.Command(exe, "serve", "--detached")
	cmd.Dir = vitrineDir
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = append(os.Environ(), "VITRINE_DIR="+vitrineDir)
	detachProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting detached server: %w", err)
	}
	return cmd.Process.Release()
}

// Connect reads the PID file, validates the recorded server is alive and
// answering with a matching session id, and spawns one via start if it's
// missing or stale. Polls up to 5s at 100ms intervals after spawning.
func Connect(vitrineDir string, start StarterFunc) (*ServerInfo, error) {
	if rec, err := validExistingServer(vitrineDir); err == nil && rec != nil {
		return toServerInfo(rec), nil
	} else if err != nil {
		return nil, err
	}

	DeleteStalePIDFile(vitrineDir)

	if start == nil {
		start = DefaultStarter
	}
	if err := start(vitrineDir); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if rec, err := validExistingServer(vitrineDir); err == nil && rec != nil {
			return toServerInfo(rec), nil
		}
	}
	return nil, fmt.Errorf("discovery: server did not become ready within 5s")
}

// validExistingServer returns a PIDRecord only if the file exists, the
// recorded pid is alive, and the server answers /api/health with a matching
// session id. Returns (nil, nil) — not an error — when there is no PID file,
// when the recorded pid is dead, and when the health probe fails or reports
// another session id; only a PID-file read or parse failure is an error.
func validExistingServer(vitrineDir string) (*PIDRecord, error) {
	rec, err := ReadPIDFile(vitrineDir)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if !IsProcessAlive(rec.PID) {
		return nil, nil
	}
	h, err := Probe(rec.Port, 2*time.Second)
	if err != nil || h.SessionID != rec.SessionID {
		return nil, nil
	}
	return rec, nil
}
