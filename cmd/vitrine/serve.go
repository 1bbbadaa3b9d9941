package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hannesill/vitrine/internal/config"
	"github.com/hannesill/vitrine/internal/discovery"
	"github.com/hannesill/vitrine/internal/dispatch"
	"github.com/hannesill/vitrine/internal/future"
	"github.com/hannesill/vitrine/internal/server"
	"github.com/hannesill/vitrine/internal/study"
)

// buildServer wires a *server.Server over the given vitrine directory and
// identity: study manager, dispatch manager, blocking-future registry, and
// the WebSocket hub, built here so the dispatch manager can broadcast on it.
func buildServer(vitrineDir, sessionID, token, displayURL string) (*server.Server, error) {
	studies, err := study.NewManager(vitrineDir)
	if err != nil {
		return nil, fmt.Errorf("opening study manager: %w", err)
	}

	overrides, err := config.LoadRedactionOverrides(vitrineDir)
	if err != nil {
		log.Printf("[VITRINE] redaction overrides: %v", err)
	} else {
		config.ApplyRedactionOverrides(overrides)
	}

	futures := future.NewRegistry()
	hub := server.NewHub()
	dispatchMgr := dispatch.NewManager(studies, hub, dispatch.SkillsDir())

	srv := server.New(server.Config{
		VitrineDir: vitrineDir,
		SessionID:  sessionID,
		Token:      token,
		DisplayURL: displayURL,
		Hub:        hub,
		Studies:    studies,
		Dispatch:   dispatchMgr,
		Futures:    futures,
	})

	return srv, nil
}

// cmdServe is the target of internal/discovery.DefaultStarter's re-exec
// ("<binary> serve --detached"): it runs PrepareStartup/Commit itself and
// blocks until shut down. cmdStart's --foreground path skips this wrapper
// and calls runForeground directly, with no detach/re-exec indirection.
func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Bool("detached", false, "ignored; accepted for compatibility with the re-exec starter")
	if err := fs.Parse(args); err != nil {
		return err
	}

	vitrineDir := os.Getenv("VITRINE_DIR")
	if vitrineDir == "" {
		var err error
		vitrineDir, err = config.ResolveDir()
		if err != nil {
			return err
		}
	}

	return runForeground(vitrineDir, 0)
}

// runForeground runs the server-side startup sequence end to end: acquire
// the lock, check for a redundant server, reclaim orphans, pick a port,
// bind, commit the PID file, then block serving requests until a signal or
// a shutdown request arrives.
func runForeground(vitrineDir string, preferredPort int) error {
	plan, err := discovery.PrepareStartup(vitrineDir)
	if err != nil {
		if redundant, ok := err.(*discovery.Redundant); ok {
			fmt.Printf("vitrine is already running (pid %d, port %d)\n", redundant.Existing.PID, redundant.Existing.Port)
			return nil
		}
		return err
	}

	port := plan.Port
	if preferredPort != 0 && discovery.IsPortAvailable(preferredPort) {
		port = preferredPort
		plan.Port = preferredPort
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		discovery.Abort(plan)
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	displayURL := fmt.Sprintf("http://%s:%d", discovery.DisplayHost(), port)
	srv, err := buildServer(vitrineDir, plan.SessionID, plan.Token, displayURL)
	if err != nil {
		ln.Close()
		discovery.Abort(plan)
		return err
	}

	if err := discovery.Commit(plan, os.Getpid(), discovery.DisplayHost(), displayURL); err != nil {
		ln.Close()
		return fmt.Errorf("committing startup: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("[VITRINE] shutting down (signal received)")
		shutdownAndExit(srv, vitrineDir)
	}()

	log.Printf("[VITRINE] listening on %s (session %s)", addr, plan.SessionID)
	if err := srv.Serve(ln); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	discovery.RemovePIDFile(vitrineDir, os.Getpid())
	return nil
}

func shutdownAndExit(srv *server.Server, vitrineDir string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[VITRINE] shutdown error: %v", err)
	}
	discovery.RemovePIDFile(vitrineDir, os.Getpid())
	os.Exit(0)
}
