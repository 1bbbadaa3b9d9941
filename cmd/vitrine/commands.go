package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/hannesill/vitrine/internal/config"
	"github.com/hannesill/vitrine/internal/discovery"
	"github.com/hannesill/vitrine/internal/export"
	"github.com/hannesill/vitrine/internal/study"
)

// cmdStart implements "vitrine start [--port N] [--no-open] [--foreground]".
// In the default (detached) mode it delegates the whole discover-or-spawn
// dance to internal/discovery.Connect, the same client-side path a library
// consumer embedding vitrine would take.
func cmdStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	port := fs.Int("port", 0, "preferred HTTP port (0 = auto-assign)")
	noOpen := fs.Bool("no-open", false, "do not open a browser")
	foreground := fs.Bool("foreground", false, "run the server in this process instead of detaching")
	if err := fs.Parse(args); err != nil {
		return err
	}

	vitrineDir, err := config.ResolveDir()
	if err != nil {
		return err
	}

	if *foreground {
		return runForeground(vitrineDir, *port)
	}

	info, err := discovery.Connect(vitrineDir, discovery.DefaultStarter)
	if err != nil {
		return err
	}

	fmt.Printf("%svitrine running at %s (pid %d)%s\n", colorGreen, info.DisplayURL, info.PID, colorReset)
	if !*noOpen {
		openBrowser(info.DisplayURL)
	}
	return nil
}

// cmdStop implements "vitrine stop": send a graceful SIGTERM to the recorded
// pid (handled by runForeground's signal.Notify) and wait for the port to
// free.
func cmdStop(args []string) error {
	vitrineDir, err := config.ResolveDir()
	if err != nil {
		return err
	}

	rec, err := discovery.ReadPIDFile(vitrineDir)
	if err != nil {
		return err
	}
	if rec == nil || !discovery.IsProcessAlive(rec.PID) {
		fmt.Println("no vitrine server is running")
		discovery.DeleteStalePIDFile(vitrineDir)
		return nil
	}

	fmt.Printf("stopping vitrine (pid %d)...\n", rec.PID)
	if err := discovery.TerminateProcess(rec.PID); err != nil {
		return fmt.Errorf("terminating pid %d: %w", rec.PID, err)
	}

	if discovery.WaitForPortFree(rec.Port, 5*time.Second) {
		discovery.RemovePIDFile(vitrineDir, rec.PID)
		fmt.Printf("%sstopped%s\n", colorGreen, colorReset)
		return nil
	}
	fmt.Printf("%swarning: server may still be shutting down%s\n", colorYellow, colorReset)
	return nil
}

// cmdRestart implements "vitrine restart [--port N] [--no-open]": stop, then
// start, tolerating "nothing was running" from the stop half.
func cmdRestart(args []string) error {
	fs := flag.NewFlagSet("restart", flag.ContinueOnError)
	port := fs.Int("port", 0, "preferred HTTP port (0 = auto-assign)")
	noOpen := fs.Bool("no-open", false, "do not open a browser")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := cmdStop(nil); err != nil {
		fmt.Fprintf(os.Stderr, "%swarning: %v%s\n", colorYellow, err, colorReset)
	}

	var startArgs []string
	if *port != 0 {
		startArgs = append(startArgs, "--port", strconv.Itoa(*port))
	}
	if *noOpen {
		startArgs = append(startArgs, "--no-open")
	}
	return cmdStart(startArgs)
}

// cmdStatus implements "vitrine status": report the PID record plus a live
// health probe against the running server.
func cmdStatus(args []string) error {
	vitrineDir, err := config.ResolveDir()
	if err != nil {
		return err
	}

	rec, err := discovery.ReadPIDFile(vitrineDir)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Println("no vitrine server is running")
		return nil
	}

	alive := discovery.IsProcessAlive(rec.PID)
	health, healthErr := discovery.Probe(rec.Port, 2*time.Second)
	responding := alive && healthErr == nil && health.SessionID == rec.SessionID

	statusIcon, statusWord := "✓", "running"
	if !responding {
		statusIcon, statusWord = "✗", "not responding"
	}
	fmt.Printf("vitrine: %s %s\n", statusIcon, statusWord)
	fmt.Printf("  pid:     %d\n", rec.PID)
	fmt.Printf("  port:    %d\n", rec.Port)
	fmt.Printf("  started: %s\n", rec.StartedAt)
	fmt.Printf("  url:     %s\n", rec.URL)
	if responding {
		fmt.Printf("  uptime:  %.0fs\n", health.Uptime)
		fmt.Printf("  studies: %d\n", health.StudyCount)
	}
	return nil
}

// cmdStudies implements "vitrine studies": list every known study directly
// off disk, without requiring a running server.
func cmdStudies(args []string) error {
	vitrineDir, err := config.ResolveDir()
	if err != nil {
		return err
	}
	mgr, err := study.NewManager(vitrineDir)
	if err != nil {
		return err
	}

	summaries := mgr.ListStudies()
	if len(summaries) == 0 {
		fmt.Println("no studies found")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%-30s  %4d cards  %s\n", s.Label, s.CardCount, s.StartTime)
	}
	return nil
}

// cmdClean implements "vitrine clean OLDER_THAN", deleting studies whose
// meta.json start_time predates olderThan (e.g. "7d", "24h") via
// internal/study.Manager.CleanStudies/ParseAge.
func cmdClean(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: vitrine clean OLDER_THAN (e.g. 7d, 24h, 30m)")
	}
	vitrineDir, err := config.ResolveDir()
	if err != nil {
		return err
	}
	mgr, err := study.NewManager(vitrineDir)
	if err != nil {
		return err
	}

	n, err := mgr.CleanStudies(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%sremoved %d studies older than %s%s\n", colorGreen, n, args[0], colorReset)
	return nil
}

// cmdExport implements "vitrine export PATH [--format html|json] [--study
// NAME]", delegating the actual document assembly to internal/export.
func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", "html", "output format: html or json")
	studyLabel := fs.String("study", "", "limit export to a single study")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return fmt.Errorf("usage: vitrine export PATH [--format html|json] [--study NAME]")
	}
	path := rest[0]

	vitrineDir, err := config.ResolveDir()
	if err != nil {
		return err
	}
	mgr, err := study.NewManager(vitrineDir)
	if err != nil {
		return err
	}

	switch *format {
	case "html":
		err = export.HTML(mgr, path, *studyLabel)
	case "json":
		err = export.JSON(mgr, path, *studyLabel)
	default:
		err = fmt.Errorf("unknown format %q (want html or json)", *format)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%sexported to %s%s\n", colorGreen, path, colorReset)
	return nil
}

// openBrowser best-effort opens url in the OS default browser. Failures are
// silent: not being able to auto-open is never fatal to "start".
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	_ = cmd.Start()
}
