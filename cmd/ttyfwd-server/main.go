// Command ttyfwd-server exposes the session registry over HTTP/JSON and
// WebSocket, and sweeps exited/unreachable sessions on a signal or a
// timer.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ttyfwd/ttyfwd/internal/apiserver"
	"github.com/ttyfwd/ttyfwd/internal/config"
	"github.com/ttyfwd/ttyfwd/internal/registry"
	"github.com/ttyfwd/ttyfwd/internal/session"
)

var cfg = config.DefaultConfig()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ttyfwd-server",
	Short: "HTTP/JSON and WebSocket front-end for ttyfwd sessions",
	RunE:  runServer,
}

func init() {
	rootCmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "server port")
	rootCmd.Flags().StringVar(&cfg.Host, "host", cfg.Host, "server bind address")
	rootCmd.Flags().StringVar(&cfg.ControlRoot, "control-root", cfg.ControlRoot, "directory holding all session directories")
	rootCmd.Flags().DurationVar(&cfg.CleanupInterval, "cleanup-interval", cfg.CleanupInterval, "how often to sweep reapable sessions")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureControlRoot(); err != nil {
		return fmt.Errorf("create control root: %w", err)
	}

	watcher := registry.NewWatcher(cfg.ControlRoot, func(id string) {
		log.Printf("ttyfwd-server: registered external session %s", id)
	})
	if err := watcher.Start(); err != nil {
		log.Printf("ttyfwd-server: control root watcher disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	stopSweep := make(chan struct{})
	go sweepLoop(cfg.CleanupInterval, stopSweep)
	defer close(stopSweep)

	srv := apiserver.New(cfg)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("ttyfwd-server: listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case sig := <-quit:
		log.Printf("ttyfwd-server: received %s, sweeping running sessions", sig)
		sweepRunningToExited()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func sweepLoop(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := registry.Cleanup(cfg.ControlRoot, ""); err != nil {
				log.Printf("ttyfwd-server: cleanup sweep: %v", err)
			}
		case <-stop:
			return
		}
	}
}

// sweepRunningToExited runs when the server process itself is shutting
// down. It marks as exited (code 1) every "running" session whose pid is
// absent or no longer live, so no descriptor keeps claiming a pid nothing
// is left to reap; sessions whose pid is still live are left as they are.
func sweepRunningToExited() {
	entries, err := registry.List(cfg.ControlRoot)
	if err != nil {
		log.Printf("ttyfwd-server: sweep: list sessions: %v", err)
		return
	}
	for id, e := range entries {
		if e.Info.Status != session.StatusRunning {
			continue
		}
		if e.Info.PID != nil && registry.Liveness(*e.Info.PID) {
			continue
		}
		exited := session.StatusExited
		code := 1
		dir := filepath.Join(cfg.ControlRoot, id)
		if err := session.ApplyUpdate(dir, session.Update{Status: &exited, ExitCode: &code}); err != nil {
			log.Printf("ttyfwd-server: sweep: mark %s exited: %v", id, err)
		}
	}
}
