package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lazypower/curator/internal/engine"
	"github.com/lazypower/curator/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, path, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	eng, err := engine.New(s, cfg)
	if err != nil {
		return err
	}
	defer eng.Stop()

	if cfg.Maintenance.Interval > 0 {
		mode := "dry run"
		if cfg.Maintenance.Apply {
			mode = "apply"
		}
		fmt.Fprintf(os.Stderr, "  maintenance: every %s (%s)\n", cfg.Maintenance.Interval, mode)
		eng.StartMaintenanceTimer(cfg.Maintenance.Interval, cfg.Maintenance.Apply)
	}

	srv := server.New(eng, path, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "curator serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s (%s)\n", path, cfg.Database.Backend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
