package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/formkeep/internal/api"
	"github.com/rpattn/formkeep/internal/autosave"
	"github.com/rpattn/formkeep/internal/clock"
	"github.com/rpattn/formkeep/internal/export"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, b, err := loadBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	sessions := api.NewRegistry(b.store, b.history, clock.SystemUTC{},
		autosave.WithTimings(timingsFrom(cfg.Autosave)),
		autosave.WithWaitForSave(cfg.Autosave.SubmitWaitForSave),
	)

	handler := api.NewRouter(
		api.NewHandler(b.store, b.history, sessions),
		export.NewService(b.history, b.store),
		cfg.Server.AllowedOrigins,
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Starting formkeep API on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case runErr = <-serverErr:
	case <-quit:
		log.Println("Shutting down server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if runErr == nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			runErr = err
		}
	}
	// Sessions must drain before the deferred backend close releases the pool.
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Printf("[AUTOSAVE] shutdown: %v", err)
	}
	if runErr != nil {
		return runErr
	}
	log.Println("Server exited")
	return nil
}
