// Command miruserver starts the miru HTTP API with default configuration.
// Usage: go run ./cmd/miruserver [addr]
// Default addr: localhost:8080
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raysh454/miru/internal/app"
	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/server"
)

func main() {
	cfg := app.DefaultConfig()
	cfg.AIEnabled = true

	// Optional: custom listen address from command line
	if len(os.Args) > 1 {
		cfg.ListenAddr = os.Args[1]
	}

	logger := logging.NewStdoutLogger("miruserver")

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		log.Fatalf("building application: %v", err)
	}

	srv := server.NewServer(server.Config{
		ListenAddr: cfg.ListenAddr,
		Logger:     logger,
	}, application.Orch, application.Baselines)

	httpSrv := srv.HTTPServer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: httpSrv.Addr})
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		log.Fatalf("server error: %v", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Warn("application shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
}
