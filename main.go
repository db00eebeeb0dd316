// Command miru captures, compares and classifies UI screenshots.
//
// Run a suite against a site:
//
//	miru -target https://staging.example.com -ai
//
// Or start the HTTP API:
//
//	miru -serve -listen localhost:8080
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raysh454/miru/internal/app"
	"github.com/raysh454/miru/internal/cli"
	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
	"github.com/raysh454/miru/internal/server"
)

func main() {
	args, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "miru: %v\n", err)
		os.Exit(2)
	}

	logger := logging.NewStdoutLogger("miru")

	cfg := app.DefaultConfig()
	if args.StorageRoot != "" {
		cfg.StorageRoot = args.StorageRoot
	}
	if args.Concurrency > 0 {
		cfg.Concurrency = args.Concurrency
	}
	if args.Depth > 0 {
		cfg.DiscoverCfg.MaxDepth = args.Depth
	}
	if args.ListenAddr != "" {
		cfg.ListenAddr = args.ListenAddr
	}
	cfg.AIEnabled = args.AI
	cfg.UpdateBaselines = args.Update
	cfg.Branch = args.Branch

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "miru: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Shutdown(ctx); err != nil {
			logger.Warn("shutdown", logging.Field{Key: "error", Value: err.Error()})
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args.Serve {
		if err := serve(ctx, application); err != nil {
			fmt.Fprintf(os.Stderr, "miru: %v\n", err)
			os.Exit(1)
		}
		return
	}

	summary, err := runSuite(ctx, application, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "miru: %v\n", err)
		os.Exit(1)
	}
	printSummary(summary)
	if summary.Failed > 0 || summary.Errors > 0 {
		os.Exit(1)
	}
}

func serve(ctx context.Context, application *app.Application) error {
	srv := server.NewServer(server.Config{
		ListenAddr: application.Config.ListenAddr,
		Logger:     application.Logger,
	}, application.Orch, application.Baselines)

	httpSrv := srv.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		application.Logger.Info("listening", logging.Field{Key: "addr", Value: httpSrv.Addr})
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func runSuite(ctx context.Context, application *app.Application, args *cli.CLIArgs) (*app.RunSummary, error) {
	var tasks []model.TestTask
	if args.Name != "" {
		tasks = []model.TestTask{{ID: args.Name, Name: args.Name, URL: args.Target}}
	} else {
		discovered, err := application.Orch.DiscoverTasks(ctx, args.Target)
		if err != nil {
			return nil, fmt.Errorf("discovering pages: %w", err)
		}
		if len(discovered) == 0 {
			return nil, fmt.Errorf("no pages found under %s", args.Target)
		}
		tasks = discovered
	}

	fmt.Printf("Running %d tasks against %s\n", len(tasks), args.Target)
	summary := application.Orch.RunSuite(ctx, tasks, func(done, total int) {
		fmt.Printf("\r[%d/%d]", done, total)
	})
	fmt.Println()
	return summary, nil
}

func printSummary(s *app.RunSummary) {
	fmt.Printf("\nTotal: %d  Passed: %d  Failed: %d  New baselines: %d  Errors: %d\n",
		s.Total, s.Passed, s.Failed, s.NewBaselines, s.Errors)
	if s.MaxSeverity != "" {
		fmt.Printf("Max severity: %s\n", s.MaxSeverity)
	}
	if s.AIDegraded {
		fmt.Println("Note: AI budget ran out mid-run; later tasks used deterministic classification only.")
	}
	if s.Cost.OperationCount > 0 {
		fmt.Printf("AI spend: $%.4f over %d operations (%.0f%% cached)\n",
			s.Cost.TotalCost, s.Cost.OperationCount, s.Cost.CacheHitRate*100)
	}

	for _, r := range s.Results {
		switch {
		case r.Error != "":
			fmt.Printf("  ERROR  %-30s %s\n", r.Name, r.Error)
		case r.Verdict == model.VerdictNewBaseline:
			fmt.Printf("  NEW    %-30s baseline created\n", r.Name)
		case r.Passed:
			fmt.Printf("  PASS   %-30s\n", r.Name)
		default:
			sim := 0.0
			if r.Diff != nil {
				sim = r.Diff.Similarity
			}
			fmt.Printf("  FAIL   %-30s similarity %.4f severity %s\n", r.Name, sim, r.FinalSeverity)
		}
	}
}
