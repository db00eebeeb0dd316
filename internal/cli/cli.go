// Package cli parses command-line arguments for the miru binaries.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// CLIArgs are the command-line arguments that control a run or the server.
// Keep this small for now — add fields as modules need them.
type CLIArgs struct {
	// Target is the root URL to crawl, or the single page when -name is set.
	Target string

	// Name files the capture under an explicit test name instead of the
	// crawled page title. Implies a single-page run.
	Name string

	// Branch overrides the VCS-resolved branch for baseline scoping.
	Branch string

	// StorageRoot overrides the baseline/cache directory; empty means the
	// config default.
	StorageRoot string

	// Concurrency overrides suite parallelism for this run; 0 means "use
	// config default".
	Concurrency int

	// Depth bounds the crawl; 0 means "use config default".
	Depth int

	// AI enables vision-chain escalation for ambiguous diffs.
	AI bool

	// Update saves the current capture as the new baseline after comparing.
	Update bool

	// Serve starts the HTTP API instead of running a suite.
	Serve bool

	// ListenAddr is the API listen address when -serve is set.
	ListenAddr string

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string
}

// ParseArgs parses a slice of args and returns CLIArgs. Use in tests by passing
// arbitrary slices. The function is deterministic and does not read os.Args.
func ParseArgs(args []string) (*CLIArgs, error) {
	fs := flag.NewFlagSet("miru", flag.ContinueOnError)
	var (
		target      = fs.String("target", "", "Root URL to crawl and compare (required unless -serve)")
		name        = fs.String("name", "", "Explicit test name; runs -target as a single page")
		branch      = fs.String("branch", "", "Baseline branch override (default: current git branch)")
		storageRoot = fs.String("storage", "", "Baseline and cache directory (default: ~/.config/miru)")
		concurrency = fs.Int("concurrency", 0, "Parallel tasks for this run (0=use default)")
		depth       = fs.Int("depth", 0, "Crawl depth (0=use default)")
		ai          = fs.Bool("ai", false, "Escalate ambiguous diffs to the vision provider chain")
		update      = fs.Bool("update", false, "Save current captures as the new baselines")
		serve       = fs.Bool("serve", false, "Start the HTTP API server instead of running once")
		listenAddr  = fs.String("listen", "", "API listen address when -serve is set (default: localhost:8080)")
	)

	// Ensure Parse doesn't write to stdout/stderr in tests
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args); err != nil {
		// Flag parsing errors are useful to return to caller
		return nil, err
	}

	if !*serve && strings.TrimSpace(*target) == "" {
		return nil, fmt.Errorf("missing required -target argument")
	}

	return &CLIArgs{
		Target:      *target,
		Name:        *name,
		Branch:      *branch,
		StorageRoot: *storageRoot,
		Concurrency: *concurrency,
		Depth:       *depth,
		AI:          *ai,
		Update:      *update,
		Serve:       *serve,
		ListenAddr:  *listenAddr,
		RawArgs:     args,
	}, nil
}
