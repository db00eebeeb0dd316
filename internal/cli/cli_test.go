package cli_test

import (
	"testing"

	"github.com/raysh454/miru/internal/cli"
)

func TestParseArgs_Defaults(t *testing.T) {
	t.Parallel()

	args, err := cli.ParseArgs([]string{"-target", "http://site.test/"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if args.Target != "http://site.test/" {
		t.Errorf("expected target, got %q", args.Target)
	}
	if args.Serve || args.AI || args.Update {
		t.Errorf("expected all booleans off by default: %+v", args)
	}
	if args.Concurrency != 0 || args.Depth != 0 {
		t.Errorf("expected zero overrides: %+v", args)
	}
}

func TestParseArgs_MissingTarget(t *testing.T) {
	t.Parallel()

	if _, err := cli.ParseArgs(nil); err == nil {
		t.Fatal("expected error for missing -target")
	}
}

func TestParseArgs_ServeNeedsNoTarget(t *testing.T) {
	t.Parallel()

	args, err := cli.ParseArgs([]string{"-serve", "-listen", ":9090"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if !args.Serve {
		t.Error("expected serve mode")
	}
	if args.ListenAddr != ":9090" {
		t.Errorf("expected listen addr :9090, got %q", args.ListenAddr)
	}
}

func TestParseArgs_FullRun(t *testing.T) {
	t.Parallel()

	args, err := cli.ParseArgs([]string{
		"-target", "http://site.test/",
		"-name", "landing",
		"-branch", "feature-x",
		"-storage", "/tmp/miru",
		"-concurrency", "8",
		"-depth", "3",
		"-ai",
		"-update",
	})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if args.Name != "landing" || args.Branch != "feature-x" || args.StorageRoot != "/tmp/miru" {
		t.Errorf("unexpected string flags: %+v", args)
	}
	if args.Concurrency != 8 || args.Depth != 3 {
		t.Errorf("unexpected numeric flags: %+v", args)
	}
	if !args.AI || !args.Update {
		t.Errorf("expected -ai and -update set: %+v", args)
	}
}

func TestParseArgs_UnknownFlag(t *testing.T) {
	t.Parallel()

	if _, err := cli.ParseArgs([]string{"-nope"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}
