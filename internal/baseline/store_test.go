package baseline

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raysh454/miru/internal/interfaces"
	"github.com/raysh454/miru/internal/model"
)

// stubVCS is a fixed-answer resolver for tests.
type stubVCS struct {
	branch string
	commit string
}

func (s *stubVCS) CurrentBranch() string { return s.branch }
func (s *stubVCS) CurrentCommit() string { return s.commit }

func newTestStore(t *testing.T, vcs *stubVCS) *Store {
	t.Helper()
	// Avoid wrapping a nil *stubVCS in a non-nil interface value.
	var resolver interfaces.VCSResolver
	if vcs != nil {
		resolver = vcs
	}
	store, err := NewStore(Config{Root: t.TempDir(), FallbackBranch: "main"}, resolver, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, &stubVCS{branch: "feature/login", commit: "abc1234"})
	img := []byte("fake-png-bytes")

	if err := store.Save("home page", img, model.BaselineMetadata{URL: "https://example.com"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load("home page", "feature/login")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Found {
		t.Fatal("baseline not found after save")
	}
	if !bytes.Equal(got.Image, img) {
		t.Fatal("loaded image differs from saved image")
	}
	if got.Metadata.Branch != "feature/login" || got.Metadata.Commit != "abc1234" {
		t.Fatalf("metadata did not capture VCS state: %+v", got.Metadata)
	}
	if got.Metadata.SavedAt.IsZero() {
		t.Fatal("savedAt not stamped")
	}
}

func TestLoadFallsBackToMain(t *testing.T) {
	store := newTestStore(t, &stubVCS{branch: "main"})
	if err := store.Save("checkout", []byte("img"), model.BaselineMetadata{}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load("checkout", "feature/new-cart")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Found {
		t.Fatal("expected fallback hit on main")
	}
	if got.LoadedFrom != "main" {
		t.Fatalf("loadedFrom = %q, want main", got.LoadedFrom)
	}
}

func TestLoadMissingReturnsNotFoundResult(t *testing.T) {
	store := newTestStore(t, &stubVCS{branch: "main"})

	got, err := store.Load("never-saved", "")
	if err != nil {
		t.Fatalf("load should not error on absence: %v", err)
	}
	if got.Found {
		t.Fatal("expected not-found result")
	}
}

func TestSaveReplacesExistingBaseline(t *testing.T) {
	store := newTestStore(t, &stubVCS{branch: "main"})
	if err := store.Save("nav", []byte("v1"), model.BaselineMetadata{}); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	if err := store.Save("nav", []byte("v2"), model.BaselineMetadata{}); err != nil {
		t.Fatalf("save v2: %v", err)
	}

	got, err := store.Load("nav", "main")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got.Image) != "v2" {
		t.Fatalf("image = %q, want the replacement", got.Image)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t, &stubVCS{branch: "main"})
	if err := store.Save("gone", []byte("img"), model.BaselineMetadata{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete("gone", "main"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete("gone", "main"); !errors.Is(err, model.ErrBaselineNotFound) {
		t.Fatalf("second delete err = %v, want ErrBaselineNotFound", err)
	}
}

func TestListAcrossBranches(t *testing.T) {
	store := newTestStore(t, nil)
	if err := store.Save("a", []byte("img"), model.BaselineMetadata{Branch: "main"}); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := store.Save("b", []byte("img"), model.BaselineMetadata{Branch: "develop"}); err != nil {
		t.Fatalf("save b: %v", err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("listed %d baselines, want 2", len(infos))
	}
}

func TestCleanupCountsOnlyImagesAndSurvivesErrors(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(Config{Root: root, FallbackBranch: "main"}, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Save("old", []byte("img"), model.BaselineMetadata{Branch: "main"}); err != nil {
		t.Fatalf("save old: %v", err)
	}
	if err := store.Save("fresh", []byte("img"), model.BaselineMetadata{Branch: "main"}); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	// Age the first baseline (image and sidecar) past the cutoff.
	past := time.Now().AddDate(0, 0, -60)
	for _, name := range []string{"old.png", "old.json"} {
		p := filepath.Join(root, "main", name)
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}

	deleted, errs := store.Cleanup(30)
	if len(errs) != 0 {
		t.Fatalf("cleanup errors: %v", errs)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1 (sidecars must not count)", deleted)
	}

	got, err := store.Load("fresh", "main")
	if err != nil || !got.Found {
		t.Fatal("fresh baseline should survive cleanup")
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"home page":           "home_page",
		"checkout/cart flow":  "checkout_cart_flow",
		"../../etc/passwd":    "etc_passwd",
		"weird:<>chars?":      "weird_chars",
		"":                    "unnamed",
		"already-safe_name.1": "already-safe_name.1",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
