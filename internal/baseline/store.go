// Package baseline is the git-branch-scoped persistent store of reference
// screenshots plus metadata.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/raysh454/miru/internal/interfaces"
	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
)

// Config controls where baselines live and how lookups fall back.
type Config struct {
	// Root is the base directory; each branch gets a subdirectory.
	Root string

	// FallbackBranch is consulted when the active branch has no baseline.
	FallbackBranch string
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Root:           ".miru/baselines",
		FallbackBranch: "main",
	}
}

// Store persists baselines on the filesystem as an image file plus a JSON
// metadata sidecar, laid out <root>/<branch>/<sanitizedName>.{png,json}.
// Writes are atomic (temp file + rename). Safe for concurrent use as long
// as two writers do not target the same (branch, testName).
type Store struct {
	cfg    Config
	vcs    interfaces.VCSResolver
	logger logging.Logger
}

// NewStore creates a Store rooted at cfg.Root. vcs may be nil; saves then
// require an explicit branch in the metadata.
func NewStore(cfg Config, vcs interfaces.VCSResolver, logger logging.Logger) (*Store, error) {
	if cfg.Root == "" {
		cfg.Root = DefaultConfig().Root
	}
	if cfg.FallbackBranch == "" {
		cfg.FallbackBranch = DefaultConfig().FallbackBranch
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("baseline")
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("baseline: creating root directory: %w", err)
	}
	return &Store{cfg: cfg, vcs: vcs, logger: logger}, nil
}

// Save writes the image and metadata under (branch, sanitizedTestName),
// stamping savedAt. Branch and commit are resolved from the VCS collaborator
// unless the metadata already provides them. At most one active baseline
// exists per (testName, branch): saving replaces the previous one.
func (s *Store) Save(testName string, image []byte, meta model.BaselineMetadata) error {
	if testName == "" {
		return errors.New("baseline: empty test name")
	}
	if len(image) == 0 {
		return errors.New("baseline: empty image")
	}

	if meta.Branch == "" && s.vcs != nil {
		meta.Branch = s.vcs.CurrentBranch()
	}
	if meta.Branch == "" {
		meta.Branch = s.cfg.FallbackBranch
	}
	if meta.Commit == "" && s.vcs != nil {
		meta.Commit = s.vcs.CurrentCommit()
	}
	meta.TestName = testName
	meta.SavedAt = time.Now().UTC()

	key := SanitizeName(testName)
	dir := filepath.Join(s.cfg.Root, SanitizeName(meta.Branch))

	if err := atomicWriteFile(filepath.Join(dir, key+".png"), image, 0644); err != nil {
		return fmt.Errorf("baseline: writing image: %w", err)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("baseline: marshaling metadata: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(dir, key+".json"), metaJSON, 0644); err != nil {
		return fmt.Errorf("baseline: writing metadata: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("baseline saved",
			logging.Field{Key: "test", Value: testName},
			logging.Field{Key: "branch", Value: meta.Branch})
	}
	return nil
}

// Load tries the given branch (or the VCS-resolved current branch when
// empty), then the fallback branch. A missing baseline yields a not-found
// result, not an error, so callers can create a fresh one.
func (s *Store) Load(testName, branch string) (*model.Baseline, error) {
	if branch == "" && s.vcs != nil {
		branch = s.vcs.CurrentBranch()
	}
	if branch == "" {
		branch = s.cfg.FallbackBranch
	}

	candidates := []string{branch}
	if branch != s.cfg.FallbackBranch {
		candidates = append(candidates, s.cfg.FallbackBranch)
	}

	key := SanitizeName(testName)
	for _, b := range candidates {
		dir := filepath.Join(s.cfg.Root, SanitizeName(b))
		image, err := os.ReadFile(filepath.Join(dir, key+".png"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("baseline: reading image: %w", err)
		}

		var meta model.BaselineMetadata
		if metaJSON, err := os.ReadFile(filepath.Join(dir, key+".json")); err == nil {
			if err := json.Unmarshal(metaJSON, &meta); err != nil && s.logger != nil {
				s.logger.Warn("corrupt baseline metadata",
					logging.Field{Key: "test", Value: testName},
					logging.Field{Key: "error", Value: err.Error()})
			}
		}
		return &model.Baseline{Image: image, Metadata: meta, Found: true, LoadedFrom: b}, nil
	}

	return &model.Baseline{Found: false}, nil
}

// Delete removes the baseline for (testName, branch), including the sidecar.
func (s *Store) Delete(testName, branch string) error {
	if branch == "" && s.vcs != nil {
		branch = s.vcs.CurrentBranch()
	}
	if branch == "" {
		branch = s.cfg.FallbackBranch
	}

	key := SanitizeName(testName)
	dir := filepath.Join(s.cfg.Root, SanitizeName(branch))

	imgPath := filepath.Join(dir, key+".png")
	if _, err := os.Stat(imgPath); os.IsNotExist(err) {
		return fmt.Errorf("baseline: %s on %s: %w", testName, branch, model.ErrBaselineNotFound)
	}
	if err := os.Remove(imgPath); err != nil {
		return fmt.Errorf("baseline: removing image: %w", err)
	}
	// Sidecar removal is best-effort.
	_ = os.Remove(filepath.Join(dir, key+".json"))
	return nil
}

// List returns every stored baseline across branches.
func (s *Store) List() ([]model.BaselineInfo, error) {
	branches, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("baseline: reading root: %w", err)
	}

	var out []model.BaselineInfo
	for _, b := range branches {
		if !b.IsDir() {
			continue
		}
		dir := filepath.Join(s.cfg.Root, b.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".png") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			entry := model.BaselineInfo{
				TestName: strings.TrimSuffix(f.Name(), ".png"),
				Branch:   b.Name(),
				SavedAt:  info.ModTime().UTC(),
				Size:     info.Size(),
			}
			// Prefer the recorded name and timestamp when the sidecar parses.
			var meta model.BaselineMetadata
			if metaJSON, err := os.ReadFile(filepath.Join(dir, strings.TrimSuffix(f.Name(), ".png")+".json")); err == nil {
				if json.Unmarshal(metaJSON, &meta) == nil {
					if meta.TestName != "" {
						entry.TestName = meta.TestName
					}
					if !meta.SavedAt.IsZero() {
						entry.SavedAt = meta.SavedAt
					}
				}
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

// Cleanup deletes baselines older than maxAgeDays. Only primary image files
// count toward the returned total; sidecars are removed alongside but not
// counted. Per-file errors are accumulated so one bad file cannot fail the
// whole sweep.
func (s *Store) Cleanup(maxAgeDays int) (deleted int, errs []error) {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	branches, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		return 0, []error{fmt.Errorf("baseline: reading root: %w", err)}
	}

	for _, b := range branches {
		if !b.IsDir() {
			continue
		}
		dir := filepath.Join(s.cfg.Root, b.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("baseline: reading %s: %w", dir, err))
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".png") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				errs = append(errs, fmt.Errorf("baseline: stat %s: %w", f.Name(), err))
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, f.Name())); err != nil {
				errs = append(errs, fmt.Errorf("baseline: removing %s: %w", f.Name(), err))
				continue
			}
			deleted++
			_ = os.Remove(filepath.Join(dir, strings.TrimSuffix(f.Name(), ".png")+".json"))
		}
	}
	if s.logger != nil {
		s.logger.Info("baseline cleanup finished",
			logging.Field{Key: "deleted", Value: deleted},
			logging.Field{Key: "errors", Value: len(errs)})
	}
	return deleted, errs
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeName turns an arbitrary test name or branch into a filesystem-safe
// key. Distinct names can collide after sanitization; callers needing strict
// uniqueness should pre-hash.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "unnamed"
	}
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
