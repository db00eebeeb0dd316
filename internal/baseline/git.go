package baseline

import (
	"os/exec"
	"strings"

	"github.com/raysh454/miru/internal/interfaces"
)

// GitResolver resolves branch and commit by shelling out to the git CLI.
// Outside a repository (or without git installed) both methods return "",
// which the store treats as "use the fallback branch".
type GitResolver struct {
	// Dir is the working directory for git; empty means the process cwd.
	Dir string
}

func (g *GitResolver) CurrentBranch() string {
	return g.run("rev-parse", "--abbrev-ref", "HEAD")
}

func (g *GitResolver) CurrentCommit() string {
	return g.run("rev-parse", "HEAD")
}

func (g *GitResolver) run(args ...string) string {
	cmd := exec.Command("git", args...)
	if g.Dir != "" {
		cmd.Dir = g.Dir
	}
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

var _ interfaces.VCSResolver = (*GitResolver)(nil)
