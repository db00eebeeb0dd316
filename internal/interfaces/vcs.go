package interfaces

// VCSResolver reports the current branch and commit of the working tree so
// baselines can be scoped per branch. Implementations must be side-effect
// free; both methods return "" when no repository is present.
type VCSResolver interface {
	CurrentBranch() string
	CurrentCommit() string
}
