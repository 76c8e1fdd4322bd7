package registry

import (
	"context"
	"fmt"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/result"
	"github.com/agdrone/atlana/pkg/runner"
)

// RepoMountPoint is where a git step's checkout appears inside the
// container
const RepoMountPoint = "/repo"

// Git runs a step whose algorithm lives in a caller-named repository
// instead of the built-in catalogue. The repository is checked out into
// the step directory and mounted read-only; bound parameters are passed
// through verbatim as the argument JSON.
type Git struct{}

// Command implements Handler
func (g *Git) Command() string { return "git" }

// Execute implements Handler
func (g *Git) Execute(ctx context.Context, step *ExecContext) (any, error) {
	if step.GitRepo == "" {
		return nil, fmt.Errorf("git step %s has no repository", step.Command)
	}

	checkoutDir := filepath.Join(step.WorkingFolder, "repo")
	if err := g.checkout(ctx, step, checkoutDir); err != nil {
		return nil, err
	}

	args := make(map[string]any, len(step.Parameters))
	for _, parameter := range step.Parameters {
		args[parameter.FieldName] = parameter.Value
	}

	argsPath, err := writeArgs(step, args)
	if err != nil {
		return nil, err
	}

	mounts := []runner.Mount{{Source: checkoutDir, Target: RepoMountPoint}}
	if err := runStep(ctx, step, step.Command, argsPath, mounts); err != nil {
		return nil, err
	}
	return result.Load(step.WorkingFolder)
}

// checkout clones the step's repository at the requested branch
func (g *Git) checkout(ctx context.Context, step *ExecContext, checkoutDir string) error {
	logger := log.WithComponent("registry")
	logger.Info().
		Str("repo", step.GitRepo).
		Str("branch", step.GitBranch).
		Str("dir", checkoutDir).
		Msg("checking out step repository")

	opts := &git.CloneOptions{
		URL:   step.GitRepo,
		Depth: 1,
	}
	if step.GitBranch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(step.GitBranch)
		opts.SingleBranch = true
	}

	if _, err := git.PlainCloneContext(ctx, checkoutDir, false, opts); err != nil {
		return fmt.Errorf("failed to check out %s: %w", step.GitRepo, err)
	}
	return nil
}
