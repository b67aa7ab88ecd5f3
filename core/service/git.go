package service

import (
	"context"
	"errors"
	"regexp"

	"nfcunha/vigil/core/models"
)

// commitHashPattern matches "[branch abc1234] message" and
// "[branch (root-commit) abc1234] message" lines.
var commitHashPattern = regexp.MustCompile(`(?m)^\[.*?\b([0-9a-f]{7,40})\]`)

// Git drives the git CLI against a working tree.
type Git struct {
	runner   CommandRunner
	repoPath string
}

// NewGit creates a git driver for the working tree at repoPath.
func NewGit(runner CommandRunner, repoPath string) *Git {
	return &Git{runner: runner, repoPath: repoPath}
}

// Apply applies the patch file to the working tree.
func (g *Git) Apply(ctx context.Context, patchFile string) error {
	_, err := g.runner.Run(ctx, g.repoPath, "git", "apply", "--whitespace=nowarn", patchFile)
	return err
}

// Reverse undoes a previously applied patch file.
func (g *Git) Reverse(ctx context.Context, patchFile string) error {
	_, err := g.runner.Run(ctx, g.repoPath, "git", "apply", "-R", "--whitespace=nowarn", patchFile)
	return err
}

// Commit stages and commits only paths, leaving any other change in the
// working tree or index out of the commit. The returned hash is
// CommitUnknown when it cannot be read from the output.
func (g *Git) Commit(ctx context.Context, message string, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", errors.New("nothing to commit: no paths given")
	}
	add := append([]string{"add", "-A", "--"}, paths...)
	if _, err := g.runner.Run(ctx, g.repoPath, "git", add...); err != nil {
		return "", err
	}
	commit := append([]string{"commit", "-m", message, "--"}, paths...)
	out, err := g.runner.Run(ctx, g.repoPath, "git", commit...)
	if err != nil {
		return "", err
	}
	return ParseCommitHash(out), nil
}

// Unstage resets the index entries of paths to HEAD.
func (g *Git) Unstage(ctx context.Context, paths []string) error {
	args := append([]string{"reset", "-q", "--"}, paths...)
	_, err := g.runner.Run(ctx, g.repoPath, "git", args...)
	return err
}

// Revert reverts commit without opening an editor.
func (g *Git) Revert(ctx context.Context, commit string) error {
	_, err := g.runner.Run(ctx, g.repoPath, "git", "revert", "--no-edit", commit)
	return err
}

// ParseCommitHash extracts the short hash from git commit output.
func ParseCommitHash(output string) string {
	m := commitHashPattern.FindStringSubmatch(output)
	if m == nil {
		return models.CommitUnknown
	}
	return m[1]
}
