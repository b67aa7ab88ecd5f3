package service

import (
	"context"
	"errors"
	"strings"

	"nfcunha/vigil/utils/config"
)

// BuildSystem runs the project toolchain and docker compose.
type BuildSystem struct {
	runner   CommandRunner
	repoPath string
	lint     []string
	test     []string
	build    []string
	compose  []string
}

// NewBuildSystem creates a build system from the patch configuration.
// Commands are split on whitespace; an empty command is skipped.
func NewBuildSystem(runner CommandRunner, cfg config.PatchConfig) *BuildSystem {
	return &BuildSystem{
		runner:   runner,
		repoPath: cfg.RepoPath,
		lint:     strings.Fields(cfg.LintCommand),
		test:     strings.Fields(cfg.TestCommand),
		build:    strings.Fields(cfg.BuildCommand),
		compose:  strings.Fields(cfg.ComposeCommand),
	}
}

// Lint runs the lint command.
func (b *BuildSystem) Lint(ctx context.Context) error { return b.run(ctx, b.lint) }

// Test runs the unit test command.
func (b *BuildSystem) Test(ctx context.Context) error { return b.run(ctx, b.test) }

// Build runs the full build.
func (b *BuildSystem) Build(ctx context.Context) error { return b.run(ctx, b.build) }

// Up brings the service up in the background.
func (b *BuildSystem) Up(ctx context.Context, service string) error {
	return b.composeRun(ctx, "up", "-d", service)
}

// Rebuild stops, rebuilds and restarts the service.
func (b *BuildSystem) Rebuild(ctx context.Context, service string) error {
	if err := b.composeRun(ctx, "stop", service); err != nil {
		return err
	}
	if err := b.composeRun(ctx, "build", service); err != nil {
		return err
	}
	return b.composeRun(ctx, "up", "-d", service)
}

func (b *BuildSystem) composeRun(ctx context.Context, args ...string) error {
	if len(b.compose) == 0 {
		return errors.New("compose command not configured")
	}
	cmd := append(append([]string{}, b.compose...), args...)
	return b.run(ctx, cmd)
}

func (b *BuildSystem) run(ctx context.Context, cmd []string) error {
	if len(cmd) == 0 {
		return nil
	}
	_, err := b.runner.Run(ctx, b.repoPath, cmd[0], cmd[1:]...)
	return err
}
