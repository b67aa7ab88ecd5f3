package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfcunha/vigil/utils/config"
)

func TestExecRunner_Run(t *testing.T) {
	runner := NewExecRunner(5 * time.Second)
	dir := t.TempDir()

	out, err := runner.Run(context.Background(), dir, "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = runner.Run(context.Background(), dir, "sh", "-c", "echo broken >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestExecRunner_Timeout(t *testing.T) {
	runner := NewExecRunner(50 * time.Millisecond)
	_, err := runner.Run(context.Background(), t.TempDir(), "sh", "-c", "sleep 5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestBuildSystem_SkipsEmptyCommands(t *testing.T) {
	runner := &fakeRunner{}
	build := NewBuildSystem(runner, config.PatchConfig{
		RepoPath:       "/repo",
		LintCommand:    "",
		TestCommand:    "go test ./...",
		ComposeCommand: "docker-compose -f deploy/compose.yml",
	})
	ctx := context.Background()

	require.NoError(t, build.Lint(ctx))
	require.NoError(t, build.Test(ctx))
	require.NoError(t, build.Rebuild(ctx, "api"))

	assert.Equal(t, []string{
		"go test ./...",
		"docker-compose -f deploy/compose.yml stop api",
		"docker-compose -f deploy/compose.yml build api",
		"docker-compose -f deploy/compose.yml up -d api",
	}, runner.calls)
}
