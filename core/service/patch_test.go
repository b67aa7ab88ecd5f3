package service

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/models"
	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/metrics"
	"nfcunha/vigil/utils/config"
)

const samplePatch = `--- a/src/app.js
+++ b/src/app.js
@@ -1,3 +1,3 @@
 const a = 1;
-const b = null;
+const b = {};
 module.exports = { a, b };
`

const renamePatch = `diff --git a/src/old.js b/src/new.js
similarity index 90%
rename from src/old.js
rename to src/new.js
--- a/src/old.js
+++ b/src/new.js
@@ -1,2 +1,2 @@
-module.exports = null;
+module.exports = {};
 // helper
`

type patchFixture struct {
	svc     *PatchService
	runner  *fakeRunner
	store   *repository.PatchLogStore
	bus     *eventbus.MemoryBus
	metrics *metrics.Metrics
}

func newPatchFixture(t *testing.T, healthStatus int) *patchFixture {
	t.Helper()
	publisher, bus, m := newTestPublisher(t)
	runner := &fakeRunner{}
	store := repository.NewPatchLogStore(filepath.Join(t.TempDir(), "patch-log.json"))
	require.NoError(t, store.Load())

	cfg := config.PatchConfig{
		RepoPath:        t.TempDir(),
		ResponseTimeout: 200 * time.Millisecond,
		LintCommand:     "npm run lint",
		TestCommand:     "npm test",
		BuildCommand:    "npm run build",
		ComposeCommand:  "docker compose",
	}
	svc := NewPatchService(cfg, PatchServiceDeps{
		Store:     store,
		Runner:    runner,
		Health:    NewHealthChecker(time.Second),
		Services:  []config.ServiceTarget{{Name: "api", URL: healthyServer(t, healthStatus, "ok").URL}},
		Publisher: publisher,
		Metrics:   m,
	})
	return &patchFixture{svc: svc, runner: runner, store: store, bus: bus, metrics: m}
}

func TestParseCommitHash(t *testing.T) {
	assert.Equal(t, "abc1234", ParseCommitHash("[main abc1234] fix(api): handle nil\n 1 file changed"))
	assert.Equal(t, "def5678", ParseCommitHash("[main (root-commit) def5678] initial"))
	assert.Equal(t, "0a1b2c3", ParseCommitHash("[feature/x-1 0a1b2c3] msg"))
	assert.Equal(t, models.CommitUnknown, ParseCommitHash("nothing to see"))
}

func TestParsePatchStats(t *testing.T) {
	stats, err := ParsePatchStats(samplePatch)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/app.js"}, stats.Files)
	assert.Equal(t, 1, stats.Additions)
	assert.Equal(t, 1, stats.Deletions)

	_, err = ParsePatchStats("   ")
	assert.Error(t, err)
	_, err = ParsePatchStats("this is not a diff")
	assert.Error(t, err)
}

func TestApplyPatch_Success(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	f.runner.on("git commit", "[main abc1234] fix(api): null check", nil)
	sub := subscribe(t, f.bus, eventbus.ChannelPatchApplied)

	entry, err := f.svc.ApplyPatch(context.Background(), "api", samplePatch, "null pointer in handler")
	require.NoError(t, err)

	assert.Equal(t, models.PatchApplied, entry.Status)
	assert.Equal(t, "abc1234", entry.GitCommit)
	require.NotNil(t, entry.TestResults)
	assert.True(t, *entry.TestResults)
	assert.Equal(t, []string{"src/app.js"}, entry.Stats.Files)

	for _, cmd := range []string{
		"git apply --whitespace=nowarn",
		"npm run lint", "npm test", "npm run build",
		"docker compose up -d api",
		"git add -A -- src/app.js", "git commit -m",
		"docker compose stop api", "docker compose build api",
	} {
		assert.True(t, f.runner.called(cmd), "expected %q", cmd)
	}
	assert.False(t, f.runner.called("git apply -R"))

	payload, err := eventbus.Decode[eventbus.PatchResultPayload](expectEvent(t, sub))
	require.NoError(t, err)
	assert.Equal(t, entry.ID, payload.ID)

	reloaded := repository.NewPatchLogStore(f.store.Path())
	require.NoError(t, reloaded.Load())
	persisted, ok := reloaded.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, models.PatchApplied, persisted.Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PatchesTotal.WithLabelValues("applied")))
}

func TestApplyPatch_CommitsOnlyPatchedPaths(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	f.runner.on("git commit", "[main abc1234] fix", nil)

	_, err := f.svc.ApplyPatch(context.Background(), "api", renamePatch, "move the helper module")
	require.NoError(t, err)

	assert.True(t, f.runner.called("git add -A -- src/old.js src/new.js"))
	i := f.runner.index("git commit -m")
	require.GreaterOrEqual(t, i, 0)
	assert.True(t, strings.HasSuffix(f.runner.calls[i], "-- src/old.js src/new.js"), f.runner.calls[i])
	for _, c := range f.runner.calls {
		assert.NotEqual(t, "git add -A", c, "the whole tree must never be staged")
	}
}

func TestApplyPatch_CommitFailureUnstagesThenReverses(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	f.runner.on("git commit", "", errors.New("pre-commit hook rejected"))

	entry, err := f.svc.ApplyPatch(context.Background(), "api", samplePatch, "null pointer in handler")
	require.NoError(t, err)
	assert.Equal(t, models.PatchFailed, entry.Status)
	assert.Contains(t, entry.Failure, "commit failed")
	assert.Empty(t, entry.GitCommit)

	reset := f.runner.index("git reset -q -- src/app.js")
	reverse := f.runner.index("git apply -R")
	require.GreaterOrEqual(t, reset, 0)
	require.GreaterOrEqual(t, reverse, 0)
	assert.Less(t, reset, reverse)
	assert.False(t, f.runner.called("docker compose stop"))
}

func TestApplyPatch_CancelledDuringWarmupCleansUp(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	f.svc.warmupDelay = 2 * time.Second
	sub := subscribe(t, f.bus, eventbus.ChannelPatchFailed)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	entry, err := f.svc.ApplyPatch(ctx, "api", samplePatch, "null pointer in handler")
	require.NoError(t, err)
	assert.Equal(t, models.PatchFailed, entry.Status)
	assert.Contains(t, entry.Failure, "warm-up")

	assert.True(t, f.runner.called("git apply -R"))
	assert.Empty(t, f.runner.refused, "cleanup must not run on the cancelled context")
	assert.False(t, f.runner.called("git commit"))

	payload, err := eventbus.Decode[eventbus.PatchResultPayload](expectEvent(t, sub))
	require.NoError(t, err)
	assert.Equal(t, entry.ID, payload.ID)
	assert.Equal(t, "failed", payload.Status)

	stored, ok := f.store.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, models.PatchFailed, stored.Status)
}

func TestApplyPatch_UnparsedCommitHashStillApplied(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	f.runner.on("git commit", "committed", nil)

	entry, err := f.svc.ApplyPatch(context.Background(), "api", samplePatch, "some description")
	require.NoError(t, err)
	assert.Equal(t, models.PatchApplied, entry.Status)
	assert.Equal(t, models.CommitUnknown, entry.GitCommit)
	assert.True(t, f.runner.called("docker compose build api"))
}

func TestApplyPatch_TestFailureReversesAndFails(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	f.runner.on("npm test", "", errors.New("3 failing"))
	sub := subscribe(t, f.bus, eventbus.ChannelPatchFailed)

	entry, err := f.svc.ApplyPatch(context.Background(), "api", samplePatch, "null pointer in handler")
	require.NoError(t, err)

	assert.Equal(t, models.PatchFailed, entry.Status)
	require.NotNil(t, entry.TestResults)
	assert.False(t, *entry.TestResults)
	assert.Contains(t, entry.Failure, "test")
	assert.True(t, f.runner.called("git apply -R"))
	assert.False(t, f.runner.called("npm run build"), "later steps are skipped")
	assert.False(t, f.runner.called("git commit"))

	payload, err := eventbus.Decode[eventbus.PatchResultPayload](expectEvent(t, sub))
	require.NoError(t, err)
	assert.Equal(t, "failed", payload.Status)
}

func TestApplyPatch_UnhealthyServiceFails(t *testing.T) {
	f := newPatchFixture(t, http.StatusServiceUnavailable)

	entry, err := f.svc.ApplyPatch(context.Background(), "api", samplePatch, "null pointer in handler")
	require.NoError(t, err)
	assert.Equal(t, models.PatchFailed, entry.Status)
	assert.Contains(t, entry.Failure, "status=503")
	assert.False(t, f.svc.TestPatch(context.Background(), "api"))
}

func TestApplyPatch_ApplyErrorFails(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	f.runner.on("git apply", "", errors.New("patch does not apply"))

	entry, err := f.svc.ApplyPatch(context.Background(), "api", samplePatch, "null pointer in handler")
	require.NoError(t, err)
	assert.Equal(t, models.PatchFailed, entry.Status)
	assert.Nil(t, entry.TestResults)
	assert.False(t, f.runner.called("npm run lint"))
}

func TestApplyPatch_InvalidPatchNeverTouchesTree(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)

	entry, err := f.svc.ApplyPatch(context.Background(), "api", "not a diff at all", "null pointer in handler")
	require.NoError(t, err)
	assert.Equal(t, models.PatchFailed, entry.Status)
	assert.Contains(t, entry.Failure, "invalid patch")
	assert.False(t, f.runner.called("git"))
}

func TestApplyPatch_RebuildFailureDegradesToFailed(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	f.runner.on("git commit", "[main abc1234] fix", nil)
	f.runner.on("docker compose stop", "", errors.New("compose exploded"))

	entry, err := f.svc.ApplyPatch(context.Background(), "api", samplePatch, "null pointer in handler")
	require.NoError(t, err)
	assert.Equal(t, models.PatchFailed, entry.Status)
	assert.Equal(t, "abc1234", entry.GitCommit)
	assert.Contains(t, entry.Failure, "rebuild")
}

func TestRollbackPatch_AppliedOnce(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	f.runner.on("git commit", "[main abc1234] fix", nil)
	sub := subscribe(t, f.bus, eventbus.ChannelPatchRolledBack)
	ctx := context.Background()

	applied, err := f.svc.ApplyPatch(ctx, "api", samplePatch, "null pointer in handler")
	require.NoError(t, err)
	require.Equal(t, models.PatchApplied, applied.Status)

	rolled, err := f.svc.RollbackPatch(ctx, applied.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PatchRolledBack, rolled.Status)
	assert.True(t, f.runner.called("git revert --no-edit abc1234"))

	payload, err := eventbus.Decode[eventbus.PatchResultPayload](expectEvent(t, sub))
	require.NoError(t, err)
	assert.Equal(t, "rolled_back", payload.Status)

	_, err = f.svc.RollbackPatch(ctx, applied.ID)
	assert.ErrorIs(t, err, ErrPatchNotRollbackable)

	stored, _ := f.svc.Get(applied.ID)
	assert.Equal(t, models.PatchRolledBack, stored.Status)
}

func TestRollbackPatch_CompletesAfterCallerCancels(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	require.NoError(t, f.store.Save(&models.PatchLog{ID: "p1", Service: "api", Status: models.PatchApplied, GitCommit: "abc1234"}))
	sub := subscribe(t, f.bus, eventbus.ChannelPatchRolledBack)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rolled, err := f.svc.RollbackPatch(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PatchRolledBack, rolled.Status)
	assert.True(t, f.runner.called("git revert --no-edit abc1234"))
	assert.True(t, f.runner.called("docker compose up -d api"))
	assert.Empty(t, f.runner.refused)
	expectEvent(t, sub)
}

func TestRollbackPatch_FailedRejected(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	f.runner.on("npm test", "", errors.New("failing"))

	entry, err := f.svc.ApplyPatch(context.Background(), "api", samplePatch, "null pointer in handler")
	require.NoError(t, err)

	_, err = f.svc.RollbackPatch(context.Background(), entry.ID)
	assert.ErrorIs(t, err, ErrPatchNotRollbackable)
	assert.False(t, f.runner.called("git revert"))
}

func TestRollbackPatch_CommitEdgeCases(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	ctx := context.Background()

	require.NoError(t, f.store.Save(&models.PatchLog{ID: "unknown", Service: "api", Status: models.PatchApplied, GitCommit: models.CommitUnknown}))
	require.NoError(t, f.store.Save(&models.PatchLog{ID: "nocommit", Service: "api", Status: models.PatchApplied}))

	_, err := f.svc.RollbackPatch(ctx, "unknown")
	assert.ErrorIs(t, err, ErrCommitUnknown)

	rolled, err := f.svc.RollbackPatch(ctx, "nocommit")
	require.NoError(t, err)
	assert.Equal(t, models.PatchRolledBack, rolled.Status)
	assert.False(t, f.runner.called("git revert"))
	assert.True(t, f.runner.called("docker compose up -d api"))

	_, err = f.svc.RollbackPatch(ctx, "missing")
	assert.ErrorIs(t, err, ErrPatchNotFound)
}

func TestRollbackPatch_RevertFailureLeavesStatus(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	f.runner.on("git revert", "", errors.New("conflict"))
	require.NoError(t, f.store.Save(&models.PatchLog{ID: "p1", Service: "api", Status: models.PatchApplied, GitCommit: "abc1234"}))

	_, err := f.svc.RollbackPatch(context.Background(), "p1")
	require.Error(t, err)

	stored, _ := f.svc.Get("p1")
	assert.Equal(t, models.PatchApplied, stored.Status)
}

func TestPatchService_HistoryMostRecentFirst(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	ctx := context.Background()

	first, err := f.svc.ApplyPatch(ctx, "api", "bad", "first attempt here")
	require.NoError(t, err)
	second, err := f.svc.ApplyPatch(ctx, "api", "bad", "second attempt here")
	require.NoError(t, err)

	history := f.svc.History()
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)
}

func TestRequestPatch_CorrelatesResponse(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	requests := subscribe(t, f.bus, eventbus.ChannelPatchRequested)
	ctx := context.Background()

	go func() {
		select {
		case event := <-requests.Events():
			req, err := eventbus.Decode[eventbus.PatchRequestedPayload](event)
			if err != nil {
				return
			}
			f.svc.RespondPatch(ctx, eventbus.PatchResponsePayload{Service: "other", Patch: "wrong service"})
			f.svc.RespondPatch(ctx, eventbus.PatchResponsePayload{RequestID: "stale", Service: req.Service, Patch: "wrong id"})
			f.svc.RespondPatch(ctx, eventbus.PatchResponsePayload{RequestID: req.ID, Service: req.Service, Patch: samplePatch})
		case <-time.After(2 * time.Second):
		}
	}()

	patch, err := f.svc.RequestPatch(ctx, models.PatchRequest{Service: "api", Error: "TypeError: b is null", Logs: []string{"trace"}})
	require.NoError(t, err)
	assert.Equal(t, samplePatch, patch)
}

func TestRequestPatch_MatchesByServiceWithoutID(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	requests := subscribe(t, f.bus, eventbus.ChannelPatchRequested)
	ctx := context.Background()

	go func() {
		select {
		case <-requests.Events():
			f.svc.RespondPatch(ctx, eventbus.PatchResponsePayload{Service: "api", Patch: "diff"})
		case <-time.After(2 * time.Second):
		}
	}()

	patch, err := f.svc.RequestPatch(ctx, models.PatchRequest{Service: "api"})
	require.NoError(t, err)
	assert.Equal(t, "diff", patch)
}

func TestRequestPatch_TimeoutReturnsEmpty(t *testing.T) {
	f := newPatchFixture(t, http.StatusOK)
	requests := subscribe(t, f.bus, eventbus.ChannelPatchRequested)

	start := time.Now()
	patch, err := f.svc.RequestPatch(context.Background(), models.PatchRequest{Service: "api", Error: "boom"})
	require.NoError(t, err)
	assert.Empty(t, patch)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	event := expectEvent(t, requests)
	req, err := eventbus.Decode[eventbus.PatchRequestedPayload](event)
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "boom", req.Error)
}
