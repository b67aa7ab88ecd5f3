package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/go-diff/diff"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/models"
	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/metrics"
	"nfcunha/vigil/utils/config"
)

var (
	// ErrPatchNotFound is returned when no patch log entry has the given id.
	ErrPatchNotFound = errors.New("patch not found")
	// ErrPatchNotRollbackable is returned when the entry is not in the applied state.
	ErrPatchNotRollbackable = errors.New("patch is not in applied state")
	// ErrCommitUnknown is returned when an applied patch has no usable commit hash.
	ErrCommitUnknown = errors.New("patch commit hash is unknown")
)

// PatchService runs the request, apply, test, commit, rebuild and rollback
// steps of the auto-patch pipeline and keeps the patch log.
type PatchService struct {
	store         *repository.PatchLogStore
	git           *Git
	build         *BuildSystem
	health        *HealthChecker
	registry      config.Registry
	publisher     *Publisher
	actionLogRepo *repository.ActionLogRepository
	metrics       *metrics.Metrics

	responseTimeout time.Duration
	warmupDelay     time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// PatchServiceDeps groups the collaborators of a PatchService.
type PatchServiceDeps struct {
	Store         *repository.PatchLogStore
	Runner        CommandRunner
	Health        *HealthChecker
	Services      config.Registry
	Publisher     *Publisher
	ActionLogRepo *repository.ActionLogRepository
	Metrics       *metrics.Metrics
}

// NewPatchService creates the pipeline. ActionLogRepo may be nil.
func NewPatchService(cfg config.PatchConfig, deps PatchServiceDeps) *PatchService {
	return &PatchService{
		store:           deps.Store,
		git:             NewGit(deps.Runner, cfg.RepoPath),
		build:           NewBuildSystem(deps.Runner, cfg),
		health:          deps.Health,
		registry:        deps.Services,
		publisher:       deps.Publisher,
		actionLogRepo:   deps.ActionLogRepo,
		metrics:         deps.Metrics,
		responseTimeout: cfg.ResponseTimeout,
		warmupDelay:     cfg.WarmupDelay,
		locks:           make(map[string]*sync.Mutex),
	}
}

// RequestPatch publishes patch.requested and waits for a matching
// patch.response. It returns "" when no response arrives in time.
func (s *PatchService) RequestPatch(ctx context.Context, req models.PatchRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	if req.Logs == nil {
		req.Logs = []string{}
	}

	// Subscribe first so a fast responder cannot be missed.
	sub, err := s.publisher.Bus().Subscribe(ctx, eventbus.ChannelPatchResponse)
	if err != nil {
		return "", fmt.Errorf("failed to subscribe for patch response: %w", err)
	}
	defer sub.Close()

	if err := s.publisher.Publish(ctx, eventbus.ChannelPatchRequested, eventbus.PatchRequestedPayload{
		ID:          req.ID,
		Service:     req.Service,
		Error:       req.Error,
		Logs:        req.Logs,
		ContainerID: req.ContainerID,
		Timestamp:   req.Timestamp,
		RequestedAt: time.Now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("failed to publish patch request: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{"service": req.Service, "request_id": req.ID})
	log.Info("Patch requested, awaiting response")

	timer := time.NewTimer(s.responseTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			log.Warnf("No patch response within %v", s.responseTimeout)
			return "", nil
		case event, ok := <-sub.Events():
			if !ok {
				return "", eventbus.ErrClosed
			}
			resp, err := eventbus.Decode[eventbus.PatchResponsePayload](event)
			if err != nil {
				log.Warnf("Ignoring malformed patch response: %v", err)
				continue
			}
			if resp.RequestID != "" && resp.RequestID != req.ID {
				continue
			}
			if resp.RequestID == "" && resp.Service != req.Service {
				continue
			}
			log.Info("Patch response received")
			return resp.Patch, nil
		}
	}
}

// RespondPatch publishes a patch.response on behalf of a producer.
func (s *PatchService) RespondPatch(ctx context.Context, resp eventbus.PatchResponsePayload) error {
	return s.publisher.Publish(ctx, eventbus.ChannelPatchResponse, resp)
}

// ApplyPatch applies, tests, commits and rebuilds. Step failures are
// recorded on the returned entry with status failed; the error is only
// set when the entry could not be persisted.
func (s *PatchService) ApplyPatch(ctx context.Context, service, patchText, description string) (*models.PatchLog, error) {
	unlock := s.lock(service)
	defer unlock()

	now := time.Now().UTC()
	entry := &models.PatchLog{
		ID:        uuid.NewString(),
		Timestamp: now,
		Service:   service,
		Error:     description,
		Patch:     patchText,
		Status:    models.PatchPending,
		UpdatedAt: now,
	}
	s.store.Append(entry)

	log := logrus.WithFields(logrus.Fields{"service": service, "patch_id": entry.ID})
	log.Info("Applying patch")

	// Cleanup and the final outcome must survive a cancelled caller.
	cleanup := context.WithoutCancel(ctx)

	stats, paths, err := parsePatch(patchText)
	if err != nil {
		return s.finish(cleanup, entry, fmt.Errorf("invalid patch: %w", err))
	}
	entry.Stats = stats

	patchFile, err := writePatchFile(patchText)
	if err != nil {
		return s.finish(cleanup, entry, err)
	}
	defer os.Remove(patchFile)

	if err := s.step("apply", func() error { return s.git.Apply(ctx, patchFile) }); err != nil {
		return s.finish(cleanup, entry, fmt.Errorf("apply failed: %w", err))
	}

	passed, reason := s.testPatch(ctx, service)
	entry.TestResults = &passed
	if !passed {
		if err := s.step("revert", func() error { return s.git.Reverse(cleanup, patchFile) }); err != nil {
			log.Errorf("Failed to reverse patch after test failure: %v", err)
		}
		return s.finish(cleanup, entry, fmt.Errorf("tests failed: %s", reason))
	}

	message := fmt.Sprintf("fix(%s): %s\n\nAuto-patch %s applied at %s", service, description, entry.ID, now.Format(time.RFC3339))
	var commit string
	if err := s.step("commit", func() error {
		var err error
		commit, err = s.git.Commit(ctx, message, paths)
		return err
	}); err != nil {
		if resetErr := s.git.Unstage(cleanup, paths); resetErr != nil {
			log.Errorf("Failed to unstage patch after commit failure: %v", resetErr)
		}
		if revErr := s.git.Reverse(cleanup, patchFile); revErr != nil {
			log.Errorf("Failed to reverse patch after commit failure: %v", revErr)
		}
		return s.finish(cleanup, entry, fmt.Errorf("commit failed: %w", err))
	}
	entry.GitCommit = commit
	if commit == models.CommitUnknown {
		log.Warn("Committed but could not read the commit hash")
	}

	if err := s.step("rebuild", func() error { return s.build.Rebuild(ctx, service) }); err != nil {
		return s.finish(cleanup, entry, fmt.Errorf("rebuild failed: %w", err))
	}

	return s.finish(cleanup, entry, nil)
}

// finish records the terminal state, persists the log and publishes the outcome.
func (s *PatchService) finish(ctx context.Context, entry *models.PatchLog, failure error) (*models.PatchLog, error) {
	log := logrus.WithFields(logrus.Fields{"service": entry.Service, "patch_id": entry.ID})

	channel := eventbus.ChannelPatchApplied
	entry.Status = models.PatchApplied
	if failure != nil {
		channel = eventbus.ChannelPatchFailed
		entry.Status = models.PatchFailed
		entry.Failure = failure.Error()
		log.Warnf("Patch failed: %v", failure)
	} else {
		log.Infof("Patch applied (commit %s)", entry.GitCommit)
	}
	entry.UpdatedAt = time.Now().UTC()

	s.metrics.PatchesTotal.WithLabelValues(string(entry.Status)).Inc()
	s.logAction(models.ActionPatchApply, entry, failure)

	if err := s.store.Save(entry); err != nil {
		log.Errorf("Failed to persist patch log: %v", err)
		return entry.Clone(), fmt.Errorf("failed to persist patch log: %w", err)
	}

	s.publisher.Notify(ctx, channel, eventbus.PatchResultPayload{
		ID:        entry.ID,
		Service:   entry.Service,
		Status:    string(entry.Status),
		GitCommit: entry.GitCommit,
		Error:     entry.Failure,
	})
	return entry.Clone(), nil
}

// TestPatch runs lint, tests and build, brings the service up and checks
// its health after the warm-up delay.
func (s *PatchService) TestPatch(ctx context.Context, service string) bool {
	passed, _ := s.testPatch(ctx, service)
	return passed
}

func (s *PatchService) testPatch(ctx context.Context, service string) (bool, string) {
	steps := []struct {
		name string
		run  func() error
	}{
		{"lint", func() error { return s.build.Lint(ctx) }},
		{"test", func() error { return s.build.Test(ctx) }},
		{"build", func() error { return s.build.Build(ctx) }},
		{"up", func() error { return s.build.Up(ctx, service) }},
	}
	for _, st := range steps {
		if err := s.step(st.name, st.run); err != nil {
			return false, fmt.Sprintf("%s: %v", st.name, err)
		}
	}

	if s.warmupDelay > 0 {
		timer := time.NewTimer(s.warmupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, "cancelled during warm-up"
		case <-timer.C:
		}
	}

	target, ok := s.registry.ByName(service)
	if !ok {
		return false, "health: no health URL registered for " + service
	}
	var result models.HealthResult
	s.step("health", func() error {
		result = s.health.Check(ctx, target.URL)
		return nil
	})
	if !result.OK {
		return false, "health: " + result.Error
	}
	return true, ""
}

// RollbackPatch reverts the commit of an applied patch and rebuilds the
// service. An entry without a commit hash skips the revert. Once started it
// runs to completion even if ctx is cancelled; each command is still bounded
// by the runner's timeout.
func (s *PatchService) RollbackPatch(ctx context.Context, id string) (*models.PatchLog, error) {
	ctx = context.WithoutCancel(ctx)

	found, ok := s.store.Get(id)
	if !ok {
		return nil, ErrPatchNotFound
	}

	unlock := s.lock(found.Service)
	defer unlock()

	// Re-read under the service lock.
	entry, ok := s.store.Get(id)
	if !ok {
		return nil, ErrPatchNotFound
	}
	if !entry.CanRollback() {
		return entry, fmt.Errorf("%w (status %s)", ErrPatchNotRollbackable, entry.Status)
	}
	if entry.GitCommit == models.CommitUnknown {
		return entry, ErrCommitUnknown
	}

	log := logrus.WithFields(logrus.Fields{"service": entry.Service, "patch_id": entry.ID})

	if entry.GitCommit != "" {
		if err := s.step("revert", func() error { return s.git.Revert(ctx, entry.GitCommit) }); err != nil {
			s.logAction(models.ActionPatchRollback, entry, err)
			return entry, fmt.Errorf("git revert failed: %w", err)
		}
	} else {
		log.Warn("No commit recorded, skipping git revert")
	}

	entry.Status = models.PatchRolledBack
	entry.UpdatedAt = time.Now().UTC()
	if err := s.store.Save(entry); err != nil {
		return entry, fmt.Errorf("failed to persist patch log: %w", err)
	}
	s.metrics.PatchesTotal.WithLabelValues(string(entry.Status)).Inc()

	if err := s.step("rebuild", func() error { return s.build.Rebuild(ctx, entry.Service) }); err != nil {
		s.logAction(models.ActionPatchRollback, entry, err)
		return entry, fmt.Errorf("rolled back but rebuild failed: %w", err)
	}

	s.logAction(models.ActionPatchRollback, entry, nil)
	s.publisher.Notify(ctx, eventbus.ChannelPatchRolledBack, eventbus.PatchResultPayload{
		ID:        entry.ID,
		Service:   entry.Service,
		Status:    string(entry.Status),
		GitCommit: entry.GitCommit,
	})
	log.Info("Patch rolled back")
	return entry, nil
}

// History returns the patch log, most recent first.
func (s *PatchService) History() []*models.PatchLog {
	return s.store.History()
}

// Get returns the entry with the given id.
func (s *PatchService) Get(id string) (*models.PatchLog, bool) {
	return s.store.Get(id)
}

// step runs fn and records its duration.
func (s *PatchService) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.PatchStepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

// lock serializes applies and rollbacks for one service.
func (s *PatchService) lock(service string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[service]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[service] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *PatchService) logAction(actionType string, entry *models.PatchLog, err error) {
	if s.actionLogRepo == nil {
		return
	}
	action := &models.ActionLog{
		ActionType:   actionType,
		ResourceType: "patch",
		ResourceID:   entry.ID,
		ResourceName: entry.Service,
		Trigger:      models.TriggerOperator,
		Success:      err == nil,
		ExecutedAt:   time.Now(),
	}
	if err != nil {
		action.ErrorMessage = err.Error()
	}
	if logErr := s.actionLogRepo.Create(action); logErr != nil {
		logrus.Warnf("Failed to log action: %v", logErr)
	}
}

// ParsePatchStats parses a unified diff and counts touched files and lines.
func ParsePatchStats(patchText string) (*models.PatchStats, error) {
	stats, _, err := parsePatch(patchText)
	return stats, err
}

// parsePatch returns the stats of patchText and every repository path it
// touches, including both sides of a rename.
func parsePatch(patchText string) (*models.PatchStats, []string, error) {
	if strings.TrimSpace(patchText) == "" {
		return nil, nil, errors.New("patch is empty")
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patchText)).ReadAllFiles()
	if err != nil {
		return nil, nil, err
	}
	if len(fileDiffs) == 0 {
		return nil, nil, errors.New("patch contains no file changes")
	}

	stats := &models.PatchStats{Files: make([]string, 0, len(fileDiffs))}
	var paths []string
	seen := make(map[string]bool)
	for _, fd := range fileDiffs {
		stats.Files = append(stats.Files, diffFileName(fd))
		for _, name := range []string{fd.OrigName, fd.NewName} {
			p := trimDiffPrefix(name)
			if p == "" || p == "/dev/null" || seen[p] {
				continue
			}
			seen[p] = true
			paths = append(paths, p)
		}
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") {
					stats.Additions++
				} else if strings.HasPrefix(line, "-") {
					stats.Deletions++
				}
			}
		}
	}
	return stats, paths, nil
}

func diffFileName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	return trimDiffPrefix(name)
}

func trimDiffPrefix(name string) string {
	name = strings.TrimPrefix(name, "b/")
	return strings.TrimPrefix(name, "a/")
}

func writePatchFile(patchText string) (string, error) {
	f, err := os.CreateTemp("", "vigil-patch-*.diff")
	if err != nil {
		return "", fmt.Errorf("failed to create patch file: %w", err)
	}
	defer f.Close()

	if !strings.HasSuffix(patchText, "\n") {
		patchText += "\n"
	}
	if _, err := f.WriteString(patchText); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write patch file: %w", err)
	}
	return f.Name(), nil
}
