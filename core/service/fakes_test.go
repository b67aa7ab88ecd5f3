package service

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/metrics"
)

type fakeRuntime struct {
	mu         sync.Mutex
	containers []types.Container
	listErr    error
	restartErr error
	restarts   []string
	logs       []byte
	events     chan events.Message
	errs       chan error
}

func newFakeRuntime(containers ...types.Container) *fakeRuntime {
	return &fakeRuntime{
		containers: containers,
		events:     make(chan events.Message, 16),
		errs:       make(chan error, 1),
	}
}

func (f *fakeRuntime) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]types.Container(nil), f.containers...), nil
}

func (f *fakeRuntime) ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, containerID)
	return f.restartErr
}

func (f *fakeRuntime) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.logs)), nil
}

func (f *fakeRuntime) Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error) {
	return f.events, f.errs
}

func (f *fakeRuntime) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.restarts)
}

func (f *fakeRuntime) setRestartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartErr = err
}

func testContainer(id, name, state string, labels map[string]string) types.Container {
	return types.Container{
		ID:     id,
		Names:  []string{"/" + name},
		Image:  name + ":latest",
		State:  state,
		Status: state,
		Labels: labels,
	}
}

// multiplexed frames log lines the way the runtime does for non-TTY containers.
func multiplexed(stream byte, lines ...string) []byte {
	var buf bytes.Buffer
	for _, line := range lines {
		header := make([]byte, 8)
		header[0] = stream
		binary.BigEndian.PutUint32(header[4:], uint32(len(line)+1))
		buf.Write(header)
		buf.WriteString(line + "\n")
	}
	return buf.Bytes()
}

type runnerRule struct {
	prefix string
	output string
	err    error
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	refused []string
	rules   []runnerRule
}

func (r *fakeRunner) on(prefix, output string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, runnerRule{prefix: prefix, output: output, err: err})
}

func (r *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, line)
	// exec.CommandContext will not start a command on a done context.
	if err := ctx.Err(); err != nil {
		r.refused = append(r.refused, line)
		return "", err
	}
	for _, rule := range r.rules {
		if strings.HasPrefix(line, rule.prefix) {
			return rule.output, rule.err
		}
	}
	return "", nil
}

func (r *fakeRunner) called(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// index returns the position of the first call starting with prefix, or -1.
func (r *fakeRunner) index(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func newTestPublisher(t *testing.T) (*Publisher, *eventbus.MemoryBus, *metrics.Metrics) {
	t.Helper()
	bus := eventbus.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	m := metrics.New(prometheus.NewRegistry())
	return NewPublisher(bus, m), bus, m
}

func subscribe(t *testing.T, bus eventbus.Bus, channels ...string) eventbus.Subscription {
	t.Helper()
	sub, err := bus.Subscribe(context.Background(), channels...)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub
}

func expectEvent(t *testing.T, sub eventbus.Subscription) eventbus.Event {
	t.Helper()
	select {
	case event := <-sub.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return eventbus.Event{}
	}
}

func expectNoEvent(t *testing.T, sub eventbus.Subscription) {
	t.Helper()
	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event %s", event.Name)
	case <-time.After(100 * time.Millisecond):
	}
}
