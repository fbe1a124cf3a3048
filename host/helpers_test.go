package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/bootready"
)

var errActivator = errors.New("activator error")

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

// activatorFunc adapts a function to Startable.
type activatorFunc func(ctx context.Context) error

func (f activatorFunc) Start(ctx context.Context) error { return f(ctx) }

// gatedActivator blocks Start until release is called.
type gatedActivator struct {
	gate    chan struct{}
	once    sync.Once
	err     error
	stopped int
	mu      sync.Mutex
}

func newGatedActivator(err error) *gatedActivator {
	return &gatedActivator{gate: make(chan struct{}), err: err}
}

func (a *gatedActivator) Start(ctx context.Context) error {
	select {
	case <-a.gate:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *gatedActivator) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped++
	return nil
}

func (a *gatedActivator) release() { a.once.Do(func() { close(a.gate) }) }

func (a *gatedActivator) stopCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

type recordingService struct {
	mu      sync.Mutex
	updates []map[string]any
}

func (s *recordingService) Updated(_ context.Context, properties map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, properties)
	return nil
}

func (s *recordingService) last() (map[string]any, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return nil, 0
	}
	return s.updates[len(s.updates)-1], len(s.updates)
}

type recordingFactory struct {
	mu      sync.Mutex
	updated map[string]map[string]any
	deleted []string
	reject  error
}

func newRecordingFactory() *recordingFactory {
	return &recordingFactory{updated: make(map[string]map[string]any)}
}

func (f *recordingFactory) Updated(_ context.Context, pid string, properties map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject != nil {
		return f.reject
	}
	f.updated[pid] = properties
	return nil
}

func (f *recordingFactory) Deleted(_ context.Context, pid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, pid)
}

func (f *recordingFactory) instance(pid string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.updated[pid]
	return p, ok
}

func newTestHost(t *testing.T, opts ...Option) *Host {
	t.Helper()
	h := New(opts...)
	t.Cleanup(func() {
		_ = h.Close(context.Background())
	})
	return h
}

func moduleState(t *testing.T, h *Host, name string) bootready.ModuleState {
	t.Helper()
	modules, _ := h.Modules(context.Background())
	for _, m := range modules {
		if m.Name == name {
			return m.State
		}
	}
	return bootready.ModuleStateUninstalled
}

func eventuallyState(t *testing.T, h *Host, name string, want bootready.ModuleState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return moduleState(t, h, name) == want
	}, testWait, testTick, "module %s never reached %s", name, want)
}
