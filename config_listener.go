package bootready

import (
	"context"
	"sync"
	"sync/atomic"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// configurationListener observes configuration events for one pid and
// records when an Updated event for it arrives. OnEvent runs on the runtime's
// notification goroutine while Updated is read by the polling goroutine.
type configurationListener struct {
	id      string
	pid     string
	updated atomic.Bool
	once    sync.Once
	signal  chan struct{}
}

func newConfigurationListener(pid string) *configurationListener {
	return &configurationListener{
		id:     "bootready.config-listener." + uuid.NewString(),
		pid:    pid,
		signal: make(chan struct{}),
	}
}

// OnEvent implements Observer. Events for other pids or of other types are
// ignored, as are events that do not decode.
func (l *configurationListener) OnEvent(_ context.Context, event cloudevents.Event) error {
	ev, err := ParseConfigurationEvent(event)
	if err != nil {
		return nil //nolint:nilerr // foreign events are not ours to reject
	}
	if ev.PID != l.pid || ev.Type != ConfigEventUpdated {
		return nil
	}
	l.updated.Store(true)
	l.once.Do(func() { close(l.signal) })
	return nil
}

// ObserverID implements Observer.
func (l *configurationListener) ObserverID() string {
	return l.id
}

// Updated reports whether an Updated event for the pid has been seen.
func (l *configurationListener) Updated() bool {
	return l.updated.Load()
}

// Signal is closed when the first matching Updated event arrives.
func (l *configurationListener) Signal() <-chan struct{} {
	return l.signal
}

// listenForConfigurationUpdates registers a listener for pid on bus. The
// returned release func unregisters it; it is safe to call more than once
// and unregisters exactly once. Callers defer it immediately.
func listenForConfigurationUpdates(bus EventBus, pid string, logger Logger) (*configurationListener, func(), error) {
	l := newConfigurationListener(pid)
	if err := bus.RegisterObserver(l, EventTypeConfigUpdated); err != nil {
		return nil, nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := bus.UnregisterObserver(l); err != nil {
				logger.Warn("Failed to unregister configuration listener", "pid", pid, "error", err)
			}
		})
	}
	return l, release, nil
}
