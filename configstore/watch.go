package configstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/bootready"
	"github.com/GoCodeAlone/bootready/host"
)

// Change describes a record changed by a writer other than the store.
// Record is only populated for ConfigEventUpdated.
type Change struct {
	Type   bootready.ConfigEventType
	PID    string
	Record host.Record
}

// Handler receives changes observed by Watch.
type Handler func(ctx context.Context, change Change) error

// Watch reports changes to the directory until ctx is done. Writes and
// removals made by the store itself are not reported. Handler errors are
// logged and do not stop the watch.
func (s *Store) Watch(ctx context.Context, handler Handler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}
	s.logger.Info("Watching configuration directory", "dir", s.dir)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Stopping configuration watcher", "dir", s.dir)
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return ErrWatcherClosed
			}
			change, ok := s.translate(event)
			if !ok {
				continue
			}
			if err := handler(ctx, change); err != nil {
				s.logger.Error("Configuration change handler failed", "pid", change.PID, "type", change.Type, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return ErrWatcherClosed
			}
			s.logger.Error("Configuration watcher error", "error", err)
		}
	}
}

// translate maps a filesystem event to a Change. It returns false for
// events that are not reported.
func (s *Store) translate(event fsnotify.Event) (Change, bool) {
	if !supported(extOf(event.Name)) {
		return Change{}, false
	}
	pid := pidOf(event.Name)

	switch {
	case event.Has(fsnotify.Remove):
		if s.consumeRemoval(event.Name) {
			return Change{}, false
		}
		return Change{Type: bootready.ConfigEventDeleted, PID: pid}, true

	case event.Has(fsnotify.Rename):
		return Change{Type: bootready.ConfigEventLocationChanged, PID: pid}, true

	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		data, err := os.ReadFile(event.Name)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("Failed to read changed configuration", "file", event.Name, "error", err)
			}
			return Change{}, false
		}
		if len(data) == 0 || s.isEcho(event.Name, data) {
			return Change{}, false
		}
		rec, err := decode(event.Name, data)
		if err != nil {
			// Partial writes fail to parse; the next write event retries.
			s.logger.Debug("Ignoring unparsable configuration", "file", filepath.Base(event.Name), "error", err)
			return Change{}, false
		}
		return Change{Type: bootready.ConfigEventUpdated, PID: pid, Record: rec}, true
	}
	return Change{}, false
}

// Apply forwards a change to h. It is the Handler used to keep a host in
// step with the directory.
func Apply(h *host.Host) Handler {
	return func(ctx context.Context, change Change) error {
		switch change.Type {
		case bootready.ConfigEventUpdated:
			return h.ApplyExternalUpdate(ctx, change.Record)
		case bootready.ConfigEventDeleted:
			return h.ApplyExternalDelete(ctx, change.PID)
		case bootready.ConfigEventLocationChanged:
			h.NotifyLocationChanged(ctx, change.PID)
			return nil
		default:
			return fmt.Errorf("%w: %s", bootready.ErrUnknownConfigEventType, change.Type)
		}
	}
}
