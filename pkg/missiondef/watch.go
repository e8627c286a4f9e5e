package missiondef

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openmission/openmission/pkg/engine"
)

// reloadDebounce coalesces editor write bursts into one reload.
const reloadDebounce = 500 * time.Millisecond

// Watch monitors a definition file and invokes reloadFn with the
// freshly resolved definition on every change. A definition that no
// longer resolves is reported to reloadFn as an error argument so
// the caller can keep the previous run going. Watch returns once the
// watcher is running; it stops when ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, path string, reloadFn func(*engine.MissionDefinition, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	if l.logger != nil {
		l.logger.Infof("watching mission definition %s", path)
	}

	go l.processEvents(ctx, watcher, path, reloadFn)
	return nil
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string, reloadFn func(*engine.MissionDefinition, error)) {
	defer watcher.Close()

	var reloadTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if l.logger != nil {
				l.logger.Debugf("definition changed: %s (%s)", event.Name, event.Op)
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDebounce, func() {
				def, err := l.Load(path)
				reloadFn(def, err)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if l.logger != nil {
				l.logger.WithError(err).Warn("definition watcher error")
			}
		}
	}
}
