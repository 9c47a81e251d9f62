package kibo

import (
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher is an optional, advisory fsnotify watcher over a set of tracked
// directory roots, used only during `save -v` to warn about paths that
// changed while the hash pass was reading them. It starts after the walk,
// so changes made during the walk itself are not reported. It never blocks
// or fails a save on its own -- SPEC_FULL.md 10.P.
//
// Grounded on the teacher's pit/pit.go Pit{watcher, Events} pattern: a
// long-lived *fsnotify.Watcher plus a channel of raw fsnotify.Event
// values, repurposed here from watching a running pit database for
// mutation-during-container-build into watching a workspace for
// mutation-during-save.
type Watcher struct {
	watcher *fsnotify.Watcher
	Events  chan fsnotify.Event
	done    chan struct{}
}

// NewWatcher starts watching roots. A failure to start the watcher is
// logged and treated as "watching disabled" rather than propagated, since
// the feature is diagnostic-only.
func NewWatcher(roots []string) *Watcher {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debugf("workspace watcher disabled: %v", err)
		return nil
	}
	for _, r := range roots {
		if err := fw.Add(r); err != nil {
			log.Debugf("workspace watcher could not watch %s: %v", r, err)
		}
	}

	w := &Watcher{watcher: fw, Events: make(chan fsnotify.Event, 64), done: make(chan struct{})}
	go w.pump()
	return w
}

func (w *Watcher) pump() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			select {
			case w.Events <- ev:
			default:
				// drop on backpressure: a missed warning is acceptable,
				// blocking the save pipeline on it is not.
			}
		case <-w.done:
			return
		}
	}
}

// Warnf logs a "could not guarantee consistency" warning for path, the
// diagnostic spec.md 10.P calls for rather than a save failure.
func (w *Watcher) Warnf(path string) {
	log.Warnf("path changed during save, consistency not guaranteed: %s", path)
}

// Close stops the watcher.
func (w *Watcher) Close() {
	if w == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
}
