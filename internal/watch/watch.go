// Package watch implements an optional filesystem watcher: debounced
// package-root change notifications that let a caller re-run the Builder
// without a full directory re-scan between events.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce matches forge.yaml's documented default when no
// watch.debounce override is configured.
const defaultDebounce = 300 * time.Millisecond

// WatchEvent reports that packageName's source tree changed and settled
// for at least the configured debounce interval.
type WatchEvent struct {
	PackageName string
}

// SourceWatcher is the interface the Builder's watch loop consumes. It is
// defined independently of any concrete implementation so a caller can
// substitute a fake in tests.
type SourceWatcher interface {
	Events() <-chan WatchEvent
	Close() error
}

// FSNotifyWatcher watches a set of package source roots and emits one
// debounced WatchEvent per package after its last observed change settles.
type FSNotifyWatcher struct {
	debounce time.Duration
	log      *slog.Logger

	w      *fsnotify.Watcher
	events chan WatchEvent

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewFSNotifyWatcher watches every (packageName -> sourcePath) root in
// roots. A zero debounce uses defaultDebounce.
func NewFSNotifyWatcher(roots map[string]string, debounce time.Duration, log *slog.Logger) (*FSNotifyWatcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	pathToPackage := make(map[string]string, len(roots))
	for packageName, sourcePath := range roots {
		if err := w.Add(sourcePath); err != nil {
			_ = w.Close()
			return nil, err
		}
		pathToPackage[sourcePath] = packageName
	}

	fw := &FSNotifyWatcher{
		debounce: debounce,
		log:      log,
		w:        w,
		events:   make(chan WatchEvent, len(roots)),
		timers:   make(map[string]*time.Timer),
	}
	go fw.run(pathToPackage)
	return fw, nil
}

func (fw *FSNotifyWatcher) run(pathToPackage map[string]string) {
	defer close(fw.events)
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			packageName, ok := pathToPackage[watchedRootOf(ev.Name, pathToPackage)]
			if !ok {
				continue
			}
			fw.schedule(packageName)
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			fw.log.Warn("watch error", "error", err)
		}
	}
}

// schedule (re)starts the debounce timer for packageName, canceling any
// timer already pending for it.
func (fw *FSNotifyWatcher) schedule(packageName string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if t, ok := fw.timers[packageName]; ok {
		t.Stop()
	}
	fw.timers[packageName] = time.AfterFunc(fw.debounce, func() {
		fw.events <- WatchEvent{PackageName: packageName}
	})
}

// Events returns the channel of debounced WatchEvents.
func (fw *FSNotifyWatcher) Events() <-chan WatchEvent { return fw.events }

// Close stops the underlying fsnotify watcher and any pending timers.
func (fw *FSNotifyWatcher) Close() error {
	fw.mu.Lock()
	for _, t := range fw.timers {
		t.Stop()
	}
	fw.mu.Unlock()
	return fw.w.Close()
}

// watchedRootOf returns the longest watched root that is a prefix of
// changedPath, since fsnotify reports events for files within a watched
// directory, not the directory path itself.
func watchedRootOf(changedPath string, pathToPackage map[string]string) string {
	best := ""
	for root := range pathToPackage {
		if len(root) > len(best) && hasPathPrefix(changedPath, root) {
			best = root
		}
	}
	return best
}

func hasPathPrefix(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}

// RunLoop blocks, reading WatchEvents from sw and invoking rebuild for
// each one, until ctx is canceled. Errors from rebuild are logged, not
// fatal — a single failed rebuild should not stop the watch loop.
func RunLoop(ctx context.Context, sw SourceWatcher, log *slog.Logger, rebuild func(ctx context.Context, packageName string) error) {
	if log == nil {
		log = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sw.Events():
			if !ok {
				return
			}
			if err := rebuild(ctx, ev.PackageName); err != nil {
				log.Error("rebuild failed", "package", ev.PackageName, "error", err)
			}
		}
	}
}
