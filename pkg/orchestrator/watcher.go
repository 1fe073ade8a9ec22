package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"

	"github.com/verdant-os/verdantd/pkg/errors"
	"github.com/verdant-os/verdantd/pkg/logging"
	"github.com/verdant-os/verdantd/pkg/units"
)

const watchDebounce = 250 * time.Millisecond

// Watcher hot-loads unit files dropped into or removed from the units
// directory while the daemon runs. Writes are debounced so an editor
// saving in several syscalls triggers a single reload.
type Watcher struct {
	dir  string
	orch *Orchestrator
	log  logging.Logger

	mu        sync.Mutex
	unitNames map[string]string // file path -> unit name it defined
	pending   map[string]*time.Timer

	sctx *stopper.Context
}

// NewWatcher starts watching dir for unit file changes. The returned
// watcher runs until Close is called or ctx is cancelled.
func NewWatcher(ctx context.Context, dir string, orch *Orchestrator, log logging.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewIOError("failed to create filesystem watcher", err)
	}

	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, errors.NewIOError("failed to watch units directory", err).WithContext("dir", dir)
	}

	w := &Watcher{
		dir:       dir,
		orch:      orch,
		log:       log,
		unitNames: make(map[string]string),
		pending:   make(map[string]*time.Timer),
		sctx:      stopper.WithContext(ctx),
	}

	w.sctx.Defer(func() {
		_ = fsWatcher.Close()
	})

	log.Infof("Watching units directory, dir: %s", w.dir)

	w.sctx.Go(func(sctx *stopper.Context) error {
		for {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-fsWatcher.Events:
				if !ok {
					return nil
				}
				w.handleEvent(event)

			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return nil
				}
				if err != nil {
					w.log.Warnf("Units directory watch error: %v", err)
				}
			}
		}
	})

	log.Infof("Watching %s for unit file changes", dir)
	return w, nil
}

// TrackFile records which unit a file defined at initial load time, so a
// later removal of that file maps back to the unit.
func (w *Watcher) TrackFile(path, unitName string) {
	w.mu.Lock()
	w.unitNames[path] = unitName
	w.mu.Unlock()
}

// Close stops the watcher and waits for its goroutine
func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.mu.Unlock()

	w.sctx.Stop(watchDebounce)
	return w.sctx.Wait()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, units.UnitFileExtension) {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.scheduleReload(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.handleRemoved(event.Name)
	}
}

// scheduleReload debounces bursts of writes to the same file
func (w *Watcher) scheduleReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pending[path]; exists {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if w.sctx.IsStopping() {
			return
		}
		w.reloadFile(path)
	})
}

func (w *Watcher) reloadFile(path string) {
	def, err := units.LoadFile(path)
	if err != nil {
		w.log.Errorf("Ignoring changed unit file %s: %v", path, err)
		return
	}

	w.mu.Lock()
	previous := w.unitNames[path]
	w.unitNames[path] = def.Name
	w.mu.Unlock()

	ctx := context.Background()

	// A renamed unit inside the same file drops the old unit first.
	if previous != "" && previous != def.Name {
		if err := w.orch.RemoveUnit(ctx, previous); err != nil && !errors.IsNotFoundError(err) {
			w.log.Errorf("Failed to remove renamed unit %s: %v", previous, err)
		}
	}

	if err := w.orch.ReloadDefinition(ctx, *def); err != nil {
		w.log.Errorf("Failed to reload unit %s from %s: %v", def.Name, path, err)
		return
	}
	w.log.Infof("Reloaded unit %s from %s", def.Name, filepath.Base(path))
}

func (w *Watcher) handleRemoved(path string) {
	w.mu.Lock()
	unitName := w.unitNames[path]
	delete(w.unitNames, path)
	if timer, exists := w.pending[path]; exists {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if unitName == "" {
		return
	}

	if err := w.orch.RemoveUnit(context.Background(), unitName); err != nil && !errors.IsNotFoundError(err) {
		w.log.Errorf("Failed to remove unit %s after file deletion: %v", unitName, err)
	}
}
