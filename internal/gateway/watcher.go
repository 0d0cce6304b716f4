package gateway

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"plotline/pkg/logger"
)

const debounceDelay = 100 * time.Millisecond

// Watcher monitors the config file and invokes a reload callback on
// change, debounced so editor write bursts trigger a single reload.
type Watcher struct {
	watcher  *fsnotify.Watcher
	paths    []string
	onChange func(path string)
	stopCh   chan struct{}
	debounce map[string]*time.Timer
	mu       sync.Mutex
}

// NewWatcher creates a file watcher for the given paths.
func NewWatcher(onChange func(path string), paths ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:  w,
		paths:    paths,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		debounce: make(map[string]*time.Timer),
	}, nil
}

// Start begins watching for file changes.
func (w *Watcher) Start() error {
	for _, path := range w.paths {
		if err := w.watcher.Add(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	go w.run()
	return nil
}

// Stop halts the watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.handleEvent(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}

// handleEvent debounces a change event per path.
func (w *Watcher) handleEvent(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}

	w.debounce[path] = time.AfterFunc(debounceDelay, func() {
		logger.Info().Str("path", path).Msg("Config change detected")
		if w.onChange != nil {
			w.onChange(path)
		}

		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()
	})
}
