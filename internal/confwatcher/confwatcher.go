// Package confwatcher watches the configuration file (and the TLS
// cert/key files certloader points at) for changes, triggering a
// reload the same way SIGHUP does.
package confwatcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	minInterval    = 1 * time.Second
	additionalWait = 10 * time.Millisecond
)

// Watcher watches one file for changes, debounced to minInterval and
// tolerant of delete+recreate (the common pattern for config editors
// and `cp`-based deploys).
type Watcher struct {
	FilePath string

	inner       *fsnotify.Watcher
	watchedPath string

	terminate chan struct{}
	signal    chan struct{}
	done      chan struct{}
}

// Initialize starts watching FilePath's parent directory.
func (w *Watcher) Initialize() error {
	if _, err := os.Stat(w.FilePath); err != nil {
		return err
	}

	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	absolutePath, _ := filepath.Abs(w.FilePath)
	parentPath := filepath.Dir(absolutePath)

	if err := inner.Add(parentPath); err != nil {
		inner.Close()
		return err
	}

	w.inner = inner
	w.watchedPath = absolutePath
	w.terminate = make(chan struct{})
	w.signal = make(chan struct{})
	w.done = make(chan struct{})

	go w.run()
	return nil
}

// Close stops watching.
func (w *Watcher) Close() {
	close(w.terminate)
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)

	var lastCalled time.Time
	previousWatchedPath, _ := filepath.EvalSymlinks(w.watchedPath)

outer:
	for {
		select {
		case event := <-w.inner.Events:
			if time.Since(lastCalled) < minInterval {
				continue
			}

			currentWatchedPath, _ := filepath.EvalSymlinks(w.watchedPath)
			eventPath, _ := filepath.Abs(event.Name)

			switch {
			case currentWatchedPath == "":
				previousWatchedPath = ""

			case currentWatchedPath != previousWatchedPath ||
				(eventPath == currentWatchedPath &&
					(event.Op&fsnotify.Write == fsnotify.Write ||
						event.Op&fsnotify.Create == fsnotify.Create)):
				time.Sleep(additionalWait)
				previousWatchedPath = currentWatchedPath
				lastCalled = time.Now()

				select {
				case w.signal <- struct{}{}:
				case <-w.terminate:
					break outer
				}
			}

		case <-w.inner.Errors:
			break outer

		case <-w.terminate:
			break outer
		}
	}

	close(w.signal)
	w.inner.Close()
}

// Watch returns a channel that receives a value after FilePath changes.
func (w *Watcher) Watch() chan struct{} {
	return w.signal
}
