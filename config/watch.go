package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file and invokes onChange after each write.
// Editors replace files rather than writing in place, so the watch is on
// the directory with a modtime debounce. The returned stop function ends
// the watch.
func Watch(path string, onChange func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	stop := make(chan struct{})
	go func() {
		defer watcher.Close()

		var lastModTime time.Time
		if stat, err := os.Stat(path); err == nil {
			lastModTime = stat.ModTime()
		}

		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				stat, err := os.Stat(path)
				if err != nil {
					continue
				}
				if !stat.ModTime().After(lastModTime) {
					continue
				}
				lastModTime = stat.ModTime()

				// Give the editor a moment to finish writing.
				time.Sleep(100 * time.Millisecond)
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config watcher error: %v", err)
			}
		}
	}()

	return func() { close(stop) }, nil
}
