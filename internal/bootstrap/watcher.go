package bootstrap

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDuration coalesces editor save bursts into one invalidation.
const debounceDuration = 500 * time.Millisecond

// Watch reports edits to the bootstrap files under workspaceDir. It returns
// a channel that emits after a change has been detected and debounced, and
// a stop function that ends the watch and closes the channel.
//
// The watch is on the directory rather than the files themselves: editors
// replace files via rename on save, and files absent at startup may appear
// later. Either way the directory sees the event.
func Watch(workspaceDir string) (<-chan struct{}, func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Add(workspaceDir); err != nil {
		watcher.Close()
		return nil, nil, err
	}

	watched := make(map[string]bool, len(Files))
	for _, name := range Files {
		watched[name] = true
	}

	changed := make(chan struct{}, 1) // buffer 1 so we don't block sender
	done := make(chan struct{})

	go func() {
		defer close(changed)

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !watched[filepath.Base(event.Name)] {
					continue
				}
				// Writes, creates, and renames all mean the prompt content
				// on disk no longer matches what was loaded.
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Remove) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceDuration, func() {
					slog.Debug("bootstrap file changed", "file", event.Name)
					select {
					case changed <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("bootstrap watcher error", "error", err)
			}
		}
	}()

	stop := func() {
		close(done)
		watcher.Close()
	}
	return changed, stop, nil
}
