// Package watch provides file system watching for the clippings file,
// used by `kc import --watch` to re-import whenever the Kindle writes
// new highlights.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last write
// before firing. Kindle mounts flush My Clippings.txt in several small
// writes; debouncing collapses them into one import.
const DefaultDebounce = 500 * time.Millisecond

// FileWatcher watches a single clippings file for changes. The parent
// directory is watched rather than the file itself so the watch
// survives editors and devices that replace the file on save.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileWatcher creates a watcher for the given clippings file.
// The file's directory must exist; the file itself may not yet.
func NewFileWatcher(path string, debounce time.Duration, logger *log.Logger) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve clippings path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &FileWatcher{
		watcher:  watcher,
		path:     abs,
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Run watches until ctx is canceled, calling fn after each debounced
// change to the clippings file. Errors from fn are logged, not fatal:
// a transient parse or database error should not kill the watch loop.
func (fw *FileWatcher) Run(ctx context.Context, fn func(context.Context) error) error {
	fw.mu.Lock()
	if fw.running {
		fw.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	fw.running = true
	fw.mu.Unlock()

	dir := filepath.Dir(fw.path)
	if err := fw.watcher.Add(dir); err != nil {
		fw.watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	fw.wg.Add(1)
	go fw.loop(ctx, fn)

	<-ctx.Done()
	close(fw.done)
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	fw.wg.Wait()
	return ctx.Err()
}

func (fw *FileWatcher) loop(ctx context.Context, fn func(context.Context) error) {
	defer fw.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.relevant(event) {
				continue
			}
			// Reset the debounce window on every relevant event.
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(fw.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			fw.logger.Printf("clippings file changed, re-importing")
			if err := fn(ctx); err != nil {
				fw.logger.Printf("import failed: %v", err)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Printf("watch error: %v", err)
		}
	}
}

// relevant reports whether an event touches the clippings file.
func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != fw.path {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}
