package fswatch

import (
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/amp/pkg/errors"
)

var fs = afero.NewOsFs()

// OverflowPolicy decides what happens when the event queue is full.
type OverflowPolicy string

const (
	// Block makes the watcher wait until the consumer catches up. Events are
	// never lost, but the fsnotify backend may drop events while blocked.
	Block OverflowPolicy = "block"

	// DropOldest discards the oldest queued event to make room for the new
	// one.
	DropOldest OverflowPolicy = "drop-oldest"
)

// DefaultQueueSize is the default capacity of the event queue.
const DefaultQueueSize = 1024

// ParseOverflowPolicy parses the name of an OverflowPolicy.
func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch policy := OverflowPolicy(name); policy {
	case Block, DropOldest:
		return policy, nil
	}
	return "", errors.NewFriendlyError("Unknown overflow policy %q. "+
		"Expected %q or %q.", name, Block, DropOldest)
}

// Options configures a Watcher.
type Options struct {
	// QueueSize is the capacity of the event queue. Defaults to
	// DefaultQueueSize.
	QueueSize int

	// Overflow is the policy applied when the queue is full. Defaults to
	// Block.
	Overflow OverflowPolicy

	// Skip returns whether a directory should not be watched. It's consulted
	// for every directory under the root, including ones created later.
	Skip func(path string) bool
}

// Event is a single notification from the watcher. Either Err is set, or Op
// and Paths describe a change.
type Event struct {
	Op    fsnotify.Op
	Paths []string
	Err   error
}

// Watcher recursively watches a directory tree.
type Watcher struct {
	watcher *fsnotify.Watcher
	opts    Options
	events  chan Event
	done    chan struct{}
	wg      gosync.WaitGroup

	closeOnce gosync.Once
	closeErr  error
}

// Watch starts watching `root` and every directory below it. fsnotify
// doesn't watch directories recursively, so each subdirectory is added
// individually, and directories created later are added as they appear.
func Watch(root string, opts Options) (*Watcher, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Overflow == "" {
		opts.Overflow = Block
	}

	pathsToWatch, err := getPathsToWatch(root, opts.Skip)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}
	log.WithField("root", root).Debugf("Watching %d directories", len(pathsToWatch))

	w := &Watcher{
		watcher: watcher,
		opts:    opts,
		events:  make(chan Event, opts.QueueSize),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Events returns the queue of events. It's closed after Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the watcher and closes the event queue.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.watcher.Close()
		w.wg.Wait()
		close(w.events)
	})
	return w.closeErr
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !w.push(Event{Op: event.Op, Paths: []string{event.Name}}) {
				return
			}

			if event.Has(fsnotify.Create) {
				if !w.watchNewDir(event.Name) {
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			if !w.push(Event{Err: err}) {
				return
			}
		}
	}
}

// watchNewDir starts watching a newly created directory. Files may have been
// created inside it before the watch was added, so a Create event is
// synthesized for everything already in it. It returns false if the watcher
// was closed.
func (w *Watcher) watchNewDir(path string) bool {
	if w.opts.Skip != nil && w.opts.Skip(path) {
		return true
	}

	isDir, err := afero.IsDir(fs, path)
	if err != nil || !isDir {
		// The path was a file, or it was removed before we could look at it.
		return true
	}

	paths, err := getPathsToWatch(path, w.opts.Skip)
	if err != nil {
		return w.push(Event{Err: errors.WithContext(err, "get paths")})
	}

	for _, dir := range paths {
		if err := w.watcher.Add(dir); err != nil {
			if !w.push(Event{Err: errors.WithContext(err, fmt.Sprintf("watch %q", dir))}) {
				return false
			}
		}
	}

	children, err := getChildren(path, w.opts.Skip)
	if err != nil {
		return w.push(Event{Err: errors.WithContext(err, "get children")})
	}

	for _, child := range children {
		if !w.push(Event{Op: fsnotify.Create, Paths: []string{child}}) {
			return false
		}
	}
	return true
}

// push adds `event` to the queue according to the overflow policy. It
// returns false if the watcher was closed before the event was queued.
func (w *Watcher) push(event Event) bool {
	if w.opts.Overflow != DropOldest {
		select {
		case w.events <- event:
			return true
		case <-w.done:
			return false
		}
	}

	for {
		select {
		case <-w.done:
			return false
		case w.events <- event:
			return true
		default:
		}

		select {
		case dropped := <-w.events:
			log.WithField("paths", dropped.Paths).Warn(
				"File event queue is full. Dropping the oldest event.")
		default:
		}
	}
}

// getPathsToWatch returns `root` and all directories below it that aren't
// skipped.
func getPathsToWatch(root string, skip func(string) bool) (paths []string, err error) {
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if path != root && os.IsNotExist(err) {
				// Removed while we were walking.
				return nil
			}
			return errors.WithContext(err, "walk error")
		}

		if !fi.IsDir() {
			return nil
		}

		if path != root && skip != nil && skip(path) {
			return filepath.SkipDir
		}

		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// getChildren returns every path below `dir` that isn't in a skipped
// directory.
func getChildren(dir string, skip func(string) bool) (paths []string, err error) {
	err = afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.WithContext(err, "walk error")
		}

		if path == dir {
			return nil
		}

		if fi.IsDir() && skip != nil && skip(path) {
			return filepath.SkipDir
		}

		paths = append(paths, path)
		return nil
	})
	return paths, err
}
