package fswatch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/mirrorsync/pkg/errors"
)

var fs = afero.NewOsFs()

// Kind is the type of change observed for a path.
type Kind string

// The kinds of changes reported by the watcher.
const (
	Add       Kind = "add"
	Change    Kind = "change"
	Remove    Kind = "remove"
	AddDir    Kind = "addDir"
	RemoveDir Kind = "removeDir"
)

// Event is a change to a path under the watched root. Path is relative to
// the root and uses forward slashes.
type Event struct {
	Kind Kind
	Path string
}

// Watcher reports changes anywhere under a directory tree.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	events  chan Event

	lock sync.Mutex
	// dirs is the set of watched directories. It's used to tell whether a
	// removed path was a directory, since it can't be stat'd anymore.
	dirs map[string]struct{}
}

// Watch starts watching root recursively. Directories created later are
// watched as they appear.
func Watch(root string) (*Watcher, error) {
	root = filepath.Clean(root)
	pathsToWatch, err := getPathsToWatch(root)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	w := &Watcher{
		root:    root,
		watcher: watcher,
		events:  make(chan Event, 1024),
		dirs:    map[string]struct{}{},
	}
	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}
			return nil, errors.WithContext(err, "watch "+path)
		}
		w.dirs[path] = struct{}{}
	}

	go w.run()
	return w, nil
}

// Events returns the channel of observed changes. It's closed after Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.events)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			for _, out := range w.translate(ev) {
				w.events <- out
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("File watcher error")
		}
	}
}

// translate converts a raw notification into events relative to the root.
// A directory that appears with contents already inside it (e.g. one moved
// into the tree) yields an event for each of its descendants as well.
func (w *Watcher) translate(ev fsnotify.Event) []Event {
	rel, ok := w.relative(ev.Name)
	if !ok {
		return nil
	}

	var isDir bool
	if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
		fi, err := fs.Stat(ev.Name)
		if err != nil {
			// The path was removed before we got to it. The removal will
			// have its own event.
			return nil
		}
		isDir = fi.IsDir()
	}

	w.lock.Lock()
	_, knownDir := w.dirs[ev.Name]
	w.lock.Unlock()

	kind, ok := classify(ev.Op, isDir, knownDir)
	if !ok {
		return nil
	}

	switch kind {
	case AddDir:
		return append([]Event{{Kind: AddDir, Path: rel}}, w.watchNewDir(ev.Name)...)
	case RemoveDir:
		w.forgetDir(ev.Name)
	}
	return []Event{{Kind: kind, Path: rel}}
}

// classify decides what a raw notification means.
func classify(op fsnotify.Op, isDir, knownDir bool) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename):
		if knownDir {
			return RemoveDir, true
		}
		return Remove, true
	case op.Has(fsnotify.Create):
		if isDir {
			return AddDir, true
		}
		return Add, true
	case op.Has(fsnotify.Write):
		if isDir {
			return "", false
		}
		return Change, true
	}
	return "", false
}

// watchNewDir starts watching a directory that was just created, and reports
// anything that's already inside it.
func (w *Watcher) watchNewDir(dir string) []Event {
	var events []Event
	err := afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			// Entries can disappear while we walk.
			return nil
		}

		if fi.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				log.WithError(err).WithField("path", path).Warn("Failed to watch new directory")
				return filepath.SkipDir
			}
			w.lock.Lock()
			w.dirs[path] = struct{}{}
			w.lock.Unlock()
		}

		if path == dir {
			return nil
		}

		rel, ok := w.relative(path)
		if !ok {
			return nil
		}
		kind := Add
		if fi.IsDir() {
			kind = AddDir
		}
		events = append(events, Event{Kind: kind, Path: rel})
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("path", dir).Warn("Failed to walk new directory")
	}
	return events
}

func (w *Watcher) forgetDir(dir string) {
	w.lock.Lock()
	defer w.lock.Unlock()

	prefix := dir + string(filepath.Separator)
	for path := range w.dirs {
		if path == dir || strings.HasPrefix(path, prefix) {
			delete(w.dirs, path)
		}
	}

	// fsnotify drops watches on removed directories by itself. A renamed
	// directory keeps its watch under the old name, so remove it explicitly.
	if err := w.watcher.Remove(dir); err != nil {
		log.WithError(err).WithField("path", dir).Debug("Failed to remove watch")
	}
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// getPathsToWatch returns root and every directory beneath it. Because
// fsnotify doesn't watch directories recursively, each one needs its own
// watch.
func getPathsToWatch(root string) (paths []string, err error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat")
	}
	if !fi.IsDir() {
		return nil, errors.New("%q is not a directory", root)
	}

	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}
		if fi.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
