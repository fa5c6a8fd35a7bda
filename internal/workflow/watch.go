package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"arbiter/internal/logging"
	"arbiter/internal/submission"
	"arbiter/internal/track"
)

// instanceDepth is the directory depth of an instance folder below the
// submissions root: <track>/<team>/<instance>.
const instanceDepth = 3

// watcher turns metadata.json writes into lane triggers. Directories are
// watched down to the instance level; new ones are added as they appear.
type watcher struct {
	root    string
	tracks  map[track.ID]bool
	fsw     *fsnotify.Watcher
	trigger func(track.ID, string) bool
	logger  *slog.Logger
}

func newWatcher(root string, ids []track.ID, trigger func(track.ID, string) bool, logger *slog.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		root:    filepath.Clean(root),
		tracks:  make(map[track.ID]bool, len(ids)),
		fsw:     fsw,
		trigger: trigger,
		logger:  logger.With(logging.String(logging.FieldComponent, "watcher")),
	}
	for _, id := range ids {
		w.tracks[id] = true
		dir := filepath.Join(w.root, string(id))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = fsw.Close()
			return nil, err
		}
		if err := w.addTree(dir, 1); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// addTree watches dir and its subdirectories down to instanceDepth.
func (w *watcher) addTree(dir string, depth int) error {
	if depth > instanceDepth {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := w.addTree(filepath.Join(dir, entry.Name()), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// locate maps a path under the root to its track and depth.
func (w *watcher) locate(path string) (track.ID, int, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", 0, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	id := track.ID(parts[0])
	if !w.tracks[id] {
		return "", 0, false
	}
	return id, len(parts), true
}

func (w *watcher) handle(event fsnotify.Event) {
	id, depth, ok := w.locate(event.Name)
	if !ok {
		return
	}
	if event.Has(fsnotify.Create) && depth <= instanceDepth {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name, depth); err != nil {
				w.logger.Debug("watch add failed", logging.String("path", event.Name), logging.Error(err))
			}
			return
		}
	}
	if depth != instanceDepth+1 || filepath.Base(event.Name) != submission.MetadataFile {
		return
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
		w.trigger(id, "watch")
	}
}

func (w *watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logging.WarnWithContext(w.logger, "watch event queue overflowed", "watch_overflow",
					logging.Error(err),
					logging.String(logging.FieldImpact, "some uploads wait for the next poll"),
				)
				continue
			}
			w.logger.Debug("watch error", logging.Error(err))
		}
	}
}

func (w *watcher) close() {
	_ = w.fsw.Close()
}
