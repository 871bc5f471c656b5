package assets

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 200 * time.Millisecond

// Watch builds once, then rebuilds whenever a source under the context
// changes. onBuild is called after every build with its result. Rebuilds are
// serialized. Watch returns when ctx is cancelled.
func (p *Pipeline) Watch(ctx context.Context, onBuild func(*Output, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	d := p.Descriptor()
	ignored := ignoredPaths(d)

	if err := watchTree(watcher, d.Context, ignored); err != nil {
		return err
	}

	onBuild(p.Build(ctx))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ignored.match(d.Context, ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if err := watchTree(watcher, ev.Name, ignored); err != nil {
					log.Warn().Err(err).Str("path", ev.Name).Msg("Failed to watch new path")
				}
			}
			log.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("Source changed")
			pending = time.After(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")

		case <-pending:
			pending = nil
			log.Info().Msg("Rebuilding")
			onBuild(p.Build(ctx))
		}
	}
}

// ignoreSet holds the absolute paths the watcher skips: the build's own
// outputs, dependencies and dot files.
type ignoreSet []string

func ignoredPaths(d Descriptor) ignoreSet {
	ig := ignoreSet{d.OutputDir()}
	if d.Output.Metafile != "" {
		ig = append(ig, d.resolve(d.Output.Metafile))
	}
	if path, ok, err := d.ManifestPath(); err == nil && ok {
		ig = append(ig, path)
	}
	return ig
}

func (ig ignoreSet) match(root, path string) bool {
	path = filepath.Clean(path)
	for _, p := range ig {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "node_modules" || (strings.HasPrefix(part, ".") && part != "." && part != "..") {
			return true
		}
	}
	// Temporary files from atomic writes and editors.
	base := filepath.Base(path)
	return strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".tmp")
}

// watchTree adds root and every directory below it, fsnotify is not recursive.
func watchTree(w *fsnotify.Watcher, root string, ignored ignoreSet) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && ignored.match(root, path) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
