// Package monitor watches the working tree and asks the UI to reload when
// files change.
package monitor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fakeyudi/tuick/internal/console"
	"github.com/fakeyudi/tuick/internal/fzf"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups bursts of events, such as a save that writes
// several files.
const DefaultDebounce = 200 * time.Millisecond

// Watch reports changes under root until ctx is cancelled. Events are
// collected for debounce after the last one and changed receives the
// distinct paths. Directories created later are watched too.
func Watch(ctx context.Context, root string, filter *Filter, debounce time.Duration, changed func([]string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	add := func(dir string) {
		filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() {
				return nil
			}
			if path != root && filter.Ignored(path, true) {
				return filepath.SkipDir
			}
			if err := watcher.Add(path); err != nil {
				console.Log().Debug().Err(err).Str("dir", path).Msg("not watching")
			}
			return nil
		})
	}
	add(root)

	timer := time.NewTimer(debounce)
	timer.Stop()
	pending := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			info, statErr := os.Stat(event.Name)
			isDir := statErr == nil && info.IsDir()
			if filter.Ignored(event.Name, isDir) {
				continue
			}
			if isDir && event.Has(fsnotify.Create) {
				add(event.Name)
			}
			pending[event.Name] = true
			timer.Reset(debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			changed(paths)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			console.Log().Debug().Err(err).Msg("watch error")
		}
	}
}

// Reloader asks a running UI to reload.
type Reloader interface {
	Reload(ctx context.Context, command string) error
	ChangeHeader(ctx context.Context, header string) error
}

// Options configure Run.
type Options struct {
	Root     string
	Ignore   []string
	Debounce time.Duration
	// Endpoint blocks until the UI has registered where it listens.
	Endpoint func(ctx context.Context) (string, error)
	// APIKey authenticates with the UI.
	APIKey string
	// Command is the reload command the UI runs.
	Command string
	// Header, when set, replaces the UI header while the reload runs.
	Header string
	// Connect defaults to an fzf notifier for the endpoint.
	Connect func(desc, key string) (Reloader, error)
}

func connectFzf(desc, key string) (Reloader, error) {
	ep, err := fzf.ParseEndpoint(desc)
	if err != nil {
		return nil, err
	}
	return fzf.NewNotifier(ep, key), nil
}

// Run waits for the UI endpoint and then triggers a reload for every batch
// of changes until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	log := console.Log()
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Connect == nil {
		opts.Connect = connectFzf
	}
	filter, err := NewFilter(opts.Root, opts.Ignore)
	if err != nil {
		return err
	}

	desc, err := opts.Endpoint(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	ui, err := opts.Connect(desc, opts.APIKey)
	if err != nil {
		return err
	}
	log.Debug().Str("endpoint", desc).Str("root", opts.Root).Msg("watching for changes")

	return Watch(ctx, opts.Root, filter, opts.Debounce, func(paths []string) {
		log.Debug().Strs("paths", paths).Msg("files changed")
		if opts.Header != "" {
			if err := ui.ChangeHeader(ctx, opts.Header); err != nil && ctx.Err() == nil {
				log.Debug().Err(err).Msg("header update failed")
			}
		}
		if err := ui.Reload(ctx, opts.Command); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("reload request failed")
		}
	})
}
