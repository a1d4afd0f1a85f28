package storage

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aibridge/bridge/internal/bridgeerr"
)

// debounceWindow is the spec.md §4.2 debounce target ("must be
// debounced (~75-150ms)"); two changes within this window collapse to
// one re-read.
const debounceWindow = 100 * time.Millisecond

// pollFallbackInterval is used when a native recursive watcher cannot
// be installed, per spec.md §9 ("Implementations without a native
// recursive watcher fall back to a 2s poll; behavior must be
// equivalent observable").
const pollFallbackInterval = 2 * time.Second

// fileWatcher watches one or more paths and invokes onChange (already
// debounced) whenever any of them changes, adapted from zjrosen-
// perles's internal/watcher: an fsnotify.Watcher feeding a debounce
// timer in a dedicated goroutine, with a done channel for shutdown.
type fileWatcher struct {
	fsw      *fsnotify.Watcher
	done     chan struct{}
	closeErr error
}

// watchPaths installs a watcher on every directory in dirs and calls
// onChange (debounced) whenever a file inside one of them changes. If
// fsnotify fails to initialize, it falls back to a fixed-interval poll
// of statPaths so behavior stays observably equivalent.
func watchPaths(ctx context.Context, dirs []string, statPaths []string, onChange func()) (Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[STORAGE] fsnotify unavailable (%v), falling back to poll", err)
		return newPollWatcher(ctx, statPaths, onChange), nil
	}

	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("%w: watching %s: %v", bridgeerr.ErrWatcherError, dir, err)
		}
	}

	w := &fileWatcher{fsw: fsw, done: make(chan struct{})}
	go w.loop(onChange)
	return w, nil
}

func (w *fileWatcher) loop(onChange func()) {
	var timer *time.Timer
	var pending bool

	timerC := func() <-chan time.Time {
		if timer != nil {
			return timer.C
		}
		return nil
	}

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
			pending = true

		case <-timerC():
			if pending {
				onChange()
				pending = false
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[STORAGE] watcher error: %v", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *fileWatcher) Close() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.fsw.Close()
}

// pollWatcher is the fallback path for hosts without a usable native
// watcher: it stats each path on a fixed interval and fires onChange
// whenever any modtime advances.
type pollWatcher struct {
	cancel context.CancelFunc
}

func newPollWatcher(ctx context.Context, paths []string, onChange func()) *pollWatcher {
	ctx, cancel := context.WithCancel(ctx)
	last := make(map[string]time.Time, len(paths))

	go func() {
		ticker := time.NewTicker(pollFallbackInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				changed := false
				for _, p := range paths {
					mt, ok := statModTime(p)
					if !ok {
						continue
					}
					if prev, seen := last[p]; !seen || mt.After(prev) {
						last[p] = mt
						changed = true
					}
				}
				if changed {
					onChange()
				}
			}
		}
	}()

	return &pollWatcher{cancel: cancel}
}

func (p *pollWatcher) Close() error {
	p.cancel()
	return nil
}

func dirsOf(paths []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range paths {
		d := filepath.Dir(p)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}
