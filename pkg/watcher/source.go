package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"mailroom/pkg/mailbox"
)

// change is one raw observation for a matching file in a watched directory.
type change struct {
	path    string
	removed bool
}

// source produces raw changes for a single endpoint directory.
type source interface {
	Changes() <-chan change
	Errors() <-chan error
	Close() error
}

// nativeSource relays fsnotify events for one directory. fsnotify does not
// recurse, which gives the depth-one restriction for free.
type nativeSource struct {
	fsw     *fsnotify.Watcher
	dir     string
	match   func(string) bool
	changes chan change
	errs    chan error
	done    chan struct{}
}

func newNativeSource(dir string, match func(string) bool) (*nativeSource, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	s := &nativeSource{
		fsw:     fsw,
		dir:     dir,
		match:   match,
		changes: make(chan change, 64),
		errs:    make(chan error, 8),
		done:    make(chan struct{}),
	}
	go s.relay()

	return s, nil
}

func (s *nativeSource) relay() {
	defer close(s.changes)

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if filepath.Dir(event.Name) != s.dir || !s.match(filepath.Base(event.Name)) {
				continue
			}

			c := change{path: event.Name}
			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				c.removed = true
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
			default:
				continue
			}

			select {
			case s.changes <- c:
			case <-s.done:
				return
			}
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			select {
			case s.errs <- err:
			default:
			}
		}
	}
}

func (s *nativeSource) Changes() <-chan change { return s.changes }
func (s *nativeSource) Errors() <-chan error   { return s.errs }

func (s *nativeSource) Close() error {
	close(s.done)
	return s.fsw.Close()
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// pollSource rescans one directory on a fixed interval and diffs the listing
// against the previous scan.
type pollSource struct {
	dir      string
	match    func(string) bool
	interval time.Duration
	changes  chan change
	errs     chan error
	cancel   context.CancelFunc
}

func newPollSource(dir string, match func(string) bool, interval time.Duration, baseline map[string]fileStamp) *pollSource {
	ctx, cancel := context.WithCancel(context.Background())
	s := &pollSource{
		dir:      dir,
		match:    match,
		interval: interval,
		changes:  make(chan change, 64),
		errs:     make(chan error, 8),
		cancel:   cancel,
	}
	go s.loop(ctx, baseline)

	return s
}

func (s *pollSource) loop(ctx context.Context, previous map[string]fileStamp) {
	defer close(s.changes)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, err := scanDir(s.dir, s.match)
		if err != nil {
			// Report the first failure of a streak only.
			if !failing {
				select {
				case s.errs <- err:
				default:
				}
			}
			failing = true
			continue
		}
		failing = false

		for path, stamp := range current {
			old, seen := previous[path]
			if seen && old.size == stamp.size && old.modTime.Equal(stamp.modTime) {
				continue
			}
			if !s.emit(ctx, change{path: path}) {
				return
			}
		}
		for path := range previous {
			if _, ok := current[path]; ok {
				continue
			}
			if !s.emit(ctx, change{path: path, removed: true}) {
				return
			}
		}

		previous = current
	}
}

func (s *pollSource) emit(ctx context.Context, c change) bool {
	select {
	case s.changes <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *pollSource) Changes() <-chan change { return s.changes }
func (s *pollSource) Errors() <-chan error   { return s.errs }

func (s *pollSource) Close() error {
	s.cancel()
	return nil
}

func scanDir(dir string, match func(string) bool) (map[string]fileStamp, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, mailbox.NormalizeIOError(err, "scan endpoint directory")
	}

	out := make(map[string]fileStamp, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out[filepath.Join(dir, entry.Name())] = fileStamp{modTime: info.ModTime(), size: info.Size()}
	}

	return out, nil
}
