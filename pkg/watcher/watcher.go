// Package watcher turns file-system activity in mailbox endpoint directories
// into validated folder events on the message bus.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"mailroom/pkg/bus"
	"mailroom/pkg/mailbox"
	"mailroom/pkg/message"
	"mailroom/pkg/metrics"
)

// DefaultDebounce is how long a file must stay quiet before it is read.
const DefaultDebounce = 300 * time.Millisecond

// Options tunes watcher behavior.
type Options struct {
	// Debounce is the stability window; zero means DefaultDebounce.
	Debounce time.Duration
	// ProcessExisting emits created events for files present at start.
	ProcessExisting bool
	// ForcePolling uses the polling backend for every endpoint.
	ForcePolling bool
	Logger       *slog.Logger
}

type fileState struct {
	fingerprint [32]byte
	hashed      bool
	createdAt   time.Time
}

// Watcher observes every inbound endpoint of a mailbox and publishes folder
// events to a bus. Outbox-only endpoints are never watched.
type Watcher struct {
	cfg     mailbox.Config
	bus     *bus.MessageBus
	opts    Options
	log     *slog.Logger
	polling bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stateMu sync.Mutex
	files   map[string]fileState
}

// New creates a watcher. Container hosts and MAILROOM_FORCE_POLLING force the
// polling backend regardless of endpoint policy.
func New(cfg mailbox.Config, messageBus *bus.MessageBus, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Watcher{
		cfg:     cfg,
		bus:     messageBus,
		opts:    opts,
		log:     log.With("component", "watcher"),
		polling: opts.ForcePolling || RequiresPolling(),
		files:   make(map[string]fileState),
	}
}

// Start begins monitoring. Failures of individual endpoints are published as
// watch_error events and do not stop the others.
func (w *Watcher) Start(ctx context.Context) error {
	if w.bus == nil {
		return errors.New("watcher requires a message bus")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.stateMu.Lock()
	w.files = make(map[string]fileState)
	w.stateMu.Unlock()

	endpoints := w.cfg.Inbound()
	for _, endpoint := range endpoints {
		w.startEndpoint(runCtx, endpoint)
	}
	w.log.Info("Watcher started", "endpoints", len(endpoints), "forced_polling", w.polling)

	return nil
}

// Stop releases all watch resources and waits for endpoint loops to exit.
// It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.log.Info("Watcher stopped")

	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) startEndpoint(ctx context.Context, endpoint mailbox.Endpoint) {
	dir := w.cfg.Dir(endpoint)
	log := w.log.With("endpoint", endpoint.ID, "dir", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.watchError(ctx, endpoint, mailbox.NormalizeIOError(err, "create endpoint directory"))
		return
	}

	mode := endpoint.Mode()
	if w.polling {
		mode = mailbox.WatchPoll
	}

	var (
		src      source
		baseline map[string]fileStamp
		err      error
	)
	switch mode {
	case mailbox.WatchPoll:
		baseline, err = scanDir(dir, endpoint.Matches)
		if err != nil {
			w.watchError(ctx, endpoint, err)
			return
		}
		src = newPollSource(dir, endpoint.Matches, endpoint.PollInterval(), baseline)
		log.Info("Watching endpoint", "mode", mode, "interval", endpoint.PollInterval())
	default:
		native, nativeErr := newNativeSource(dir, endpoint.Matches)
		if nativeErr != nil {
			w.watchError(ctx, endpoint, mailbox.NormalizeIOError(nativeErr, "watch endpoint directory"))
			return
		}
		// Scan after the watch is armed so nothing slips between the two.
		baseline, err = scanDir(dir, endpoint.Matches)
		if err != nil {
			_ = native.Close()
			w.watchError(ctx, endpoint, err)
			return
		}
		src = native
		log.Info("Watching endpoint", "mode", mode)
	}

	existing := make([]string, 0, len(baseline))
	for path, stamp := range baseline {
		if w.opts.ProcessExisting {
			existing = append(existing, path)
			continue
		}
		w.stateMu.Lock()
		w.files[path] = fileState{createdAt: stamp.modTime}
		w.stateMu.Unlock()
	}
	sort.Strings(existing)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx, endpoint, src, existing, log)
	}()
}

type firing struct {
	path string
	seq  uint64
}

type debounced struct {
	timer *time.Timer
	seq   uint64
}

func (w *Watcher) run(ctx context.Context, endpoint mailbox.Endpoint, src source, existing []string, log *slog.Logger) {
	pending := make(map[string]debounced)
	fire := make(chan firing)
	var seq uint64

	defer func() {
		for _, d := range pending {
			d.timer.Stop()
		}
		if err := src.Close(); err != nil {
			log.Debug("Close watch source failed", "error", err)
		}
		log.Info("Stopped watching endpoint")
	}()

	schedule := func(path string) {
		if d, ok := pending[path]; ok {
			d.timer.Stop()
		}
		seq++
		f := firing{path: path, seq: seq}
		timer := time.AfterFunc(w.opts.Debounce, func() {
			select {
			case fire <- f:
			case <-ctx.Done():
			}
		})
		pending[path] = debounced{timer: timer, seq: f.seq}
	}

	for _, path := range existing {
		schedule(path)
	}

	changes := src.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				w.watchError(ctx, endpoint, errors.New("watch source closed unexpectedly"))
				return
			}
			if !c.removed {
				schedule(c.path)
				continue
			}
			if d, ok := pending[c.path]; ok {
				d.timer.Stop()
				delete(pending, c.path)
			}
			w.handleRemove(ctx, endpoint, c.path)
		case err := <-src.Errors():
			w.watchError(ctx, endpoint, mailbox.NormalizeIOError(err, "watch endpoint directory"))
		case f := <-fire:
			if d, ok := pending[f.path]; !ok || d.seq != f.seq {
				// Superseded by a later change or a removal.
				continue
			}
			delete(pending, f.path)
			w.handleChange(ctx, endpoint, f.path, log)
		}
	}
}

func (w *Watcher) handleChange(ctx context.Context, endpoint mailbox.Endpoint, path string, log *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Gone before it settled; the remove event covers it.
			return
		}
		w.parseError(ctx, endpoint, path, mailbox.NormalizeIOError(err, "stat message file").Error())
		return
	}
	if info.IsDir() {
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		w.parseError(ctx, endpoint, path, mailbox.NormalizeIOError(err, "read message file").Error())
		return
	}

	doc, err := message.Parse(string(content))
	if err != nil {
		w.parseError(ctx, endpoint, path, err.Error())
		return
	}
	if err := message.Validate(doc.Metadata, w.cfg.RequiredFields(endpoint)); err != nil {
		w.parseError(ctx, endpoint, path, err.Error())
		return
	}

	sum := blake3.Sum256(content)

	w.stateMu.Lock()
	state, known := w.files[path]
	if known && state.hashed && state.fingerprint == sum {
		w.stateMu.Unlock()
		log.Debug("Content unchanged, skipping", "file", path)
		return
	}
	if !known {
		state.createdAt = info.ModTime()
	}
	state.fingerprint = sum
	state.hashed = true
	w.files[path] = state
	w.stateMu.Unlock()

	msg := message.Message{
		ID:         message.ID(doc.Metadata, w.cfg.Root, path),
		SourcePath: path,
		EndpointID: endpoint.ID,
		Metadata:   doc.Metadata,
		Body:       doc.Body,
		CreatedAt:  state.createdAt,
		ModifiedAt: info.ModTime(),
	}

	if known {
		w.publish(ctx, bus.Updated(msg))
		return
	}
	w.publish(ctx, bus.Created(msg))
}

func (w *Watcher) handleRemove(ctx context.Context, endpoint mailbox.Endpoint, path string) {
	w.stateMu.Lock()
	delete(w.files, path)
	w.stateMu.Unlock()

	w.publish(ctx, bus.Deleted(path, endpoint.ID))
}

func (w *Watcher) parseError(ctx context.Context, endpoint mailbox.Endpoint, path string, reason string) {
	w.log.Warn("Message rejected", "endpoint", endpoint.ID, "file", path, "reason", reason)
	w.publish(ctx, bus.ParseError(path, endpoint.ID, reason))
}

func (w *Watcher) watchError(ctx context.Context, endpoint mailbox.Endpoint, err error) {
	w.log.Debug("Watch failure", "endpoint", endpoint.ID, "error", err)
	w.publish(ctx, bus.WatchError(endpoint.ID, fmt.Errorf("endpoint %q: %w", endpoint.ID, err)))
}

func (w *Watcher) publish(ctx context.Context, event bus.FolderEvent) {
	if !w.bus.PublishFolderEvent(ctx, event) {
		return
	}
	metrics.FolderEvents.WithLabelValues(event.EndpointID, string(event.Kind)).Inc()
}
