// Package processor drives each observed message through the status
// lifecycle: it consumes folder events, routes created messages and
// persists every transition.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mailroom/pkg/bus"
	"mailroom/pkg/mailbox"
	"mailroom/pkg/message"
	"mailroom/pkg/metrics"
	"mailroom/pkg/router"
	"mailroom/pkg/status"
	"mailroom/pkg/watcher"
)

// Router dispatches one message to its handler.
type Router interface {
	RouteMessage(ctx context.Context, filename string, endpoint string, msgType string) (router.Result, error)
}

// Options tunes a Processor.
type Options struct {
	Watcher watcher.Options
	Logger  *slog.Logger
	// Now overrides the clock used for status timestamps.
	Now func() time.Time
}

// Processor owns a folder watcher restricted to inbound endpoints and is the
// sole consumer of its folder events.
type Processor struct {
	bus     *bus.MessageBus
	watcher *watcher.Watcher
	router  Router
	store   status.Store
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	flows sync.WaitGroup
}

// New wires a processor. The store and bus stay owned by the caller.
func New(cfg mailbox.Config, store status.Store, r Router, messageBus *bus.MessageBus, opts Options) *Processor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	watcherOpts := opts.Watcher
	if watcherOpts.Logger == nil {
		watcherOpts.Logger = log
	}

	return &Processor{
		bus:     messageBus,
		watcher: watcher.New(cfg.InboundOnly(), messageBus, watcherOpts),
		router:  r,
		store:   store,
		log:     log.With("component", "processor"),
		now:     now,
	}
}

// Start begins watching and consuming folder events.
func (p *Processor) Start(ctx context.Context) error {
	if p.store == nil || p.router == nil || p.bus == nil {
		return errors.New("processor requires a status store, router and bus")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("processor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := p.watcher.Start(runCtx); err != nil {
		cancel()
		return err
	}

	p.cancel = cancel
	p.loopDone = make(chan struct{})
	p.running = true

	go p.consume(runCtx, p.loopDone)
	p.log.Info("Processor started")

	return nil
}

// Stop stops the watcher and the event loop. Flows already in progress keep
// running; use Wait to drain them.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, loopDone := p.cancel, p.loopDone
	p.mu.Unlock()

	err := p.watcher.Stop()
	cancel()
	<-loopDone
	p.log.Info("Processor stopped")

	return err
}

// Wait blocks until every in-flight processing flow has finished or ctx ends.
func (p *Processor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.flows.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the processor is consuming events.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) consume(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		event, ok := p.bus.ConsumeFolderEvent(ctx)
		if !ok {
			return
		}
		p.handle(ctx, event)
	}
}

func (p *Processor) handle(ctx context.Context, event bus.FolderEvent) {
	switch event.Kind {
	case bus.FolderCreated:
		// Flows run concurrently and outlive Stop.
		flowCtx := context.WithoutCancel(ctx)
		p.flows.Add(1)
		go func() {
			defer p.flows.Done()
			p.process(flowCtx, event.Message)
		}()
	case bus.FolderUpdated:
		p.log.Info("Message updated, not reprocessed", "id", event.Message.ID, "endpoint", event.EndpointID, "file", event.Path)
	case bus.FolderDeleted:
		p.log.Info("Message deleted", "endpoint", event.EndpointID, "file", event.Path)
	case bus.FolderParseError:
		p.log.Warn("Message rejected", "endpoint", event.EndpointID, "file", event.Path, "reason", event.Reason)
	case bus.FolderWatchError:
		p.log.Error("Watcher failure", "endpoint", event.EndpointID, "error", event.Err)
	default:
		p.log.Warn("Unknown folder event", "kind", event.Kind)
	}
}

func (p *Processor) process(ctx context.Context, msg message.Message) {
	metrics.InFlightMessages.Inc()
	defer metrics.InFlightMessages.Dec()

	filename := msg.Filename()
	msgType := msg.Type()
	log := p.log.With("id", msg.ID, "endpoint", msg.EndpointID, "file", filename)

	record := status.NewRecord(msg.ID, msg.EndpointID, filename, p.now())
	if !p.persist(ctx, record, "", log) {
		return
	}

	record, err := record.Start()
	if err != nil || !p.persist(ctx, record, "", log) {
		return
	}

	started := time.Now()
	result, routeErr := p.router.RouteMessage(ctx, filename, msg.EndpointID, msgType)
	if result.Handler.Kind != "" {
		metrics.ProcessingDuration.WithLabelValues(string(result.Handler.Kind)).Observe(time.Since(started).Seconds())
	}
	handler := ""
	if result.Handler.ID != "" {
		handler = result.Handler.String()
	}

	if routeErr != nil {
		log.Error("Message processing failed", "handler", handler, "error", routeErr)
		record, err = record.Fail(routeErr, p.now())
		if err == nil && p.persist(ctx, record, handler, log) {
			metrics.MessagesProcessed.WithLabelValues(msg.EndpointID, string(status.Failed)).Inc()
		}
		return
	}

	record, err = record.Complete(result.Text, p.now())
	if err == nil && p.persist(ctx, record, handler, log) {
		metrics.MessagesProcessed.WithLabelValues(msg.EndpointID, string(status.Completed)).Inc()
		log.Info("Message processed", "handler", handler)
	}
}

// persist upserts one transition and mirrors it on the bus. A store failure
// ends the flow; nothing is retried.
func (p *Processor) persist(ctx context.Context, record status.Record, handler string, log *slog.Logger) bool {
	if err := p.store.Upsert(ctx, record); err != nil {
		log.Error("Persist status failed", "status", record.Status, "error", err)
		return false
	}
	log.Debug("Status transition", "status", record.Status)

	p.bus.PublishStatus(ctx, bus.StatusEvent{
		ID:       record.ID,
		Status:   string(record.Status),
		Endpoint: record.Endpoint,
		Filename: record.Filename,
		Handler:  handler,
		Error:    record.Error,
		Summary:  record.Summary,
	})
	return true
}
