// Package gateway runs the mailroom daemon: the message processor, provider
// health checks and the HTTP status API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"mailroom/pkg/agent"
	"mailroom/pkg/bus"
	"mailroom/pkg/config"
	"mailroom/pkg/processor"
	"mailroom/pkg/router"
	"mailroom/pkg/status"
	fantasytools "mailroom/pkg/tools/fantasy"
	fstools "mailroom/pkg/tools/fs"
	"mailroom/pkg/watcher"
	"mailroom/pkg/workflow"
	"mailroom/pkg/writer"
)

const (
	defaultHealthInterval = 60 * time.Second
	shutdownTimeout       = 5 * time.Second
	drainTimeout          = 30 * time.Second
)

// Options overrides the dependencies the service would otherwise build from
// configuration.
type Options struct {
	// Store is used instead of opening cfg.Status.Target; the caller keeps
	// ownership of it.
	Store     status.Store
	NewClient agent.ClientFactory
	NewSender workflow.SenderFactory
	Logger    *slog.Logger
	// Listener replaces listening on cfg.Server host and port.
	Listener net.Listener
}

type Service struct {
	cfg       *config.Config
	log       *slog.Logger
	store     status.Store
	ownsStore bool
	bus       *bus.MessageBus
	handlers  *router.Handlers
	router    *router.Router
	processor *processor.Processor
	agents    []*agent.Agent
	health    *healthMonitor
	listener  net.Listener

	mu        sync.RWMutex
	startedAt time.Time
}

// NewService wires every component of the daemon from a resolved config.
func NewService(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	store, ownsStore := opts.Store, false
	if store == nil {
		opened, err := status.Open(ctx, cfg.Status.Target, log)
		if err != nil {
			return nil, err
		}
		store, ownsStore = opened, true
	}

	svc, err := build(cfg, store, opts, log)
	if err != nil {
		if ownsStore {
			_ = store.Close()
		}
		return nil, err
	}
	svc.ownsStore = ownsStore

	return svc, nil
}

func build(cfg *config.Config, store status.Store, opts Options, log *slog.Logger) (*Service, error) {
	w := writer.New(cfg.Mailbox, writer.WithLogger(log))

	messages, err := fstools.NewService(cfg.Mailbox, w)
	if err != nil {
		return nil, fmt.Errorf("initialize mailbox tools: %w", err)
	}

	agents, err := agent.BuildAll(cfg, fantasytools.BuildMailboxTools(messages), opts.NewClient, log)
	if err != nil {
		return nil, err
	}

	handlers := router.NewHandlers()
	agent.Register(handlers, agents)
	if err := workflow.Register(handlers, cfg, workflow.Deps{Writer: w, NewSender: opts.NewSender, Logger: log}); err != nil {
		return nil, err
	}

	rt, err := router.New(cfg.Routing, cfg.Mailbox, handlers, log)
	if err != nil {
		return nil, err
	}

	messageBus := bus.NewMessageBus()
	proc := processor.New(cfg.Mailbox, store, rt, messageBus, processor.Options{
		Watcher: watcher.Options{
			Debounce:        time.Duration(cfg.Watcher.DebounceMS) * time.Millisecond,
			ProcessExisting: cfg.Watcher.ProcessExisting,
			ForcePolling:    cfg.Watcher.ForcePolling,
		},
		Logger: log,
	})

	checkers := make([]healthChecker, 0, len(agents))
	for _, a := range agents {
		checkers = append(checkers, a)
	}

	return &Service{
		cfg:       cfg,
		log:       log.With("component", "gateway.service"),
		store:     store,
		bus:       messageBus,
		handlers:  handlers,
		router:    rt,
		processor: proc,
		agents:    agents,
		health:    newHealthMonitor(checkers, log),
		listener:  opts.Listener,
	}, nil
}

// Run starts the processor and the HTTP server and blocks until ctx ends or
// the server fails. In-flight messages are drained before it returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("status store unreachable: %w", err)
	}

	statusEvents, unsubscribe := s.bus.SubscribeStatus(ctx, 0)
	defer unsubscribe()
	go s.logStatusEvents(statusEvents)

	if err := s.processor.Start(ctx); err != nil {
		return fmt.Errorf("start processor: %w", err)
	}
	defer s.shutdown()

	s.health.checkAll(ctx)
	go s.health.run(ctx, s.healthInterval())

	listener, err := s.listen()
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("Status server started", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("serve status API: %w", err)
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Status server shutdown failed", "error", err)
	}

	return nil
}

// Ready reports whether the processor is running and every agent passed its
// last provider health check.
func (s *Service) Ready() bool {
	return s.processor.Running() && s.health.healthy()
}

func (s *Service) shutdown() {
	if err := s.processor.Stop(); err != nil {
		s.log.Warn("Processor stop failed", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.processor.Wait(drainCtx); err != nil {
		s.log.Warn("In-flight messages did not finish", "error", err)
	}

	s.bus.Close()
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.log.Warn("Status store close failed", "error", err)
		}
	}
	s.log.Info("Gateway stopped")
}

func (s *Service) listen() (net.Listener, error) {
	if s.listener != nil {
		return s.listener, nil
	}

	host := strings.TrimSpace(s.cfg.Server.Host)
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	return listener, nil
}

func (s *Service) healthInterval() time.Duration {
	if s.cfg.Server.HealthCheckIntervalSeconds <= 0 {
		return defaultHealthInterval
	}
	return time.Duration(s.cfg.Server.HealthCheckIntervalSeconds) * time.Second
}

func (s *Service) logStatusEvents(events <-chan bus.StatusEvent) {
	for event := range events {
		s.log.Debug("Status changed", "id", event.ID, "status", event.Status, "endpoint", event.Endpoint, "file", event.Filename, "handler", event.Handler)
	}
}

func (s *Service) uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
