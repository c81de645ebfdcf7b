package status

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"mailroom/pkg/metrics"
)

// Backend names a status store implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// DefaultPath is the SQLite file used when no target is configured,
// relative to the mailbox root.
const DefaultPath = ".mailroom/status.db"

// ParseTarget maps a connection target to its backend. postgres:// and
// redis:// URLs select those servers; anything else is a SQLite file path,
// optionally prefixed with sqlite://.
func ParseTarget(target string) (Backend, string) {
	target = strings.TrimSpace(target)
	lower := strings.ToLower(target)

	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return BackendPostgres, target
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return BackendRedis, target
	case strings.HasPrefix(lower, "sqlite://"):
		return BackendSQLite, target[len("sqlite://"):]
	}
	return BackendSQLite, target
}

// DefaultTarget returns the SQLite path inside a mailbox root.
func DefaultTarget(mailboxRoot string) string {
	return filepath.Join(mailboxRoot, filepath.FromSlash(DefaultPath))
}

// Open connects the backend selected by target and wraps it with latency
// metrics. The caller owns the returned store and must Close it.
func Open(ctx context.Context, target string, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}

	backend, dsn := ParseTarget(target)
	if dsn == "" {
		return nil, fmt.Errorf("status store target is required")
	}

	var (
		store Store
		err   error
	)
	switch backend {
	case BackendPostgres:
		store, err = NewPostgresStore(ctx, dsn)
	case BackendRedis:
		store, err = NewRedisStore(ctx, dsn)
	default:
		store, err = NewSQLiteStore(dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s status store: %w", backend, err)
	}

	log.With("component", "status."+string(backend)).Debug("Status store opened", "target", redactTarget(backend, dsn))
	return Instrument(store), nil
}

// Instrument records operation latency for store.
func Instrument(store Store) Store {
	if _, ok := store.(instrumented); ok {
		return store
	}
	return instrumented{next: store}
}

type instrumented struct {
	next Store
}

func observe(op string, start time.Time) {
	metrics.StatusStoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s instrumented) Upsert(ctx context.Context, record Record) error {
	defer observe("upsert", time.Now())
	return s.next.Upsert(ctx, record)
}

func (s instrumented) Get(ctx context.Context, id string) (Record, error) {
	defer observe("get", time.Now())
	return s.next.Get(ctx, id)
}

func (s instrumented) List(ctx context.Context, filter Filter) ([]Record, error) {
	defer observe("list", time.Now())
	return s.next.List(ctx, filter)
}

func (s instrumented) Clear(ctx context.Context) error {
	defer observe("clear", time.Now())
	return s.next.Clear(ctx)
}

func (s instrumented) Ping(ctx context.Context) error {
	defer observe("ping", time.Now())
	return s.next.Ping(ctx)
}

func (s instrumented) Close() error {
	return s.next.Close()
}

func redactTarget(backend Backend, dsn string) string {
	if backend == BackendSQLite {
		return dsn
	}
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return string(backend)
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
