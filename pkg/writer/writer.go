// Package writer serializes outgoing messages into mailbox endpoint directories.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailroom/pkg/mailbox"
	"mailroom/pkg/message"
)

// Writer writes new message files. It is safe for concurrent use.
type Writer struct {
	cfg   mailbox.Config
	now   func() time.Time
	newID func() (string, error)
	log   *slog.Logger
}

// Option customizes a Writer.
type Option func(*Writer)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// WithIDGenerator overrides the message id source.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(w *Writer) {
		if newID != nil {
			w.newID = newID
		}
	}
}

// WithLogger sets the writer logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Writer) {
		if log != nil {
			w.log = log
		}
	}
}

func New(cfg mailbox.Config, opts ...Option) *Writer {
	w := &Writer{
		cfg:   cfg,
		now:   time.Now,
		newID: newUUID,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("component", "writer")

	return w
}

// Write creates a message file in the endpoint directory and returns its
// absolute path.
//
// Metadata starts as {id, timestamp} and extra is laid over it, so caller
// values win, including id and timestamp. When filename is empty the file is
// named <id>.<ext>, ext coming from the endpoint pattern.
func (w *Writer) Write(ctx context.Context, endpointID string, body string, extra message.Metadata, filename string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	endpoint, err := w.cfg.Endpoint(endpointID)
	if err != nil {
		return "", err
	}

	generated, err := w.newID()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}

	metadata := message.Metadata{
		message.FieldID:        generated,
		message.FieldTimestamp: w.now().UTC().Format(time.RFC3339),
	}
	for key, value := range extra {
		metadata[key] = value
	}

	filename = strings.TrimSpace(filename)
	if filename == "" {
		id, _ := metadata.String(message.FieldID)
		if !usableFilename(id) {
			id = generated
		}
		filename = id + "." + endpoint.Extension()
	}
	if !usableFilename(filename) {
		return "", mailbox.NewError(mailbox.ErrorInvalidPath, fmt.Sprintf("filename %q must be a plain file name", filename))
	}

	content, err := message.Format(metadata, body)
	if err != nil {
		return "", fmt.Errorf("format message: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := w.cfg.Dir(endpoint)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", mailbox.NormalizeIOError(err, "create endpoint directory")
	}

	fullPath := filepath.Join(dir, filename)
	if err := atomicWrite(fullPath, []byte(content), 0o644); err != nil {
		return "", mailbox.NormalizeIOError(err, "write message")
	}

	w.log.Debug("Message written", "endpoint", endpoint.ID, "file", fullPath)
	return fullPath, nil
}

func newUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func usableFilename(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && name == filepath.Base(name)
}

// atomicWrite writes through a dot-prefixed temp file in the same directory
// and renames it into place, so watchers never read a partial message. Dot
// files never match an endpoint pattern.
func atomicWrite(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mailroom-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		_ = tmp.Close()
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	cleanup = false
	return nil
}
