package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"mailroom/pkg/mailbox"
	"mailroom/pkg/message"
	"mailroom/pkg/writer"
)

const (
	MaxReadBytes             = 256 * 1024
	MaxWriteBytes            = 1024 * 1024
	MaxListEntries           = 500
	MaxToolOperationDuration = 10 * time.Second

	stateDirName = ".mailroom"
)

// Service executes bounded message operations inside one mailbox.
type Service struct {
	cfg                      mailbox.Config
	guard                    *mailbox.Guard
	writer                   *writer.Writer
	maxReadBytes             int
	maxWriteBytes            int
	maxListEntries           int
	maxToolOperationDuration time.Duration
}

type ReadResult struct {
	Path     string
	Endpoint string
	Metadata message.Metadata
	Body     string
	Bytes    int
	// ParseError is set when the file has a malformed metadata block; Body
	// then holds the raw content.
	ParseError string
}

type ListEntry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

type ListResult struct {
	Endpoint  string
	Path      string
	Entries   []ListEntry
	Truncated bool
	Total     int
}

type WriteResult struct {
	Path         string
	ID           string
	Endpoint     string
	BytesWritten int
}

// NewService creates a mailbox-bounded message service. Writes go through w.
func NewService(cfg mailbox.Config, w *writer.Writer) (*Service, error) {
	if w == nil {
		return nil, errors.New("message writer is required")
	}

	guard, err := mailbox.NewGuard(cfg.Root)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:                      cfg,
		guard:                    guard,
		writer:                   w,
		maxReadBytes:             MaxReadBytes,
		maxWriteBytes:            MaxWriteBytes,
		maxListEntries:           MaxListEntries,
		maxToolOperationDuration: MaxToolOperationDuration,
	}, nil
}

// Guard returns the path guard of the mailbox root.
func (s *Service) Guard() *mailbox.Guard {
	return s.guard
}

// ReadMessage reads and parses one message file by mailbox-relative path.
func (s *Service) ReadMessage(ctx context.Context, path string) (ReadResult, error) {
	ctx, cancel := s.withOperationContext(ctx)
	defer cancel()

	resolvedPath, err := s.resolve(path)
	if err != nil {
		return ReadResult{}, err
	}
	if err := checkContext(ctx); err != nil {
		return ReadResult{}, err
	}

	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		return ReadResult{}, mailbox.NormalizeIOError(err, "read failed")
	}
	if len(content) > s.maxReadBytes {
		return ReadResult{}, mailbox.NewError(mailbox.ErrorIO, fmt.Sprintf("file exceeds max_read_bytes (%d)", s.maxReadBytes))
	}
	if err := ensureText(content); err != nil {
		return ReadResult{}, err
	}

	result := ReadResult{
		Path:     resolvedPath,
		Endpoint: s.endpointOf(resolvedPath),
		Bytes:    len(content),
	}

	doc, err := message.Parse(string(content))
	if err != nil {
		result.ParseError = err.Error()
		result.Body = string(content)
		return result, nil
	}
	result.Metadata = doc.Metadata
	result.Body = doc.Body

	return result, nil
}

// ListEndpoint lists the message files of an endpoint, sorted by name.
func (s *Service) ListEndpoint(ctx context.Context, endpointID string) (ListResult, error) {
	ctx, cancel := s.withOperationContext(ctx)
	defer cancel()

	endpoint, err := s.endpoint(endpointID)
	if err != nil {
		return ListResult{}, err
	}
	if err := checkContext(ctx); err != nil {
		return ListResult{}, err
	}

	dir := s.cfg.Dir(endpoint)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ListResult{}, mailbox.NormalizeIOError(err, "list endpoint failed")
	}

	matching := make([]os.DirEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && endpoint.Matches(entry.Name()) {
			matching = append(matching, entry)
		}
	}
	sort.Slice(matching, func(i int, j int) bool {
		return matching[i].Name() < matching[j].Name()
	})

	limited := matching
	truncated := false
	if len(matching) > s.maxListEntries {
		limited = matching[:s.maxListEntries]
		truncated = true
	}

	resultEntries := make([]ListEntry, 0, len(limited))
	for _, entry := range limited {
		info, infoErr := entry.Info()
		if infoErr != nil {
			if errors.Is(infoErr, os.ErrNotExist) {
				continue
			}
			return ListResult{}, mailbox.NormalizeIOError(infoErr, "read file metadata failed")
		}
		resultEntries = append(resultEntries, ListEntry{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
	}

	return ListResult{
		Endpoint:  endpoint.ID,
		Path:      dir,
		Entries:   resultEntries,
		Truncated: truncated,
		Total:     len(matching),
	}, nil
}

// WriteMessage writes a new message into an endpoint that accepts outgoing
// mail. Pure inbox endpoints are refused so agents cannot feed themselves.
func (s *Service) WriteMessage(ctx context.Context, endpointID string, body string, metadata message.Metadata, filename string) (WriteResult, error) {
	ctx, cancel := s.withOperationContext(ctx)
	defer cancel()

	if len(body) > s.maxWriteBytes {
		return WriteResult{}, mailbox.NewError(mailbox.ErrorIO, fmt.Sprintf("content exceeds max_write_bytes (%d)", s.maxWriteBytes))
	}

	endpoint, err := s.endpoint(endpointID)
	if err != nil {
		return WriteResult{}, err
	}
	if endpoint.Direction == mailbox.DirectionInbox {
		return WriteResult{}, mailbox.NewError(mailbox.ErrorInvalidPath, fmt.Sprintf("endpoint %q only receives messages", endpoint.ID))
	}
	if err := checkContext(ctx); err != nil {
		return WriteResult{}, err
	}

	path, err := s.writer.Write(ctx, endpoint.ID, body, metadata, filename)
	if err != nil {
		return WriteResult{}, err
	}

	result := WriteResult{Path: path, Endpoint: endpoint.ID}
	if content, readErr := os.ReadFile(path); readErr == nil {
		result.BytesWritten = len(content)
		if doc, parseErr := message.Parse(string(content)); parseErr == nil {
			result.ID, _ = doc.Metadata.String(message.FieldID)
		}
	}

	return result, nil
}

func (s *Service) resolve(path string) (string, error) {
	resolvedPath, err := s.guard.ResolvePath(path)
	if err != nil {
		return "", err
	}

	rel := s.guard.RelPath(resolvedPath)
	if rel == stateDirName || strings.HasPrefix(rel, stateDirName+string(filepath.Separator)) {
		return "", mailbox.NewError(mailbox.ErrorInvalidPath, "mailroom state files are not messages")
	}

	return resolvedPath, nil
}

func (s *Service) endpoint(endpointID string) (mailbox.Endpoint, error) {
	endpoint, err := s.cfg.Endpoint(strings.TrimSpace(endpointID))
	if err != nil {
		return mailbox.Endpoint{}, mailbox.NewError(mailbox.ErrorInvalidPath, err.Error())
	}

	return endpoint, nil
}

func (s *Service) endpointOf(path string) string {
	dir := filepath.Dir(path)
	for _, endpoint := range s.cfg.Endpoints {
		if filepath.Join(s.guard.Root(), filepath.FromSlash(endpoint.Path)) == dir {
			return endpoint.ID
		}
	}

	return ""
}

func (s *Service) withOperationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}

	if s.maxToolOperationDuration <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, s.maxToolOperationDuration)
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return mailbox.NewError(mailbox.ErrorIO, err.Error())
	}

	return nil
}

func ensureText(content []byte) error {
	if bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content) {
		return mailbox.NewError(mailbox.ErrorIO, "file appears to be binary or invalid utf-8")
	}

	return nil
}
