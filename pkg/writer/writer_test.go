package writer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"mailroom/pkg/bus"
	"mailroom/pkg/mailbox"
	"mailroom/pkg/message"
	"mailroom/pkg/watcher"
)

func testMailbox(t *testing.T) mailbox.Config {
	t.Helper()

	return mailbox.Config{
		Root:          t.TempDir(),
		DefaultFields: mailbox.DefaultFields(),
		Endpoints: []mailbox.Endpoint{
			{ID: "inbox", Path: "inbox", Direction: mailbox.DirectionInbox, Watch: mailbox.WatchPolicy{Mode: mailbox.WatchPoll, IntervalMS: 20}},
			{ID: "notes", Path: "deep/notes", Pattern: "*.txt", Direction: mailbox.DirectionOutbox},
		},
	}
}

func readDocument(t *testing.T, path string) message.Document {
	t.Helper()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	doc, err := message.Parse(string(raw))
	require.NoError(t, err)
	return doc
}

func TestWriteGeneratesIDAndTimestamp(t *testing.T) {
	cfg := testMailbox(t)
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	w := New(cfg, WithClock(func() time.Time { return fixed }))

	path, err := w.Write(context.Background(), "inbox", "hello", nil, "")
	require.NoError(t, err)

	doc := readDocument(t, path)
	id, ok := doc.Metadata.String("id")
	require.True(t, ok)
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())

	require.Equal(t, filepath.Join(cfg.Root, "inbox", id+".md"), path)
	require.Equal(t, "2026-03-04T04:06:07Z", doc.Metadata["timestamp"])
	require.Equal(t, "hello", doc.Body)
}

func TestCallerMetadataOverridesGeneratedValues(t *testing.T) {
	cfg := testMailbox(t)
	w := New(cfg)

	path, err := w.Write(context.Background(), "inbox", "hi", message.Metadata{
		"id":        "custom",
		"timestamp": "yesterday",
		"from":      "tester",
	}, "")
	require.NoError(t, err)

	require.Equal(t, "custom.md", filepath.Base(path))
	doc := readDocument(t, path)
	require.Equal(t, "custom", doc.Metadata["id"])
	require.Equal(t, "yesterday", doc.Metadata["timestamp"])
	require.Equal(t, "tester", doc.Metadata["from"])
}

func TestExplicitFilenameAndPatternExtension(t *testing.T) {
	cfg := testMailbox(t)
	w := New(cfg, WithIDGenerator(func() (string, error) { return "gen-1", nil }))

	path, err := w.Write(context.Background(), "notes", "note", nil, "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.Root, "deep", "notes", "gen-1.txt"), path)

	path, err = w.Write(context.Background(), "inbox", "named", nil, "chosen.md")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.Root, "inbox", "chosen.md"), path)
}

func TestUnsafeIDFallsBackToGeneratedFilename(t *testing.T) {
	cfg := testMailbox(t)
	w := New(cfg, WithIDGenerator(func() (string, error) { return "gen-2", nil }))

	path, err := w.Write(context.Background(), "inbox", "x", message.Metadata{"id": "../escape"}, "")
	require.NoError(t, err)
	require.Equal(t, "gen-2.md", filepath.Base(path))
	require.Equal(t, "../escape", readDocument(t, path).Metadata["id"])
}

func TestWriteRejectsBadInput(t *testing.T) {
	cfg := testMailbox(t)
	w := New(cfg)

	_, err := w.Write(context.Background(), "nowhere", "x", nil, "")
	require.True(t, errors.Is(err, mailbox.ErrUnknownEndpoint), "error = %v", err)

	for _, name := range []string{"../up.md", "sub/dir.md", ".hidden.md"} {
		_, err := w.Write(context.Background(), "inbox", "x", nil, name)
		require.Equal(t, mailbox.ErrorInvalidPath, mailbox.CategoryFromError(err), "filename %q", name)
	}

	for _, key := range []string{"a:b", "q: 1\nid", "---"} {
		_, err := w.Write(context.Background(), "inbox", "x", message.Metadata{key: "spoofed"}, "")
		require.ErrorIs(t, err, message.ErrInvalidKey, "key %q", key)
	}
	entries, err := os.ReadDir(filepath.Join(cfg.Root, "inbox"))
	if err == nil {
		require.Empty(t, entries, "rejected metadata must not leave files behind")
	}

	_, err = New(cfg, WithIDGenerator(func() (string, error) { return "", errors.New("entropy") })).
		Write(context.Background(), "inbox", "x", nil, "")
	require.ErrorContains(t, err, "entropy")
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	cfg := testMailbox(t)
	w := New(cfg)

	_, err := w.Write(context.Background(), "inbox", "x", nil, "")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(cfg.Root, "inbox"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestConcurrentWritesProduceDistinctFiles(t *testing.T) {
	cfg := testMailbox(t)
	w := New(cfg)

	const writers = 16
	paths := make([]string, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path, err := w.Write(context.Background(), "notes", fmt.Sprintf("body %d", i), nil, "")
			if err != nil {
				t.Errorf("write %d: %v", i, err)
				return
			}
			paths[i] = path
		}()
	}
	wg.Wait()

	seen := make(map[string]struct{}, writers)
	for _, path := range paths {
		seen[path] = struct{}{}
	}
	require.Len(t, seen, writers)
}

func TestWrittenMessageRoundTripsThroughWatcher(t *testing.T) {
	cfg := testMailbox(t)
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	fw := watcher.New(cfg, mb, watcher.Options{ForcePolling: true, Debounce: 30 * time.Millisecond})
	require.NoError(t, fw.Start(context.Background()))
	t.Cleanup(func() { _ = fw.Stop() })

	extra := message.Metadata{
		"from":     "writer-test",
		"priority": float64(3),
		"labels":   []any{"x", "y"},
		"urgent":   true,
	}
	path, err := New(cfg).Write(context.Background(), "inbox", "round trip body\n\n", extra, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	event, ok := mb.ConsumeFolderEvent(ctx)
	require.True(t, ok, "timed out waiting for watcher event")

	require.Equal(t, bus.FolderCreated, event.Kind)
	require.Equal(t, path, event.Message.SourcePath)
	require.Equal(t, "round trip body", event.Message.Body)
	for key, value := range extra {
		require.Equal(t, value, event.Message.Metadata[key], "metadata %q", key)
	}
}
