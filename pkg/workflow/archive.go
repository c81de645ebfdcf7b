package workflow

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mailroom/pkg/config"
	"mailroom/pkg/mailbox"
	"mailroom/pkg/router"
)

const defaultArchiveDir = "archive"

// Archive moves handled messages into a subdirectory of their endpoint.
type Archive struct {
	dir string
	mb  mailbox.Config
	log *slog.Logger
}

func NewArchive(cfg config.WorkflowConfig, mb mailbox.Config, log *slog.Logger) *Archive {
	dir := filepath.Clean(strings.TrimSpace(cfg.ArchiveDir))
	if dir == "." || dir == "" {
		dir = defaultArchiveDir
	}
	if log == nil {
		log = slog.Default()
	}

	return &Archive{
		dir: dir,
		mb:  mb,
		log: log.With("component", "workflow.archive", "workflow", cfg.ID),
	}
}

// Start returns an empty summary; the router records its fallback text.
func (a *Archive) Start(ctx context.Context, input router.WorkflowInput) (router.WorkflowResult, error) {
	msg, err := load(a.mb, input)
	if err != nil {
		return router.WorkflowResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return router.WorkflowResult{}, err
	}

	destDir := filepath.Join(filepath.Dir(msg.path), a.dir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return router.WorkflowResult{}, mailbox.NormalizeIOError(err, "create archive directory")
	}

	dest := filepath.Join(destDir, input.Filename)
	if err := os.Rename(msg.path, dest); err != nil {
		return router.WorkflowResult{}, mailbox.NormalizeIOError(err, "archive message")
	}

	a.log.Info("Message archived", "id", msg.id, "file", dest)
	return router.WorkflowResult{}, nil
}
