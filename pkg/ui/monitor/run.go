// Package monitor renders a live terminal table of message status records.
package monitor

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"mailroom/pkg/status"
)

// FetchFunc loads status records, newest first, optionally filtered.
type FetchFunc func(ctx context.Context, filter status.Filter) ([]status.Record, error)

// Options configures a monitor session.
type Options struct {
	Refresh time.Duration
	Limit   int
	Source  string
}

// Run shows the monitor until the user quits or ctx ends.
func Run(ctx context.Context, fetch FetchFunc, opts Options) error {
	program := tea.NewProgram(newModel(ctx, fetch, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
