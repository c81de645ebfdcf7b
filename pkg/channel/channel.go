// Package channel defines outbound notification transports used by workflows.
package channel

import "context"

// Sender delivers one text notification to a chat on an external transport.
type Sender interface {
	Name() string
	Send(ctx context.Context, chatID int64, text string) error
}
