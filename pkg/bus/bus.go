package bus

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 100

// MessageBus carries folder events from the watcher to their single consumer
// and fans status transitions out to any number of observers.
type MessageBus struct {
	folder chan FolderEvent

	statusSubscribers      map[uint64]chan StatusEvent
	nextStatusSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		folder:            make(chan FolderEvent, defaultBufferSize),
		statusSubscribers: make(map[uint64]chan StatusEvent),
		done:              make(chan struct{}),
	}
}

// PublishFolderEvent queues one folder event. It blocks while the buffer is
// full and returns false once the context ends or the bus is closed.
func (mb *MessageBus) PublishFolderEvent(ctx context.Context, event FolderEvent) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	case mb.folder <- event:
		return true
	}
}

// ConsumeFolderEvent waits for the next folder event.
func (mb *MessageBus) ConsumeFolderEvent(ctx context.Context) (FolderEvent, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return FolderEvent{}, false
	case <-mb.done:
		return FolderEvent{}, false
	case event := <-mb.folder:
		return event, true
	}
}

// PublishStatus delivers a status event to every subscriber without blocking.
func (mb *MessageBus) PublishStatus(ctx context.Context, event StatusEvent) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()

	for _, ch := range mb.statusSubscribers {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the processor on slow subscribers.
		}
	}

	return true
}

// SubscribeStatus registers a buffered status event stream. The channel is
// closed on unsubscribe, context cancellation, or bus close.
func (mb *MessageBus) SubscribeStatus(ctx context.Context, buffer int) (<-chan StatusEvent, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan StatusEvent, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextStatusSubscriberID
	mb.nextStatusSubscriberID++
	mb.statusSubscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if statusCh, ok := mb.statusSubscribers[id]; ok {
				delete(mb.statusSubscribers, id)
				close(statusCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}

// Close stops all bus operations and closes status subscriptions. It is idempotent.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.statusSubscribers {
			close(ch)
			delete(mb.statusSubscribers, id)
		}
		mb.mu.Unlock()
	})
}

// Done is closed when the bus is closed.
func (mb *MessageBus) Done() <-chan struct{} {
	return mb.done
}
