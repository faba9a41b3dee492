// Package eventbus routes domain events to subscribers over a bounded
// worker pool. Publishing never blocks a request-handling goroutine: when
// the queue is full events are dropped with a warning.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType identifies an event kind for subscription routing
type EventType string

const (
	EventTypeSceneTransition EventType = "scene_transition"
	EventTypeBatchCompleted  EventType = "batch_completed"
	EventTypeSnapshotRefresh EventType = "snapshot_refresh"
	EventTypeGrantChanged    EventType = "grant_changed"
)

const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event is a typed domain event
type Event interface {
	Type() EventType
}

// SceneTransition is published when the activation tracker moves a scene
// between statuses
type SceneTransition struct {
	SceneUUID string
	From      string
	To        string
}

func (SceneTransition) Type() EventType { return EventTypeSceneTransition }

// BatchCompleted is published after a command batch finishes
type BatchCompleted struct {
	BatchID   string
	Username  string
	Succeeded int
	Total     int
	Success   bool
}

func (BatchCompleted) Type() EventType { return EventTypeBatchCompleted }

// SnapshotRefreshed is published after each directory poll
type SnapshotRefreshed struct {
	Devices int
	Groups  int
	Scenes  int
}

func (SnapshotRefreshed) Type() EventType { return EventTypeSnapshotRefresh }

// GrantChanged is published when a permission grant is saved or revoked
type GrantChanged struct {
	UserID  int64
	Kind    string
	Value   string
	Revoked bool
}

func (GrantChanged) Type() EventType { return EventTypeGrantChanged }

// Handler is a function that handles events
type Handler func(Event)

type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	workQueue chan work
	wg        sync.WaitGroup

	// Closing this channel signals publishers to stop; a channel in
	// select is race-free where a mutex + bool is not
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type())).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers. Non-blocking: if the
// work queue is full or the bus is closing, the event is dropped.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Type()]
	b.mu.RUnlock()

	for _, handler := range handlers {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type())).Msg("Event bus closing, dropping event")
			return
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type())).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close shuts down the worker pool gracefully: publishers are signalled
// first, then the queue is drained until ctx expires.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)
	})

	// No new sends after closing is signalled, safe to close the queue
	close(b.workQueue)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
