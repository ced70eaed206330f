package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"genflow/internal/generation"
	"genflow/internal/logging"
	"genflow/internal/services"
)

const listenerTimeout = 30 * time.Second

// EventType classifies lifecycle events.
type EventType string

const (
	EventSubmitted  EventType = "submitted"
	EventStarted    EventType = "started"
	EventTransition EventType = "transition"
	EventDequeued   EventType = "dequeued"
	EventTerminal   EventType = "terminal"
)

// Event describes one lifecycle change of a job.
type Event struct {
	Type      EventType
	JobID     string
	Kind      generation.Kind
	Provider  string
	From      generation.Status
	To        generation.Status
	Time      time.Time
	Message   string
	ErrorKind services.ErrorKind
}

// RecordListener observes every new history record, in terminal order.
// Errors are logged and never affect the engine.
type RecordListener interface {
	OnRecord(ctx context.Context, rec generation.Record) error
}

// RecordListenerFunc adapts a function to RecordListener.
type RecordListenerFunc func(ctx context.Context, rec generation.Record) error

func (f RecordListenerFunc) OnRecord(ctx context.Context, rec generation.Record) error {
	return f(ctx, rec)
}

// EventPublisher receives lifecycle events, in the order they happened.
type EventPublisher interface {
	PublishEvent(ev Event)
}

type delivery struct {
	record *generation.Record
	event  *Event
}

// outbox hands records and events to listeners from a single goroutine so
// observers see them in the order the engine produced them.
type outbox struct {
	logger     *slog.Logger
	listeners  []RecordListener
	publishers []EventPublisher

	mu     sync.Mutex
	items  []delivery
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newOutbox(logger *slog.Logger, listeners []RecordListener, publishers []EventPublisher) *outbox {
	o := &outbox{
		logger:     logger,
		listeners:  listeners,
		publishers: publishers,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) pushRecord(rec generation.Record) {
	o.push(delivery{record: &rec})
}

func (o *outbox) pushEvent(ev Event) {
	if len(o.publishers) == 0 {
		return
	}
	o.push(delivery{event: &ev})
}

func (o *outbox) push(d delivery) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.items = append(o.items, d)
	o.mu.Unlock()
	o.notify()
}

func (o *outbox) notify() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// close stops accepting new items; queued items are still delivered.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.notify()
}

func (o *outbox) wait(ctx context.Context) error {
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		items := o.items
		o.items = nil
		closed := o.closed
		o.mu.Unlock()

		if len(items) == 0 {
			if closed {
				return
			}
			<-o.signal
			continue
		}
		for _, item := range items {
			o.deliver(item)
		}
	}
}

func (o *outbox) deliver(item delivery) {
	if item.event != nil {
		for _, pub := range o.publishers {
			pub.PublishEvent(*item.event)
		}
		return
	}
	if item.record == nil {
		return
	}
	for _, listener := range o.listeners {
		o.notifyListener(listener, *item.record)
	}
}

func (o *outbox) notifyListener(listener RecordListener, rec generation.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()
	ctx = services.WithJobID(ctx, rec.ID)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("listener panic: %v", r)
			}
		}()
		err = listener.OnRecord(ctx, rec)
	}()
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "record listener failed", "record_listener_failed",
			logging.Error(err),
			logging.String("listener", fmt.Sprintf("%T", listener)),
			logging.Hint("check the listener backend (history database, redis)"),
			logging.Impact("record kept in memory but not delivered to this listener"),
		)
	}
}
