// internal/notify/notify.go
//
// Domain-event dispatcher (NotificationSink).
//
// Context
// -------
// After a points award or a sticker issuance the ledger core emits a small
// domain event that a downstream notification subsystem may turn into an
// email or a push message.  Delivery transport is out of scope here; from
// the core's perspective emission is fire-and-forget.  The dispatcher
// therefore never blocks the calling transaction path: events go into a
// buffered channel, a single goroutine hands them to the consumer, and
// when the buffer is full the event is dropped and counted rather than
// applying backpressure to the ledger.
//
// Notes
// -----
//   - The default consumer logs the event through zap, mirroring the old
//     queue stub this package replaces.
//   - Close is idempotent-unsafe by design: call it exactly once during
//     shutdown, after the engines have stopped emitting.
//   - Oxford commas, two spaces after periods.
package notify

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perkloop/loyalty/internal/loyalty"
	"github.com/perkloop/loyalty/internal/metrics"
)

// Event is one loyalty domain event.
type Event struct {
	ID       string
	TenantID uint64
	MemberID uint64
	Kind     loyalty.Kind
	Payload  map[string]any
	At       time.Time
}

// Sink accepts domain events.  Engines depend on this interface so tests
// can capture emissions without a dispatcher.
type Sink interface {
	Emit(ev Event)
}

// Consumer receives events off the dispatch goroutine.
type Consumer func(ev Event)

// Dispatcher is the production Sink: buffered, asynchronous, lossy under
// sustained overload.
type Dispatcher struct {
	ch   chan Event
	done chan struct{}
}

// NewDispatcher starts the dispatch goroutine.  A nil consumer logs each
// event through the global zap logger.
func NewDispatcher(buffer int, consumer Consumer) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if consumer == nil {
		consumer = logConsumer
	}
	d := &Dispatcher{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		for ev := range d.ch {
			consumer(ev)
		}
	}()
	return d
}

// Emit enqueues the event, stamping id and time when unset.  Never blocks;
// a full buffer drops the event and bumps the drop counter.
func (d *Dispatcher) Emit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case d.ch <- ev:
	default:
		metrics.NotifyDroppedTotal.Inc()
		zap.S().Warnw("notify buffer full, event dropped",
			"tenant", ev.TenantID, "member", ev.MemberID, "kind", ev.Kind)
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (d *Dispatcher) Close() {
	close(d.ch)
	<-d.done
}

func logConsumer(ev Event) {
	zap.S().Infow("domain event",
		"event", ev.ID,
		"tenant", ev.TenantID,
		"member", ev.MemberID,
		"kind", ev.Kind,
		"payload", ev.Payload,
	)
}
