// Package integrity observes focus and visibility transitions during an
// attempt, counts the ones that matter for academic integrity, and reports
// every transition on the real-time channel so proctors see signals live
// rather than at submission time.
package integrity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Signal is one raw focus/visibility transition from the host environment.
// Window focus and document visibility are tracked independently: a window
// can lose OS focus while still visible, and vice versa.
type Signal string

const (
	SignalBlur    Signal = "blur"
	SignalFocus   Signal = "focus"
	SignalHidden  Signal = "hidden"
	SignalVisible Signal = "visible"
)

// EventType is the typed telemetry event published per transition.
type EventType string

const (
	EventStart   EventType = "start"
	EventBlur    EventType = "blur"
	EventFocus   EventType = "focus"
	EventHidden  EventType = "visibility-hidden"
	EventVisible EventType = "visibility-visible"
	EventEnd     EventType = "end"
)

// Channel is the telemetry event name monitoring events are published under.
const Channel = "tab-event"

// Event is the wire payload published for every observed transition.
type Event struct {
	ID     string    `json:"id"`
	Type   EventType `json:"type"`
	ExamID string    `json:"exam_id"`
	At     int64     `json:"at"` // unix milliseconds
}

// Publisher is the fire-and-forget publish capability the monitor emits on.
// No acknowledgment is expected.
type Publisher interface {
	Emit(ctx context.Context, event string, payload interface{}) error
}

// Monitor consumes signal streams and publishes typed monitoring events.
type Monitor struct {
	pub Publisher
	log zerolog.Logger
	now func() time.Time
}

// New creates a Monitor publishing on pub.
func New(pub Publisher, log zerolog.Logger) *Monitor {
	return &Monitor{
		pub: pub,
		log: log.With().Str("component", "integrity").Logger(),
		now: time.Now,
	}
}

// Subscription is one attached monitoring session.
type Subscription struct {
	m      *Monitor
	examID string
	count  atomic.Int64
	stop   chan struct{}
	once   sync.Once
}

// Attach starts consuming signals for examID. A start event is emitted
// immediately, establishing the monitoring session server-side. Each blur
// and visibility-hidden transition increments the violation counter and
// invokes onViolation with the new total; focus and visibility-visible are
// informational. Blur and hidden are deliberately not deduplicated against
// each other; one alt-tab gesture may count twice, over-counting being the
// accepted direction of imprecision.
func (m *Monitor) Attach(ctx context.Context, examID string, signals <-chan Signal, onViolation func(total int64)) *Subscription {
	sub := &Subscription{
		m:      m,
		examID: examID,
		stop:   make(chan struct{}),
	}

	m.emit(ctx, examID, EventStart)

	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Detach()
				return
			case <-sub.stop:
				return
			case sig, ok := <-signals:
				if !ok {
					sub.Detach()
					return
				}
				sub.observe(ctx, sig, onViolation)
			}
		}
	}()

	return sub
}

func (s *Subscription) observe(ctx context.Context, sig Signal, onViolation func(total int64)) {
	switch sig {
	case SignalBlur:
		s.m.emit(ctx, s.examID, EventBlur)
		s.violate(onViolation)
	case SignalFocus:
		s.m.emit(ctx, s.examID, EventFocus)
	case SignalHidden:
		s.m.emit(ctx, s.examID, EventHidden)
		s.violate(onViolation)
	case SignalVisible:
		s.m.emit(ctx, s.examID, EventVisible)
	default:
		s.m.log.Warn().Str("signal", string(sig)).Msg("Unknown signal")
	}
}

func (s *Subscription) violate(onViolation func(total int64)) {
	total := s.count.Add(1)
	if onViolation != nil {
		onViolation(total)
	}
}

// Count returns the monotonic local violation counter. Forced-submission
// decisions depend only on this counter, never on channel delivery.
func (s *Subscription) Count() int64 {
	return s.count.Load()
}

// Detach emits the end event and stops the consumer. Idempotent.
func (s *Subscription) Detach() {
	s.once.Do(func() {
		s.m.emit(context.Background(), s.examID, EventEnd)
		close(s.stop)
	})
}

// emit publishes one event, swallowing channel failures: violations are
// still counted locally when the channel is unreachable.
func (m *Monitor) emit(ctx context.Context, examID string, t EventType) {
	if m.pub == nil {
		return
	}
	ev := Event{
		ID:     uuid.New().String(),
		Type:   t,
		ExamID: examID,
		At:     m.now().UnixMilli(),
	}
	if err := m.pub.Emit(ctx, Channel, ev); err != nil {
		m.log.Warn().Err(err).Str("type", string(t)).Msg("Telemetry emit failed")
	}
}
