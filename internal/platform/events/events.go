// Package events fans domain events out to realtime listeners. Delivery is
// best effort and at most once: nothing is persisted or replayed, and a
// failed publish never fails the mutation that caused it.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medevac/medevac/internal/platform/access"
)

// AdminRoom receives tenant lifecycle events for administrators.
const AdminRoom = "admin"

// Scope selects the listeners of an event. An empty Room means every
// connected listener.
type Scope struct {
	Room string
}

func TenantScope(kind access.TenantKind, id uuid.UUID) Scope {
	return Scope{Room: access.Room(kind, id)}
}

func AdminScope() Scope { return Scope{Room: AdminRoom} }

func Everyone() Scope { return Scope{} }

// Event is the wire shape pushed to listeners.
type Event struct {
	Name      string          `json:"event"`
	Room      string          `json:"room,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher is what domain services depend on.
type Publisher interface {
	Publish(ctx context.Context, scope Scope, name string, payload interface{})
}

// Sink delivers an event to locally connected listeners.
type Sink interface {
	Deliver(ev Event)
}

// Relay forwards events to every instance of the service, including this
// one.
type Relay interface {
	Send(ctx context.Context, ev Event) error
}

const (
	outboxSize       = 1024
	relaySendTimeout = 2 * time.Second
)

// Bus is the Publisher used in production. Without a relay events go
// straight to the local sink. With one, Publish only queues the event and Run
// forwards it, so a slow relay never holds up the request that published.
type Bus struct {
	sink        Sink
	relay       Relay
	outbox      chan Event
	sendTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func NewBus(sink Sink, relay Relay, logger zerolog.Logger) *Bus {
	b := &Bus{sink: sink, relay: relay, sendTimeout: relaySendTimeout, logger: logger, now: time.Now}
	if relay != nil {
		b.outbox = make(chan Event, outboxSize)
	}
	return b
}

func (b *Bus) Publish(ctx context.Context, scope Scope, name string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		published.WithLabelValues("marshal_error").Inc()
		b.logger.Error().Err(err).Str("event", name).Msg("encode event payload")
		return
	}

	ev := Event{Name: name, Room: scope.Room, Data: data, Timestamp: b.now().UTC()}

	if b.outbox != nil {
		select {
		case b.outbox <- ev:
		default:
			published.WithLabelValues("dropped").Inc()
			b.logger.Warn().Str("event", name).Str("room", scope.Room).Msg("relay outbox full, dropping event")
		}
		return
	}

	if b.sink != nil {
		b.sink.Deliver(ev)
	}
	published.WithLabelValues("delivered").Inc()
}

// Run forwards queued events to the relay until ctx is cancelled, then
// flushes whatever is already queued. It returns at once without a relay.
func (b *Bus) Run(ctx context.Context) {
	if b.outbox == nil {
		return
	}
	for {
		select {
		case ev := <-b.outbox:
			b.forward(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-b.outbox:
					b.forward(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) forward(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
	defer cancel()
	if err := b.relay.Send(ctx, ev); err != nil {
		published.WithLabelValues("relay_error").Inc()
		b.logger.Warn().Err(err).Str("event", ev.Name).Str("room", ev.Room).Msg("relay event")
		return
	}
	published.WithLabelValues("relayed").Inc()
}

// Multi publishes the same event to several scopes, skipping duplicates.
func Multi(ctx context.Context, p Publisher, name string, payload interface{}, scopes ...Scope) {
	seen := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if _, dup := seen[s.Room]; dup {
			continue
		}
		seen[s.Room] = struct{}{}
		p.Publish(ctx, s, name, payload)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Scope, string, interface{}) {}

// Recorder keeps published events in memory. Used by tests.
type Recorder struct {
	Events []Recorded
}

type Recorded struct {
	Scope   Scope
	Name    string
	Payload interface{}
}

func (r *Recorder) Publish(_ context.Context, scope Scope, name string, payload interface{}) {
	r.Events = append(r.Events, Recorded{Scope: scope, Name: name, Payload: payload})
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Recorded {
	var out []Recorded
	for _, e := range r.Events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
