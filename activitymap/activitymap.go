// Package activitymap flattens account activity events into a transport
// neutral record and publishes them to an AMQP exchange.
package activitymap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	account "github.com/goliatone/go-account"
	"github.com/streadway/amqp"
)

const (
	MetadataKeyActorType = "actor_type"
	MetadataKeyFromState = "from_state"
	MetadataKeyToState   = "to_state"
)

// Record is the flattened shape consumed by audit pipelines.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Mapper converts events into records.
type Mapper struct {
	channel    string
	objectType string
	fallback   string
	now        func() time.Time
}

// Option customizes a Mapper.
type Option func(*Mapper)

// WithChannel sets the channel stamped on every record.
func WithChannel(channel string) Option {
	return func(m *Mapper) {
		m.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType sets the object type stamped on every record.
func WithObjectType(objectType string) Option {
	return func(m *Mapper) {
		m.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback is used when the event has neither actor nor user id,
// as for failed logins.
func WithActorFallback(actorID string) Option {
	return func(m *Mapper) {
		m.fallback = strings.TrimSpace(actorID)
	}
}

// WithClock sets the clock used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMapper(opts ...Option) *Mapper {
	m := &Mapper{
		channel:    "account",
		objectType: "user",
		fallback:   "anonymous",
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Map converts event. The event metadata is copied, never mutated.
func (m *Mapper) Map(event account.ActivityEvent) Record {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = m.now()
	}

	return Record{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.Actor.ID), strings.TrimSpace(event.UserID), m.fallback),
		Verb:       string(event.EventType),
		ObjectType: m.objectType,
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    m.channel,
		Metadata:   metadataOf(event),
		OccurredAt: occurredAt.UTC(),
	}
}

// Sink publishes mapped events as JSON. The routing key is the verb.
type Sink struct {
	publisher account.AMQPPublisher
	exchange  string
	mapper    *Mapper
}

var _ account.ActivitySink = (*Sink)(nil)

func NewSink(publisher account.AMQPPublisher, exchange string, opts ...Option) *Sink {
	return &Sink{
		publisher: publisher,
		exchange:  exchange,
		mapper:    NewMapper(opts...),
	}
}

func (s *Sink) Record(ctx context.Context, event account.ActivityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record := s.mapper.Map(event)
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("activitymap: encode %s: %w", record.Verb, err)
	}

	if err := s.publisher.Publish(s.exchange, record.Verb, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Timestamp:    record.OccurredAt,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}); err != nil {
		return fmt.Errorf("activitymap: publish %s: %w", record.Verb, err)
	}
	return nil
}

func metadataOf(event account.ActivityEvent) map[string]any {
	out := make(map[string]any, len(event.Metadata)+3)
	for k, v := range event.Metadata {
		out[k] = v
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if _, ok := out[MetadataKeyActorType]; !ok {
			out[MetadataKeyActorType] = actorType
		}
	}
	if event.FromState != "" {
		out[MetadataKeyFromState] = string(event.FromState)
	}
	if event.ToState != "" {
		out[MetadataKeyToState] = string(event.ToState)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
