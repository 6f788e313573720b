package activitymap_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	account "github.com/goliatone/go-account"
	"github.com/goliatone/go-account/activitymap"
	"github.com/streadway/amqp"
)

func TestMapDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := account.ActivityEvent{
		EventType:  account.ActivityEventActivated,
		Actor:      account.ActorRef{Type: "system"},
		UserID:     "user-100",
		FromState:  account.StatePendingActivation,
		ToState:    account.StateActive,
		Metadata:   map[string]any{"source": "email"},
		OccurredAt: ts,
	}

	out := activitymap.NewMapper().Map(event)

	if out.ActorID != "user-100" {
		t.Fatalf("expected actor_id user-100, got %q", out.ActorID)
	}
	if out.Verb != string(account.ActivityEventActivated) {
		t.Fatalf("expected verb %q, got %q", account.ActivityEventActivated, out.Verb)
	}
	if out.ObjectType != "user" || out.ObjectID != "user-100" || out.Channel != "account" {
		t.Fatalf("unexpected defaults %+v", out)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}
	if out.Metadata[activitymap.MetadataKeyFromState] != "pending_activation" ||
		out.Metadata[activitymap.MetadataKeyToState] != "active" ||
		out.Metadata[activitymap.MetadataKeyActorType] != "system" ||
		out.Metadata["source"] != "email" {
		t.Fatalf("unexpected metadata %#v", out.Metadata)
	}
	if len(event.Metadata) != 1 {
		t.Fatalf("source metadata must not change, got %+v", event.Metadata)
	}
}

func TestMapOptions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mapper := activitymap.NewMapper(
		activitymap.WithChannel("audit"),
		activitymap.WithObjectType("account"),
		activitymap.WithActorFallback("guest"),
		activitymap.WithClock(func() time.Time { return now }),
	)

	out := mapper.Map(account.ActivityEvent{
		EventType: account.ActivityEventLoginFailure,
		Actor:     account.ActorRef{Type: "system"},
		Metadata:  map[string]any{activitymap.MetadataKeyActorType: "kept"},
	})

	if out.ActorID != "guest" {
		t.Fatalf("expected fallback actor, got %q", out.ActorID)
	}
	if out.Channel != "audit" || out.ObjectType != "account" || out.ObjectID != "" {
		t.Fatalf("unexpected record %+v", out)
	}
	if !out.OccurredAt.Equal(now) {
		t.Fatalf("expected clock time, got %v", out.OccurredAt)
	}
	if out.Metadata[activitymap.MetadataKeyActorType] != "kept" {
		t.Fatalf("existing actor_type must win, got %#v", out.Metadata)
	}
}

type publishFunc func(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error

func (f publishFunc) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return f(exchange, key, mandatory, immediate, msg)
}

func TestSinkPublishesRecords(t *testing.T) {
	t.Parallel()

	var gotKey string
	var got activitymap.Record
	sink := activitymap.NewSink(publishFunc(func(exchange, key string, _, _ bool, msg amqp.Publishing) error {
		if exchange != "account.activity" {
			t.Fatalf("unexpected exchange %q", exchange)
		}
		gotKey = key
		return json.Unmarshal(msg.Body, &got)
	}), "account.activity")

	err := sink.Record(context.Background(), account.ActivityEvent{
		EventType: account.ActivityEventRegistered,
		UserID:    "user-1",
	})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if gotKey != string(account.ActivityEventRegistered) || got.ObjectID != "user-1" {
		t.Fatalf("unexpected publish key=%q record=%+v", gotKey, got)
	}

	failing := activitymap.NewSink(publishFunc(func(string, string, bool, bool, amqp.Publishing) error {
		return errors.New("channel closed")
	}), "account.activity")
	if err := failing.Record(context.Background(), account.ActivityEvent{EventType: account.ActivityEventRegistered}); err == nil {
		t.Fatalf("expected publish error")
	}
}
