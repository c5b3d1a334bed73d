// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package memstore_test

import (
	"context"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/memstore"
)

func newEvent(id, typ string) occurrent.CloudEvent {
	e := cloudevents.NewEvent()
	e.SetID(id)
	e.SetSource("tests")
	e.SetType(typ)
	e.SetTime(time.Now())
	return e
}

func TestWriteAndReadStream(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	result, err := store.Write(ctx, "stream-1", occurrent.AnyVersion(),
		newEvent("e1", "thing.created"), newEvent("e2", "thing.updated"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if result.StreamVersion != 2 {
		t.Fatalf("StreamVersion = %d, want 2", result.StreamVersion)
	}

	events, err := store.Read(ctx, "stream-1", occurrent.QueryOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if v, _ := occurrent.StreamVersionOf(events[0]); v != 1 {
		t.Fatalf("first event version = %d, want 1", v)
	}
}

func TestWriteRejectsUnfulfilledCondition(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	if _, err := store.Write(ctx, "s", occurrent.AnyVersion(), newEvent("e1", "t")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err := store.Write(ctx, "s", occurrent.StreamVersionCondition(occurrent.Eq(0)), newEvent("e2", "t"))
	if err == nil {
		t.Fatal("expected write condition failure")
	}
}

func TestWriteRejectsDuplicateEvent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	if _, err := store.Write(ctx, "s", occurrent.AnyVersion(), newEvent("dup", "t")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, err := store.Write(ctx, "s2", occurrent.AnyVersion(), newEvent("dup", "t"))
	if err == nil {
		t.Fatal("expected duplicate event rejection")
	}
}

func TestDeleteEventStream(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	if _, err := store.Write(ctx, "s", occurrent.AnyVersion(), newEvent("e1", "t")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.DeleteEventStream(ctx, "s"); err != nil {
		t.Fatalf("DeleteEventStream: %v", err)
	}
	exists, err := store.Exists(ctx, "s")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("stream should not exist after DeleteEventStream")
	}
}

func TestSubscribeCatchesUpThenDeliversLive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store := memstore.New()

	if _, err := store.Write(ctx, "s", occurrent.AnyVersion(), newEvent("e1", "t")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	received := make(chan string, 8)
	sub, err := store.Subscribe(ctx, "sub-1", occurrent.SubscribeOptions{StartAt: occurrent.StartAtBeginningOfTime()},
		func(_ context.Context, e occurrent.CloudEvent) error {
			received <- e.ID()
			return nil
		})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel(context.Background())

	select {
	case id := <-received:
		if id != "e1" {
			t.Fatalf("first delivered id = %q, want e1", id)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for catch-up delivery")
	}

	if _, err := store.Write(ctx, "s", occurrent.AnyVersion(), newEvent("e2", "t")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case id := <-received:
		if id != "e2" {
			t.Fatalf("live delivered id = %q, want e2", id)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for live delivery")
	}
}
