// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package subscription_test

import (
	"context"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/coordinator"
	"github.com/occurrent-go/occurrent/pkg/occurrent/memstore"
	"github.com/occurrent-go/occurrent/pkg/occurrent/subscription"
)

func newEvent(id string) occurrent.CloudEvent {
	e := cloudevents.NewEvent()
	e.SetID(id)
	e.SetSource("tests")
	e.SetType("thing.happened")
	e.SetTime(time.Now())
	return e
}

func TestNewWithNoOptionalLayersJustCatchesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	store := memstore.New()
	if _, err := store.Write(ctx, "s", occurrent.AnyVersion(), newEvent("e1")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	s := subscription.New(store, store, subscription.Options{BatchSize: 10})

	received := make(chan string, 4)
	sub, err := s.Subscribe(ctx, "sub-1", occurrent.SubscribeOptions{StartAt: occurrent.StartAtBeginningOfTime()},
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
			t.Fatalf("delivered id = %q, want e1", id)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for catch-up delivery")
	}
}

func TestNewWithCoordinatorLayerEnforcesSingleRunner(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	store := memstore.New()
	leases := coordinator.NewMemoryLeaseStore()

	optsFor := func(subscriberID string) subscription.Options {
		return subscription.Options{
			BatchSize:     10,
			Leases:        leases,
			SubscriberID:  subscriberID,
			LeaseDuration: 500 * time.Millisecond,
			RefreshEvery:  100 * time.Millisecond,
		}
	}

	a := subscription.New(store, store, optsFor("subscriber-a"))
	b := subscription.New(store, store, optsFor("subscriber-b"))

	noop := func(context.Context, occurrent.CloudEvent) error { return nil }

	subA, err := a.Subscribe(ctx, "shared", occurrent.SubscribeOptions{}, noop)
	if err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	defer subA.Cancel(context.Background())

	time.Sleep(50 * time.Millisecond)

	subB, err := b.Subscribe(ctx, "shared", occurrent.SubscribeOptions{}, noop)
	if err != nil {
		t.Fatalf("Subscribe b: %v", err)
	}
	defer subB.Cancel(context.Background())

	time.Sleep(200 * time.Millisecond)

	if subA.State() != occurrent.StateRunning {
		t.Fatalf("subscriber a state = %v, want Running", subA.State())
	}
	if subB.State() == occurrent.StateRunning {
		t.Fatal("subscriber b should not be running while a holds the lease")
	}
}
