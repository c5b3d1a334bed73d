// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package durable_test

import (
	"context"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/durable"
	"github.com/occurrent-go/occurrent/pkg/occurrent/memstore"
)

type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]occurrent.SubscriptionPosition
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]occurrent.SubscriptionPosition)}
}

func (m *memPositionStore) SavePosition(_ context.Context, subscriptionID string, position occurrent.SubscriptionPosition, _ occurrent.FencingToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[subscriptionID] = position
	return nil
}

func (m *memPositionStore) LoadPosition(_ context.Context, subscriptionID string) (occurrent.SubscriptionPosition, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[subscriptionID]
	return pos, ok, nil
}

func (m *memPositionStore) DeletePosition(_ context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, subscriptionID)
	return nil
}

func newEvent(id string) occurrent.CloudEvent {
	e := cloudevents.NewEvent()
	e.SetID(id)
	e.SetSource("tests")
	e.SetType("thing.happened")
	e.SetTime(time.Now())
	return e
}

func TestDurableSubscriptionPersistsPositionPeriodically(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := memstore.New()
	if _, err := store.Write(ctx, "s", occurrent.AnyVersion(), newEvent("e1")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	positions := newMemPositionStore()
	d := durable.New(store, positions, 1)

	received := make(chan struct{}, 4)
	sub, err := d.Subscribe(ctx, "sub-1", occurrent.SubscribeOptions{StartAt: occurrent.StartAtBeginningOfTime()},
		func(context.Context, occurrent.CloudEvent) error {
			received <- struct{}{}
			return nil
		})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel(context.Background())

	select {
	case <-received:
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, err := positions.LoadPosition(ctx, "sub-1"); err != nil {
			t.Fatalf("LoadPosition: %v", err)
		} else if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the periodic position save")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDurableSubscriptionDeletesPositionOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := memstore.New()
	if _, err := store.Write(ctx, "s", occurrent.AnyVersion(), newEvent("e1")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	positions := newMemPositionStore()
	if err := positions.SavePosition(ctx, "sub-1", occurrent.PositionFromBytes([]byte{0, 0, 0, 0, 0, 0, 0, 1}), 0); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	d := durable.New(store, positions, 1)

	sub, err := d.Subscribe(ctx, "sub-1", occurrent.SubscribeOptions{StartAt: occurrent.StartAtBeginningOfTime()},
		func(context.Context, occurrent.CloudEvent) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := sub.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if _, ok, err := positions.LoadPosition(ctx, "sub-1"); err != nil {
		t.Fatalf("LoadPosition: %v", err)
	} else if ok {
		t.Fatal("expected cancel to delete the persisted position so a re-subscribe starts fresh")
	}
}

func TestDurableSubscriptionSubscribesWithSavedPosition(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	store := memstore.New()
	positions := newMemPositionStore()
	if err := positions.SavePosition(ctx, "sub-1", occurrent.PositionFromBytes([]byte{0, 0, 0, 0, 0, 0, 0, 1}), 0); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	d := durable.New(store, positions, 1)

	sub, err := d.Subscribe(ctx, "sub-1", occurrent.SubscribeOptions{StartAt: occurrent.StartAtBeginningOfTime()},
		func(context.Context, occurrent.CloudEvent) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel(context.Background())
}
