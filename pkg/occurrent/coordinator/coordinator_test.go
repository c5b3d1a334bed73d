// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/coordinator"
	"github.com/occurrent-go/occurrent/pkg/occurrent/memstore"
)

func TestCompetingConsumersOnlyOneRuns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	store := memstore.New()
	leases := coordinator.NewMemoryLeaseStore()

	a := coordinator.New(store, leases, "subscriber-a", 500*time.Millisecond, 100*time.Millisecond, nil)
	b := coordinator.New(store, leases, "subscriber-b", 500*time.Millisecond, 100*time.Millisecond, nil)

	noop := func(context.Context, occurrent.CloudEvent) error { return nil }

	subA, err := a.Subscribe(ctx, "shared-subscription", occurrent.SubscribeOptions{}, noop)
	if err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	defer subA.Cancel(context.Background())

	time.Sleep(50 * time.Millisecond)

	subB, err := b.Subscribe(ctx, "shared-subscription", occurrent.SubscribeOptions{}, noop)
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
