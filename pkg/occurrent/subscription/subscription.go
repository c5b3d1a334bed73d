// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package subscription composes catchup, durable, and coordinator into
// the single occurrent.Subscribable an application typically wants,
// mirroring the teacher's internal/events.NewEventer constructor that
// wires router, driver, and metrics into one eventer (spec §4.E-H).
package subscription

import (
	"time"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/catchup"
	"github.com/occurrent-go/occurrent/pkg/occurrent/coordinator"
	"github.com/occurrent-go/occurrent/pkg/occurrent/durable"
)

// Options configures how much of the stack New wires in.
type Options struct {
	// BatchSize is the catch-up historical query page size.
	BatchSize int64
	// Positions persists subscription positions, enabling resume across
	// restarts. Nil disables the durable layer.
	Positions durable.PositionStore
	// PersistEvery persists the position every Nth delivered event.
	PersistEvery int
	// Leases enables competing-consumer coordination when non-nil.
	Leases occurrent.LeaseStore
	// SubscriberID identifies this process to the coordinator. Required
	// when Leases is set.
	SubscriberID string
	// LeaseDuration and RefreshEvery configure the coordinator's lease
	// lifecycle. Required when Leases is set.
	LeaseDuration time.Duration
	RefreshEvery  time.Duration
	// Listener receives competing-consumer grant/prohibit notifications.
	Listener coordinator.Listener
}

// New builds a Subscribable layering catch-up over store's history and
// live feed, optionally wrapped with position durability and
// competing-consumer coordination.
func New(store occurrent.Store, live occurrent.Subscribable, opts Options) occurrent.Subscribable {
	var s occurrent.Subscribable = catchup.New(store, live, opts.BatchSize)

	if opts.Positions != nil {
		s = durable.New(s, opts.Positions, opts.PersistEvery)
	}

	if opts.Leases != nil {
		s = coordinator.New(s, opts.Leases, opts.SubscriberID, opts.LeaseDuration, opts.RefreshEvery, opts.Listener)
	}

	return s
}
