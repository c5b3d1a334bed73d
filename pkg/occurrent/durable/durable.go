// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package durable wraps an occurrent.Subscribable to persist a
// subscription's occurrent.SubscriptionPosition periodically, so a
// restarted subscriber resumes from roughly where it left off rather
// than from occurrent.StartNow every time (spec §4.G). Grounded on the
// teacher's checkpoints.CheckpointEnvelopeV1 versioned-envelope pattern
// (internal/entities/checkpoints), generalized from its commit/branch
// fields to an opaque position token.
package durable

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/retryengine"
)

// PositionEnvelopeV1 is the persisted shape of a subscription's saved
// position.
type PositionEnvelopeV1 struct {
	Version        string                 `json:"version" bson:"version"`
	SubscriptionID string                 `json:"subscription_id" bson:"subscription_id"`
	Position       string                 `json:"position" bson:"position"`
	FencingToken   occurrent.FencingToken `json:"fencing_token" bson:"fencing_token"`
	SavedAt        time.Time              `json:"saved_at" bson:"saved_at"`
}

// PositionStore persists and retrieves the last saved position per
// subscription ID. SavePosition is tagged with the competing-consumer
// lease's FencingToken when the subscription is coordinator-managed (zero
// otherwise); implementations backing a coordinated subscription must
// reject a write whose token is lower than the one they already hold
// (spec §4.H), returning occurrent.ErrStaleFencingToken.
type PositionStore interface {
	SavePosition(ctx context.Context, subscriptionID string, position occurrent.SubscriptionPosition, token occurrent.FencingToken) error
	LoadPosition(ctx context.Context, subscriptionID string) (occurrent.SubscriptionPosition, bool, error)
	// DeletePosition removes subscriptionID's saved position, if any,
	// called on Cancel so a later re-subscribe starts fresh instead of
	// resuming from a stale checkpoint.
	DeletePosition(ctx context.Context, subscriptionID string) error
}

// Option configures a Subscribable built by New.
type Option func(*Subscribable)

// WithRetryStrategy configures the retry policy wrapping each delivered
// action invocation, in place of the default
// occurrent.DefaultStoreConfig().RetryStrategy.
func WithRetryStrategy(strategy occurrent.RetryStrategy) Option {
	return func(s *Subscribable) { s.retry = retryengine.New(strategy) }
}

// Subscribable wraps inner, persisting the live Subscription's Position
// every persistEvery successfully delivered events, and resolving
// StartAt for a subscriptionID with a saved position to resume from it
// instead of whatever the caller requested.
type Subscribable struct {
	inner        occurrent.Subscribable
	positions    PositionStore
	persistEvery int
	retry        retryengine.Engine
}

var _ occurrent.Subscribable = Subscribable{}

// New builds a durable Subscribable. persistEvery must be >= 1
// (occurrent.StoreConfig.PositionPersistenceEvery).
func New(inner occurrent.Subscribable, positions PositionStore, persistEvery int, opts ...Option) Subscribable {
	if persistEvery < 1 {
		persistEvery = 1
	}
	s := Subscribable{inner: inner, positions: positions, persistEvery: persistEvery, retry: retryengine.New(occurrent.DefaultStoreConfig().RetryStrategy)}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Subscribe implements occurrent.Subscribable.
func (d Subscribable) Subscribe(ctx context.Context, subscriptionID string, opts occurrent.SubscribeOptions, action occurrent.Action) (occurrent.Subscription, error) {
	startAt := opts.StartAt
	if saved, ok, err := d.positions.LoadPosition(ctx, subscriptionID); err != nil {
		return nil, err
	} else if ok {
		startAt = occurrent.StartAtSubscriptionPosition(saved)
	}

	token := occurrent.FencingTokenFromContext(ctx)

	var count atomic.Int64
	wrapped := func(ctx context.Context, e occurrent.CloudEvent) error {
		if err := d.retry.Run(ctx, func() error { return action(ctx, e) }); err != nil {
			return err
		}
		count.Add(1)
		return nil
	}

	sub, err := d.inner.Subscribe(ctx, subscriptionID, occurrent.SubscribeOptions{Filter: opts.Filter, StartAt: startAt}, wrapped)
	if err != nil {
		return nil, err
	}

	persistCtx, cancel := context.WithCancel(ctx)
	go d.persistLoop(persistCtx, subscriptionID, sub, &count, token)

	return &subscription{Subscription: sub, stopPersisting: cancel, positions: d.positions, subscriptionID: subscriptionID, fencingToken: token}, nil
}

// persistLoop periodically snapshots sub's Position once count (the
// running total of delivered events) has advanced by at least
// persistEvery since the last save, polling rather than hooking every
// delivery so persistence never blocks the delivery path.
func (d Subscribable) persistLoop(ctx context.Context, subscriptionID string, sub occurrent.Subscription, count *atomic.Int64, token occurrent.FencingToken) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	lastSaved := int64(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := count.Load()
			if current-lastSaved < int64(d.persistEvery) {
				continue
			}
			pos := sub.Position()
			if pos.IsZero() {
				continue
			}
			lastSaved = current
			if err := d.positions.SavePosition(ctx, subscriptionID, pos, token); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("subscription_id", subscriptionID).Msg("failed to persist subscription position")
			}
		}
	}
}

type subscription struct {
	occurrent.Subscription
	stopPersisting context.CancelFunc
	positions      PositionStore
	subscriptionID string
	fencingToken   occurrent.FencingToken
}

func (s *subscription) Cancel(ctx context.Context) error {
	s.stopPersisting()
	if err := s.Subscription.Cancel(ctx); err != nil {
		return err
	}
	return s.positions.DeletePosition(ctx, s.subscriptionID)
}
