// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package occurrent

import (
	"context"
	"time"
)

// FencingToken orders successive grants of the same lease. A coordinator
// that observes a lower fencing token than one it has already seen must
// treat the holder as stale, the same defense a fencing token gives a
// distributed lock (spec §4.H).
type FencingToken int64

// Lease represents exclusive, time-bounded ownership of a subscription's
// competing-consumer slot (spec §3, §4.H). A Lease is a snapshot; it does
// not refresh itself.
type Lease struct {
	// SubscriptionID identifies the subscription the lease guards.
	SubscriptionID string
	// SubscriberID identifies the holder, e.g. a process or pod identity.
	SubscriberID string
	// FencingToken increases each time the lease for this SubscriptionID
	// passes to a different SubscriberID; a refresh, or a re-acquire by the
	// current holder, keeps it unchanged.
	FencingToken FencingToken
	// ExpiresAt is when the lease lapses absent a refresh.
	ExpiresAt time.Time
}

type fencingTokenCtxKey struct{}

// WithFencingToken returns a copy of ctx carrying token, read back by
// FencingTokenFromContext. The coordinator package sets this on the
// context it passes to the Subscribable it wraps, so a durable position
// store underneath it can guard writes with the granted lease's token
// (spec §4.H).
func WithFencingToken(ctx context.Context, token FencingToken) context.Context {
	return context.WithValue(ctx, fencingTokenCtxKey{}, token)
}

// FencingTokenFromContext returns the fencing token ctx was tagged with,
// or zero if none was set (an uncoordinated subscription).
func FencingTokenFromContext(ctx context.Context) FencingToken {
	token, _ := ctx.Value(fencingTokenCtxKey{}).(FencingToken)
	return token
}

// IsExpired reports whether the lease had already lapsed as of now.
func (l Lease) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// HeldBy reports whether subscriberID currently holds l.
func (l Lease) HeldBy(subscriberID string) bool {
	return l.SubscriberID == subscriberID
}

// LeaseStore is the minimal persistence contract a competing-consumer
// coordinator needs (spec §4.H). Implementations must make Acquire and
// Refresh atomic with respect to each other: only one subscriberID may
// hold a non-expired lease for a given subscriptionID at a time.
type LeaseStore interface {
	// Acquire grants subscriberID the lease for subscriptionID if no other
	// subscriber currently holds an unexpired lease for it, returning the
	// new Lease. Its FencingToken is one higher than the previous holder's
	// when ownership changes subscriber, and unchanged when subscriberID
	// already held the lease. Returns ErrLostLease if another subscriber
	// holds it.
	Acquire(ctx context.Context, subscriptionID, subscriberID string, duration time.Duration) (Lease, error)
	// Refresh extends subscriberID's existing lease for subscriptionID by
	// duration, provided it still holds it. Returns ErrLostLease if the
	// lease expired or was acquired by another subscriber in the meantime.
	Refresh(ctx context.Context, subscriptionID, subscriberID string, duration time.Duration) (Lease, error)
	// Release voluntarily gives up subscriberID's lease for subscriptionID,
	// if held. Releasing a lease not held by subscriberID is a no-op.
	Release(ctx context.Context, subscriptionID, subscriberID string) error
	// Current returns the current lease for subscriptionID, if any.
	Current(ctx context.Context, subscriptionID string) (Lease, bool, error)
}
