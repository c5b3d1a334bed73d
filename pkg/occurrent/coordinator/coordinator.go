// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
)

// Listener receives competing-consumer state transitions for a
// subscription (spec §4.H): OnConsumeGranted when this subscriber wins
// the lease and starts running, OnConsumeProhibited when it loses it and
// pauses.
type Listener interface {
	OnConsumeGranted(subscriptionID string, token occurrent.FencingToken)
	OnConsumeProhibited(subscriptionID string)
}

// NopListener implements Listener with no-ops, the default when a caller
// doesn't need notifications.
type NopListener struct{}

// OnConsumeGranted implements Listener.
func (NopListener) OnConsumeGranted(string, occurrent.FencingToken) {}

// OnConsumeProhibited implements Listener.
func (NopListener) OnConsumeProhibited(string) {}

// Subscribable wraps inner so that only one subscriberID at a time runs
// a given subscriptionID, coordinated through leases. Losing the lease
// pauses delivery (the underlying Subscription is cancelled and the
// coordinator keeps retrying acquisition) rather than stopping the
// occurrent.Subscription handle returned to the caller.
type Subscribable struct {
	inner         occurrent.Subscribable
	leases        occurrent.LeaseStore
	subscriberID  string
	leaseDuration time.Duration
	refreshEvery  time.Duration
	listener      Listener
	metrics       *occurrent.Metrics
}

// New builds a competing-consumer Subscribable. subscriberID identifies
// this process among competitors for the same subscriptionID.
func New(inner occurrent.Subscribable, leases occurrent.LeaseStore, subscriberID string, leaseDuration, refreshEvery time.Duration, listener Listener) Subscribable {
	if listener == nil {
		listener = NopListener{}
	}
	return Subscribable{
		inner:         inner,
		leases:        leases,
		subscriberID:  subscriberID,
		leaseDuration: leaseDuration,
		refreshEvery:  refreshEvery,
		listener:      listener,
		metrics:       occurrent.NopMetrics(),
	}
}

// WithMetrics returns a copy of c reporting lease acquisition/loss
// against m instead of the no-op default.
func (c Subscribable) WithMetrics(m *occurrent.Metrics) Subscribable {
	c.metrics = m
	return c
}

var _ occurrent.Subscribable = Subscribable{}

// Subscribe implements occurrent.Subscribable. The returned Subscription
// reflects StateWaiting until the lease is first acquired, then toggles
// between StateRunning and StatePaused as the lease is won and lost,
// until Cancel is called.
func (c Subscribable) Subscribe(ctx context.Context, subscriptionID string, opts occurrent.SubscribeOptions, action occurrent.Action) (occurrent.Subscription, error) {
	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{id: subscriptionID, cancel: cancel, done: make(chan struct{})}
	sub.setState(occurrent.StateWaiting)

	go sub.run(sctx, c, opts, action)

	return sub, nil
}

type subscription struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	state atomic.Int32

	mu       sync.RWMutex
	position occurrent.SubscriptionPosition
	err      error
}

var _ occurrent.Subscription = (*subscription)(nil)

func (s *subscription) ID() string { return s.id }

func (s *subscription) setState(st occurrent.SubscriptionState) { s.state.Store(int32(st)) }

func (s *subscription) State() occurrent.SubscriptionState {
	return occurrent.SubscriptionState(s.state.Load())
}

func (s *subscription) Position() occurrent.SubscriptionPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

func (s *subscription) setPosition(p occurrent.SubscriptionPosition) {
	s.mu.Lock()
	s.position = p
	s.mu.Unlock()
}

func (s *subscription) Cancel(ctx context.Context) error {
	s.cancel()
	<-s.done
	return nil
}

func (s *subscription) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// run is the coordinator's own state machine: try to acquire, run an
// inner subscription while refreshing the lease on a ticker, and fall
// back to StatePaused (and retry acquisition) when refresh fails with
// ErrLostLease, per spec §4.H.
func (s *subscription) run(ctx context.Context, c Subscribable, opts occurrent.SubscribeOptions, action occurrent.Action) {
	defer close(s.done)
	defer s.setState(occurrent.StateCancelled)

	retryDelay := c.refreshEvery
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}

		lease, err := c.leases.Acquire(ctx, s.id, c.subscriberID, c.leaseDuration)
		if err != nil {
			c.metrics.LeaseAcquireTotal.WithLabelValues("denied").Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
				continue
			}
		}
		c.metrics.LeaseAcquireTotal.WithLabelValues("granted").Inc()

		s.setState(occurrent.StateRunning)
		c.listener.OnConsumeGranted(s.id, lease.FencingToken)

		runCtx, runCancel := context.WithCancel(occurrent.WithFencingToken(ctx, lease.FencingToken))
		inner, err := c.inner.Subscribe(runCtx, s.id, opts, action)
		if err != nil {
			runCancel()
			s.fail(err)
			return
		}

		stopEntirely := s.refreshUntilLost(runCtx, c, inner)
		_ = inner.Cancel(context.Background())
		runCancel()
		_ = c.leases.Release(context.Background(), s.id, c.subscriberID)

		if stopEntirely {
			return
		}
		s.setState(occurrent.StatePaused)
		c.listener.OnConsumeProhibited(s.id)
	}
}

// refreshUntilLost refreshes the lease on a ticker until ctx is done
// (true return, caller should stop entirely) or the lease is lost (false
// return, caller should retry acquisition).
func (s *subscription) refreshUntilLost(ctx context.Context, c Subscribable, inner occurrent.Subscription) bool {
	ticker := time.NewTicker(c.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
			s.setPosition(inner.Position())
			if _, err := c.leases.Refresh(ctx, s.id, c.subscriberID, c.leaseDuration); err != nil {
				c.metrics.LeaseLostTotal.Inc()
				zerolog.Ctx(ctx).Info().Str("subscription_id", s.id).Msg("lost competing-consumer lease")
				return false
			}
		}
	}
}
