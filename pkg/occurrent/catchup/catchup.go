// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package catchup wraps an occurrent.Store and occurrent.Subscribable to
// let a subscription starting at occurrent.StartAtBeginningOfTime (or an
// old occurrent.SubscriptionPosition) page through historical events via
// Query before switching to the live change feed, deduplicating events
// the live feed redelivers during the handoff window (spec §4.G).
//
// Grounded on the teacher's worker-pool page-then-stream shape
// (internal/reconcilers and internal/engine process backlogs in pages
// before switching to event-driven dispatch) generalized to this
// store-agnostic history-then-live bridge.
package catchup

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/retryengine"
)

// Option configures a Subscribable built by New.
type Option func(*Subscribable)

// WithRetryStrategy configures the retry policy wrapping each historical
// action invocation, in place of the default
// occurrent.DefaultStoreConfig().RetryStrategy.
func WithRetryStrategy(strategy occurrent.RetryStrategy) Option {
	return func(s *Subscribable) { s.retry = retryengine.New(strategy) }
}

// Subscribable wraps store so that StartAtBeginningOfTime and
// StartAtSubscriptionPosition starts page through history before
// delegating to the underlying live feed. batchSize controls the
// historical query page size (occurrent.StoreConfig.CatchupBatchSize).
type Subscribable struct {
	store     occurrent.Store
	live      occurrent.Subscribable
	batchSize int64
	retry     retryengine.Engine
}

// New builds a catch-up Subscribable over store's historical Query and
// live's live feed.
func New(store occurrent.Store, live occurrent.Subscribable, batchSize int64, opts ...Option) Subscribable {
	if batchSize < 1 {
		batchSize = 1
	}
	s := Subscribable{store: store, live: live, batchSize: batchSize, retry: retryengine.New(occurrent.DefaultStoreConfig().RetryStrategy)}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

var _ occurrent.Subscribable = Subscribable{}

// Subscribe implements occurrent.Subscribable.
func (c Subscribable) Subscribe(ctx context.Context, subscriptionID string, opts occurrent.SubscribeOptions, action occurrent.Action) (occurrent.Subscription, error) {
	if opts.StartAt.Kind == occurrent.StartAtNowKind {
		return c.live.Subscribe(ctx, subscriptionID, opts, action)
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{id: subscriptionID, cancel: cancel, done: make(chan struct{}), finalState: occurrent.StateCancelled}

	go sub.run(sctx, c, opts, action)

	return sub, nil
}

type subscription struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.RWMutex
	err        error
	live       occurrent.Subscription
	finalState occurrent.SubscriptionState
}

var _ occurrent.Subscription = (*subscription)(nil)

func (s *subscription) ID() string { return s.id }

func (s *subscription) setLive(live occurrent.Subscription) {
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()
}

func (s *subscription) getLive() occurrent.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *subscription) pause(err error) {
	s.mu.Lock()
	s.err = err
	s.finalState = occurrent.StatePaused
	s.mu.Unlock()
}

func (s *subscription) State() occurrent.SubscriptionState {
	if live := s.getLive(); live != nil {
		return live.State()
	}
	select {
	case <-s.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.finalState
	default:
		return occurrent.StateWaiting
	}
}

func (s *subscription) Position() occurrent.SubscriptionPosition {
	if live := s.getLive(); live != nil {
		return live.Position()
	}
	return occurrent.SubscriptionPosition{}
}

func (s *subscription) Cancel(ctx context.Context) error {
	s.cancel()
	if live := s.getLive(); live != nil {
		return live.Cancel(ctx)
	}
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

// run pages through history via Query, delivering matches to action,
// then hands off permanently to the live feed, skipping any event whose
// (source, id) key was already delivered during the historical phase. A
// key leaves that set the first time the live feed repeats it.
func (s *subscription) run(ctx context.Context, c Subscribable, opts occurrent.SubscribeOptions, action occurrent.Action) {
	defer close(s.done)

	seen := make(map[occurrent.EventKey]struct{})
	var skip int64

	for {
		if ctx.Err() != nil {
			return
		}
		page, err := c.store.Query(ctx, opts.Filter, occurrent.QueryOptions{
			Skip:  skip,
			Limit: c.batchSize,
		})
		if err != nil {
			s.fail(err)
			return
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			key := occurrent.KeyOf(e)
			seen[key] = struct{}{}
			if err := c.retry.Run(ctx, func() error { return action(ctx, e) }); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("subscription_id", s.id).Str("event_id", e.ID()).Msg("catch-up action exhausted retries, pausing subscription")
				s.pause(err)
				return
			}
		}
		skip += int64(len(page))
	}

	// Hand off to the live feed, wrapping action to skip anything already
	// delivered during the historical phase.
	dedupWindow := seen
	wrapped := func(ctx context.Context, e occurrent.CloudEvent) error {
		key := occurrent.KeyOf(e)
		if _, already := dedupWindow[key]; already {
			delete(dedupWindow, key)
			return nil
		}
		return action(ctx, e)
	}

	live, err := c.live.Subscribe(ctx, s.id, occurrent.SubscribeOptions{Filter: opts.Filter, StartAt: occurrent.StartNow()}, wrapped)
	if err != nil {
		s.fail(err)
		return
	}
	s.setLive(live)

	<-ctx.Done()
	_ = live.Cancel(context.Background())
}
