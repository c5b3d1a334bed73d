// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package mongostore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/retryengine"
)

var _ occurrent.Subscribable = (*Store)(nil)

// Subscribe implements occurrent.Subscribable over a MongoDB change
// stream watching the event collection, following the resume-token
// discipline of the pack's change-stream references: Next in a
// background goroutine, tracking the resume token after every
// successfully processed event so Position() always reflects durably
// resumable progress.
//
// Subscribe does not perform the historical catch-up phase itself. When
// opts.StartAt names a position, it is passed through as the change
// stream's resume token, which only works for positions MongoDB's oplog
// window still covers; BeginningOfTime starts the change stream from now,
// the same as StartNow. Use the catchup package to bridge history via a
// historical Query first.
func (s *Store) Subscribe(ctx context.Context, subscriptionID string, opts occurrent.SubscribeOptions, action occurrent.Action) (occurrent.Subscription, error) {
	csOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	switch opts.StartAt.Kind {
	case occurrent.StartAtPositionKind:
		csOpts.SetResumeAfter(bson.Raw(opts.StartAt.Position.Bytes()))
	case occurrent.StartAtBeginningKind:
		// Without a stored position, the change stream can only start from
		// now; the catchup package is responsible for bridging history.
	case occurrent.StartAtNowKind:
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}

	cs, err := s.events.Watch(ctx, pipeline, csOpts)
	if err != nil {
		return nil, occurrent.NewTransientIOError("opening change stream: %v", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:     subscriptionID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	matcher := occurrent.MatcherOf(opts.Filter)
	retry := retryengine.New(s.cfg.RetryStrategy)
	go sub.run(sctx, cs, s.mapper, matcher, retry, action)

	return sub, nil
}

type subscription struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	position occurrent.SubscriptionPosition
	err      error

	stateVal atomic.Int32
}

var _ occurrent.Subscription = (*subscription)(nil)

func (s *subscription) ID() string { return s.id }

func (s *subscription) State() occurrent.SubscriptionState {
	return occurrent.SubscriptionState(s.stateVal.Load())
}

func (s *subscription) setState(st occurrent.SubscriptionState) {
	s.stateVal.Store(int32(st))
}

func (s *subscription) Position() occurrent.SubscriptionPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

func (s *subscription) Cancel(_ context.Context) error {
	if s.State() == occurrent.StateCancelled {
		return nil
	}
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

func (s *subscription) run(ctx context.Context, cs *mongo.ChangeStream, m mapperDecoder, matcher occurrent.Matcher, retry retryengine.Engine, action occurrent.Action) {
	defer close(s.done)
	defer cs.Close(context.Background())
	finalState := occurrent.StateCancelled
	defer func() { s.setState(finalState) }()
	s.setState(occurrent.StateRunning)

	for cs.Next(ctx) {
		var raw struct {
			FullDocument map[string]any `bson:"fullDocument"`
		}
		if err := cs.Decode(&raw); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("subscription_id", s.id).Msg("failed to decode change stream event")
			continue
		}
		delete(raw.FullDocument, "_id")
		e, err := m.FromDocument(raw.FullDocument)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("subscription_id", s.id).Msg("failed to decode stored event")
			continue
		}
		if matcher(e) {
			if err := retry.Run(ctx, func() error { return action(ctx, e) }); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("subscription_id", s.id).Str("event_id", e.ID()).Msg("action exhausted retries, pausing subscription")
				finalState = occurrent.StatePaused
				s.fail(err)
				return
			}
		}
		s.mu.Lock()
		s.position = occurrent.PositionFromBytes(cs.ResumeToken())
		s.mu.Unlock()
	}
	if err := cs.Err(); err != nil && ctx.Err() == nil {
		s.fail(occurrent.NewTransientIOError("change stream error: %v", err))
	}
}

// mapperDecoder is the slice of mapper.Mapper's API subscription.run
// needs, kept as an interface so tests can substitute a stub decoder.
type mapperDecoder interface {
	FromDocument(doc map[string]any) (occurrent.CloudEvent, error)
}
