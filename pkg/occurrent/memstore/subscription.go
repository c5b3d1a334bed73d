// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package memstore

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
)

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

func (s *subscription) setPosition(p occurrent.SubscriptionPosition) {
	s.mu.Lock()
	s.position = p
	s.mu.Unlock()
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

// run delivers backlog first, then live messages, until ctx is done.
// Events failing the matcher are silently skipped; this is the in-memory
// safety net re-evaluation spec §4.E requires even though the in-memory
// backend has no separate query-pushdown step to double check against.
func (s *subscription) run(ctx context.Context, backlog []occurrent.CloudEvent, messages <-chan *message.Message, matcher occurrent.Matcher, action occurrent.Action) {
	defer close(s.done)
	finalState := occurrent.StateCancelled
	defer func() { s.setState(finalState) }()
	s.setState(occurrent.StateRunning)

	for _, e := range backlog {
		if ctx.Err() != nil {
			return
		}
		if !matcher(e) {
			continue
		}
		if err := action(ctx, e); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("subscription_id", s.id).Str("event_id", e.ID()).Msg("catch-up action exhausted retries, pausing subscription")
			finalState = occurrent.StatePaused
			s.fail(err)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			e := cloudevents.NewEvent()
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("failed to decode live event")
				msg.Ack()
				continue
			}
			if matcher(e) {
				if err := action(ctx, e); err != nil {
					zerolog.Ctx(ctx).Warn().Err(err).Str("subscription_id", s.id).Str("event_id", e.ID()).Msg("live action exhausted retries, pausing subscription")
					finalState = occurrent.StatePaused
					s.fail(err)
					msg.Nack()
					return
				}
			}
			if pos := msg.Metadata.Get("position"); pos != "" {
				if p, err := occurrent.PositionFromString(pos); err == nil {
					s.setPosition(p)
				}
			}
			msg.Ack()
		}
	}
}
