// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package memstore is an in-memory occurrent.Store and occurrent.Subscribable,
// grounded on the teacher's internal/events/gochannel driver for live
// fan-out and on the pack's in-memory event store references
// (other_examples' cacack/my-family memory.EventStore) for the
// stream-indexed append log itself. Intended for tests and single-process
// deployments; it holds NoConsistencyGuarantee semantics regardless of
// configuration, since writes already serialize under a single mutex.
package memstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/retryengine"
)

// Option configures a Store built by New.
type Option func(*Store)

// WithMetrics registers the store's instruments against m instead of the
// no-op default, letting a caller route them to its own Prometheus
// registry.
func WithMetrics(m *occurrent.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithRetryStrategy configures the retry policy wrapping every
// subscription action invocation, in place of the default
// occurrent.DefaultStoreConfig().RetryStrategy.
func WithRetryStrategy(strategy occurrent.RetryStrategy) Option {
	return func(s *Store) { s.retry = retryengine.New(strategy) }
}

const changeTopic = "occurrent.events"

// Store is an in-memory reference implementation of occurrent.Store and
// occurrent.Subscribable.
type Store struct {
	mu       sync.RWMutex
	events   []occurrent.CloudEvent
	streams  map[string][]int
	keys     map[occurrent.EventKey]struct{}
	position int64

	pubsub  *gochannel.GoChannel
	logger  watermill.LoggerAdapter
	metrics *occurrent.Metrics
	retry   retryengine.Engine
}

var (
	_ occurrent.Store        = (*Store)(nil)
	_ occurrent.Subscribable = (*Store)(nil)
)

// New constructs an empty in-memory store.
func New(opts ...Option) *Store {
	logger := watermill.NopLogger{}
	s := &Store{
		streams: make(map[string][]int),
		keys:    make(map[occurrent.EventKey]struct{}),
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
			Persistent:          false,
		}, logger),
		logger:  logger,
		metrics: occurrent.NopMetrics(),
		retry:   retryengine.New(occurrent.DefaultStoreConfig().RetryStrategy),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write implements occurrent.Store.
func (s *Store) Write(ctx context.Context, streamID string, condition occurrent.WriteCondition, events ...occurrent.CloudEvent) (occurrent.WriteResult, error) {
	if streamID == "" {
		return occurrent.WriteResult{}, occurrent.NewInvalidArgumentError("stream id must not be empty")
	}
	if len(events) == 0 {
		return occurrent.WriteResult{}, occurrent.NewInvalidArgumentError("write requires at least one event")
	}

	s.mu.Lock()
	currentVersion := int64(len(s.streams[streamID]))
	if !condition.Evaluate(currentVersion) {
		s.mu.Unlock()
		s.metrics.WriteFailures.WithLabelValues("condition_not_fulfilled").Inc()
		return occurrent.WriteResult{}, occurrent.NewWriteConditionNotFulfilledError(condition.Condition().Describe(), currentVersion)
	}
	for _, e := range events {
		key := occurrent.KeyOf(e)
		if _, dup := s.keys[key]; dup {
			s.mu.Unlock()
			s.metrics.WriteFailures.WithLabelValues("duplicate_event").Inc()
			return occurrent.WriteResult{}, occurrent.NewDuplicateEventError(key.ID, key.Source)
		}
	}

	appended := make([]occurrent.CloudEvent, 0, len(events))
	for _, e := range events {
		currentVersion++
		stamped := occurrent.WithStream(e, streamID, currentVersion)
		idx := len(s.events)
		s.events = append(s.events, stamped)
		s.streams[streamID] = append(s.streams[streamID], idx)
		s.keys[occurrent.KeyOf(stamped)] = struct{}{}
		appended = append(appended, stamped)
	}
	s.mu.Unlock()

	s.metrics.EventsWritten.Add(float64(len(appended)))
	s.publish(ctx, appended)

	return occurrent.WriteResult{StreamVersion: currentVersion}, nil
}

func (s *Store) publish(ctx context.Context, events []occurrent.CloudEvent) {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("event_id", e.ID()).Msg("failed to marshal event for publishing")
			continue
		}
		s.mu.Lock()
		s.position++
		pos := s.position
		s.mu.Unlock()

		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set("position", encodePosition(pos))
		if err := s.pubsub.Publish(changeTopic, msg); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to publish event to live subscribers")
		}
	}
}

// Subscribe implements occurrent.Subscribable. Live messages are read from
// the gochannel subscriber; a catch-up pass over already-stored events
// happens first when opts.StartAt is not StartNow, mirroring the
// catchup package's historical-then-live bridge but inlined here since
// the in-memory log is cheap to scan in full.
func (s *Store) Subscribe(ctx context.Context, subscriptionID string, opts occurrent.SubscribeOptions, action occurrent.Action) (occurrent.Subscription, error) {
	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:     subscriptionID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	messages, err := s.pubsub.Subscribe(sctx, changeTopic)
	if err != nil {
		cancel()
		return nil, occurrent.NewTransientIOError("subscribing to live feed: %v", err)
	}

	matcher := occurrent.MatcherOf(opts.Filter)

	backlog := s.catchupBacklog(opts)

	metrics := s.metrics
	retry := s.retry
	counted := func(ctx context.Context, e occurrent.CloudEvent) error {
		if err := retry.Run(ctx, func() error { return action(ctx, e) }); err != nil {
			return err
		}
		metrics.EventsDelivered.Inc()
		return nil
	}

	go sub.run(sctx, backlog, messages, matcher, counted)

	return sub, nil
}

func (s *Store) catchupBacklog(opts occurrent.SubscribeOptions) []occurrent.CloudEvent {
	if opts.StartAt.Kind == occurrent.StartAtNowKind {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]occurrent.CloudEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Read implements occurrent.Store.
func (s *Store) Read(_ context.Context, streamID string, opts occurrent.QueryOptions) ([]occurrent.CloudEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.streams[streamID]
	out := make([]occurrent.CloudEvent, len(idxs))
	for i, idx := range idxs {
		out[i] = s.events[idx]
	}
	return paginate(out, opts), nil
}

// Exists implements occurrent.Store.
func (s *Store) Exists(_ context.Context, streamID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[streamID]) > 0, nil
}

// Query implements occurrent.Store.
func (s *Store) Query(_ context.Context, filter occurrent.Filter, opts occurrent.QueryOptions) ([]occurrent.CloudEvent, error) {
	matcher := occurrent.MatcherOf(filter)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []occurrent.CloudEvent
	for _, e := range s.events {
		if matcher(e) {
			out = append(out, e)
		}
	}
	return paginate(out, opts), nil
}

// Count implements occurrent.Store.
func (s *Store) Count(_ context.Context, filter occurrent.Filter, _ occurrent.QueryOptions) (int64, error) {
	matcher := occurrent.MatcherOf(filter)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.events {
		if matcher(e) {
			n++
		}
	}
	return n, nil
}

// DeleteEventStream implements occurrent.Store.
func (s *Store) DeleteEventStream(_ context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idxs, ok := s.streams[streamID]
	if !ok {
		return nil
	}
	remove := make(map[int]bool, len(idxs))
	for _, idx := range idxs {
		remove[idx] = true
		delete(s.keys, occurrent.KeyOf(s.events[idx]))
	}
	s.rebuild(remove)
	delete(s.streams, streamID)
	return nil
}

// DeleteEvent implements occurrent.Store.
func (s *Store) DeleteEvent(_ context.Context, key occurrent.EventKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.events {
		if occurrent.KeyOf(e) == key {
			delete(s.keys, key)
			s.rebuild(map[int]bool{i: true})
			return nil
		}
	}
	return nil
}

// Delete implements occurrent.Store.
func (s *Store) Delete(_ context.Context, filter occurrent.Filter) error {
	matcher := occurrent.MatcherOf(filter)
	s.mu.Lock()
	defer s.mu.Unlock()
	remove := make(map[int]bool)
	for i, e := range s.events {
		if matcher(e) {
			remove[i] = true
			delete(s.keys, occurrent.KeyOf(e))
		}
	}
	s.rebuild(remove)
	return nil
}

// UpdateEvents implements occurrent.Store.
func (s *Store) UpdateEvents(_ context.Context, filter occurrent.Filter, fn occurrent.UpdateFunc) error {
	matcher := occurrent.MatcherOf(filter)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.events {
		if !matcher(e) {
			continue
		}
		updated, err := fn(e)
		if err != nil {
			continue
		}
		if occurrent.KeyOf(updated) != occurrent.KeyOf(e) {
			return occurrent.NewInvalidArgumentError("update must not change an event's (source, id) identity")
		}
		sid, serr := occurrent.StreamIDOf(updated)
		ver, verr := occurrent.StreamVersionOf(updated)
		origSid, _ := occurrent.StreamIDOf(e)
		origVer, _ := occurrent.StreamVersionOf(e)
		if serr != nil || verr != nil || sid != origSid || ver != origVer {
			return occurrent.NewInvalidArgumentError("update must not change an event's stream identity")
		}
		s.events[i] = updated
	}
	return nil
}

// rebuild drops the events at the given indices and recomputes the stream
// index. Must be called with s.mu held for writing.
func (s *Store) rebuild(remove map[int]bool) {
	newEvents := make([]occurrent.CloudEvent, 0, len(s.events)-len(remove))
	for i, e := range s.events {
		if remove[i] {
			continue
		}
		newEvents = append(newEvents, e)
	}
	s.events = newEvents
	s.streams = make(map[string][]int)
	for i, e := range s.events {
		sid, err := occurrent.StreamIDOf(e)
		if err != nil {
			continue
		}
		s.streams[sid] = append(s.streams[sid], i)
	}
}

func paginate(events []occurrent.CloudEvent, opts occurrent.QueryOptions) []occurrent.CloudEvent {
	out := make([]occurrent.CloudEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		vi, _ := occurrent.StreamVersionOf(out[i])
		vj, _ := occurrent.StreamVersionOf(out[j])
		if opts.SortByStreamVersionDescending {
			return vi > vj
		}
		return vi < vj
	})
	if opts.Skip > 0 {
		if int(opts.Skip) >= len(out) {
			return nil
		}
		out = out[opts.Skip:]
	}
	if opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func encodePosition(pos int64) string {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(pos))
	return occurrent.PositionFromBytes(b).String()
}
