// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package occurrent

import "context"

// WriteResult reports the outcome of a successful Write: the stream's
// version after the append.
type WriteResult struct {
	// StreamVersion is the stream's version immediately after the append,
	// i.e. the streamversion of the last event written.
	StreamVersion int64
}

// QueryOptions shapes a Query or Count beyond its Filter: ordering and
// pagination (spec §4.C).
type QueryOptions struct {
	// SortByStreamVersionDescending reverses the default ascending order.
	SortByStreamVersionDescending bool
	// Skip discards the first N matching events before Limit is applied.
	Skip int64
	// Limit caps the number of events returned; zero means unbounded.
	Limit int64
}

// UpdateFunc transforms a single matched event, returning the replacement
// to persist. Returning the input unchanged (or an error) aborts the
// update for that event.
type UpdateFunc func(e CloudEvent) (CloudEvent, error)

// Store is the event store contract of spec §4.C: an append-only,
// per-stream CloudEvent log with cross-stream query, and the
// administrative escape hatches (delete, update) spec §9 calls out as
// necessary but dangerous to the append-only guarantee.
//
// All methods are safe for concurrent use. Implementations must uphold
// the (source, id) global uniqueness invariant and the dense,
// monotonically increasing per-stream streamversion invariant.
type Store interface {
	// Write appends events to streamID, gated by condition. The events
	// must not already carry streamid/streamversion extensions; Write
	// assigns them starting at the stream's current version + 1.
	//
	// Returns ErrWriteConditionNotFulfilled if the stream's current version
	// does not satisfy condition, ErrDuplicateEvent if any event's (source,
	// id) pair already exists, or ErrInvalidArgument for a malformed
	// streamID or event. Either all events are appended or none are.
	Write(ctx context.Context, streamID string, condition WriteCondition, events ...CloudEvent) (WriteResult, error)

	// Read returns streamID's events in ascending streamversion order,
	// restricted by opts. An absent stream yields an empty, non-error
	// result.
	Read(ctx context.Context, streamID string, opts QueryOptions) ([]CloudEvent, error)

	// Exists reports whether streamID has at least one event.
	Exists(ctx context.Context, streamID string) (bool, error)

	// Query returns events across all streams matching filter, ordered and
	// paginated by opts. A zero-value Filter matches every event.
	Query(ctx context.Context, filter Filter, opts QueryOptions) ([]CloudEvent, error)

	// Count returns the number of events matching filter, ignoring opts'
	// Skip/Limit/sort.
	Count(ctx context.Context, filter Filter, opts QueryOptions) (int64, error)

	// DeleteEventStream irrecoverably removes every event of streamID,
	// including its stream-version bookkeeping under Transactional
	// consistency. Intended for GDPR-style erasure, not regular operation
	// (spec §9).
	DeleteEventStream(ctx context.Context, streamID string) error

	// DeleteEvent irrecoverably removes the single event identified by key
	// from its stream, leaving a gap in that stream's streamversion
	// sequence. Intended for GDPR-style erasure (spec §9, open question:
	// gaps are permitted and never backfilled).
	DeleteEvent(ctx context.Context, key EventKey) error

	// Delete irrecoverably removes every event matching filter, across
	// streams. Like DeleteEvent, this may leave streamversion gaps.
	Delete(ctx context.Context, filter Filter) error

	// UpdateEvents applies fn to every event matching filter, persisting
	// whatever fn returns for each. Intended for redacting payloads in
	// place, never for altering id/source/streamid/streamversion; an fn
	// that attempts to change the stream identity returns
	// ErrInvalidArgument for that event and leaves it untouched.
	UpdateEvents(ctx context.Context, filter Filter, fn UpdateFunc) error
}
