// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package occurrent provides the public contracts of an event-sourcing
// library built around CloudEvents persisted to a document store: the
// condition/filter DSL, the event store and subscription interfaces, and
// the CloudEvent extensions that group events into streams.
package occurrent

import (
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// CloudEvent is the envelope type used throughout this module. It is a
// direct alias of the upstream SDK's event type rather than a bespoke
// struct, so every attribute accessor (ID, Source, Type, Time, Data, ...)
// and the JSON/structured encoders it ships with are available unchanged.
type CloudEvent = cloudevents.Event

// Extension attribute names mandated by the data model (spec §3).
const (
	// StreamIDExtension groups events into a stream. Opaque, non-empty.
	StreamIDExtension = "streamid"
	// StreamVersionExtension is the 1-based, dense, per-stream sequence
	// number.
	StreamVersionExtension = "streamversion"
)

// StreamIDOf returns the streamid extension of e, or ErrInvalidArgument if
// absent or empty.
func StreamIDOf(e CloudEvent) (string, error) {
	raw, ok := e.Extensions()[StreamIDExtension]
	if !ok {
		return "", NewInvalidArgumentError("event %q is missing the %q extension", e.ID(), StreamIDExtension)
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return "", NewInvalidArgumentError("event %q has an empty or non-string %q extension", e.ID(), StreamIDExtension)
	}
	return id, nil
}

// StreamVersionOf returns the streamversion extension of e, or
// ErrInvalidArgument if absent or not a positive integer.
func StreamVersionOf(e CloudEvent) (int64, error) {
	raw, ok := e.Extensions()[StreamVersionExtension]
	if !ok {
		return 0, NewInvalidArgumentError("event %q is missing the %q extension", e.ID(), StreamVersionExtension)
	}
	v, err := toInt64(raw)
	if err != nil || v < 1 {
		return 0, NewInvalidArgumentError("event %q has an invalid %q extension: %v", e.ID(), StreamVersionExtension, raw)
	}
	return v, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// WithStream returns a copy of e with the streamid and streamversion
// extensions set, as appended to a stream by the event store.
func WithStream(e CloudEvent, streamID string, version int64) CloudEvent {
	out := e
	out.SetExtension(StreamIDExtension, streamID)
	out.SetExtension(StreamVersionExtension, version)
	return out
}

// EventKey uniquely identifies a CloudEvent by the (source, id) pair
// mandated as globally unique by spec §3.
type EventKey struct {
	Source string
	ID     string
}

// KeyOf returns the EventKey of e.
func KeyOf(e CloudEvent) EventKey {
	return EventKey{Source: e.Source(), ID: e.ID()}
}
