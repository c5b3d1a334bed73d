// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package occurrent

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error taxonomy in spec §7. Callers should use
// errors.Is against these rather than matching on message text.
var (
	// ErrInvalidArgument signals a caller contract violation: a null/empty
	// stream id, an unsupported time representation, or a malformed filter.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrWriteConditionNotFulfilled signals that a write's condition over the
	// stream's current version did not hold. Fatal to the write that raised
	// it; the caller may re-read and retry at a higher layer.
	ErrWriteConditionNotFulfilled = errors.New("write condition not fulfilled")

	// ErrDuplicateEvent signals a violation of the (id, source) uniqueness
	// invariant.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrTransientIO signals a recoverable backend fault. Callers configured
	// with a retry policy should retry.
	ErrTransientIO = errors.New("transient io error")

	// ErrLostLease signals that a competing-consumer lease was taken over by
	// another subscriber. Never surfaced to a subscription's action callback;
	// it only drives the coordinator's internal state machine.
	ErrLostLease = errors.New("lost lease")

	// ErrSubscriptionShutdown signals that a subscription method was invoked
	// after shutdown.
	ErrSubscriptionShutdown = errors.New("subscription shut down")

	// ErrStaleFencingToken signals that a durable position write carried a
	// fencing token lower than the one already persisted, meaning a
	// superseded competing-consumer holder is still writing (spec §4.H).
	ErrStaleFencingToken = errors.New("stale fencing token")
)

// NewInvalidArgumentError wraps ErrInvalidArgument with a formatted message.
func NewInvalidArgumentError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NewTransientIOError wraps ErrTransientIO with a formatted message.
func NewTransientIOError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransientIO, fmt.Sprintf(format, args...))
}

// NewWriteConditionNotFulfilledError builds the write-condition failure
// message mandated by spec §7: the condition's human-readable description
// followed by " but was N.".
func NewWriteConditionNotFulfilledError(description string, actual int64) error {
	return fmt.Errorf("%w: Expected version %s but was %d.", ErrWriteConditionNotFulfilled, description, actual)
}

// NewDuplicateEventError wraps ErrDuplicateEvent identifying the offending
// (id, source) pair.
func NewDuplicateEventError(id, source string) error {
	return fmt.Errorf("%w: id=%q source=%q", ErrDuplicateEvent, id, source)
}
