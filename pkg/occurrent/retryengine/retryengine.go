// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package retryengine wraps cenkalti/backoff/v4 behind the
// occurrent.RetryStrategy knobs (spec §4.I), grounded on the teacher's
// retriableDo helper in internal/datasources/rest/handler.go.
package retryengine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
)

// Engine runs a func() error under a configured RetryStrategy.
type Engine struct {
	strategy occurrent.RetryStrategy
}

// New builds an Engine from strategy.
func New(strategy occurrent.RetryStrategy) Engine {
	return Engine{strategy: strategy}
}

func (e Engine) backoffFor(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if e.strategy.Multiplier <= 1 {
		b = backoff.NewConstantBackOff(e.strategy.InitialDelay)
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = e.strategy.InitialDelay
		eb.MaxInterval = e.strategy.MaxDelay
		eb.Multiplier = e.strategy.Multiplier
		eb.MaxElapsedTime = 0
		b = eb
	}
	if e.strategy.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(e.strategy.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Run invokes fn, retrying per the engine's strategy while fn returns an
// error satisfying errors.Is(err, occurrent.ErrTransientIO). Any other
// error, or exhausting the strategy's MaxAttempts, returns immediately.
func (e Engine) Run(ctx context.Context, fn func() error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, occurrent.ErrTransientIO) {
			return backoff.Permanent(err)
		}
		zerolog.Ctx(ctx).Debug().
			Err(err).
			Int("attempt", attempt).
			Msg("retrying after transient error")
		return err
	}
	return backoff.Retry(op, e.backoffFor(ctx))
}

// Delays returns the successive delays this strategy would use, without
// running anything; exposed so a subscription's action-retry logging can
// report the next delay before sleeping.
func (e Engine) Delays(n int) []time.Duration {
	b := e.backoffFor(context.Background())
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		out = append(out, d)
	}
	return out
}
