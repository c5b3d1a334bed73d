// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/occurrent-go/occurrent/internal/logging"
	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/memstore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Append a handful of events to a stream and subscribe to them",
	Long:  `run writes a few CloudEvents to an in-memory stream, subscribes from the beginning, and prints each delivered event. All events are written before the subscription starts, so they all arrive through its catch-up pass over stored events.`,
	RunE:  run,
}

func init() {
	RootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	logger := logging.FromConfig(logging.DefaultConfig())
	ctx = logger.WithContext(ctx)

	store := memstore.New()
	streamID := "demo-stream-" + uuid.NewString()

	events := make([]occurrent.CloudEvent, 0, 3)
	for i := 1; i <= 3; i++ {
		e := cloudevents.NewEvent()
		e.SetID(uuid.NewString())
		e.SetSource("occurrent-demo")
		e.SetType("demo.counter.incremented")
		e.SetTime(time.Now())
		if err := e.SetData("application/json", map[string]any{"count": i}); err != nil {
			return fmt.Errorf("setting event data: %w", err)
		}
		events = append(events, e)
	}

	if _, err := store.Write(ctx, streamID, occurrent.AnyVersion(), events...); err != nil {
		return fmt.Errorf("writing events: %w", err)
	}

	sub, err := store.Subscribe(ctx, "demo-subscription", occurrent.SubscribeOptions{
		StartAt: occurrent.StartAtBeginningOfTime(),
	}, func(ctx context.Context, e occurrent.CloudEvent) error {
		zerolog.Ctx(ctx).Info().Str("event_id", e.ID()).Str("type", e.Type()).Msg("delivered event")
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", e.Type(), string(e.Data()))
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	defer sub.Cancel(context.Background())

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return nil
}
