// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package occurrent_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
)

func TestNewMetricsRegistersAllInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := occurrent.NewMetrics(reg)

	m.EventsWritten.Add(2)
	m.WriteFailures.WithLabelValues("duplicate_event").Inc()
	m.EventsDelivered.Inc()
	m.LeaseAcquireTotal.WithLabelValues("granted").Inc()
	m.LeaseLostTotal.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"occurrent_store_events_written_total",
		"occurrent_store_write_failures_total",
		"occurrent_subscription_events_delivered_total",
		"occurrent_coordinator_lease_acquire_total",
		"occurrent_coordinator_lease_lost_total",
	} {
		if !names[want] {
			t.Fatalf("Gather() missing metric family %q, got %v", want, names)
		}
	}
}

func TestNopMetricsSafeToUseWithoutACustomRegistry(t *testing.T) {
	m := occurrent.NopMetrics()
	m.EventsWritten.Inc()
	if got := metricValue(t, m.EventsWritten); got != 1 {
		t.Fatalf("EventsWritten = %v, want 1", got)
	}
}

func metricValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}
