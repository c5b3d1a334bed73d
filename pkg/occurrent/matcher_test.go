// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package occurrent_test

import (
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
)

func newTestEvent(t *testing.T, streamID string, version int64, data map[string]any) occurrent.CloudEvent {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetID("id-" + time.Now().String())
	e.SetSource("test")
	e.SetType("test.event")
	e.SetTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if data != nil {
		if err := e.SetData("application/json", data); err != nil {
			t.Fatalf("SetData: %v", err)
		}
	}
	return occurrent.WithStream(e, streamID, version)
}

func TestMatcherOfFiltersByStreamVersion(t *testing.T) {
	f, err := occurrent.Where(occurrent.AttrStreamVersion, occurrent.Gte(2))
	if err != nil {
		t.Fatalf("Where: %v", err)
	}
	matcher := occurrent.MatcherOf(f)

	if matcher(newTestEvent(t, "s1", 1, nil)) {
		t.Fatal("version 1 should not match >= 2")
	}
	if !matcher(newTestEvent(t, "s1", 2, nil)) {
		t.Fatal("version 2 should match >= 2")
	}
}

func TestMatcherOfFiltersByDataField(t *testing.T) {
	f, err := occurrent.Where("data.count", occurrent.Eq(float64(3)))
	if err != nil {
		t.Fatalf("Where: %v", err)
	}
	matcher := occurrent.MatcherOf(f)

	if !matcher(newTestEvent(t, "s1", 1, map[string]any{"count": 3})) {
		t.Fatal("expected data.count == 3 to match")
	}
	if matcher(newTestEvent(t, "s1", 1, map[string]any{"count": 4})) {
		t.Fatal("expected data.count == 3 not to match count 4")
	}
}

func TestFilterRejectsNonOrderableAttribute(t *testing.T) {
	if _, err := occurrent.Where(occurrent.AttrID, occurrent.Lt("x")); err == nil {
		t.Fatal("expected LT over id (non-orderable) to be rejected")
	}
}

func TestFilterRejectsUnknownAttribute(t *testing.T) {
	if _, err := occurrent.Where("bogus", occurrent.Eq(1)); err == nil {
		t.Fatal("expected unknown attribute to be rejected")
	}
}
