// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package mapper_test

import (
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/mapper"
)

func TestRoundTripStructuredData(t *testing.T) {
	e := cloudevents.NewEvent()
	e.SetID("evt-1")
	e.SetSource("tests")
	e.SetType("test.thing.happened")
	e.SetTime(time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC))
	if err := e.SetData("application/json", map[string]any{"foo": "bar", "n": float64(3)}); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	stamped := occurrent.WithStream(e, "stream-1", 2)

	m := mapper.New(occurrent.RFC3339String, occurrent.DefaultEventFormat())

	doc, err := m.ToDocument(stamped)
	if err != nil {
		t.Fatalf("ToDocument: %v", err)
	}

	decoded, err := m.FromDocument(doc)
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}

	if decoded.ID() != stamped.ID() || decoded.Source() != stamped.Source() || decoded.Type() != stamped.Type() {
		t.Fatalf("decoded envelope mismatch: got %+v, want %+v", decoded.Context, stamped.Context)
	}
	gotStream, err := occurrent.StreamIDOf(decoded)
	if err != nil || gotStream != "stream-1" {
		t.Fatalf("StreamIDOf(decoded) = %q, %v; want stream-1, nil", gotStream, err)
	}
	gotVersion, err := occurrent.StreamVersionOf(decoded)
	if err != nil || gotVersion != 2 {
		t.Fatalf("StreamVersionOf(decoded) = %d, %v; want 2, nil", gotVersion, err)
	}
	if !decoded.Time().Equal(stamped.Time()) {
		t.Fatalf("decoded time = %v, want %v", decoded.Time(), stamped.Time())
	}
	if string(decoded.Data()) != string(stamped.Data()) {
		t.Fatalf("decoded data = %s, want %s", decoded.Data(), stamped.Data())
	}
}

func TestDateMillisRejectsSubMillisecondPrecision(t *testing.T) {
	e := cloudevents.NewEvent()
	e.SetID("evt-2")
	e.SetSource("tests")
	e.SetType("test.thing.happened")
	e.SetTime(time.Date(2024, 3, 4, 5, 6, 7, 123456, time.UTC)) // sub-millisecond nanos
	stamped := occurrent.WithStream(e, "stream-1", 1)

	m := mapper.New(occurrent.DateMillis, occurrent.DefaultEventFormat())
	if _, err := m.ToDocument(stamped); err == nil {
		t.Fatal("expected sub-millisecond precision to be rejected under DateMillis")
	}
}
