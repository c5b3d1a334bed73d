// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package mongostore

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/mapper"
)

func TestConditionToBSONSimpleOperator(t *testing.T) {
	got, err := conditionToBSON(mapper.FieldStreamVersion, occurrent.Gte(3), mapper.New(occurrent.RFC3339String, occurrent.DefaultEventFormat()))
	if err != nil {
		t.Fatalf("conditionToBSON: %v", err)
	}
	inner, ok := got[mapper.FieldStreamVersion].(bson.M)
	if !ok || inner["$gte"] != 3 {
		t.Fatalf("conditionToBSON(Gte(3)) = %v, want {%s: {$gte: 3}}", got, mapper.FieldStreamVersion)
	}
}

func TestConditionToBSONAndOr(t *testing.T) {
	m := mapper.New(occurrent.RFC3339String, occurrent.DefaultEventFormat())
	and, err := conditionToBSON(mapper.FieldStreamVersion, occurrent.And(occurrent.Gte(1), occurrent.Lte(10)), m)
	if err != nil {
		t.Fatalf("conditionToBSON And: %v", err)
	}
	parts, ok := and["$and"].(bson.A)
	if !ok || len(parts) != 2 {
		t.Fatalf("conditionToBSON And = %v, want a 2-element $and", and)
	}

	not, err := conditionToBSON(mapper.FieldStreamVersion, occurrent.Not(occurrent.Eq(5)), m)
	if err != nil {
		t.Fatalf("conditionToBSON Not: %v", err)
	}
	if _, ok := not["$nor"]; !ok {
		t.Fatalf("conditionToBSON Not = %v, want $nor", not)
	}
}

func TestConditionToBSONEncodesTimeOperandForRFC3339String(t *testing.T) {
	m := mapper.New(occurrent.RFC3339String, occurrent.DefaultEventFormat())
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err := conditionToBSON(mapper.FieldTime, occurrent.Gte(when), m)
	if err != nil {
		t.Fatalf("conditionToBSON: %v", err)
	}
	inner, ok := got[mapper.FieldTime].(bson.M)
	if !ok {
		t.Fatalf("conditionToBSON(time) = %v, want a bson.M clause", got)
	}
	encoded, ok := inner["$gte"].(string)
	if !ok || encoded != when.Format(time.RFC3339Nano) {
		t.Fatalf("conditionToBSON(time) operand = %v, want RFC3339Nano string %q", inner["$gte"], when.Format(time.RFC3339Nano))
	}
}

func TestConditionToBSONUnsupportedOperatorOnCompositeChild(t *testing.T) {
	bogus := occurrent.Condition{Op: occurrent.ConditionOp(99)}
	composite := occurrent.And(occurrent.Eq(1), bogus)
	if _, err := conditionToBSON("f", composite, mapper.New(occurrent.RFC3339String, occurrent.DefaultEventFormat())); err == nil {
		t.Fatal("expected an error for an unsupported condition operator")
	}
}

func TestFilterToBSONEmptyFilterMatchesEverything(t *testing.T) {
	got, err := filterToBSON(occurrent.Filter{}, mapper.New(occurrent.RFC3339String, occurrent.DefaultEventFormat()))
	if err != nil {
		t.Fatalf("filterToBSON: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("filterToBSON(empty) = %v, want {}", got)
	}
}

func TestFilterToBSONTranslatesKnownAttributes(t *testing.T) {
	f, err := occurrent.Where(occurrent.AttrStreamVersion, occurrent.Gte(2))
	if err != nil {
		t.Fatalf("Where: %v", err)
	}
	got, err := filterToBSON(f, mapper.New(occurrent.RFC3339String, occurrent.DefaultEventFormat()))
	if err != nil {
		t.Fatalf("filterToBSON: %v", err)
	}
	and, ok := got["$and"].(bson.A)
	if !ok || len(and) != 1 {
		t.Fatalf("filterToBSON = %v, want a single-clause $and", got)
	}
	clause, ok := and[0].(bson.M)
	if !ok {
		t.Fatalf("clause = %v, want bson.M", and[0])
	}
	if _, hasStoredField := clause[mapper.FieldStreamVersion]; !hasStoredField {
		t.Fatalf("clause %v missing translated field %q", clause, mapper.FieldStreamVersion)
	}
}

func TestStoredFieldForPassesThroughDataPaths(t *testing.T) {
	if got := storedFieldFor("data.count"); got != "data.count" {
		t.Fatalf("storedFieldFor(data.count) = %q, want unchanged", got)
	}
}

func TestTranslateWriteErrorDuplicateKey(t *testing.T) {
	dup := mongo.WriteException{
		WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}},
	}
	err := translateWriteError(dup)
	if !errors.Is(err, occurrent.ErrDuplicateEvent) {
		t.Fatalf("translateWriteError(duplicate key) = %v, want wrapping ErrDuplicateEvent", err)
	}
}

func TestTranslateWriteErrorOther(t *testing.T) {
	err := translateWriteError(errors.New("boom"))
	if errors.Is(err, occurrent.ErrDuplicateEvent) {
		t.Fatal("translateWriteError(generic error) should not be classified as a duplicate")
	}
}

func TestStripIDRemovesMongoIdentityField(t *testing.T) {
	doc := map[string]any{"_id": "abc", mapper.FieldID: "evt-1"}
	stripped := stripID(doc)
	if _, ok := stripped["_id"]; ok {
		t.Fatal("stripID should remove the _id key")
	}
	if stripped[mapper.FieldID] != "evt-1" {
		t.Fatal("stripID should leave other fields untouched")
	}
}
