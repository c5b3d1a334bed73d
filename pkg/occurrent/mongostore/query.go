// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package mongostore is a MongoDB-backed occurrent.Store and
// occurrent.Subscribable, grounded on the teacher's document-mapper
// idiom (internal/db's row<->domain conversions) for encoding and on the
// pack's change-stream references (viamrobotics/rdk's
// mongoutils.ChangeStreamBackground, mnohosten/laura-db's ChangeStream)
// for resuming a live feed by token.
package mongostore

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
	"github.com/occurrent-go/occurrent/pkg/occurrent/mapper"
)

// conditionToBSON lowers a Condition into a bson.M fragment comparing the
// given field, per spec §4.A's operator table. m encodes the operand of a
// leaf condition on mapper.FieldTime the same way ToDocument encodes a
// stored event's time, since under RFC3339String the field holds a
// string and a raw time.Time operand would otherwise never match it.
func conditionToBSON(field string, c occurrent.Condition, m mapper.Mapper) (bson.M, error) {
	switch c.Op {
	case occurrent.OpAND:
		parts, err := childrenToBSON(field, c.Children, m)
		if err != nil {
			return nil, err
		}
		return bson.M{"$and": parts}, nil
	case occurrent.OpOR:
		parts, err := childrenToBSON(field, c.Children, m)
		if err != nil {
			return nil, err
		}
		return bson.M{"$or": parts}, nil
	case occurrent.OpNOT:
		inner, err := conditionToBSON(field, c.Children[0], m)
		if err != nil {
			return nil, err
		}
		return bson.M{"$nor": bson.A{inner}}, nil
	default:
		op, err := mongoOperator(c.Op)
		if err != nil {
			return nil, err
		}
		value, err := encodeConditionValue(field, c.Value, m)
		if err != nil {
			return nil, err
		}
		return bson.M{field: bson.M{op: value}}, nil
	}
}

func encodeConditionValue(field string, value any, m mapper.Mapper) (any, error) {
	if field != mapper.FieldTime {
		return value, nil
	}
	t, ok := value.(time.Time)
	if !ok {
		return value, nil
	}
	return m.EncodeTime(t)
}

func childrenToBSON(field string, children []occurrent.Condition, m mapper.Mapper) (bson.A, error) {
	parts := make(bson.A, 0, len(children))
	for _, child := range children {
		part, err := conditionToBSON(field, child, m)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

func mongoOperator(op occurrent.ConditionOp) (string, error) {
	switch op {
	case occurrent.OpEQ:
		return "$eq", nil
	case occurrent.OpNE:
		return "$ne", nil
	case occurrent.OpLT:
		return "$lt", nil
	case occurrent.OpGT:
		return "$gt", nil
	case occurrent.OpLTE:
		return "$lte", nil
	case occurrent.OpGTE:
		return "$gte", nil
	default:
		return "", occurrent.NewInvalidArgumentError("unsupported condition operator %v", op)
	}
}

// filterToBSON lowers a Filter into a query document, translating each
// FilterTerm's attribute path to its stored field name per mapper's
// field-naming conventions.
func filterToBSON(f occurrent.Filter, m mapper.Mapper) (bson.M, error) {
	if f.IsEmpty() {
		return bson.M{}, nil
	}
	and := make(bson.A, 0, len(f.Terms))
	for _, term := range f.Terms {
		field := storedFieldFor(term.Attribute)
		clause, err := conditionToBSON(field, term.Condition, m)
		if err != nil {
			return nil, err
		}
		and = append(and, clause)
	}
	return bson.M{"$and": and}, nil
}

func storedFieldFor(attribute string) string {
	switch attribute {
	case occurrent.AttrID:
		return mapper.FieldID
	case occurrent.AttrSource:
		return mapper.FieldSource
	case occurrent.AttrType:
		return mapper.FieldType
	case occurrent.AttrSpecVersion:
		return mapper.FieldSpecVersion
	case occurrent.AttrSubject:
		return mapper.FieldSubject
	case occurrent.AttrTime:
		return mapper.FieldTime
	case occurrent.AttrDataContentType:
		return mapper.FieldDataContentType
	case occurrent.AttrDataSchema:
		return mapper.FieldDataSchema
	case occurrent.AttrStreamID:
		return mapper.FieldStreamID
	case occurrent.AttrStreamVersion:
		return mapper.FieldStreamVersion
	default:
		// data.* paths pass through unchanged: the mapper stores structured
		// data under the literal "data" field, so "data.foo" is already the
		// correct dotted BSON path.
		return attribute
	}
}
