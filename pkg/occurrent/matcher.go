// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package occurrent

import (
	"encoding/json"
	"strings"
	"time"
)

// Matcher is a pure predicate over a decoded CloudEvent. MatcherOf lowers a
// Filter to one; it is used by the in-memory store and as the live
// subscription's in-memory safety net re-evaluation of a backend-pushed
// filter (spec §4.E).
type Matcher func(e CloudEvent) bool

// MatcherOf lowers f to an in-memory predicate equivalent to the backend
// query produced for the same Filter (testable property §8.4).
func MatcherOf(f Filter) Matcher {
	return func(e CloudEvent) bool {
		for _, term := range f.Terms {
			val, ok := attributeValue(e, term.Attribute)
			if !ok {
				return false
			}
			if !evaluateCondition(term.Condition, val) {
				return false
			}
		}
		return true
	}
}

func attributeValue(e CloudEvent, path string) (any, bool) {
	switch path {
	case AttrID:
		return e.ID(), true
	case AttrSource:
		return e.Source(), true
	case AttrType:
		return e.Type(), true
	case AttrSpecVersion:
		return e.SpecVersion(), true
	case AttrSubject:
		return e.Subject(), true
	case AttrDataContentType:
		return e.DataContentType(), true
	case AttrDataSchema:
		return e.DataSchema(), true
	case AttrTime:
		t := e.Time()
		if t.IsZero() {
			return nil, false
		}
		return t, true
	case AttrStreamID:
		id, err := StreamIDOf(e)
		if err != nil {
			return nil, false
		}
		return id, true
	case AttrStreamVersion:
		v, err := StreamVersionOf(e)
		if err != nil {
			return nil, false
		}
		return v, true
	default:
		if strings.HasPrefix(path, dataPrefix) {
			return dataFieldValue(e, strings.TrimPrefix(path, dataPrefix))
		}
		if v, ok := e.Extensions()[path]; ok {
			return v, true
		}
		return nil, false
	}
}

func dataFieldValue(e CloudEvent, dotted string) (any, bool) {
	var tree map[string]any
	if err := json.Unmarshal(e.Data(), &tree); err != nil {
		return nil, false
	}
	var cur any = tree
	for _, segment := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func evaluateCondition(c Condition, val any) bool {
	switch c.Op {
	case OpAND:
		for _, child := range c.Children {
			if !evaluateCondition(child, val) {
				return false
			}
		}
		return true
	case OpOR:
		for _, child := range c.Children {
			if evaluateCondition(child, val) {
				return true
			}
		}
		return false
	case OpNOT:
		return !evaluateCondition(c.Children[0], val)
	default:
		return evaluateComparison(c.Op, val, c.Value)
	}
}

func evaluateComparison(op ConditionOp, actual, target any) bool {
	if op == OpEQ || op == OpNE {
		eq := equalValues(actual, target)
		if op == OpEQ {
			return eq
		}
		return !eq
	}

	cmp, ok := compareOrdered(actual, target)
	if !ok {
		return false
	}
	switch op {
	case OpLT:
		return cmp < 0
	case OpGT:
		return cmp > 0
	case OpLTE:
		return cmp <= 0
	case OpGTE:
		return cmp >= 0
	default:
		return false
	}
}

func equalValues(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		if bt, ok := asTime(b); ok {
			return at.Equal(bt)
		}
		return false
	}
	an, aok := toComparableNumber(a)
	bn, bok := toComparableNumber(b)
	if aok && bok {
		return an == bn
	}
	return a == b
}

func compareOrdered(a, b any) (int, bool) {
	if at, ok := a.(time.Time); ok {
		if bt, ok := asTime(b); ok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	an, aok := toComparableNumber(a)
	bn, bok := toComparableNumber(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func toComparableNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
