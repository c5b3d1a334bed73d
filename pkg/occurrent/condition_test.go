// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package occurrent_test

import (
	"testing"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
)

func TestConditionDescribe(t *testing.T) {
	cases := []struct {
		name string
		c    occurrent.Condition
		want string
	}{
		{"eq", occurrent.Eq(10), "to be equal to 10"},
		{"lt", occurrent.Lt(5), "to be less than 5"},
		{"gt", occurrent.Gt(5), "to be greater than 5"},
		{"and", occurrent.And(occurrent.Gte(1), occurrent.Lte(10)), "to be greater than or equal to 1 and to be less than or equal to 10"},
		{"not", occurrent.Not(occurrent.Eq(3)), "not to be equal to 3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.c.Describe(); got != tc.want {
				t.Fatalf("Describe() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestConditionValidateOrderability(t *testing.T) {
	if err := occurrent.Eq("x").Validate(false); err != nil {
		t.Fatalf("Eq should be valid on a non-orderable attribute: %v", err)
	}
	if err := occurrent.Lt(1).Validate(false); err == nil {
		t.Fatal("Lt on a non-orderable attribute should be rejected")
	}
	if err := occurrent.Lt(1).Validate(true); err != nil {
		t.Fatalf("Lt should be valid on an orderable attribute: %v", err)
	}
}

func TestCompositeConstructorsPanicOnArity(t *testing.T) {
	cases := []struct {
		name string
		fn   func()
	}{
		{"and needs 2+", func() { occurrent.And(occurrent.Eq(1)) }},
		{"or needs 2+", func() { occurrent.Or() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			tc.fn()
		})
	}
}
