// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package occurrent_test

import (
	"errors"
	"testing"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
)

func TestWriteConditionEvaluate(t *testing.T) {
	cases := []struct {
		name    string
		wc      occurrent.WriteCondition
		current int64
		want    bool
	}{
		{"any version always succeeds", occurrent.AnyVersion(), 0, true},
		{"eq matches", occurrent.StreamVersionCondition(occurrent.Eq(3)), 3, true},
		{"eq mismatches", occurrent.StreamVersionCondition(occurrent.Eq(3)), 2, false},
		{"and both hold", occurrent.StreamVersionCondition(occurrent.And(occurrent.Gte(1), occurrent.Lte(10))), 5, true},
		{"and one fails", occurrent.StreamVersionCondition(occurrent.And(occurrent.Gte(1), occurrent.Lte(10))), 11, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.wc.Evaluate(tc.current); got != tc.want {
				t.Fatalf("Evaluate(%d) = %v, want %v", tc.current, got, tc.want)
			}
		})
	}
}

func TestWriteConditionNotFulfilledErrorMessage(t *testing.T) {
	wc := occurrent.StreamVersionCondition(occurrent.Eq(10))
	err := occurrent.NewWriteConditionNotFulfilledError(wc.Condition().Describe(), 1)

	want := "Expected version to be equal to 10 but was 1."
	if got := err.Error(); got != "write condition not fulfilled: "+want {
		t.Fatalf("Error() = %q, want suffix %q", got, want)
	}
	if !errors.Is(err, occurrent.ErrWriteConditionNotFulfilled) {
		t.Fatal("expected errors.Is to match ErrWriteConditionNotFulfilled")
	}
}
