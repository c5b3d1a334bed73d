// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"strings"
	"testing"
)

type testWriter struct {
	output strings.Builder
}

func (tw *testWriter) Write(p []byte) (n int, err error) {
	return tw.output.Write(p)
}

func TestRunCommandAppendsAndDeliversEvents(t *testing.T) {
	tw := &testWriter{}
	RootCmd.SetOut(tw)
	RootCmd.SetErr(tw)
	RootCmd.SetArgs([]string{"run"})

	if err := RootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	out := tw.output.String()
	if !strings.Contains(out, "demo.counter.incremented") {
		t.Fatalf("run command output = %q, want it to mention the demo event type", out)
	}
	if strings.Count(out, "demo.counter.incremented") != 3 {
		t.Fatalf("run command delivered %d events, want 3", strings.Count(out, "demo.counter.incremented"))
	}
}
