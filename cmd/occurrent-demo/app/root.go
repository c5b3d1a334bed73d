// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the cli subcommands for the occurrent-demo binary.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "occurrent-demo",
	Short: "occurrent-demo exercises an event store against the in-memory backend",
	Long:  `occurrent-demo appends and subscribes to events through the in-memory occurrent.Store, for local exploration without a MongoDB deployment.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	RootCmd.SetOut(os.Stdout)
	RootCmd.SetErr(os.Stderr)
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
