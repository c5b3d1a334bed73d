// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package main provides the entrypoint for the occurrent-demo CLI.
package main

import "github.com/occurrent-go/occurrent/cmd/occurrent-demo/app"

func main() {
	app.Execute()
}
