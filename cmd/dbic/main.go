// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/z5labs/dbic/internal/cli"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err := cli.NewRootCommand(version).ExecuteContext(ctx)
	if err != nil {
		cancel()
		os.Exit(1)
	}
}
