// llmchat - Chat with an OpenAI-compatible model from the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/jeranaias/llmchat/internal/cli"
	"github.com/jeranaias/llmchat/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildDate)
}

func main() {
	os.Exit(run())
}

// run keeps deferred cleanup ahead of os.Exit.
func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error.Printf("panic: %v\n%s", r, debug.Stack())
			fmt.Fprintf(os.Stderr, "llmchat crashed: %v\n", r)
			code = cli.ExitError
		}
	}()
	return cli.Execute(os.Args[1:], os.Stdout, os.Stderr)
}
