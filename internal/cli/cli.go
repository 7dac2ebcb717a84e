// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/llmchat/internal/app"
	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/ui/chat"
)

// Version is set at build time with -ldflags.
var Version = "0.1.0"

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// Execute runs one launch and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	flags, err := ParseFlags(args, stderr)
	if err != nil {
		return ExitUsage
	}
	if flags.Help {
		return ExitOK
	}
	if flags.Version {
		fmt.Fprintf(stdout, "llmchat %s\n", Version)
		return ExitOK
	}

	dir, err := ResolveDir(flags.Home)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}

	lipgloss.SetColorProfile(ColorProfile(flags.Plain))

	if isConfigCommand(flags.Args) {
		cmd := &ConfigCommand{Dir: dir, Out: stdout}
		if err := cmd.Run(flags.Args[1:]); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return ExitError
		}
		return ExitOK
	}

	closeLog, err := logging.Setup(dir, flags.Verbose)
	if err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := SelectMode(IsTTY(), IsStdoutTTY(), flags.Plain)
	logging.Info.Printf("launch | dir=%s name=%s mode=%s", dir, flags.Name, mode)

	err = app.Run(ctx, app.Options{
		Dir:     dir,
		Name:    flags.Name,
		Input:   app.JoinArgs(flags.Args),
		Hidden:  flags.Hidden,
		Surface: SurfaceFor(mode),
	})
	if err != nil {
		logging.Error.Printf("run: %v", err)
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}
	return ExitOK
}

// SurfaceFor maps a mode to the owner's surface. Headless has none.
func SurfaceFor(mode Mode) app.Surface {
	switch mode {
	case ModeTUI:
		return chat.Run
	case ModeREPL:
		return RunREPL
	default:
		return nil
	}
}

// isConfigCommand reports whether args name the config subcommand rather
// than launch input. "config" followed by anything but a known verb is
// sent as a message.
func isConfigCommand(args []string) bool {
	if len(args) == 0 || args[0] != "config" {
		return false
	}
	if len(args) == 1 {
		return true
	}
	for _, verb := range configVerbs {
		if args[1] == verb {
			return true
		}
	}
	return false
}
