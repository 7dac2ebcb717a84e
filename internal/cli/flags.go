// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/jeranaias/llmchat/internal/config"
	"github.com/jeranaias/llmchat/internal/instance"
)

// Flags holds the parsed global flags.
type Flags struct {
	Home    string
	Name    string
	Hidden  bool
	Plain   bool
	Verbose bool
	Version bool
	Help    bool

	// Args are the positional arguments left after the flags.
	Args []string
}

// ParseFlags parses args (without the program name).
func ParseFlags(args []string, stderr io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := pflag.NewFlagSet("llmchat", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)

	fs.StringVar(&f.Home, "home", "", "state directory (default $LLMCHAT_HOME or ~/.llmchat)")
	fs.StringVar(&f.Name, "name", instance.DefaultName, "instance name; launches with the same name share one owner")
	fs.BoolVar(&f.Hidden, "hidden", false, "run the owner without a surface")
	fs.BoolVar(&f.Plain, "plain", false, "use the line-mode prompt instead of the full-screen chat")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "log debug detail")
	fs.BoolVar(&f.Version, "version", false, "print the version and exit")
	fs.BoolVarP(&f.Help, "help", "h", false, "show this help")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "\nChat with an OpenAI-compatible model.\n\n %s [flags] [message ...]\n %s config show|keys|get|set|set-key\n\n",
			filepath.Base(os.Args[0]), filepath.Base(os.Args[0]))
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.Help {
		fs.Usage()
	}
	f.Args = fs.Args()
	return f, nil
}

// ResolveDir picks the state directory: flag, then $LLMCHAT_HOME, then
// ~/.llmchat.
func ResolveDir(flagDir string) (string, error) {
	if flagDir != "" {
		return filepath.Abs(flagDir)
	}
	dir, err := config.DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Abs(dir)
}
