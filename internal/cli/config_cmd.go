// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/jeranaias/llmchat/internal/config"
)

// apiKeyField is the dotted key holding the API key.
const apiKeyField = "api_key"

// ConfigCommand implements "llmchat config". It edits settings.toml in
// place and never takes the instance lease.
type ConfigCommand struct {
	Dir string
	Out io.Writer

	// ReadSecret reads the API key without echo. Defaults to the terminal.
	ReadSecret func(prompt string) (string, error)
}

// configVerbs are the subcommands Run understands.
var configVerbs = []string{"show", "keys", "get", "set", "set-key"}

// Run dispatches a config subcommand.
func (c *ConfigCommand) Run(args []string) error {
	if len(args) == 0 {
		args = []string{"show"}
	}
	switch args[0] {
	case "show":
		return c.show()
	case "keys":
		for _, k := range config.Keys() {
			fmt.Fprintln(c.Out, k)
		}
		return nil
	case "get":
		if len(args) != 2 {
			return errors.New("usage: config get <key>")
		}
		return c.get(args[1])
	case "set":
		if len(args) != 3 {
			return errors.New("usage: config set <key> <value>")
		}
		return c.set(args[1], args[2])
	case "set-key":
		return c.setKey()
	default:
		return fmt.Errorf("unknown config command %q (show, keys, get, set, set-key)", args[0])
	}
}

// show prints the effective settings, environment overrides included.
func (c *ConfigCommand) show() error {
	s, err := config.Load(c.Dir)
	if err != nil {
		fmt.Fprintln(c.Out, warningStyle.Render("warning: "+err.Error()))
	}
	fmt.Fprint(c.Out, s.String())
	return nil
}

func (c *ConfigCommand) get(key string) error {
	s, err := config.Load(c.Dir)
	if err != nil {
		fmt.Fprintln(c.Out, warningStyle.Render("warning: "+err.Error()))
	}
	v, err := s.Get(key)
	if err != nil {
		return err
	}
	if key == apiKeyField && v != "" {
		v = "[REDACTED]"
	}
	fmt.Fprintln(c.Out, v)
	return nil
}

func (c *ConfigCommand) set(key, value string) error {
	if key == apiKeyField {
		return errors.New("use 'config set-key' so the key stays out of shell history")
	}
	s, err := c.stored()
	if err != nil {
		return err
	}
	if err := s.Set(key, value); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := config.Save(c.Dir, s); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, infoStyle.Render(fmt.Sprintf("%s updated", key)))
	return nil
}

func (c *ConfigCommand) setKey() error {
	read := c.ReadSecret
	if read == nil {
		read = readSecret
	}
	key, err := read("API key: ")
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("no key entered")
	}

	s, err := c.stored()
	if err != nil {
		return err
	}
	s.APIKey = key
	if err := config.Save(c.Dir, s); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, infoStyle.Render("API key saved"))
	return nil
}

// stored loads the on-disk settings, creating the directory on first use.
func (c *ConfigCommand) stored() (*config.Settings, error) {
	if err := config.EnsureDir(c.Dir); err != nil {
		return nil, err
	}
	return config.LoadStored(c.Dir)
}

// readSecret prompts on stderr and reads without echo when stdin is a
// terminal, or a plain line otherwise.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return line, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
