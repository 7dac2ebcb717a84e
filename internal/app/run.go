// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jeranaias/llmchat/internal/cloud"
	"github.com/jeranaias/llmchat/internal/delivery"
	"github.com/jeranaias/llmchat/internal/instance"
	"github.com/jeranaias/llmchat/internal/logging"
)

const (
	// ShutdownTimeout bounds the owner's teardown.
	ShutdownTimeout = 5 * time.Second

	// resolveWait covers the window between an owner taking the lease and
	// advertising its endpoint.
	resolveWait = 2 * time.Second
)

// Surface is an interactive front-end. It returns when the user quits or
// ctx is cancelled.
type Surface func(ctx context.Context, o *Owner) error

// Options configures Run.
type Options struct {
	Dir  string
	Name string

	// Input is the joined positional launch arguments.
	Input string

	// Hidden runs the owner headless regardless of settings.
	Hidden bool

	// Surface is run by the owner unless headless. Nil means headless.
	Surface Surface

	Streamer cloud.Streamer
}

// JoinArgs turns positional launch arguments into launch input.
func JoinArgs(args []string) string {
	return strings.Join(args, " ")
}

// Run performs one launch: follower or owner.
func Run(ctx context.Context, opts Options) error {
	if opts.Name == "" {
		opts.Name = instance.DefaultName
	}

	outcome, err := instance.NewArbiter(opts.Dir, opts.Name).Arbitrate()
	if err != nil {
		return err
	}
	if !outcome.IsOwner() {
		logging.Info.Printf("another instance owns %q; forwarding launch input", opts.Name)
		return RunFollower(ctx, opts.Dir, opts.Name, opts.Input)
	}

	owner, err := StartOwner(OwnerOptions{
		Dir:      opts.Dir,
		Name:     opts.Name,
		Streamer: opts.Streamer,
	}, outcome.Lease)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := owner.Shutdown(sctx); err != nil {
			logging.Warn.Printf("shutdown: %v", err)
		}
	}()

	owner.SubmitLaunchInput(opts.Input)

	if opts.Hidden || owner.Settings().StartHidden || opts.Surface == nil {
		logging.Info.Printf("running headless")
		<-ctx.Done()
		return nil
	}
	return opts.Surface(ctx, owner)
}

// RunFollower forwards input to the owner. A missing or unreachable owner
// is logged, not returned: the follower's job ends either way.
func RunFollower(ctx context.Context, dir, name, input string) error {
	err := delivery.Deliver(ctx, dir, name, input, resolveWait)
	switch {
	case err == nil:
	case errors.Is(err, instance.ErrOwnerNotFound):
		logging.Warn.Printf("no owner to deliver to: %v", err)
	default:
		logging.Warn.Printf("delivery failed: %v", err)
	}
	return nil
}
