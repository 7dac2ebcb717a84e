// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/llmchat/internal/instance"
	"github.com/jeranaias/llmchat/internal/logging"
)

// SendTimeout bounds a follower's single delivery attempt.
const SendTimeout = 3 * time.Second

var (
	// ErrUnauthorized means the owner rejected the token, usually because
	// the endpoint file is stale.
	ErrUnauthorized = errors.New("delivery rejected: unauthorized")

	// ErrBusy means the owner received the payload but could not take it
	// as a new turn (a response was already streaming).
	ErrBusy = errors.New("delivery rejected: owner busy")
)

// sendClient never follows redirects and never uses a proxy: the target is
// always a loopback address.
var sendClient = &http.Client{
	Timeout: SendTimeout,
	Transport: &http.Transport{
		Proxy:             nil,
		DisableKeepAlives: true,
	},
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// Send makes one delivery attempt to ep. There is no retry.
func Send(ctx context.Context, ep instance.Endpoint, payload string) error {
	ctx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL(DeliverPath), strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+ep.Token)

	resp, err := sendClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivering to %s: %w", ep.Addr, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK:
		return nil
	case http.StatusConflict:
		return ErrBusy
	case http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("delivery failed with status %d (%s)", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
}

// resolveInterval is how often Deliver looks for the owner's endpoint.
const resolveInterval = 100 * time.Millisecond

// Deliver resolves the owner advertised under name in dir and sends
// payload to it. The endpoint is polled for up to wait, which covers an
// owner that holds the lease but has not advertised yet. It returns
// instance.ErrOwnerNotFound when there is no owner to deliver to.
func Deliver(ctx context.Context, dir, name, payload string, wait time.Duration) error {
	ep, err := waitResolve(ctx, dir, name, wait)
	if err != nil {
		return err
	}
	logging.Info.Printf("delivering %d bytes to owner pid=%d at %s", len(payload), ep.PID, ep.Addr)
	return Send(ctx, ep, payload)
}

func waitResolve(ctx context.Context, dir, name string, wait time.Duration) (instance.Endpoint, error) {
	deadline := time.Now().Add(wait)
	for {
		ep, err := instance.Resolve(dir, name)
		if err == nil || !errors.Is(err, instance.ErrOwnerNotFound) || !time.Now().Before(deadline) {
			return ep, err
		}
		select {
		case <-ctx.Done():
			return instance.Endpoint{}, ctx.Err()
		case <-time.After(resolveInterval):
		}
	}
}
