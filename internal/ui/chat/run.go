// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/llmchat/internal/app"
	"github.com/jeranaias/llmchat/internal/engine"
	"github.com/jeranaias/llmchat/internal/ui/styles"
)

// Sender is the part of tea.Program the pump needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Pump relays engine events and activations into the program until ctx is
// done or the event channel closes.
func Pump(ctx context.Context, p Sender, events <-chan engine.Event, activations <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Send(EngineEventMsg{Event: ev})
		case <-activations:
			p.Send(ActivateMsg{})
		}
	}
}

// Run shows the chat screen for the owner. It is an app.Surface.
func Run(ctx context.Context, o *app.Owner) error {
	settings := o.Settings()
	eng := o.Engine()

	m := New(Options{
		Conversation: eng,
		Theme:        styles.NewTheme(),
		Markdown:     settings.UI.Markdown,
		Watermark:    settings.UI.Watermark,
		ModelName:    func() string { return o.Settings().ModelName },
		ExportDir:    filepath.Join(o.Dir(), "exports"),
	})

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	events, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	pumpCtx, stop := context.WithCancel(ctx)
	defer stop()
	go Pump(pumpCtx, p, events, o.Activations())

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
