// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeranaias/llmchat/internal/cloud"
	"github.com/jeranaias/llmchat/internal/config"
	"github.com/jeranaias/llmchat/internal/delivery"
	"github.com/jeranaias/llmchat/internal/engine"
	"github.com/jeranaias/llmchat/internal/instance"
	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/storage"
)

// ErrAPIKeyEdit is returned when the API key is edited as a plain setting.
var ErrAPIKeyEdit = errors.New("the API key is set with 'llmchat config set-key'")

// OwnerOptions configures StartOwner.
type OwnerOptions struct {
	Dir  string
	Name string

	// Streamer overrides the completion client. Tests use fakes.
	Streamer cloud.Streamer

	// DisableWatcher skips the settings file watcher.
	DisableWatcher bool
}

// Owner is the running core of the owning process.
type Owner struct {
	dir   string
	name  string
	lease *instance.Lease

	mu       sync.RWMutex
	settings *config.Settings

	store   storage.Store
	engine  *engine.Engine
	server  *delivery.Server
	watcher *config.Watcher

	activations chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// StartOwner brings up the core for a process that holds lease. On error
// everything already started is torn down again, the lease included.
func StartOwner(opts OwnerOptions, lease *instance.Lease) (o *Owner, err error) {
	o = &Owner{
		dir:         opts.Dir,
		name:        opts.Name,
		lease:       lease,
		activations: make(chan struct{}, 1),
	}
	defer func() {
		if err != nil {
			o.Shutdown(context.Background())
			o = nil
		}
	}()

	if err := config.LoadDotEnv(filepath.Join(opts.Dir, ".env"), ".env"); err != nil {
		logging.Warn.Printf("ignoring .env: %v", err)
	}
	settings, loadErr := config.Load(opts.Dir)
	if loadErr != nil {
		logging.Warn.Printf("settings: %v", loadErr)
	}
	o.settings = settings
	logging.Info.Printf("settings: %s", settings)

	store, err := storage.Open(settings.Storage.Backend, opts.Dir)
	if err != nil {
		logging.Error.Printf("opening %s store, falling back to json: %v", settings.Storage.Backend, err)
		store, err = storage.Open(config.BackendJSON, opts.Dir)
		if err != nil {
			return o, fmt.Errorf("opening transcript store: %w", err)
		}
	}
	o.store = store

	streamer := opts.Streamer
	if streamer == nil {
		streamer = cloud.NewClient()
	}
	o.engine = engine.New(engine.Options{
		Store:    store,
		Streamer: streamer,
		Settings: *settings,
	})

	o.server = delivery.NewServer(delivery.Config{
		Submitter:     o.engine,
		Activator:     delivery.ActivatorFunc(o.activate),
		RatePerSecond: settings.Delivery.RatePerSecond,
		Burst:         settings.Delivery.Burst,
	})
	ep, err := o.server.Start()
	if err != nil {
		return o, err
	}
	if err := instance.Advertise(opts.Dir, opts.Name, ep); err != nil {
		return o, err
	}

	if !opts.DisableWatcher {
		w, err := config.NewWatcher(opts.Dir, config.DefaultDebounce, o.applySettings)
		if err != nil {
			logging.Warn.Printf("settings watcher disabled: %v", err)
		} else {
			o.watcher = w
		}
	}

	logging.Info.Printf("owner ready: pid=%d endpoint=%s", ep.PID, ep.Addr)
	return o, nil
}

// Engine returns the conversation engine.
func (o *Owner) Engine() *engine.Engine {
	return o.engine
}

// Dir returns the state directory.
func (o *Owner) Dir() string {
	return o.dir
}

// Activations delivers a signal each time a follower asks the owner to
// come to the front. Signals coalesce when nobody is reading.
func (o *Owner) Activations() <-chan struct{} {
	return o.activations
}

func (o *Owner) activate() {
	select {
	case o.activations <- struct{}{}:
	default:
	}
}

// Settings returns a copy of the settings in effect.
func (o *Owner) Settings() *config.Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings.Clone()
}

// SaveSettings persists s and applies it, with environment overrides on
// top, to subsequent cycles.
func (o *Owner) SaveSettings(s *config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := config.Save(o.dir, s); err != nil {
		return err
	}
	effective := s.Clone()
	effective.ApplyEnvOverrides()
	o.applySettings(effective)
	return nil
}

// SetSetting edits one stored setting by dot-notation key and saves it.
// The API key is not editable this way.
func (o *Owner) SetSetting(key, value string) error {
	if strings.EqualFold(strings.TrimSpace(key), "api_key") {
		return ErrAPIKeyEdit
	}
	stored, err := config.LoadStored(o.dir)
	if err != nil {
		return err
	}
	if err := stored.Set(key, value); err != nil {
		return err
	}
	return o.SaveSettings(stored)
}

// applySettings is also the watcher callback.
func (o *Owner) applySettings(s *config.Settings) {
	o.mu.Lock()
	prev := o.settings
	o.settings = s
	o.mu.Unlock()

	if prev != nil && !strings.EqualFold(prev.Storage.Backend, s.Storage.Backend) {
		logging.Warn.Printf("storage backend change to %q takes effect after restart", s.Storage.Backend)
	}
	o.engine.UpdateSettings(*s)
}

// SubmitLaunchInput handles the owner's own launch arguments the same way
// a forwarded payload is handled: blank input only activates.
func (o *Owner) SubmitLaunchInput(input string) {
	o.activate()
	if strings.TrimSpace(input) == "" {
		return
	}
	if err := o.engine.SubmitTurn(input); err != nil {
		logging.Warn.Printf("launch input not submitted: %v", err)
	}
}

// Shutdown stops the core in reverse start order. A response still
// streaming is abandoned without being saved. Safe to call more than once.
func (o *Owner) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		var errs []error
		if o.server != nil {
			if err := instance.Withdraw(o.dir, o.name); err != nil {
				errs = append(errs, err)
			}
			if err := o.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stopping delivery server: %w", err))
			}
		}
		if o.watcher != nil {
			if err := o.watcher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("stopping settings watcher: %w", err))
			}
		}
		if o.engine != nil {
			o.engine.Close()
		}
		if o.store != nil {
			if err := o.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing transcript store: %w", err))
			}
		}
		if o.lease != nil {
			if err := o.lease.Release(); err != nil {
				errs = append(errs, fmt.Errorf("releasing lease: %w", err))
			}
		}
		o.shutdownErr = errors.Join(errs...)
		logging.Info.Printf("owner stopped")
	})
	return o.shutdownErr
}
