// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/llmchat/internal/cloud"
	"github.com/jeranaias/llmchat/internal/config"
	"github.com/jeranaias/llmchat/internal/instance"
	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/model"
	"github.com/jeranaias/llmchat/internal/storage"
)

func TestMain(m *testing.M) {
	logging.Discard()
	os.Exit(m.Run())
}

// gatedStreamer answers "reply" once release is closed.
type gatedStreamer struct {
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newGatedStreamer() *gatedStreamer {
	return &gatedStreamer{release: make(chan struct{})}
}

func (g *gatedStreamer) Stream(ctx context.Context, req cloud.Request, emit func(cloud.Fragment)) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case <-g.release:
		emit(cloud.Fragment{Kind: cloud.FragmentContent, Text: "reply"})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func startOwner(t *testing.T, dir string, streamer cloud.Streamer) *Owner {
	t.Helper()
	outcome, err := instance.NewArbiter(dir, "test").Arbitrate()
	require.NoError(t, err)
	require.True(t, outcome.IsOwner())

	owner, err := StartOwner(OwnerOptions{Dir: dir, Name: "test", Streamer: streamer, DisableWatcher: true}, outcome.Lease)
	require.NoError(t, err)
	t.Cleanup(func() { owner.Shutdown(context.Background()) })
	return owner
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// =============================================================================
// TWO-LAUNCH TESTS
// =============================================================================

func TestTwoLaunches_FollowerForwardsToOwner(t *testing.T) {
	t.Setenv("LLMCHAT_API_KEY", "sk-test")
	dir := t.TempDir()
	streamer := newGatedStreamer()
	owner := startOwner(t, dir, streamer)

	// Second launch on the same state directory.
	second, err := instance.NewArbiter(dir, "test").Arbitrate()
	require.NoError(t, err)
	require.False(t, second.IsOwner(), "exactly one launch may own the lease")

	require.NoError(t, RunFollower(context.Background(), dir, "test", JoinArgs([]string{"hello"})))

	eng := owner.Engine()
	require.Eventually(t, eng.IsPending, 5*time.Second, 5*time.Millisecond)

	snap := eng.Snapshot()
	require.Equal(t, 2, snap.Len())
	assert.Equal(t, model.NewUserTurn("hello"), snap[0])

	// Nothing has been persisted yet, so any settings or transcript file
	// would have come from the follower.
	assert.False(t, exists(config.SettingsPath(dir)))
	assert.False(t, exists(filepath.Join(dir, storage.FileName)))

	close(streamer.release)
	require.Eventually(t, func() bool { return !eng.IsPending() }, 5*time.Second, 5*time.Millisecond)

	persisted := storage.NewFileStore(filepath.Join(dir, storage.FileName)).Load()
	assert.Equal(t, model.Transcript{
		model.NewUserTurn("hello"),
		model.NewAssistantTurn("reply"),
	}, persisted)
}

func TestTwoLaunches_EmptyFollowerOnlyActivates(t *testing.T) {
	t.Setenv("LLMCHAT_API_KEY", "sk-test")
	dir := t.TempDir()
	owner := startOwner(t, dir, newGatedStreamer())

	// Drain the activation from startup, if any.
	select {
	case <-owner.Activations():
	default:
	}

	require.NoError(t, RunFollower(context.Background(), dir, "test", JoinArgs(nil)))

	select {
	case <-owner.Activations():
	case <-time.After(5 * time.Second):
		t.Fatal("owner was not activated")
	}
	assert.Equal(t, 0, owner.Engine().Snapshot().Len())
	assert.False(t, owner.Engine().IsPending())
}

func TestRunFollower_NoOwnerIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, RunFollower(ctx, t.TempDir(), "test", "hello"))
}

// =============================================================================
// OWNER LIFECYCLE TESTS
// =============================================================================

func TestOwner_ShutdownWithdrawsAndReleases(t *testing.T) {
	t.Setenv("LLMCHAT_API_KEY", "sk-test")
	dir := t.TempDir()
	owner := startOwner(t, dir, newGatedStreamer())

	_, err := instance.Resolve(dir, "test")
	require.NoError(t, err)

	require.NoError(t, owner.Shutdown(context.Background()))
	require.NoError(t, owner.Shutdown(context.Background()))

	_, err = instance.Resolve(dir, "test")
	assert.ErrorIs(t, err, instance.ErrOwnerNotFound)

	next, err := instance.NewArbiter(dir, "test").Arbitrate()
	require.NoError(t, err)
	assert.True(t, next.IsOwner())
	next.Lease.Release()
}

func TestOwner_ShutdownWithinTimeoutWhileStreaming(t *testing.T) {
	t.Setenv("LLMCHAT_API_KEY", "sk-test")
	dir := t.TempDir()
	owner := startOwner(t, dir, newGatedStreamer())
	owner.SubmitLaunchInput("never answered")
	require.True(t, owner.Engine().IsPending())

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- owner.Shutdown(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("owner shutdown did not return")
	}

	next, err := instance.AcquireLease(dir, "test")
	require.NoError(t, err, "lease is free after shutdown")
	next.Release()
}

func TestOwner_LaunchInputStartsTurn(t *testing.T) {
	t.Setenv("LLMCHAT_API_KEY", "sk-test")
	dir := t.TempDir()
	streamer := newGatedStreamer()
	owner := startOwner(t, dir, streamer)

	owner.SubmitLaunchInput("what is go")
	assert.True(t, owner.Engine().IsPending())
	assert.Equal(t, "what is go", owner.Engine().Snapshot()[0].Content)
	close(streamer.release)
}

func TestOwner_SaveSettingsAppliesToEngine(t *testing.T) {
	t.Setenv("LLMCHAT_API_KEY", "sk-test")
	dir := t.TempDir()
	owner := startOwner(t, dir, newGatedStreamer())

	events, unsubscribe := owner.Engine().Subscribe()
	defer unsubscribe()

	s := owner.Settings()
	s.ModelName = "another/model"
	require.NoError(t, owner.SaveSettings(s))

	assert.Equal(t, "another/model", owner.Settings().ModelName)
	assert.True(t, exists(config.SettingsPath(dir)))

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind.String() == "settings_changed" {
				return
			}
		case <-timeout:
			t.Fatal("engine never saw the new settings")
		}
	}
}

func TestOwner_SaveSettingsRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	owner := startOwner(t, dir, newGatedStreamer())

	s := owner.Settings()
	s.Storage.Backend = "floppy"
	assert.Error(t, owner.SaveSettings(s))
	assert.False(t, exists(config.SettingsPath(dir)))
}

func TestOwner_SetSettingPersistsAndApplies(t *testing.T) {
	t.Setenv("LLMCHAT_API_KEY", "sk-test")
	dir := t.TempDir()
	owner := startOwner(t, dir, newGatedStreamer())

	require.NoError(t, owner.SetSetting("model_name", "other/model"))
	assert.Equal(t, "other/model", owner.Settings().ModelName)
	assert.Equal(t, "sk-test", owner.Settings().APIKey, "env override still applies")

	stored, err := config.LoadStored(dir)
	require.NoError(t, err)
	assert.Equal(t, "other/model", stored.ModelName)
	assert.Empty(t, stored.APIKey, "env override is not written to disk")
}

func TestOwner_SetSettingRejects(t *testing.T) {
	dir := t.TempDir()
	owner := startOwner(t, dir, newGatedStreamer())

	assert.ErrorIs(t, owner.SetSetting("api_key", "sk-x"), ErrAPIKeyEdit)
	assert.Error(t, owner.SetSetting("no_such_key", "x"))
	assert.Error(t, owner.SetSetting("storage.backend", "floppy"))
	assert.False(t, exists(config.SettingsPath(dir)))
}

func TestRun_HeadlessOwnerExitsOnCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Run(ctx, Options{Dir: dir, Name: "test", Hidden: true, Streamer: newGatedStreamer()}) }()

	require.Eventually(t, func() bool {
		_, err := instance.Resolve(dir, "test")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	_, err := instance.Resolve(dir, "test")
	assert.ErrorIs(t, err, instance.ErrOwnerNotFound)

	lease, err := instance.AcquireLease(dir, "test")
	require.NoError(t, err, "lease is released when Run returns")
	lease.Release()
}

func TestRun_SurfaceReceivesOwner(t *testing.T) {
	dir := t.TempDir()
	var got *Owner
	err := Run(context.Background(), Options{
		Dir:      dir,
		Name:     "test",
		Streamer: newGatedStreamer(),
		Surface: func(ctx context.Context, o *Owner) error {
			got = o
			return nil
		},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, dir, got.Dir())
}
