// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/llmchat/internal/cloud"
	"github.com/jeranaias/llmchat/internal/config"
	"github.com/jeranaias/llmchat/internal/engine"
	"github.com/jeranaias/llmchat/internal/instance"
	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/model"
	"github.com/jeranaias/llmchat/internal/storage"
)

func TestMain(m *testing.M) {
	logging.Discard()
	os.Exit(m.Run())
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LLMCHAT_API_KEY", "OPENAI_API_KEY", "LLMCHAT_BASE_URL",
		"LLMCHAT_MODEL", "LLMCHAT_START_HIDDEN", "LLMCHAT_STORAGE", "LLMCHAT_HOME",
	} {
		t.Setenv(k, "")
	}
}

// =============================================================================
// FLAG TESTS
// =============================================================================

func TestParseFlags_Defaults(t *testing.T) {
	f, err := ParseFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, instance.DefaultName, f.Name)
	assert.False(t, f.Plain)
	assert.False(t, f.Hidden)
	assert.Empty(t, f.Args)
}

func TestParseFlags_PositionalStopsFlagParsing(t *testing.T) {
	f, err := ParseFlags([]string{"--plain", "--name", "work", "explain", "--hidden"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, f.Plain)
	assert.Equal(t, "work", f.Name)
	assert.False(t, f.Hidden, "flags after the message are message text")
	assert.Equal(t, []string{"explain", "--hidden"}, f.Args)
}

func TestParseFlags_Unknown(t *testing.T) {
	var stderr bytes.Buffer
	_, err := ParseFlags([]string{"--bogus"}, &stderr)
	assert.Error(t, err)
}

func TestResolveDir(t *testing.T) {
	clearEnv(t)
	flagDir := t.TempDir()
	dir, err := ResolveDir(flagDir)
	require.NoError(t, err)
	assert.Equal(t, flagDir, dir)

	envDir := t.TempDir()
	t.Setenv("LLMCHAT_HOME", envDir)
	dir, err = ResolveDir("")
	require.NoError(t, err)
	assert.Equal(t, envDir, dir)
}

func TestSelectMode(t *testing.T) {
	tests := []struct {
		stdin, stdout, plain bool
		want                 Mode
	}{
		{false, true, false, ModeHeadless},
		{false, false, true, ModeHeadless},
		{true, true, false, ModeTUI},
		{true, true, true, ModeREPL},
		{true, false, false, ModeREPL},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, SelectMode(tt.stdin, tt.stdout, tt.plain))
		})
	}
}

func TestSurfaceFor(t *testing.T) {
	assert.Nil(t, SurfaceFor(ModeHeadless))
	assert.NotNil(t, SurfaceFor(ModeREPL))
	assert.NotNil(t, SurfaceFor(ModeTUI))
}

func TestExecute_Version(t *testing.T) {
	var stdout bytes.Buffer
	code := Execute([]string{"--version"}, &stdout, io.Discard)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout.String(), "llmchat "+Version)
}

func TestIsConfigCommand(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{nil, false},
		{[]string{"config"}, true},
		{[]string{"config", "show"}, true},
		{[]string{"config", "set", "model_name", "x"}, true},
		{[]string{"config", "set-key"}, true},
		{[]string{"config", "is", "broken,", "help"}, false},
		{[]string{"explain", "config", "show"}, false},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, "_"), func(t *testing.T) {
			assert.Equal(t, tt.want, isConfigCommand(tt.args))
		})
	}
}

func TestExecute_BadFlag(t *testing.T) {
	assert.Equal(t, ExitUsage, Execute([]string{"--bogus"}, io.Discard, io.Discard))
}

// =============================================================================
// CONFIG COMMAND TESTS
// =============================================================================

func TestConfig_SetThenGet(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	var out bytes.Buffer
	cmd := &ConfigCommand{Dir: dir, Out: &out}

	require.NoError(t, cmd.Run([]string{"set", "model_name", "my-model"}))
	out.Reset()
	require.NoError(t, cmd.Run([]string{"get", "model_name"}))
	assert.Equal(t, "my-model\n", out.String())

	s, err := config.LoadStored(dir)
	require.NoError(t, err)
	assert.Equal(t, "my-model", s.ModelName)
}

func TestConfig_SetDoesNotPersistEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("LLMCHAT_BASE_URL", "https://env.example/v1")
	cmd := &ConfigCommand{Dir: dir, Out: io.Discard}

	require.NoError(t, cmd.Run([]string{"set", "start_hidden", "true"}))

	s, err := config.LoadStored(dir)
	require.NoError(t, err)
	assert.True(t, s.StartHidden)
	assert.Equal(t, config.DefaultBaseURL, s.BaseURL)
}

func TestConfig_SetRejectsBadValues(t *testing.T) {
	clearEnv(t)
	cmd := &ConfigCommand{Dir: t.TempDir(), Out: io.Discard}
	assert.Error(t, cmd.Run([]string{"set", "delivery.burst", "many"}))
	assert.Error(t, cmd.Run([]string{"set", "nope", "x"}))
	assert.Error(t, cmd.Run([]string{"set", "model_name"}))
}

func TestConfig_APIKeyOnlyThroughSetKey(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	var out bytes.Buffer
	cmd := &ConfigCommand{
		Dir:        dir,
		Out:        &out,
		ReadSecret: func(string) (string, error) { return "  sk-secret\n", nil },
	}

	assert.Error(t, cmd.Run([]string{"set", "api_key", "sk-visible"}))
	require.NoError(t, cmd.Run([]string{"set-key"}))

	s, err := config.LoadStored(dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", s.APIKey)

	out.Reset()
	require.NoError(t, cmd.Run([]string{"get", "api_key"}))
	assert.Equal(t, "[REDACTED]\n", out.String())

	out.Reset()
	require.NoError(t, cmd.Run([]string{"show"}))
	assert.NotContains(t, out.String(), "sk-secret")
}

func TestConfig_SetKeyEmpty(t *testing.T) {
	clearEnv(t)
	cmd := &ConfigCommand{
		Dir:        t.TempDir(),
		Out:        io.Discard,
		ReadSecret: func(string) (string, error) { return "\n", nil },
	}
	assert.Error(t, cmd.Run([]string{"set-key"}))
}

func TestConfig_Keys(t *testing.T) {
	var out bytes.Buffer
	cmd := &ConfigCommand{Dir: t.TempDir(), Out: &out}
	require.NoError(t, cmd.Run([]string{"keys"}))
	assert.Contains(t, out.String(), "model_name")
	assert.Contains(t, out.String(), "storage.backend")
}

func TestConfig_Unknown(t *testing.T) {
	cmd := &ConfigCommand{Dir: t.TempDir(), Out: io.Discard}
	assert.Error(t, cmd.Run([]string{"frobnicate"}))
}

// =============================================================================
// REPL TESTS
// =============================================================================

// scriptedReader returns lines in order, then io.EOF.
type scriptedReader struct {
	lines   []string
	history []string
}

func (r *scriptedReader) Prompt(string) (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) AppendHistory(item string) {
	r.history = append(r.history, item)
}

type streamFunc func(ctx context.Context, req cloud.Request, emit func(cloud.Fragment)) error

func (f streamFunc) Stream(ctx context.Context, req cloud.Request, emit func(cloud.Fragment)) error {
	return f(ctx, req, emit)
}

func newTestEngine(t *testing.T, initial model.Transcript, fn streamFunc) *engine.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), storage.FileName)
	store := storage.NewFileStore(path)
	if initial != nil {
		require.NoError(t, store.Save(initial))
	}
	settings := config.Default()
	settings.APIKey = "sk-test"
	eng := engine.New(engine.Options{Store: store, Streamer: fn, Settings: *settings})
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestREPL_StreamsReply(t *testing.T) {
	eng := newTestEngine(t, nil, func(ctx context.Context, req cloud.Request, emit func(cloud.Fragment)) error {
		emit(cloud.Fragment{Kind: cloud.FragmentContent, Text: "Hel"})
		emit(cloud.Fragment{Kind: cloud.FragmentContent, Text: "lo"})
		return nil
	})
	reader := &scriptedReader{lines: []string{"hi", "/quit"}}
	var out bytes.Buffer

	require.NoError(t, NewREPL(eng, reader, &out, nil).Run(context.Background()))

	assert.Contains(t, out.String(), "Assistant: Hello")
	assert.Equal(t, 1, strings.Count(out.String(), "Hello"))
	assert.NotContains(t, out.String(), "You: hi", "the typed line is not echoed")
	assert.Equal(t, []string{"hi", "/quit"}, reader.history)

	snap := eng.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "Hello", snap[1].Content)
}

func TestREPL_ReplaysExistingTranscript(t *testing.T) {
	eng := newTestEngine(t, model.Transcript{
		model.NewUserTurn("earlier question"),
		model.NewAssistantTurn("earlier answer"),
	}, func(context.Context, cloud.Request, func(cloud.Fragment)) error { return nil })
	var out bytes.Buffer

	require.NoError(t, NewREPL(eng, &scriptedReader{}, &out, nil).Run(context.Background()))
	assert.Contains(t, out.String(), "You: earlier question")
	assert.Contains(t, out.String(), "Assistant: earlier answer")
}

func TestREPL_Clear(t *testing.T) {
	eng := newTestEngine(t, model.Transcript{
		model.NewUserTurn("q"),
		model.NewAssistantTurn("a"),
	}, func(context.Context, cloud.Request, func(cloud.Fragment)) error { return nil })
	var out bytes.Buffer

	require.NoError(t, NewREPL(eng, &scriptedReader{lines: []string{"/clear"}}, &out, nil).Run(context.Background()))
	assert.Contains(t, out.String(), "Conversation cleared.")
	assert.Empty(t, eng.Snapshot())
}

func TestREPL_Commands(t *testing.T) {
	eng := newTestEngine(t, nil, func(context.Context, cloud.Request, func(cloud.Fragment)) error { return nil })
	settings := config.Default()
	settings.APIKey = "sk-hidden"
	var out bytes.Buffer

	reader := &scriptedReader{lines: []string{"/help", "/settings", "/nope", "   "}}
	require.NoError(t, NewREPL(eng, reader, &out, func() *config.Settings { return settings }).Run(context.Background()))

	assert.Contains(t, out.String(), "/clear")
	assert.Contains(t, out.String(), "model_name")
	assert.NotContains(t, out.String(), "sk-hidden")
	assert.Contains(t, out.String(), "Unknown command /nope")
	assert.Len(t, reader.history, 3, "blank lines are not recorded")
}

func TestREPL_Set(t *testing.T) {
	eng := newTestEngine(t, nil, func(context.Context, cloud.Request, func(cloud.Fragment)) error { return nil })
	var out bytes.Buffer
	saved := map[string]string{}

	repl := NewREPL(eng, &scriptedReader{lines: []string{
		"/set model_name other/model v2",
		"/set model_name",
		"/set api_key sk-x",
	}}, &out, nil)
	repl.SetSetting = func(key, value string) error {
		if key == "api_key" {
			return errors.New("not editable")
		}
		saved[key] = value
		return nil
	}
	require.NoError(t, repl.Run(context.Background()))

	assert.Equal(t, map[string]string{"model_name": "other/model v2"}, saved)
	assert.Contains(t, out.String(), "Saved model_name.")
	assert.Contains(t, out.String(), "Usage: /set")
	assert.Contains(t, out.String(), "Not saved: not editable")
}

func TestREPL_SetUnavailable(t *testing.T) {
	eng := newTestEngine(t, nil, func(context.Context, cloud.Request, func(cloud.Fragment)) error { return nil })
	var out bytes.Buffer
	require.NoError(t, NewREPL(eng, &scriptedReader{lines: []string{"/set a b"}}, &out, nil).Run(context.Background()))
	assert.Contains(t, out.String(), "cannot be changed here")
}

func TestREPL_ReportsSubmitError(t *testing.T) {
	eng := newTestEngine(t, nil, func(context.Context, cloud.Request, func(cloud.Fragment)) error { return nil })
	eng.Close()
	var out bytes.Buffer

	require.NoError(t, NewREPL(eng, &scriptedReader{lines: []string{"hi"}}, &out, nil).Run(context.Background()))
	assert.Contains(t, out.String(), "Not sent: ")
}

type failingReader struct{}

func (failingReader) Prompt(string) (string, error) { return "", errors.New("tty gone") }
func (failingReader) AppendHistory(string)          {}

func TestREPL_ReaderError(t *testing.T) {
	eng := newTestEngine(t, nil, func(context.Context, cloud.Request, func(cloud.Fragment)) error { return nil })
	err := NewREPL(eng, failingReader{}, io.Discard, nil).Run(context.Background())
	assert.EqualError(t, err, "tty gone")
}

func TestREPL_Export(t *testing.T) {
	eng := newTestEngine(t, model.Transcript{
		model.NewUserTurn("q"),
		model.NewAssistantTurn("a"),
	}, func(context.Context, cloud.Request, func(cloud.Fragment)) error { return nil })
	var out bytes.Buffer
	repl := NewREPL(eng, &scriptedReader{lines: []string{"/export json", "/export pdf"}}, &out, nil)
	repl.ExportDir = t.TempDir()

	require.NoError(t, repl.Run(context.Background()))
	assert.Contains(t, out.String(), "Exported to "+repl.ExportDir)
	assert.Contains(t, out.String(), "unknown export format")

	matches, err := filepath.Glob(filepath.Join(repl.ExportDir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
