// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/llmchat/internal/secret"
	"github.com/jeranaias/llmchat/internal/util"
)

// =============================================================================
// SETTINGS STRUCTURES
// =============================================================================

// Settings is the persisted session configuration.
type Settings struct {
	APIKey      string `toml:"api_key" json:"api_key"`
	BaseURL     string `toml:"base_url" json:"base_url"`
	ModelName   string `toml:"model_name" json:"model_name"`
	StartHidden bool   `toml:"start_hidden" json:"start_hidden"`

	Storage  StorageConfig  `toml:"storage" json:"storage"`
	Delivery DeliveryConfig `toml:"delivery" json:"delivery"`
	UI       UIConfig       `toml:"ui" json:"ui"`
	Security SecurityConfig `toml:"security" json:"security"`
}

// StorageConfig selects the transcript backend.
type StorageConfig struct {
	// Backend is "json" (chathistory.json) or "sqlite" (chathistory.db).
	Backend string `toml:"backend" json:"backend"`
}

// DeliveryConfig tunes the loopback receiver that accepts forwarded input.
type DeliveryConfig struct {
	RatePerSecond float64 `toml:"rate_per_second" json:"rate_per_second"`
	Burst         int     `toml:"burst" json:"burst"`
}

// UIConfig holds front-end preferences.
type UIConfig struct {
	Markdown  bool `toml:"markdown" json:"markdown"`
	Watermark bool `toml:"watermark" json:"watermark"`
}

// SecurityConfig controls at-rest protection of the API key.
type SecurityConfig struct {
	EncryptAPIKey bool `toml:"encrypt_api_key" json:"encrypt_api_key"`
}

// legacySettings is the settings.json layout written by earlier releases.
type legacySettings struct {
	APIKey      string `json:"ApiKey"`
	BaseURL     string `json:"BaseUrl"`
	ModelName   string `json:"ModelName"`
	StartHidden bool   `json:"StartHidden"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultBaseURL   = "https://api.siliconflow.cn/v1"
	DefaultModelName = "Qwen/Qwen2.5-7B-Instruct"

	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		APIKey:      "",
		BaseURL:     DefaultBaseURL,
		ModelName:   DefaultModelName,
		StartHidden: false,

		Storage: StorageConfig{
			Backend: BackendJSON,
		},
		Delivery: DeliveryConfig{
			RatePerSecond: 5,
			Burst:         10,
		},
		UI: UIConfig{
			Markdown:  true,
			Watermark: true,
		},
	}
}

// fillDefaults repairs zero values in sections that must never be empty.
// Top-level fields are left alone: an explicitly empty base_url is a valid
// state that the conversation reports in-line.
func fillDefaults(s *Settings) {
	defaults := Default()
	if s.Storage.Backend == "" {
		s.Storage.Backend = defaults.Storage.Backend
	}
	if s.Delivery.RatePerSecond == 0 {
		s.Delivery.RatePerSecond = defaults.Delivery.RatePerSecond
	}
	if s.Delivery.Burst == 0 {
		s.Delivery.Burst = defaults.Delivery.Burst
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// DefaultDir returns the state directory: $LLMCHAT_HOME or ~/.llmchat.
func DefaultDir() (string, error) {
	if dir := os.Getenv("LLMCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".llmchat"), nil
}

// SettingsPath returns the TOML settings file inside dir.
func SettingsPath(dir string) string {
	return filepath.Join(dir, "settings.toml")
}

// LegacyPath returns the JSON settings file written by earlier releases.
func LegacyPath(dir string) string {
	return filepath.Join(dir, "settings.json")
}

// EnsureDir creates the state directory with owner-only permissions.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads settings from dir. It tries settings.toml, then the legacy
// settings.json, then falls back to defaults. Environment overrides are
// applied last.
//
// Load always returns usable settings. A non-nil error is informational:
// the file was unreadable or invalid and defaults were used in its place.
func Load(dir string) (*Settings, error) {
	s, loadErr := loadFile(dir)

	if secret.IsSealed(s.APIKey) {
		if err := openAPIKey(dir, s); err != nil {
			loadErr = errors.Join(loadErr, err)
		}
	}

	s.ApplyEnvOverrides()

	if err := s.Validate(); err != nil {
		fallback := Default()
		fallback.ApplyEnvOverrides()
		return fallback, errors.Join(loadErr, fmt.Errorf("invalid settings: %w", err))
	}
	return s, loadErr
}

// LoadStored returns the settings as written on disk, with a sealed key
// opened but without environment overrides. Editing commands start from
// this so an override is never written back to the file.
func LoadStored(dir string) (*Settings, error) {
	s, err := loadFile(dir)
	if err != nil {
		return nil, err
	}
	if secret.IsSealed(s.APIKey) {
		if err := openAPIKey(dir, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// loadFile decodes whichever settings file exists, without env overrides.
func loadFile(dir string) (*Settings, error) {
	tomlPath := SettingsPath(dir)
	if _, err := os.Stat(tomlPath); err == nil {
		s := Default()
		if err := LoadTOML(s, tomlPath); err != nil {
			return Default(), fmt.Errorf("failed to load TOML settings: %w", err)
		}
		return s, nil
	}

	jsonPath := LegacyPath(dir)
	if _, err := os.Stat(jsonPath); err == nil {
		s := Default()
		if err := LoadLegacyJSON(s, jsonPath); err != nil {
			return Default(), fmt.Errorf("failed to load JSON settings: %w", err)
		}
		return s, nil
	}

	return Default(), nil
}

// LoadTOML decodes a TOML settings file into s.
// SECURITY: tightens permissions on load, since the file may hold the API key.
func LoadTOML(s *Settings, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, s); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(s)
	return nil
}

// LoadLegacyJSON decodes the PascalCase settings.json format into s.
// Keys missing from the file keep their current values.
func LoadLegacyJSON(s *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}

	legacy := legacySettings{
		APIKey:      s.APIKey,
		BaseURL:     s.BaseURL,
		ModelName:   s.ModelName,
		StartHidden: s.StartHidden,
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}

	s.APIKey = legacy.APIKey
	s.BaseURL = legacy.BaseURL
	s.ModelName = legacy.ModelName
	s.StartHidden = legacy.StartHidden
	fillDefaults(s)
	return nil
}

// ensureSecurePermissions resets the file mode to 0600 if it is wider.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// openAPIKey replaces a sealed api_key with its plaintext. On failure the
// key is cleared so requests report a missing key instead of sending garbage.
func openAPIKey(dir string, s *Settings) error {
	sealer, err := secret.NewSealer(dir)
	if err == nil {
		var plain string
		if plain, err = sealer.Open(s.APIKey); err == nil {
			s.APIKey = plain
			return nil
		}
	}
	s.APIKey = ""
	return fmt.Errorf("failed to unseal api_key: %w", err)
}

// LoadDotEnv loads KEY=VALUE files into the environment. Variables that are
// already set win, and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes s to dir/settings.toml atomically with 0600 permissions.
// When security.encrypt_api_key is set the key is sealed first; s itself is
// not modified.
func Save(dir string, s *Settings) error {
	if err := EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	out := s.Clone()
	if out.Security.EncryptAPIKey && out.APIKey != "" {
		sealer, err := secret.NewSealer(dir)
		if err != nil {
			return fmt.Errorf("failed to prepare key sealing: %w", err)
		}
		if out.APIKey, err = sealer.Seal(out.APIKey); err != nil {
			return fmt.Errorf("failed to seal api_key: %w", err)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("# llmchat settings\n")
	buf.WriteString("# Written by llmchat; edits are picked up while it runs.\n\n")
	if err := toml.NewEncoder(&buf).Encode(out); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	// RELIABILITY: atomic write, readers never see a truncated file
	if err := util.AtomicWriteFile(SettingsPath(dir), buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a single invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the settings. An empty api_key or base_url is allowed;
// those are reported in the conversation when a turn is submitted.
func (s *Settings) Validate() error {
	var errs ValidateErrors

	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "base_url",
				Message: fmt.Sprintf("invalid URL '%s'", s.BaseURL),
			})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, ValidationError{
				Field:   "base_url",
				Message: fmt.Sprintf("unsupported scheme '%s', must be http or https", u.Scheme),
			})
		}
	}

	switch strings.ToLower(s.Storage.Backend) {
	case BackendJSON, BackendSQLite:
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: json, sqlite", s.Storage.Backend),
		})
	}

	if s.Delivery.RatePerSecond <= 0 {
		errs = append(errs, ValidationError{
			Field:   "delivery.rate_per_second",
			Message: "must be greater than 0",
		})
	}
	if s.Delivery.Burst < 1 {
		errs = append(errs, ValidationError{
			Field:   "delivery.burst",
			Message: "must be at least 1",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - LLMCHAT_API_KEY: overrides api_key (OPENAI_API_KEY is used if unset)
//   - LLMCHAT_BASE_URL: overrides base_url
//   - LLMCHAT_MODEL: overrides model_name
//   - LLMCHAT_START_HIDDEN: "1" or "true" to start without a surface
//   - LLMCHAT_STORAGE: overrides storage.backend
func (s *Settings) ApplyEnvOverrides() {
	if key := os.Getenv("LLMCHAT_API_KEY"); key != "" {
		s.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && s.APIKey == "" {
		s.APIKey = key
	}

	if u := os.Getenv("LLMCHAT_BASE_URL"); u != "" {
		s.BaseURL = u
	}

	if model := os.Getenv("LLMCHAT_MODEL"); model != "" {
		s.ModelName = model
	}

	if hidden := os.Getenv("LLMCHAT_START_HIDDEN"); hidden != "" {
		s.StartHidden = hidden == "1" || strings.ToLower(hidden) == "true"
	}

	if backend := os.Getenv("LLMCHAT_STORAGE"); backend != "" {
		s.Storage.Backend = strings.ToLower(backend)
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value using dot notation (e.g., "storage.backend").
func (s *Settings) Get(key string) (interface{}, error) {
	field, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value using dot notation. String values are converted to
// the field's type.
func (s *Settings) Set(key string, value interface{}) error {
	field, err := s.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the dotted key down the struct.
func (s *Settings) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(s).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section, not a value", key)
			}
			return field, nil
		}

		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts snake_case or kebab-case to a Go field name.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(part[:1]))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := parseBool(strVal)
			if err != nil {
				return err
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %q", s)
}

// Keys returns every settable key in dot notation, sorted.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := strings.Split(f.Tag.Get("toml"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, prefix+name+".")
				continue
			}
			keys = append(keys, prefix+name)
		}
	}
	walk(reflect.TypeOf(Settings{}), "")
	sort.Strings(keys)
	return keys
}

// =============================================================================
// HELPERS
// =============================================================================

// Clone returns a copy. Settings holds only value fields.
func (s *Settings) Clone() *Settings {
	clone := *s
	return &clone
}

// String renders the settings as TOML with the API key redacted.
func (s *Settings) String() string {
	safe := s.Clone()
	if safe.APIKey != "" {
		safe.APIKey = "[REDACTED]"
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("<unprintable settings: %v>", err)
	}
	return buf.String()
}
