// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// SETTINGS STRUCTURES
// =============================================================================

// Settings represents the complete localm configuration.
type Settings struct {
	// SystemPrompt is prepended as a system turn to every conversation.
	SystemPrompt string `toml:"system_prompt"`

	// AutoSaveMinutes is the inactivity window before the active session
	// is saved and the model is unloaded. 0 disables the watchdog.
	AutoSaveMinutes int `toml:"auto_save_minutes"`

	// Engine configuration (local Ollama server)
	Engine EngineSettings `toml:"engine"`

	// History persistence configuration
	History HistorySettings `toml:"history"`

	// Title generation configuration
	Title TitleSettings `toml:"title"`
}

// EngineSettings contains local inference engine configuration.
type EngineSettings struct {
	// BaseURL is the URL of the Ollama server
	BaseURL string `toml:"base_url"`
	// Model is the model name to load at startup
	Model string `toml:"model"`
	// Threads is the CPU thread count passed to the engine (0 = engine default)
	Threads int `toml:"threads"`
	// ContextSize is the context window in tokens (0 = engine default)
	ContextSize int `toml:"context_size"`
	// MaxTokens caps the length of a generated reply
	MaxTokens int `toml:"max_tokens"`
	// Temperature controls sampling randomness
	Temperature float64 `toml:"temperature"`
}

// HistorySettings contains chat history persistence configuration.
type HistorySettings struct {
	// Backend selects the store implementation: "file" or "sqlite"
	Backend string `toml:"backend"`
	// Path overrides the default store location (empty = default under ~/.localm)
	Path string `toml:"path"`
}

// TitleSettings contains automatic title generation configuration.
type TitleSettings struct {
	// TimeoutSecs bounds how long title generation may run before the
	// fallback title is used
	TimeoutSecs int `toml:"timeout_secs"`
	// MaxTokens caps the generated title length
	MaxTokens int `toml:"max_tokens"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Settings with sensible default values.
func Default() *Settings {
	return &Settings{
		SystemPrompt:    "You are a helpful assistant.",
		AutoSaveMinutes: 5,

		Engine: EngineSettings{
			BaseURL:     "http://127.0.0.1:11434",
			Model:       "qwen2.5:7b",
			Threads:     0,
			ContextSize: 4096,
			MaxTokens:   1024,
			Temperature: 0.7,
		},

		History: HistorySettings{
			Backend: "file",
			Path:    "",
		},

		Title: TitleSettings{
			TimeoutSecs: 5,
			MaxTokens:   16,
		},
	}
}

// AutoSaveInterval returns the watchdog duration, or 0 when disabled.
func (s *Settings) AutoSaveInterval() time.Duration {
	if s.AutoSaveMinutes <= 0 {
		return 0
	}
	return time.Duration(s.AutoSaveMinutes) * time.Minute
}

// TitleTimeout returns the title generation deadline.
func (s *Settings) TitleTimeout() time.Duration {
	return time.Duration(s.Title.TimeoutSecs) * time.Second
}

// HistoryPath returns the configured store path, falling back to the
// default location for the selected backend.
func (s *Settings) HistoryPath() (string, error) {
	if s.History.Path != "" {
		return s.History.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if s.History.Backend == "sqlite" {
		return filepath.Join(dir, "history.db"), nil
	}
	return filepath.Join(dir, "history.json"), nil
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// Dir returns the localm configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".localm"), nil
}

// Path returns the path to the settings file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.toml"), nil
}

// EnsureDir ensures the configuration directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads settings from the default location. A missing file yields
// defaults; a malformed file is an error so a typo never silently resets
// the configuration.
func Load() (*Settings, error) {
	path, err := Path()
	if err != nil {
		return Default(), nil
	}
	return LoadFrom(path)
}

// LoadFrom loads settings from an explicit path.
func LoadFrom(path string) (*Settings, error) {
	s := Default()

	if _, err := os.Stat(path); err != nil {
		s.applyEnvOverrides()
		s.clamp()
		return s, nil
	}

	if _, err := toml.DecodeFile(path, s); err != nil {
		return nil, fmt.Errorf("failed to decode settings file: %w", err)
	}

	s.applyEnvOverrides()
	s.clamp()
	return s, nil
}

// Save writes settings to the default location.
func Save(s *Settings) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(s, path)
}

// SaveTo writes settings to an explicit path.
func SaveTo(s *Settings, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create settings file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# localm settings file")
	fmt.Fprintln(file, "# Generated by localm - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return nil
}

// =============================================================================
// OVERRIDES AND CLAMPING
// =============================================================================

// applyEnvOverrides applies LOCALM_* environment variables over the
// loaded values.
func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv("LOCALM_BASE_URL"); v != "" {
		s.Engine.BaseURL = v
	}
	if v := os.Getenv("LOCALM_MODEL"); v != "" {
		s.Engine.Model = v
	}
	if v := os.Getenv("LOCALM_AUTO_SAVE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.AutoSaveMinutes = n
		}
	}
}

// clamp forces out-of-range values back to usable bounds rather than
// failing the load.
func (s *Settings) clamp() {
	if s.AutoSaveMinutes < 0 {
		s.AutoSaveMinutes = 0
	}
	if s.Engine.BaseURL == "" {
		s.Engine.BaseURL = Default().Engine.BaseURL
	}
	if s.Engine.Threads < 0 {
		s.Engine.Threads = 0
	}
	if s.Engine.ContextSize < 0 {
		s.Engine.ContextSize = 0
	}
	if s.Engine.MaxTokens <= 0 {
		s.Engine.MaxTokens = Default().Engine.MaxTokens
	}
	if s.Engine.Temperature < 0 {
		s.Engine.Temperature = 0
	}
	if s.Engine.Temperature > 2 {
		s.Engine.Temperature = 2
	}
	if s.Title.TimeoutSecs <= 0 {
		s.Title.TimeoutSecs = Default().Title.TimeoutSecs
	}
	if s.Title.MaxTokens <= 0 {
		s.Title.MaxTokens = Default().Title.MaxTokens
	}
	if s.History.Backend != "file" && s.History.Backend != "sqlite" {
		s.History.Backend = "file"
	}
}
