// Package config defines the workspace layout and loads the optional
// .openclaw/openclaw.jsonc configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/muhammadmuzzammil1998/jsonc"
)

// LLMConfig selects and tunes the generation-service backend.
type LLMConfig struct {
	// Backend is "ollama", "openai", "anthropic", or "" / "disabled".
	Backend string `json:"backend"`
	Model   string `json:"model"`
	URL     string `json:"url"`
	APIKey  string `json:"apiKey"`
	// TimeoutSeconds bounds each completion call. Default 30.
	TimeoutSeconds int `json:"timeoutSeconds"`
}

// QuestioningConfig tunes the turn cycle. Zero values fall back to the
// defaults below.
type QuestioningConfig struct {
	// RetryCeiling is how many rejected attempts a slot tolerates before the
	// next question for it becomes constrained-choice.
	RetryCeiling int `json:"retryCeiling"`
	// HistoryWindow is how many recent turns accompany a question request.
	HistoryWindow int `json:"historyWindow"`
	// QuestionCap overrides the per-guide question cap when > 0.
	QuestionCap int `json:"questionCap"`
	// Threshold overrides the per-guide completion threshold when > 0.
	Threshold int `json:"threshold"`
}

// Config is the full workspace configuration.
type Config struct {
	SchemaVersion int               `json:"schemaVersion"`
	LLM           LLMConfig         `json:"llm"`
	Questioning   QuestioningConfig `json:"questioning"`
}

const (
	DefaultRetryCeiling  = 2
	DefaultHistoryWindow = 10
	DefaultQuestionCap   = 12
	DefaultThreshold     = 70
	DefaultLLMTimeout    = 30
)

// Default returns the configuration used when no config file exists. The
// generation service starts unconfigured; questioning still works in
// degraded mode.
func Default() Config {
	return Config{
		SchemaVersion: 1,
		LLM:           LLMConfig{TimeoutSeconds: DefaultLLMTimeout},
		Questioning: QuestioningConfig{
			RetryCeiling:  DefaultRetryCeiling,
			HistoryWindow: DefaultHistoryWindow,
		},
	}
}

// ClawDir returns the workspace metadata directory.
func ClawDir(root string) string {
	return filepath.Join(root, ".openclaw")
}

// ConfigPath returns the configuration file path.
func ConfigPath(root string) string {
	return filepath.Join(ClawDir(root), "openclaw.jsonc")
}

// IndexPath returns the global session index path.
func IndexPath(root string) string {
	return filepath.Join(ClawDir(root), "index.json")
}

// JournalPath returns the sqlite turn journal path.
func JournalPath(root string) string {
	return filepath.Join(ClawDir(root), "journal.db")
}

// GuidesDir returns the directory holding guide overrides.
func GuidesDir(root string) string {
	return filepath.Join(ClawDir(root), "guides")
}

// PillarDir returns the directory of a pillar.
func PillarDir(root, pillar string) string {
	return filepath.Join(root, "pillars", "active", pillar)
}

// ProjectDir returns the directory of a project inside a pillar.
func ProjectDir(root, pillar, project string) string {
	return filepath.Join(PillarDir(root, pillar), "projects", project)
}

// EnsureLayout creates the workspace directories.
func EnsureLayout(root string) (string, error) {
	clawDir := ClawDir(root)
	dirs := []string{
		clawDir,
		GuidesDir(root),
		filepath.Join(root, "pillars", "active"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", d, err)
		}
	}
	return clawDir, nil
}

// Load reads the workspace configuration, returning defaults when the file
// does not exist.
func Load(root string) (Config, error) {
	cfg := Default()
	path := ConfigPath(root)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(b), &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Questioning.RetryCeiling <= 0 {
		cfg.Questioning.RetryCeiling = DefaultRetryCeiling
	}
	if cfg.Questioning.HistoryWindow <= 0 {
		cfg.Questioning.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = DefaultLLMTimeout
	}
	return cfg, nil
}

// WriteStarter writes a commented starter config unless one already exists.
func WriteStarter(root string, force bool) error {
	path := ConfigPath(root)
	if _, err := os.Stat(path); err == nil && !force {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

const starterConfig = `{
  // openclaw workspace configuration
  "schemaVersion": 1,
  "llm": {
    // "ollama", "openai", "anthropic", or "disabled"
    "backend": "disabled",
    "model": "",
    "url": "",
    "apiKey": "",
    "timeoutSeconds": 30
  },
  "questioning": {
    "retryCeiling": 2,
    "historyWindow": 10,
    // 0 means use the guide defaults
    "questionCap": 0,
    "threshold": 0
  }
}
`
