package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Questioning.RetryCeiling != DefaultRetryCeiling {
		t.Errorf("retry ceiling = %d, want %d", cfg.Questioning.RetryCeiling, DefaultRetryCeiling)
	}
	if cfg.Questioning.HistoryWindow != DefaultHistoryWindow {
		t.Errorf("history window = %d, want %d", cfg.Questioning.HistoryWindow, DefaultHistoryWindow)
	}
	if cfg.LLM.Backend != "" {
		t.Errorf("backend = %q, want unconfigured", cfg.LLM.Backend)
	}
	if cfg.LLM.TimeoutSeconds != DefaultLLMTimeout {
		t.Errorf("timeout = %d, want %d", cfg.LLM.TimeoutSeconds, DefaultLLMTimeout)
	}
}

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	path := ConfigPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadParsesComments(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{
		// generation backend
		"llm": {
			"backend": "ollama", // local
			"model": "llama3.2"
		},
		"questioning": {
			"retryCeiling": 3,
			"questionCap": 8
		}
	}`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Backend != "ollama" || cfg.LLM.Model != "llama3.2" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Questioning.RetryCeiling != 3 || cfg.Questioning.QuestionCap != 8 {
		t.Errorf("questioning = %+v", cfg.Questioning)
	}
	// Unset fields are backfilled.
	if cfg.Questioning.HistoryWindow != DefaultHistoryWindow {
		t.Errorf("history window = %d, want %d", cfg.Questioning.HistoryWindow, DefaultHistoryWindow)
	}
	if cfg.LLM.TimeoutSeconds != DefaultLLMTimeout {
		t.Errorf("timeout = %d, want %d", cfg.LLM.TimeoutSeconds, DefaultLLMTimeout)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{"llm": `)
	if _, err := Load(root); err == nil {
		t.Fatal("Load accepted a truncated config")
	}
}

func TestWriteStarter(t *testing.T) {
	root := t.TempDir()
	if err := WriteStarter(root, false); err != nil {
		t.Fatalf("WriteStarter: %v", err)
	}
	b, err := os.ReadFile(ConfigPath(root))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "//") {
		t.Error("starter config has no comments")
	}
	// The starter itself must load.
	if _, err := Load(root); err != nil {
		t.Errorf("starter config does not parse: %v", err)
	}

	// Existing config survives a non-forced write.
	writeConfig(t, root, `{"questioning": {"retryCeiling": 5}}`)
	if err := WriteStarter(root, false); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Questioning.RetryCeiling != 5 {
		t.Error("WriteStarter overwrote an existing config")
	}
}

func TestEnsureLayout(t *testing.T) {
	root := t.TempDir()
	clawDir, err := EnsureLayout(root)
	if err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	for _, d := range []string{clawDir, GuidesDir(root), filepath.Join(root, "pillars", "active")} {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			t.Errorf("missing directory %s: %v", d, err)
		}
	}
}
