// Package llm provides the transport to the generation service: a Client
// interface with Ollama, OpenAI, and Anthropic HTTP backends.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no generation backend is configured.
var ErrNotConfigured = errors.New("llm: backend not configured")

// ErrUnsupportedBackend is returned when an unknown backend is specified.
var ErrUnsupportedBackend = errors.New("llm: unsupported backend")

// Client is the generation-service transport.
type Client interface {
	// Complete generates a text completion for the given prompt.
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)

	// Model returns the model identifier being used.
	Model() string

	// Backend returns the backend type (e.g., "ollama", "openai", "anthropic").
	Backend() string
}

// CompletionOptions configures completion behavior.
type CompletionOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness. 0.0 is deterministic.
	Temperature float64

	// SystemPrompt is an optional system-level instruction.
	SystemPrompt string

	// JSONMode requests JSON output from supported backends.
	JSONMode bool
}

// DefaultCompletionOptions returns defaults suited to structured decisions.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{
		MaxTokens:   1024,
		Temperature: 0.2,
	}
}

// Config holds generation-service configuration.
type Config struct {
	// Backend is "ollama", "openai", "anthropic", or "" / "disabled".
	Backend string

	// Model is the model identifier.
	Model string

	// URL is the base URL for the API (primarily for Ollama).
	URL string

	// APIKey is the key for cloud providers; falls back to environment
	// variables when unset.
	APIKey string

	// Timeout bounds each HTTP call. Zero means 30 seconds.
	Timeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// NewClient creates a client for the configured backend. A missing or
// disabled backend returns ErrNotConfigured; callers treat that as the
// degraded questioning mode, not a failure.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Backend {
	case "", "disabled":
		return nil, ErrNotConfigured

	case "ollama":
		url := cfg.URL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "llama3.2"
		}
		return NewOllamaClient(url, model, cfg.timeout()), nil

	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("llm: OpenAI API key required (set apiKey or OPENAI_API_KEY)")
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAIClient(apiKey, model, cfg.timeout()), nil

	case "anthropic":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("llm: Anthropic API key required (set apiKey or ANTHROPIC_API_KEY)")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-3-haiku-20240307"
		}
		return NewAnthropicClient(apiKey, model, cfg.timeout()), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Backend)
	}
}

// ExtractJSON pulls the first JSON value out of a response that may wrap it
// in markdown code fences or prose.
func ExtractJSON(response string) string {
	if start := findJSONStart(response); start >= 0 {
		if end := findJSONEnd(response, start); end > start {
			return response[start:end]
		}
	}
	return response
}

func findJSONStart(s string) int {
	for _, p := range []string{"```json\n", "```json\r\n"} {
		if idx := strings.Index(s, p); idx >= 0 {
			return idx + len(p)
		}
	}
	for i, c := range s {
		if c == '{' || c == '[' {
			return i
		}
	}
	return -1
}

func findJSONEnd(s string, start int) int {
	depth := 0
	inString := false
	escape := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(s)
}

// ParseJSONResponse extracts and parses JSON from a completion.
func ParseJSONResponse(response string, result any) error {
	if err := json.Unmarshal([]byte(ExtractJSON(response)), result); err != nil {
		return fmt.Errorf("parse JSON response: %w (raw: %s)", err, truncate(response, 200))
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
