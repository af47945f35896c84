// Package guide provides the questioning guides: per-context-type slot
// definitions with levels, prompts, constrained-choice options, completion
// thresholds, and question caps. Embedded defaults can be overridden per
// workspace with .openclaw/guides/<context>.yaml files.
package guide

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/9erson/openclaw/internal/model"
)

//go:embed guides.yaml
var defaultGuides []byte

// Slot is one piece of information a guide wants captured.
type Slot struct {
	Name    string   `yaml:"name"`
	Level   string   `yaml:"level"`
	Prompt  string   `yaml:"prompt"`
	Choices []string `yaml:"choices,omitempty"`
}

// Guide describes the questioning plan for one context type.
type Guide struct {
	ContextType model.ContextType `yaml:"context_type"`
	Threshold   int               `yaml:"threshold"`
	QuestionCap int               `yaml:"question_cap"`
	Levels      []string          `yaml:"levels"`
	Slots       []Slot            `yaml:"slots"`
	Required    []string          `yaml:"required"`
}

type guideFile struct {
	SchemaVersion int     `yaml:"schema_version"`
	Guides        []Guide `yaml:"guides"`
}

// Set holds the loaded guides keyed by context type.
type Set map[model.ContextType]*Guide

// Load returns the embedded guides merged with any workspace overrides in
// overrideDir (one <context>.yaml per guide; an override replaces the whole
// guide for that context type).
func Load(overrideDir string) (Set, error) {
	var base guideFile
	if err := yaml.Unmarshal(defaultGuides, &base); err != nil {
		return nil, fmt.Errorf("parse embedded guides: %w", err)
	}
	set := make(Set, len(base.Guides))
	for i := range base.Guides {
		g := base.Guides[i]
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("embedded guide %s: %w", g.ContextType, err)
		}
		set[g.ContextType] = &base.Guides[i]
	}

	if overrideDir == "" {
		return set, nil
	}
	entries, err := os.ReadDir(overrideDir)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, fmt.Errorf("read guide overrides: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		path := filepath.Join(overrideDir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read guide override %s: %w", path, err)
		}
		var g Guide
		if err := yaml.Unmarshal(b, &g); err != nil {
			return nil, fmt.Errorf("parse guide override %s: %w", path, err)
		}
		if g.ContextType == "" {
			g.ContextType = model.ContextType(strings.TrimSuffix(name, ".yaml"))
		}
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("guide override %s: %w", path, err)
		}
		set[g.ContextType] = &g
	}
	return set, nil
}

// ForContext returns the guide for a context type.
func (s Set) ForContext(ct model.ContextType) (*Guide, error) {
	g, ok := s[ct]
	if !ok {
		return nil, fmt.Errorf("no guide for context type %q", ct)
	}
	return g, nil
}

func (g *Guide) validate() error {
	if len(g.Slots) == 0 {
		return fmt.Errorf("guide has no slots")
	}
	if len(g.Levels) == 0 {
		return fmt.Errorf("guide has no levels")
	}
	levels := make(map[string]bool, len(g.Levels))
	for _, l := range g.Levels {
		levels[l] = true
	}
	names := make(map[string]bool, len(g.Slots))
	for _, sl := range g.Slots {
		if sl.Name == "" || sl.Prompt == "" {
			return fmt.Errorf("slot %q needs a name and a prompt", sl.Name)
		}
		if !levels[sl.Level] {
			return fmt.Errorf("slot %q uses unknown level %q", sl.Name, sl.Level)
		}
		names[sl.Name] = true
	}
	for _, r := range g.Required {
		if !names[r] {
			return fmt.Errorf("required slot %q is not defined", r)
		}
	}
	if g.Threshold <= 0 {
		return fmt.Errorf("guide threshold must be positive")
	}
	if g.QuestionCap <= 0 {
		return fmt.Errorf("guide question cap must be positive")
	}
	return nil
}

// SlotByName returns the named slot.
func (g *Guide) SlotByName(name string) (Slot, bool) {
	for _, sl := range g.Slots {
		if sl.Name == name {
			return sl, true
		}
	}
	return Slot{}, false
}

// FirstSlot returns the opening slot of the guide.
func (g *Guide) FirstSlot() Slot {
	return g.Slots[0]
}

// NextSlot returns the first required slot not yet in accepted, falling back
// to the first undefined-order slot, and false when every required slot is
// satisfied.
func (g *Guide) NextSlot(accepted func(string) bool) (Slot, bool) {
	for _, name := range g.Required {
		if !accepted(name) {
			sl, _ := g.SlotByName(name)
			return sl, true
		}
	}
	for _, sl := range g.Slots {
		if !accepted(sl.Name) {
			return sl, true
		}
	}
	return Slot{}, false
}

// Remaining lists the required slots not yet accepted.
func (g *Guide) Remaining(accepted func(string) bool) []string {
	var out []string
	for _, name := range g.Required {
		if !accepted(name) {
			out = append(out, name)
		}
	}
	return out
}

// ConstrainedPrompt renders the slot prompt with its answer options, used
// when a slot has exhausted its open-ended retries.
func (g *Guide) ConstrainedPrompt(slot Slot) string {
	if len(slot.Choices) == 0 {
		return slot.Prompt
	}
	var b strings.Builder
	b.WriteString(slot.Prompt)
	b.WriteString("\nOptions:")
	for i, c := range slot.Choices {
		fmt.Fprintf(&b, "\n  %c) %s", 'a'+i, c)
	}
	return b.String()
}
