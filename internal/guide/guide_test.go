package guide

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/9erson/openclaw/internal/model"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	set, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, ct := range []model.ContextType{model.ContextOnboarding, model.ContextProject, model.ContextTopic} {
		g, err := set.ForContext(ct)
		if err != nil {
			t.Fatalf("ForContext(%s): %v", ct, err)
		}
		if g.Threshold != 70 {
			t.Errorf("%s threshold = %d, want 70", ct, g.Threshold)
		}
		if g.QuestionCap != 12 {
			t.Errorf("%s question cap = %d, want 12", ct, g.QuestionCap)
		}
		if len(g.Required) == 0 {
			t.Errorf("%s has no required slots", ct)
		}
	}

	onboarding, _ := set.ForContext(model.ContextOnboarding)
	wantSlots := []string{"mission", "scope", "non_negotiables", "success_signals"}
	for _, name := range wantSlots {
		if _, ok := onboarding.SlotByName(name); !ok {
			t.Errorf("onboarding guide missing slot %s", name)
		}
	}
}

func TestLoadOverride(t *testing.T) {
	dir := t.TempDir()
	override := `
context_type: topic
threshold: 50
question_cap: 6
levels: [grammar, logic]
required: [what]
slots:
  - name: what
    level: grammar
    prompt: "What is it?"
`
	if err := os.WriteFile(filepath.Join(dir, "topic.yaml"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	g, err := set.ForContext(model.ContextTopic)
	if err != nil {
		t.Fatal(err)
	}
	if g.Threshold != 50 || g.QuestionCap != 6 {
		t.Errorf("override not applied: threshold=%d cap=%d", g.Threshold, g.QuestionCap)
	}
	// Other guides stay at embedded defaults.
	onboarding, _ := set.ForContext(model.ContextOnboarding)
	if onboarding.Threshold != 70 {
		t.Errorf("onboarding threshold = %d, want 70", onboarding.Threshold)
	}
}

func TestLoadRejectsBrokenOverride(t *testing.T) {
	dir := t.TempDir()
	broken := `
context_type: topic
threshold: 50
question_cap: 6
levels: [grammar]
required: [missing_slot]
slots:
  - name: what
    level: grammar
    prompt: "What is it?"
`
	if err := os.WriteFile(filepath.Join(dir, "topic.yaml"), []byte(broken), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("Load accepted an override whose required slot is undefined")
	}
}

func TestNextSlotAndRemaining(t *testing.T) {
	set, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	g, _ := set.ForContext(model.ContextOnboarding)

	accepted := map[string]bool{}
	isAccepted := func(name string) bool { return accepted[name] }

	sl, ok := g.NextSlot(isAccepted)
	if !ok || sl.Name != "mission" {
		t.Fatalf("first slot = %q, want mission", sl.Name)
	}

	accepted["mission"] = true
	accepted["scope"] = true
	sl, ok = g.NextSlot(isAccepted)
	if !ok || sl.Name != "non_negotiables" {
		t.Fatalf("next slot = %q, want non_negotiables", sl.Name)
	}

	remaining := g.Remaining(isAccepted)
	want := []string{"non_negotiables", "success_signals"}
	if len(remaining) != len(want) {
		t.Fatalf("remaining = %v, want %v", remaining, want)
	}

	for _, name := range g.Required {
		accepted[name] = true
	}
	if _, ok := g.NextSlot(isAccepted); ok {
		t.Error("NextSlot should report done when all required slots are accepted")
	}
	if rem := g.Remaining(isAccepted); len(rem) != 0 {
		t.Errorf("remaining = %v, want empty", rem)
	}
}

func TestConstrainedPrompt(t *testing.T) {
	set, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	g, _ := set.ForContext(model.ContextOnboarding)
	sl, _ := g.SlotByName("mission")

	prompt := g.ConstrainedPrompt(sl)
	if !strings.Contains(prompt, "Options:") {
		t.Fatalf("constrained prompt has no options: %q", prompt)
	}
	if !strings.Contains(prompt, "a)") || !strings.Contains(prompt, "b)") {
		t.Errorf("constrained prompt not enumerated: %q", prompt)
	}

	bare := Slot{Name: "x", Level: "grammar", Prompt: "plain"}
	if got := g.ConstrainedPrompt(bare); got != "plain" {
		t.Errorf("slot without choices should keep its prompt, got %q", got)
	}
}
