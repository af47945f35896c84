package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/9erson/openclaw/internal/guide"
	"github.com/9erson/openclaw/internal/llm"
	"github.com/9erson/openclaw/internal/model"
)

type fakeClient struct {
	resp string
	err  error
	// last prompt seen, for request-shape assertions
	prompt string
}

func (f *fakeClient) Complete(_ context.Context, prompt string, _ llm.CompletionOptions) (string, error) {
	f.prompt = prompt
	return f.resp, f.err
}

func (f *fakeClient) Model() string   { return "fake" }
func (f *fakeClient) Backend() string { return "fake" }

func testRequest(t *testing.T) Request {
	t.Helper()
	set, err := guide.Load("")
	if err != nil {
		t.Fatal(err)
	}
	g, err := set.ForContext(model.ContextOnboarding)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	sess := &model.Session{
		ID:          "cq-abc123def456",
		ContextType: model.ContextOnboarding,
		Status:      model.StatusInProgress,
		Pillar:      "health",
		QuestionCap: 12,
		Coverage:    model.NewCoverage(g.Levels),
		Captured:    map[string]string{},
		RetryCounts: map[string]int{},
		CurrentQuestion: &model.Question{
			Slot:  "mission",
			Level: "grammar",
			Text:  "What is this pillar about?",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return Request{Session: sess, Guide: g, Answer: "stay strong enough to hike"}
}

func TestDecideNoBackendDegrades(t *testing.T) {
	b := New(nil, 10)
	req := testRequest(t)

	d := b.Decide(context.Background(), req)
	if d.Tier != TierDegraded {
		t.Fatalf("tier = %s, want degraded", d.Tier)
	}
	if !d.Manual {
		t.Error("degraded decision should be flagged manual")
	}
	if d.Action != ActionAskFollowup {
		t.Errorf("action = %s, want ask_followup", d.Action)
	}
	if d.Question == "" || d.CurrentSlot != "mission" {
		t.Errorf("degraded question should come from the guide: %+v", d)
	}
	if len(d.CoverageUpdate) != 0 {
		t.Error("degraded decision must not move coverage")
	}
}

func TestDecideUnreachableBackendDegrades(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	b := New(client, 10)

	d := b.Decide(context.Background(), testRequest(t))
	if d.Tier != TierDegraded || !d.Manual {
		t.Fatalf("unreachable backend should degrade, got %+v", d)
	}
}

func TestDecideInvalidResponseFallsBack(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{"not json", "I think we should ask about the mission next."},
		{"missing coverage_update", `{"action": "ask_followup", "question": "why?"}`},
		{"bad action", `{"action": "interrogate", "question": "why?", "coverage_update": {}}`},
		{"followup without question", `{"action": "ask_followup", "coverage_update": {"grammar": 10}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(&fakeClient{resp: tt.resp}, 10)
			d := b.Decide(context.Background(), testRequest(t))
			if d.Tier != TierError {
				t.Fatalf("tier = %s, want error", d.Tier)
			}
			if d.Diagnostic == "" {
				t.Error("error tier should carry a diagnostic")
			}
			if d.Action != ActionAskFollowup || d.Question == "" {
				t.Errorf("error tier should still pose a follow-up, got %+v", d)
			}
			if len(d.CoverageUpdate) != 0 {
				t.Error("error tier must not move coverage")
			}
		})
	}
}

func TestDecideValidResponse(t *testing.T) {
	resp := "```json\n" + `{
		"action": "next_topic",
		"question": "What falls inside this pillar?",
		"reasoning": "mission is captured",
		"coverage_update": {"grammar": 30},
		"total_coverage": 30,
		"topic_progress": {"current": "scope", "next": "non_negotiables"}
	}` + "\n```"
	b := New(&fakeClient{resp: resp}, 10)

	d := b.Decide(context.Background(), testRequest(t))
	if d.Tier != TierPrimary {
		t.Fatalf("tier = %s, want primary (diagnostic: %s)", d.Tier, d.Diagnostic)
	}
	if d.Action != ActionNextTopic {
		t.Errorf("action = %s", d.Action)
	}
	if d.CurrentSlot != "scope" || d.NextSlot != "non_negotiables" {
		t.Errorf("slots = %s/%s", d.CurrentSlot, d.NextSlot)
	}
	if d.CoverageUpdate["grammar"] != 30 {
		t.Errorf("coverage update = %v", d.CoverageUpdate)
	}
}

func TestDecideConcludeWithoutQuestion(t *testing.T) {
	resp := `{"action": "conclude", "coverage_update": {"rhetoric": 90}, "total_coverage": 220}`
	b := New(&fakeClient{resp: resp}, 10)

	d := b.Decide(context.Background(), testRequest(t))
	if d.Tier != TierPrimary {
		t.Fatalf("conclude without question should validate, got tier %s (%s)", d.Tier, d.Diagnostic)
	}
	if d.Action != ActionConclude {
		t.Errorf("action = %s", d.Action)
	}
}

func TestBuildPromptShape(t *testing.T) {
	req := testRequest(t)
	req.Session.Captured["mission"] = "stay strong"
	req.Session.History = []model.TurnEntry{
		{Slot: "mission", Question: "q1", Answer: "a1"},
	}
	req.Constrained = true

	prompt := BuildPrompt(req, 10)
	for _, want := range []string{
		"onboarding intake for health",
		"mission",
		"stay strong",
		"Answer just given: stay strong enough to hike",
		"constrained multiple-choice",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPromptWindowsHistory(t *testing.T) {
	req := testRequest(t)
	for i := 0; i < 20; i++ {
		req.Session.History = append(req.Session.History, model.TurnEntry{
			Slot: "mission", Question: "q", Answer: string(rune('a' + i)),
		})
	}
	prompt := BuildPrompt(req, 5)
	if strings.Contains(prompt, "A: a\n") {
		t.Error("prompt includes turns outside the window")
	}
	if !strings.Contains(prompt, "A: t\n") {
		t.Error("prompt missing the newest turn")
	}
}
