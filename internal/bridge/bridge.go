// Package bridge assembles question requests for the generation service,
// validates the returned decision against its schema, and degrades to
// manual or generic questioning when the service is unavailable or answers
// garbage. The caller always gets a usable Decision; the bridge never fails
// a turn.
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/9erson/openclaw/internal/guide"
	"github.com/9erson/openclaw/internal/llm"
	"github.com/9erson/openclaw/internal/logger"
	"github.com/9erson/openclaw/internal/model"
	"github.com/9erson/openclaw/schemas"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Tier records which path produced a decision.
type Tier string

const (
	// TierPrimary means the service returned a valid decision.
	TierPrimary Tier = "primary"
	// TierDegraded means the service was unreachable or not configured;
	// the question is a guide template flagged for manual handling.
	TierDegraded Tier = "degraded"
	// TierError means the service answered but the response failed
	// validation; a generic follow-up keeps the session moving.
	TierError Tier = "error"
)

// Actions the service may choose.
const (
	ActionAskFollowup = "ask_followup"
	ActionNextTopic   = "next_topic"
	ActionConclude    = "conclude"
)

// Decision is one validated (or substituted) questioning decision.
type Decision struct {
	Action         string
	Question       string
	Reasoning      string
	CoverageUpdate map[string]float64
	TotalCoverage  float64
	CurrentSlot    string
	NextSlot       string

	Tier Tier
	// Manual marks a degraded-tier placeholder question.
	Manual bool
	// Diagnostic carries the validation failure on the error tier.
	Diagnostic string
}

// Request carries everything needed to ask for the next question.
type Request struct {
	Session *model.Session
	Guide   *guide.Guide
	// Answer is the answer just given to the session's pending question.
	Answer string
	// Constrained asks for a constrained-choice question because the
	// current slot exhausted its open-ended retries.
	Constrained bool
}

// Bridge talks to the generation service.
type Bridge struct {
	client llm.Client
	window int
}

// New returns a bridge over the given client, which may be nil when no
// backend is configured. window is how many recent turns accompany each
// request.
func New(client llm.Client, window int) *Bridge {
	if window <= 0 {
		window = 10
	}
	return &Bridge{client: client, window: window}
}

// rawDecision mirrors the service's wire contract.
type rawDecision struct {
	Action         string             `json:"action"`
	Question       string             `json:"question"`
	Reasoning      string             `json:"reasoning"`
	CoverageUpdate map[string]float64 `json:"coverage_update"`
	TotalCoverage  float64            `json:"total_coverage"`
	TopicProgress  struct {
		Current string `json:"current"`
		Next    string `json:"next"`
	} `json:"topic_progress"`
}

// Decide obtains the next-question decision for a turn. It never returns an
// error; an unusable service shows up as a degraded- or error-tier decision.
func (b *Bridge) Decide(ctx context.Context, req Request) Decision {
	if b.client == nil {
		logger.Debug("bridge: no backend configured, degrading to manual question")
		return b.degraded(req)
	}

	opts := llm.DefaultCompletionOptions()
	opts.JSONMode = true
	opts.SystemPrompt = systemPrompt

	resp, err := b.client.Complete(ctx, BuildPrompt(req, b.window), opts)
	if err != nil {
		logger.Error("bridge: completion failed: %v", err)
		return b.degraded(req)
	}

	raw := llm.ExtractJSON(resp)
	if err := validateDecision(raw); err != nil {
		logger.Error("bridge: invalid decision: %v", err)
		return b.invalid(req, err)
	}
	var rd rawDecision
	if err := llm.ParseJSONResponse(raw, &rd); err != nil {
		return b.invalid(req, err)
	}

	d := Decision{
		Action:         rd.Action,
		Question:       strings.TrimSpace(rd.Question),
		Reasoning:      rd.Reasoning,
		CoverageUpdate: rd.CoverageUpdate,
		TotalCoverage:  rd.TotalCoverage,
		CurrentSlot:    rd.TopicProgress.Current,
		NextSlot:       rd.TopicProgress.Next,
		Tier:           TierPrimary,
	}
	if d.CurrentSlot == "" {
		d.CurrentSlot = currentSlotName(req)
	}
	return d
}

// degraded substitutes a guide-template question flagged for manual
// handling and applies no coverage movement.
func (b *Bridge) degraded(req Request) Decision {
	slot := pendingSlot(req)
	question := slot.Prompt
	if req.Constrained {
		question = req.Guide.ConstrainedPrompt(slot)
	}
	return Decision{
		Action:      ActionAskFollowup,
		Question:    question,
		CurrentSlot: slot.Name,
		Tier:        TierDegraded,
		Manual:      true,
	}
}

// invalid substitutes a generic follow-up and records why the service
// response was unusable.
func (b *Bridge) invalid(req Request, cause error) Decision {
	slot := pendingSlot(req)
	return Decision{
		Action:      ActionAskFollowup,
		Question:    fmt.Sprintf("Could you say more about %s? What else matters here?", strings.ReplaceAll(slot.Name, "_", " ")),
		CurrentSlot: slot.Name,
		Tier:        TierError,
		Diagnostic:  cause.Error(),
	}
}

func currentSlotName(req Request) string {
	if req.Session.CurrentQuestion != nil {
		return req.Session.CurrentQuestion.Slot
	}
	return req.Guide.FirstSlot().Name
}

func pendingSlot(req Request) guide.Slot {
	if sl, ok := req.Guide.SlotByName(currentSlotName(req)); ok {
		return sl
	}
	return req.Guide.FirstSlot()
}

func validateDecision(raw string) error {
	schema, err := schemas.Compile(schemas.Decision)
	if err != nil {
		return fmt.Errorf("load decision schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
	if err != nil {
		return fmt.Errorf("decode decision: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("decision schema: %w", err)
	}
	return nil
}

const systemPrompt = `You are the questioning director for a structured intake session.
You decide, one turn at a time, what to ask next and how well each rhetorical
level (grammar, logic, rhetoric) is covered so far.

Respond with a single JSON object and nothing else:
{
  "action": "ask_followup" | "next_topic" | "conclude",
  "question": "the next question to ask (omit only when concluding)",
  "reasoning": "one sentence on why",
  "coverage_update": {"grammar": 0-100, "logic": 0-100, "rhetoric": 0-100},
  "total_coverage": 0-300,
  "topic_progress": {"current": "slot being asked about", "next": "slot after that or null"}
}

coverage_update values are how much this answer adds to each level. Use 0
for levels the answer did not advance; never send negative values.
Use "ask_followup" when the current slot needs more, "next_topic" when it is
covered and another slot should be opened, and "conclude" only when the
session has enough overall.`

// BuildPrompt renders the user prompt for one turn: scope, captured slots,
// coverage snapshot, the recent exchange window, and the pending question
// with the answer just given.
func BuildPrompt(req Request, window int) string {
	s := req.Session
	g := req.Guide

	var b strings.Builder
	fmt.Fprintf(&b, "Session context: %s intake for %s.\n", s.ContextType, s.Scope())
	if s.TopicSeed != "" {
		fmt.Fprintf(&b, "Seed topic: %s\n", s.TopicSeed)
	}

	b.WriteString("\nSlots to cover:\n")
	for _, sl := range g.Slots {
		state := "open"
		if s.SlotAccepted(sl.Name) {
			state = "captured"
		}
		fmt.Fprintf(&b, "- %s (%s, %s): %s\n", sl.Name, sl.Level, state, sl.Prompt)
	}

	b.WriteString("\nCaptured so far:\n")
	if len(s.Captured) == 0 {
		b.WriteString("(nothing yet)\n")
	}
	for _, sl := range g.Slots {
		if v, ok := s.Captured[sl.Name]; ok {
			fmt.Fprintf(&b, "- %s: %s\n", sl.Name, v)
		}
	}

	fmt.Fprintf(&b, "\nCoverage: total %d of %d needed.", s.Coverage.Total, g.Threshold)
	for _, level := range g.Levels {
		fmt.Fprintf(&b, " %s=%d", level, s.Coverage.Levels[level])
	}
	fmt.Fprintf(&b, "\nQuestions used: %d of %d.\n", s.QuestionCount, s.QuestionCap)

	history := s.History
	if len(history) > window {
		history = history[len(history)-window:]
	}
	if len(history) > 0 {
		b.WriteString("\nRecent exchanges:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "Q (%s): %s\nA: %s\n", t.Slot, t.Question, t.Answer)
		}
	}

	if s.CurrentQuestion != nil {
		fmt.Fprintf(&b, "\nPending question (%s): %s\n", s.CurrentQuestion.Slot, s.CurrentQuestion.Text)
	}
	fmt.Fprintf(&b, "Answer just given: %s\n", req.Answer)

	if req.Constrained {
		slot := pendingSlot(req)
		b.WriteString("\nThis slot has had several unproductive attempts. If you ask about it again, ask a constrained multiple-choice question")
		if len(slot.Choices) > 0 {
			fmt.Fprintf(&b, " built from these options: %s", strings.Join(slot.Choices, "; "))
		}
		b.WriteString(".\n")
	}

	b.WriteString("\nDecide the next step.")
	return b.String()
}
