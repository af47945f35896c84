// Package engine drives questioning sessions: starting them under the
// mutual-exclusion rules, processing answers turn by turn, and walking them
// through pause, resume, cancel, and completion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/9erson/openclaw/internal/bridge"
	"github.com/9erson/openclaw/internal/config"
	"github.com/9erson/openclaw/internal/coverage"
	"github.com/9erson/openclaw/internal/guide"
	"github.com/9erson/openclaw/internal/journal"
	"github.com/9erson/openclaw/internal/logger"
	"github.com/9erson/openclaw/internal/model"
	"github.com/9erson/openclaw/internal/store"
)

// Decider produces the next-question decision for a turn.
type Decider interface {
	Decide(ctx context.Context, req bridge.Request) bridge.Decision
}

// Options configures an Engine.
type Options struct {
	Store  *store.Store
	Guides guide.Set
	// Decider is usually a *bridge.Bridge.
	Decider Decider
	// Journal is optional; turns are journaled best-effort.
	Journal     *journal.Journal
	Questioning config.QuestioningConfig
	Now         func() time.Time
}

// Engine runs questioning sessions over one workspace.
type Engine struct {
	store   *store.Store
	guides  guide.Set
	decider Decider
	journal *journal.Journal
	cfg     config.QuestioningConfig
	now     func() time.Time
}

// New builds an engine.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Questioning.RetryCeiling <= 0 {
		opts.Questioning.RetryCeiling = config.DefaultRetryCeiling
	}
	return &Engine{
		store:   opts.Store,
		guides:  opts.Guides,
		decider: opts.Decider,
		journal: opts.Journal,
		cfg:     opts.Questioning,
		now:     opts.Now,
	}
}

// StartParams identifies the session to create.
type StartParams struct {
	ContextType model.ContextType
	Pillar      string
	Project     string
	TopicSeed   string
	StartedBy   string
}

// Result is the outcome of an engine operation: the session after the
// operation, the pending question if any, and turn metadata.
type Result struct {
	Session  *model.Session
	Question *model.Question
	// Completed is set on the turn that terminated the session.
	Completed bool
	// HardGateBlocked is set when the service tried to conclude below the
	// coverage threshold and was overruled.
	HardGateBlocked bool
	Tier            bridge.Tier
	Diagnostic      string
	// Remaining lists required slots not yet captured.
	Remaining []string
}

func newSessionID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "cq-" + raw[:12]
}

func (e *Engine) threshold(g *guide.Guide) int {
	if e.cfg.Threshold > 0 {
		return e.cfg.Threshold
	}
	return g.Threshold
}

func (e *Engine) questionCap(g *guide.Guide) int {
	if e.cfg.QuestionCap > 0 {
		return e.cfg.QuestionCap
	}
	return g.QuestionCap
}

// Start creates a new session for the scope, enforcing the
// one-active-session rule and the onboarding lock, and issues the opening
// question from the guide.
func (e *Engine) Start(ctx context.Context, p StartParams) (*Result, error) {
	if p.Pillar == "" {
		return nil, fmt.Errorf("pillar is required")
	}
	switch p.ContextType {
	case model.ContextOnboarding:
		if p.Project != "" {
			return nil, fmt.Errorf("onboarding sessions are pillar-scoped; drop the project")
		}
	case model.ContextProject:
		if p.Project == "" {
			return nil, fmt.Errorf("project sessions need a project slug")
		}
	case model.ContextTopic:
		// Topic sessions may sit at pillar or project scope.
	default:
		return nil, fmt.Errorf("unknown context type %q", p.ContextType)
	}

	g, err := e.guides.ForContext(p.ContextType)
	if err != nil {
		return nil, err
	}
	scope := model.Scope{Pillar: p.Pillar, Project: p.Project}

	if existing, err := e.store.FindSession(scope, p.ContextType); err == nil {
		return nil, fmt.Errorf("%w: %s session %s already %s in %s",
			ErrConflict, p.ContextType, existing.ID, existing.Status, scope)
	} else if !errors.Is(err, store.ErrNoActiveSession) {
		return nil, err
	}

	if p.ContextType != model.ContextOnboarding {
		if err := e.checkOnboardingLock(p.Pillar); err != nil {
			return nil, err
		}
	}

	now := e.now().UTC()
	sess := &model.Session{
		ID:            newSessionID(),
		ContextType:   p.ContextType,
		Status:        model.StatusInProgress,
		Pillar:        p.Pillar,
		Project:       p.Project,
		TopicSeed:     p.TopicSeed,
		StartedBy:     p.StartedBy,
		QuestionCap:   e.questionCap(g),
		Coverage:      model.NewCoverage(g.Levels),
		Captured:      map[string]string{},
		RetryCounts:   map[string]int{},
		AcceptedSlots: []string{},
		History:       []model.TurnEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	opening, _ := g.NextSlot(sess.SlotAccepted)
	sess.CurrentQuestion = &model.Question{
		Slot:  opening.Name,
		Level: opening.Level,
		Text:  opening.Prompt,
	}

	if err := e.store.UpsertActive(sess); err != nil {
		return nil, err
	}
	e.journalEvent(sess, "started", string(p.ContextType))
	logger.Info("started %s session %s in %s", p.ContextType, sess.ID, scope)

	return e.result(sess, g), nil
}

// checkOnboardingLock rejects project/topic work in a pillar whose
// onboarding session is still being answered. A paused onboarding session
// does not block.
func (e *Engine) checkOnboardingLock(pillar string) error {
	pillarScope := model.Scope{Pillar: pillar}
	onboarding, err := e.store.FindSession(pillarScope, model.ContextOnboarding)
	if err != nil {
		if errors.Is(err, store.ErrNoActiveSession) {
			return nil
		}
		return err
	}
	if onboarding.Status == model.StatusInProgress {
		return fmt.Errorf("%w: finish onboarding session %s for pillar %s first",
			ErrConflict, onboarding.ID, pillar)
	}
	return nil
}

// Answer processes one answer to the session's pending question and commits
// the whole turn, or nothing.
func (e *Engine) Answer(ctx context.Context, scope model.Scope, ct model.ContextType, answer string) (*Result, error) {
	sess, err := e.findSession(scope, ct)
	if err != nil {
		return nil, err
	}
	g, err := e.guides.ForContext(ct)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		// A rejected answer changes nothing, but the caller still needs the
		// pending question to re-present.
		rej := sess.Clone()
		rej.CurrentQuestion = pendingQuestion(g, rej)
		return e.result(rej, g), fmt.Errorf("%w: empty answer", ErrRejectedAnswer)
	}

	// Everything below mutates a copy; the session on disk only changes if
	// the full turn commits.
	work := sess.Clone()
	if work.Status == model.StatusPaused {
		work.Status = model.StatusInProgress
	}
	work.CurrentQuestion = pendingQuestion(g, work)
	curr := *work.CurrentQuestion

	// The cap-reaching turn concludes without consulting the service.
	capping := work.QuestionCount+1 >= work.QuestionCap
	var decision bridge.Decision
	if capping {
		decision = bridge.Decision{Action: bridge.ActionConclude, CurrentSlot: curr.Slot}
	} else {
		decision = e.decider.Decide(ctx, bridge.Request{
			Session:     work,
			Guide:       g,
			Answer:      trimmed,
			Constrained: work.RetryCounts[curr.Slot] >= e.cfg.RetryCeiling,
		})
	}

	work.Coverage = coverage.Apply(work.Coverage, decision.CoverageUpdate)

	slotAdvanced := decision.Action != bridge.ActionAskFollowup || decision.CurrentSlot != curr.Slot
	if slotAdvanced {
		work.MarkAccepted(curr.Slot)
	} else if decision.Tier == bridge.TierPrimary {
		work.RetryCounts[curr.Slot]++
	}
	if prev := work.Captured[curr.Slot]; prev != "" {
		work.Captured[curr.Slot] = prev + "\n" + trimmed
	} else {
		work.Captured[curr.Slot] = trimmed
	}

	now := e.now().UTC()
	turn := model.TurnEntry{
		Slot:     curr.Slot,
		Level:    curr.Level,
		Question: curr.Text,
		Answer:   trimmed,
		Accepted: slotAdvanced,
		At:       now,
	}
	work.History = append(work.History, turn)
	work.QuestionCount++
	work.UpdatedAt = now

	// Completion needs both the coverage threshold and every required slot;
	// once both hold, the session completes even if the service keeps asking.
	meets := coverage.Meets(work.Coverage, e.threshold(g))
	requiredDone := len(g.Remaining(work.SlotAccepted)) == 0
	complete := meets && requiredDone
	hardGateBlocked := !capping && decision.Action == bridge.ActionConclude && !complete

	if complete || capping {
		work.Status = model.StatusCompleted
		work.CurrentQuestion = nil
		if err := e.store.Archive(work); err != nil {
			return nil, err
		}
		e.journalTurn(work, turn)
		reason := "completion criteria met"
		if capping && !complete {
			reason = "question cap reached"
		}
		e.journalEvent(work, "completed", reason)
		logger.Info("session %s completed (%s, total coverage %d)", work.ID, reason, work.Coverage.Total)
		res := e.result(work, g)
		res.Completed = true
		res.HardGateBlocked = hardGateBlocked
		res.Tier = decision.Tier
		res.Diagnostic = decision.Diagnostic
		return res, nil
	}

	work.CurrentQuestion = e.nextQuestion(g, work, decision, hardGateBlocked)
	if err := e.store.UpsertActive(work); err != nil {
		return nil, err
	}
	e.journalTurn(work, turn)

	res := e.result(work, g)
	res.HardGateBlocked = hardGateBlocked
	res.Tier = decision.Tier
	res.Diagnostic = decision.Diagnostic
	return res, nil
}

// pendingQuestion returns the session's pending question, backfilling from
// the guide when none is stored.
func pendingQuestion(g *guide.Guide, sess *model.Session) *model.Question {
	if sess.CurrentQuestion != nil {
		return sess.CurrentQuestion
	}
	sl, ok := g.NextSlot(sess.SlotAccepted)
	if !ok {
		sl = g.FirstSlot()
	}
	return &model.Question{Slot: sl.Name, Level: sl.Level, Text: sl.Prompt}
}

// nextQuestion derives the pending question from a decision, falling back
// to the guide when the decision points at an unknown slot or was overruled
// by the coverage gate.
func (e *Engine) nextQuestion(g *guide.Guide, sess *model.Session, d bridge.Decision, blocked bool) *model.Question {
	slotName := d.CurrentSlot
	if blocked || slotName == "" {
		if sl, ok := g.NextSlot(sess.SlotAccepted); ok {
			slotName = sl.Name
		} else {
			slotName = g.FirstSlot().Name
		}
	}
	sl, ok := g.SlotByName(slotName)
	if !ok {
		sl, ok = g.NextSlot(sess.SlotAccepted)
		if !ok {
			sl = g.FirstSlot()
		}
	}

	constrained := sess.RetryCounts[sl.Name] >= e.cfg.RetryCeiling
	text := d.Question
	if text == "" || blocked {
		text = sl.Prompt
	}
	if constrained && d.Tier != bridge.TierPrimary {
		text = g.ConstrainedPrompt(sl)
	}
	return &model.Question{
		Slot:        sl.Name,
		Level:       sl.Level,
		Text:        text,
		Constrained: constrained,
		Manual:      d.Manual,
	}
}

// Pause suspends an in-progress session. Pausing a paused session is a
// no-op.
func (e *Engine) Pause(scope model.Scope, ct model.ContextType) (*Result, error) {
	sess, err := e.findSession(scope, ct)
	if err != nil {
		return nil, err
	}
	g, err := e.guides.ForContext(ct)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.StatusPaused {
		return e.result(sess, g), nil
	}
	sess.Status = model.StatusPaused
	sess.UpdatedAt = e.now().UTC()
	if err := e.store.UpsertActive(sess); err != nil {
		return nil, err
	}
	e.journalEvent(sess, "paused", "")
	return e.result(sess, g), nil
}

// Resume reactivates a paused session with its pending question unchanged.
func (e *Engine) Resume(scope model.Scope, ct model.ContextType) (*Result, error) {
	sess, err := e.findSession(scope, ct)
	if err != nil {
		return nil, err
	}
	g, err := e.guides.ForContext(ct)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.StatusPaused {
		return nil, fmt.Errorf("%w: session %s is %s, not paused", ErrInvalidState, sess.ID, sess.Status)
	}
	sess.Status = model.StatusInProgress
	sess.UpdatedAt = e.now().UTC()
	if err := e.store.UpsertActive(sess); err != nil {
		return nil, err
	}
	e.journalEvent(sess, "resumed", "")
	return e.result(sess, g), nil
}

// Cancel terminates a session without completing it. Canceling a scope
// whose session already terminated is a no-op.
func (e *Engine) Cancel(scope model.Scope, ct model.ContextType) (*Result, error) {
	sess, err := e.findSession(scope, ct)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		archived, aerr := e.store.FindArchived(scope, ct)
		if aerr != nil {
			return nil, aerr
		}
		if archived {
			return &Result{}, nil
		}
		return nil, err
	}
	g, err := e.guides.ForContext(ct)
	if err != nil {
		return nil, err
	}
	sess.Status = model.StatusCanceled
	sess.CurrentQuestion = nil
	sess.UpdatedAt = e.now().UTC()
	if err := e.store.Archive(sess); err != nil {
		return nil, err
	}
	e.journalEvent(sess, "canceled", "")
	logger.Info("session %s canceled", sess.ID)
	res := e.result(sess, g)
	res.Completed = true
	return res, nil
}

// Status reports a session's coverage, pending question, and remaining
// requirements without changing anything.
func (e *Engine) Status(scope model.Scope, ct model.ContextType) (*Result, error) {
	sess, err := e.findSession(scope, ct)
	if err != nil {
		return nil, err
	}
	g, err := e.guides.ForContext(ct)
	if err != nil {
		return nil, err
	}
	return e.result(sess, g), nil
}

func (e *Engine) findSession(scope model.Scope, ct model.ContextType) (*model.Session, error) {
	sess, err := e.store.FindSession(scope, ct)
	if err != nil {
		if errors.Is(err, store.ErrNoActiveSession) {
			return nil, fmt.Errorf("%w: no %s session in %s", ErrNotFound, ct, scope)
		}
		return nil, err
	}
	return sess, nil
}

func (e *Engine) result(sess *model.Session, g *guide.Guide) *Result {
	clone := sess.Clone()
	return &Result{
		Session:   clone,
		Question:  clone.CurrentQuestion,
		Remaining: g.Remaining(sess.SlotAccepted),
	}
}

// Journal writes are best-effort; a turn never fails because the journal
// does.
func (e *Engine) journalTurn(sess *model.Session, t model.TurnEntry) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordTurn(sess, t); err != nil {
		logger.Error("journal turn: %v", err)
	}
}

func (e *Engine) journalEvent(sess *model.Session, kind, detail string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordEvent(sess, kind, detail); err != nil {
		logger.Error("journal event: %v", err)
	}
}
