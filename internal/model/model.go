// Package model defines the core data structures for Classical Questioning
// sessions, their sidecar store records, and the global index.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ContextType identifies what kind of information a session elicits.
type ContextType string

const (
	ContextOnboarding ContextType = "onboarding"
	ContextProject    ContextType = "project"
	ContextTopic      ContextType = "topic"
)

// ParseContextType validates a raw context-type string.
func ParseContextType(raw string) (ContextType, error) {
	switch ContextType(strings.TrimSpace(strings.ToLower(raw))) {
	case ContextOnboarding:
		return ContextOnboarding, nil
	case ContextProject:
		return ContextProject, nil
	case ContextTopic:
		return ContextTopic, nil
	default:
		return "", fmt.Errorf("unknown context type %q (want onboarding, project, or topic)", raw)
	}
}

// Status is the session lifecycle state.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the status allows no further turns.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Active reports whether the session counts against the one-active-session
// invariant for its scope.
func (s Status) Active() bool {
	return s == StatusInProgress || s == StatusPaused
}

// Scope is the (pillar, optional project) pair a session belongs to.
type Scope struct {
	Pillar  string `json:"pillar_slug"`
	Project string `json:"project_slug,omitempty"`
}

func (sc Scope) String() string {
	if sc.Project != "" {
		return sc.Pillar + "/" + sc.Project
	}
	return sc.Pillar
}

// Question is the pending question of a session.
type Question struct {
	Slot        string `json:"slot"`
	Level       string `json:"level"`
	Text        string `json:"text"`
	Constrained bool   `json:"constrained,omitempty"`
	// Manual marks a degraded-tier placeholder awaiting an operator-supplied
	// question; the stored text is still surfaced so exactly one question
	// stays pending.
	Manual bool `json:"manual,omitempty"`
}

// TurnEntry is one question/answer exchange. The history is append-only.
type TurnEntry struct {
	Slot     string    `json:"slot"`
	Level    string    `json:"level"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Accepted bool      `json:"accepted"`
	At       time.Time `json:"at"`
}

// Coverage tracks per-level scores and their sum. Each level is bounded to
// [0, 100]; Total is always the sum of the stored levels.
type Coverage struct {
	Levels map[string]int `json:"levels"`
	Total  int            `json:"total"`
}

// NewCoverage returns zeroed coverage for the given level names.
func NewCoverage(levels []string) Coverage {
	c := Coverage{Levels: make(map[string]int, len(levels))}
	for _, l := range levels {
		c.Levels[l] = 0
	}
	return c
}

// Clone returns a deep copy.
func (c Coverage) Clone() Coverage {
	out := Coverage{Levels: make(map[string]int, len(c.Levels)), Total: c.Total}
	for k, v := range c.Levels {
		out.Levels[k] = v
	}
	return out
}

// Session is one Classical Questioning run.
type Session struct {
	ID          string      `json:"session_id"`
	ContextType ContextType `json:"context_type"`
	Status      Status      `json:"status"`
	Pillar      string      `json:"pillar_slug"`
	Project     string      `json:"project_slug,omitempty"`
	TopicSeed   string      `json:"topic_seed,omitempty"`
	StartedBy   string      `json:"started_by,omitempty"`

	QuestionCount int `json:"question_count"`
	QuestionCap   int `json:"question_cap"`

	Coverage        Coverage          `json:"coverage"`
	Captured        map[string]string `json:"captured"`
	CurrentQuestion *Question         `json:"current_question,omitempty"`
	RetryCounts     map[string]int    `json:"retry_counts"`
	AcceptedSlots   []string          `json:"accepted_slots"`
	History         []TurnEntry       `json:"qa_history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scope returns the session's scope identifiers.
func (s *Session) Scope() Scope {
	return Scope{Pillar: s.Pillar, Project: s.Project}
}

// Clone returns a deep copy so a turn can be applied and persisted
// all-or-nothing.
func (s *Session) Clone() *Session {
	out := *s
	out.Coverage = s.Coverage.Clone()
	out.Captured = make(map[string]string, len(s.Captured))
	for k, v := range s.Captured {
		out.Captured[k] = v
	}
	out.RetryCounts = make(map[string]int, len(s.RetryCounts))
	for k, v := range s.RetryCounts {
		out.RetryCounts[k] = v
	}
	// Keep empty slices non-nil: these fields marshal as arrays, and the
	// store schemas reject null.
	out.AcceptedSlots = append([]string{}, s.AcceptedSlots...)
	out.History = append([]TurnEntry{}, s.History...)
	if s.CurrentQuestion != nil {
		q := *s.CurrentQuestion
		out.CurrentQuestion = &q
	}
	return &out
}

// MarkAccepted records a slot as satisfied, keeping the set ordered and
// resetting its retry count.
func (s *Session) MarkAccepted(slot string) {
	if s.RetryCounts == nil {
		s.RetryCounts = map[string]int{}
	}
	s.RetryCounts[slot] = 0
	if s.SlotAccepted(slot) {
		return
	}
	s.AcceptedSlots = append(s.AcceptedSlots, slot)
	sort.Strings(s.AcceptedSlots)
}

// SlotAccepted reports whether slot is in the accepted set.
func (s *Session) SlotAccepted(slot string) bool {
	for _, existing := range s.AcceptedSlots {
		if existing == slot {
			return true
		}
	}
	return false
}

const (
	// StoreSchemaVersion is the sidecar record schema version.
	StoreSchemaVersion = 1
	// IndexSchemaVersion is the global index record schema version.
	IndexSchemaVersion = 1

	// ArchiveKeep bounds the per-sidecar archive list.
	ArchiveKeep = 50
	// HistoryKeep bounds the global index history list.
	HistoryKeep = 200
	// ArchiveRecentTurns is how many trailing turns a compact archive
	// record retains.
	ArchiveRecentTurns = 5
)

// StoreRecord is the sidecar session record: one file per scope/context-type.
type StoreRecord struct {
	SchemaVersion  int             `json:"schema_version"`
	ActiveSessions []Session       `json:"active_sessions"`
	Archive        []ArchiveRecord `json:"archive"`
}

// NewStoreRecord returns an empty sidecar record.
func NewStoreRecord() StoreRecord {
	return StoreRecord{
		SchemaVersion:  StoreSchemaVersion,
		ActiveSessions: []Session{},
		Archive:        []ArchiveRecord{},
	}
}

// ArchiveRecord is the compact form kept for terminated sessions.
type ArchiveRecord struct {
	SessionID     string            `json:"session_id"`
	ContextType   ContextType       `json:"context_type"`
	Status        Status            `json:"status"`
	Pillar        string            `json:"pillar_slug"`
	Project       string            `json:"project_slug,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	QuestionCount int               `json:"question_count"`
	Coverage      Coverage          `json:"coverage"`
	Captured      map[string]string `json:"captured"`
	RecentHistory []TurnEntry       `json:"recent_history"`
}

// CompactArchive produces the archive form of a session, trimming history to
// the trailing turns.
func (s *Session) CompactArchive() ArchiveRecord {
	history := s.History
	if len(history) > ArchiveRecentTurns {
		history = history[len(history)-ArchiveRecentTurns:]
	}
	captured := make(map[string]string, len(s.Captured))
	for k, v := range s.Captured {
		captured[k] = v
	}
	return ArchiveRecord{
		SessionID:     s.ID,
		ContextType:   s.ContextType,
		Status:        s.Status,
		Pillar:        s.Pillar,
		Project:       s.Project,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		QuestionCount: s.QuestionCount,
		Coverage:      s.Coverage.Clone(),
		Captured:      captured,
		RecentHistory: append([]TurnEntry{}, history...),
	}
}

// IndexEntry is a denormalized pointer to a session's sidecar record, used
// for cross-scope discovery without reading every sidecar.
type IndexEntry struct {
	SessionID   string      `json:"session_id"`
	Pillar      string      `json:"pillar_slug"`
	Project     string      `json:"project_slug,omitempty"`
	ContextType ContextType `json:"context_type"`
	Status      Status      `json:"status"`
	StatePath   string      `json:"state_path"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// IndexRecord is the global cross-scope index.
type IndexRecord struct {
	SchemaVersion int             `json:"schema_version"`
	Active        []IndexEntry    `json:"active"`
	History       []ArchiveRecord `json:"history"`
}

// NewIndexRecord returns an empty index record.
func NewIndexRecord() IndexRecord {
	return IndexRecord{
		SchemaVersion: IndexSchemaVersion,
		Active:        []IndexEntry{},
		History:       []ArchiveRecord{},
	}
}
