package store

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/9erson/openclaw/internal/model"
)

func testSession(id string, scope model.Scope, ct model.ContextType) *model.Session {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &model.Session{
		ID:            id,
		ContextType:   ct,
		Status:        model.StatusInProgress,
		Pillar:        scope.Pillar,
		Project:       scope.Project,
		QuestionCap:   12,
		Coverage:      model.NewCoverage([]string{"grammar", "logic", "rhetoric"}),
		Captured:      map[string]string{},
		RetryCounts:   map[string]int{},
		AcceptedSlots: []string{},
		History:       []model.TurnEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestUpsertAndFind(t *testing.T) {
	s := New(t.TempDir())
	scope := model.Scope{Pillar: "health"}
	sess := testSession("cq-000000000001", scope, model.ContextOnboarding)

	if err := s.UpsertActive(sess); err != nil {
		t.Fatalf("UpsertActive: %v", err)
	}

	got, err := s.FindSession(scope, model.ContextOnboarding)
	if err != nil {
		t.Fatalf("FindSession: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("found %s, want %s", got.ID, sess.ID)
	}

	// Same scope, different context type: nothing there.
	if _, err := s.FindSession(scope, model.ContextTopic); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("err = %v, want ErrNoActiveSession", err)
	}

	// Upsert replaces, not duplicates.
	sess.QuestionCount = 4
	if err := s.UpsertActive(sess); err != nil {
		t.Fatal(err)
	}
	rec, err := s.LoadSidecar(scope)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.ActiveSessions) != 1 {
		t.Fatalf("active sessions = %d, want 1", len(rec.ActiveSessions))
	}
	if rec.ActiveSessions[0].QuestionCount != 4 {
		t.Errorf("question count = %d, want 4", rec.ActiveSessions[0].QuestionCount)
	}
}

func TestProjectScopeSidecarLocation(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	scope := model.Scope{Pillar: "work", Project: "site"}
	sess := testSession("cq-000000000002", scope, model.ContextProject)

	if err := s.UpsertActive(sess); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.SidecarPath(scope)); err != nil {
		t.Errorf("project sidecar not written: %v", err)
	}

	entries, err := s.ActiveEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("index entries = %d, want 1", len(entries))
	}
	if entries[0].StatePath != "pillars/active/work/projects/site/.questioning.json" {
		t.Errorf("state path = %q", entries[0].StatePath)
	}
}

func TestArchiveMovesAndCaps(t *testing.T) {
	s := New(t.TempDir())
	scope := model.Scope{Pillar: "health"}

	for i := 0; i < model.ArchiveKeep+5; i++ {
		sess := testSession(fmt.Sprintf("cq-%012d", i), scope, model.ContextTopic)
		if err := s.UpsertActive(sess); err != nil {
			t.Fatal(err)
		}
		sess.Status = model.StatusCompleted
		if err := s.Archive(sess); err != nil {
			t.Fatalf("Archive: %v", err)
		}
	}

	rec, err := s.LoadSidecar(scope)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.ActiveSessions) != 0 {
		t.Errorf("active sessions = %d, want 0", len(rec.ActiveSessions))
	}
	if len(rec.Archive) != model.ArchiveKeep {
		t.Fatalf("archive = %d records, want %d", len(rec.Archive), model.ArchiveKeep)
	}
	// Newest records survive the cap.
	last := rec.Archive[len(rec.Archive)-1]
	if last.SessionID != fmt.Sprintf("cq-%012d", model.ArchiveKeep+4) {
		t.Errorf("newest archived = %s", last.SessionID)
	}

	idx, err := s.LoadIndex()
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Active) != 0 {
		t.Errorf("index active = %d, want 0", len(idx.Active))
	}
	if len(idx.History) != model.ArchiveKeep+5 {
		t.Errorf("index history = %d, want %d", len(idx.History), model.ArchiveKeep+5)
	}
}

func TestArchiveRejectsActiveStatus(t *testing.T) {
	s := New(t.TempDir())
	sess := testSession("cq-000000000003", model.Scope{Pillar: "health"}, model.ContextTopic)
	if err := s.Archive(sess); err == nil {
		t.Fatal("Archive accepted an in_progress session")
	}
}

func TestRebuild(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	a := testSession("cq-00000000000a", model.Scope{Pillar: "health"}, model.ContextOnboarding)
	b := testSession("cq-00000000000b", model.Scope{Pillar: "work", Project: "site"}, model.ContextProject)
	for _, sess := range []*model.Session{a, b} {
		if err := s.UpsertActive(sess); err != nil {
			t.Fatal(err)
		}
	}

	// Lose the index, then rebuild it from the sidecars.
	if err := os.Remove(s.IndexPath()); err != nil {
		t.Fatal(err)
	}
	n, err := s.Rebuild()
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if n != 2 {
		t.Fatalf("rebuilt %d entries, want 2", n)
	}
	entries, err := s.ActiveEntries()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.SessionID] = true
	}
	if !seen[a.ID] || !seen[b.ID] {
		t.Errorf("rebuild missed sessions: %v", entries)
	}
}

func TestFindArchived(t *testing.T) {
	s := New(t.TempDir())
	scope := model.Scope{Pillar: "health"}

	found, err := s.FindArchived(scope, model.ContextTopic)
	if err != nil || found {
		t.Fatalf("FindArchived on empty scope = %v, %v", found, err)
	}

	sess := testSession("cq-00000000000c", scope, model.ContextTopic)
	if err := s.UpsertActive(sess); err != nil {
		t.Fatal(err)
	}
	sess.Status = model.StatusCanceled
	if err := s.Archive(sess); err != nil {
		t.Fatal(err)
	}

	found, err = s.FindArchived(scope, model.ContextTopic)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Error("archived session not found")
	}
}
