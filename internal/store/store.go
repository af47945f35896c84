// Package store persists questioning sessions as sidecar JSON records next
// to the pillar or project they belong to, plus a global index for
// cross-scope discovery. All writes are atomic; records are validated
// against their schemas on load.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/9erson/openclaw/internal/config"
	"github.com/9erson/openclaw/internal/fsutil"
	"github.com/9erson/openclaw/internal/logger"
	"github.com/9erson/openclaw/internal/model"
	"github.com/9erson/openclaw/schemas"
)

// SidecarName is the session record filename kept in each scope directory.
const SidecarName = ".questioning.json"

// ErrNoActiveSession is returned when a scope has no active session of the
// requested context type.
var ErrNoActiveSession = errors.New("no active session")

// sidecarPatterns locate every sidecar record under a workspace root.
var sidecarPatterns = []string{
	"pillars/active/*/" + SidecarName,
	"pillars/active/*/projects/*/" + SidecarName,
}

// Store reads and writes session records under one workspace root.
type Store struct {
	root string
}

// New returns a store rooted at the workspace directory.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the workspace root.
func (s *Store) Root() string {
	return s.root
}

// ScopeDir returns the directory a scope's sidecar lives in.
func (s *Store) ScopeDir(scope model.Scope) string {
	if scope.Project != "" {
		return config.ProjectDir(s.root, scope.Pillar, scope.Project)
	}
	return config.PillarDir(s.root, scope.Pillar)
}

// SidecarPath returns the sidecar record path for a scope.
func (s *Store) SidecarPath(scope model.Scope) string {
	return filepath.Join(s.ScopeDir(scope), SidecarName)
}

// relStatePath is the slash-separated sidecar path recorded in the index.
func (s *Store) relStatePath(scope model.Scope) string {
	rel, err := filepath.Rel(s.root, s.SidecarPath(scope))
	if err != nil {
		return s.SidecarPath(scope)
	}
	return filepath.ToSlash(rel)
}

// LoadSidecar reads and validates a scope's sidecar record. A missing file
// yields an empty record.
func (s *Store) LoadSidecar(scope model.Scope) (model.StoreRecord, error) {
	return s.loadSidecarPath(s.SidecarPath(scope))
}

func (s *Store) loadSidecarPath(path string) (model.StoreRecord, error) {
	raw, err := fsutil.ReadJSONBytes(path)
	if err != nil {
		if errors.Is(err, fsutil.ErrNotFound) {
			return model.NewStoreRecord(), nil
		}
		return model.StoreRecord{}, err
	}
	if err := validate(schemas.SessionStore, raw); err != nil {
		return model.StoreRecord{}, fmt.Errorf("%s: %w", path, err)
	}
	var rec model.StoreRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.StoreRecord{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return rec, nil
}

// SaveSidecar writes a scope's sidecar record atomically.
func (s *Store) SaveSidecar(scope model.Scope, rec model.StoreRecord) error {
	return fsutil.WriteJSONAtomic(s.SidecarPath(scope), rec)
}

// FindSession returns a clone of the scope's active session of the given
// context type, or ErrNoActiveSession.
func (s *Store) FindSession(scope model.Scope, ct model.ContextType) (*model.Session, error) {
	rec, err := s.LoadSidecar(scope)
	if err != nil {
		return nil, err
	}
	for i := range rec.ActiveSessions {
		sess := &rec.ActiveSessions[i]
		if sess.ContextType == ct && sess.Status.Active() {
			return sess.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNoActiveSession, ct, scope)
}

// FindArchived reports whether a terminated session with the given scope and
// context type exists in the sidecar archive.
func (s *Store) FindArchived(scope model.Scope, ct model.ContextType) (bool, error) {
	rec, err := s.LoadSidecar(scope)
	if err != nil {
		return false, err
	}
	for _, a := range rec.Archive {
		if a.ContextType == ct {
			return true, nil
		}
	}
	return false, nil
}

// UpsertActive writes a session into its sidecar's active list and refreshes
// its index entry.
func (s *Store) UpsertActive(sess *model.Session) error {
	scope := sess.Scope()
	rec, err := s.LoadSidecar(scope)
	if err != nil {
		return err
	}
	replaced := false
	for i := range rec.ActiveSessions {
		if rec.ActiveSessions[i].ID == sess.ID {
			rec.ActiveSessions[i] = *sess.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		rec.ActiveSessions = append(rec.ActiveSessions, *sess.Clone())
	}
	if err := s.SaveSidecar(scope, rec); err != nil {
		return err
	}
	return s.upsertIndexEntry(sess)
}

// Archive moves a terminated session out of the active list into the
// sidecar archive and the index history, enforcing both retention caps.
func (s *Store) Archive(sess *model.Session) error {
	if !sess.Status.Terminal() {
		return fmt.Errorf("archive %s: status %s is not terminal", sess.ID, sess.Status)
	}
	scope := sess.Scope()
	rec, err := s.LoadSidecar(scope)
	if err != nil {
		return err
	}
	kept := rec.ActiveSessions[:0]
	for _, a := range rec.ActiveSessions {
		if a.ID != sess.ID {
			kept = append(kept, a)
		}
	}
	rec.ActiveSessions = kept
	rec.Archive = append(rec.Archive, sess.CompactArchive())
	if len(rec.Archive) > model.ArchiveKeep {
		rec.Archive = rec.Archive[len(rec.Archive)-model.ArchiveKeep:]
	}
	if err := s.SaveSidecar(scope, rec); err != nil {
		return err
	}
	return s.archiveIndexEntry(sess)
}

// IndexPath returns the global index path.
func (s *Store) IndexPath() string {
	return config.IndexPath(s.root)
}

// LoadIndex reads and validates the global index. A missing file yields an
// empty record.
func (s *Store) LoadIndex() (model.IndexRecord, error) {
	raw, err := fsutil.ReadJSONBytes(s.IndexPath())
	if err != nil {
		if errors.Is(err, fsutil.ErrNotFound) {
			return model.NewIndexRecord(), nil
		}
		return model.IndexRecord{}, err
	}
	if err := validate(schemas.Index, raw); err != nil {
		return model.IndexRecord{}, fmt.Errorf("%s: %w", s.IndexPath(), err)
	}
	var rec model.IndexRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.IndexRecord{}, fmt.Errorf("parse %s: %w", s.IndexPath(), err)
	}
	return rec, nil
}

// SaveIndex writes the global index atomically.
func (s *Store) SaveIndex(rec model.IndexRecord) error {
	return fsutil.WriteJSONAtomic(s.IndexPath(), rec)
}

func (s *Store) indexEntry(sess *model.Session) model.IndexEntry {
	return model.IndexEntry{
		SessionID:   sess.ID,
		Pillar:      sess.Pillar,
		Project:     sess.Project,
		ContextType: sess.ContextType,
		Status:      sess.Status,
		StatePath:   s.relStatePath(sess.Scope()),
		UpdatedAt:   sess.UpdatedAt,
	}
}

func (s *Store) upsertIndexEntry(sess *model.Session) error {
	idx, err := s.LoadIndex()
	if err != nil {
		return err
	}
	entry := s.indexEntry(sess)
	replaced := false
	for i := range idx.Active {
		if idx.Active[i].SessionID == sess.ID {
			idx.Active[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		idx.Active = append(idx.Active, entry)
	}
	return s.SaveIndex(idx)
}

func (s *Store) archiveIndexEntry(sess *model.Session) error {
	idx, err := s.LoadIndex()
	if err != nil {
		return err
	}
	kept := idx.Active[:0]
	for _, e := range idx.Active {
		if e.SessionID != sess.ID {
			kept = append(kept, e)
		}
	}
	idx.Active = kept
	idx.History = append(idx.History, sess.CompactArchive())
	if len(idx.History) > model.HistoryKeep {
		idx.History = idx.History[len(idx.History)-model.HistoryKeep:]
	}
	return s.SaveIndex(idx)
}

// ActiveEntries lists the index's active sessions.
func (s *Store) ActiveEntries() ([]model.IndexEntry, error) {
	idx, err := s.LoadIndex()
	if err != nil {
		return nil, err
	}
	return idx.Active, nil
}

// Rebuild rescans every sidecar under the workspace and rewrites the
// index's active list from what it finds, preserving history. It returns
// the number of active sessions indexed.
func (s *Store) Rebuild() (int, error) {
	paths, err := fsutil.FindRecords(s.root, sidecarPatterns...)
	if err != nil {
		return 0, err
	}
	idx, err := s.LoadIndex()
	if err != nil {
		logger.Info("rebuild: starting from empty index (%v)", err)
		idx = model.NewIndexRecord()
	}
	idx.Active = idx.Active[:0]
	for _, rel := range paths {
		rec, err := s.loadSidecarPath(filepath.Join(s.root, filepath.FromSlash(rel)))
		if err != nil {
			logger.Error("rebuild: skipping %s: %v", rel, err)
			continue
		}
		for i := range rec.ActiveSessions {
			sess := &rec.ActiveSessions[i]
			if !sess.Status.Active() {
				continue
			}
			entry := s.indexEntry(sess)
			entry.StatePath = rel
			idx.Active = append(idx.Active, entry)
		}
	}
	if err := s.SaveIndex(idx); err != nil {
		return 0, err
	}
	return len(idx.Active), nil
}

func validate(name string, raw []byte) error {
	schema, err := schemas.Compile(name)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("record schema: %w", err)
	}
	return nil
}
