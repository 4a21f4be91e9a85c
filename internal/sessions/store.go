// Package sessions implements the Session Store: an in-memory map of
// live sessions backed by an append-only history.jsonl per session, plus
// the per-session exclusive lock the Inference Loop and skill.remove
// history rewrite both rely on (spec.md §4.3, §5, §9).
package sessions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/haasonsaas/ruster/internal/metrics"
	"github.com/haasonsaas/ruster/internal/rerrors"
	"github.com/haasonsaas/ruster/pkg/models"
)

// Store keeps the in-memory map session_id → Session, replaying or
// creating the on-disk layout as needed.
type Store struct {
	baseDir string
	locker  *Locker
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewStore opens a Store rooted at baseDir (spec.md §6's "<base>"). It
// does not scan existing sessions; Create replays an on-disk session the
// first time it's referenced, matching spec.md §4.3's create semantics.
// m may be nil, in which case session-count metrics are skipped.
func NewStore(baseDir string, m *metrics.Metrics) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("sessions: mkdir base: %w", err)
	}
	return &Store{
		baseDir:  baseDir,
		locker:   NewLocker(0),
		metrics:  m,
		sessions: make(map[string]*models.Session),
	}, nil
}

// Locker returns the store's per-session lock manager, shared with the
// inference loop so a skill.remove rewrite and an in-flight turn never
// race on the same session.
func (s *Store) Locker() *Locker { return s.locker }

// Create implements spec.md §4.3's three-way create: no-op if already in
// memory, replay if present on disk, else initialize a fresh session
// seeded with initialSkills (already filtered against the registry by
// the caller).
func (s *Store) Create(ctx context.Context, sessionID, model string, initialSkills []string) (*models.Session, bool, error) {
	if err := s.locker.Lock(ctx, sessionID); err != nil {
		return nil, false, err
	}
	defer s.locker.Unlock(sessionID)

	s.mu.Lock()
	if existing, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return existing, false, nil
	}
	s.mu.Unlock()

	_, historyPath, statePath, _, _ := sessionPaths(s.baseDir, sessionID)

	if onDiskSessionExists(s.baseDir, sessionID) {
		turns, err := replayHistory(historyPath)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", rerrors.ErrPersistence, err)
		}
		st, err := readState(statePath)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", rerrors.ErrPersistence, err)
		}
		session := &models.Session{
			SessionID:    sessionID,
			Model:        st.Model,
			History:      turns,
			ActiveSkills: append([]string(nil), st.ActiveSkills...),
			BannedSkills: append([]string(nil), st.BannedSkills...),
		}
		s.mu.Lock()
		s.sessions[sessionID] = session
		s.mu.Unlock()
		s.metrics.SessionCreated()
		return session, false, nil
	}

	session := &models.Session{
		SessionID: sessionID,
		Model:     model,
	}
	for _, name := range initialSkills {
		session.AddActiveSkill(name)
	}
	if err := createSessionOnDisk(s.baseDir, session); err != nil {
		return nil, false, fmt.Errorf("%w: %v", rerrors.ErrPersistence, err)
	}
	s.mu.Lock()
	s.sessions[sessionID] = session
	s.mu.Unlock()
	s.metrics.SessionCreated()
	return session, true, nil
}

// Get returns the in-memory session, or rerrors.ErrNotFound.
func (s *Store) Get(sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, rerrors.ErrNotFound
	}
	return session, nil
}

// List returns every live session's id and model, sorted by session id.
func (s *Store) List() []models.SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SessionSummary, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, models.SessionSummary{SessionID: session.SessionID, Model: session.Model})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Delete removes the session's directory and in-memory entry.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.locker.Lock(ctx, sessionID); err != nil {
		return err
	}
	defer s.locker.Unlock(sessionID)

	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return rerrors.ErrNotFound
	}
	s.metrics.SessionDeleted()

	dir, _, _, _, _ := sessionPaths(s.baseDir, sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: %v", rerrors.ErrPersistence, err)
	}
	return nil
}

// History returns a limit/offset slice of the session's turns.
func (s *Store) History(sessionID string, limit, offset int) ([]models.Turn, error) {
	session, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := session.History
	if offset < 0 {
		offset = 0
	}
	if offset > len(turns) {
		return []models.Turn{}, nil
	}
	turns = turns[offset:]
	if limit > 0 && limit < len(turns) {
		turns = turns[:limit]
	}
	return append([]models.Turn(nil), turns...), nil
}

// AppendTurn flushes turn to history.jsonl, then appends it to the
// in-memory history, under the session's lock. Callers emitting a
// client event for this turn must do so only after AppendTurn returns
// nil (spec.md §4.3's persistence rule); on error the caller must not
// emit the event and should surface persistence_error.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	if err := s.locker.Lock(ctx, sessionID); err != nil {
		return err
	}
	defer s.locker.Unlock(sessionID)
	return s.AppendTurnLocked(sessionID, turn)
}

// AppendTurnLocked does AppendTurn's work assuming the caller already
// holds sessionID's lock for the duration of a larger operation (the
// Inference Loop holds it across an entire Send so concurrent sends on
// one session serialize instead of racing on session.History — spec.md
// §5). Calling this without holding the lock is a bug: use AppendTurn.
func (s *Store) AppendTurnLocked(sessionID string, turn models.Turn) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return rerrors.ErrNotFound
	}

	_, historyPath, _, _, _ := sessionPaths(s.baseDir, sessionID)
	if err := appendTurn(historyPath, turn); err != nil {
		return fmt.Errorf("%w: %v", rerrors.ErrPersistence, err)
	}

	s.mu.Lock()
	session.History = append(session.History, turn)
	s.mu.Unlock()
	return nil
}

// MutateSkills runs fn against the session under its lock, then
// persists the resulting active/banned skill sets to state.json. Use
// for skill.add/ban/unban, which only touch skill sets, not history.
func (s *Store) MutateSkills(ctx context.Context, sessionID string, fn func(*models.Session)) error {
	if err := s.locker.Lock(ctx, sessionID); err != nil {
		return err
	}
	defer s.locker.Unlock(sessionID)
	return s.MutateSkillsLocked(sessionID, fn)
}

// MutateSkillsLocked does MutateSkills' work assuming the caller already
// holds sessionID's lock. See AppendTurnLocked.
func (s *Store) MutateSkillsLocked(sessionID string, fn func(*models.Session)) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return rerrors.ErrNotFound
	}

	s.mu.Lock()
	fn(session)
	s.mu.Unlock()

	_, _, statePath, _, _ := sessionPaths(s.baseDir, sessionID)
	if err := writeState(statePath, session); err != nil {
		return fmt.Errorf("%w: %v", rerrors.ErrPersistence, err)
	}
	return nil
}

// RemoveSkill implements skill.remove (spec.md §4.4): drop skill from
// active_skills, elide it from every turn's skills_snapshot, drop any
// turn that existed solely to inject that skill, and rewrite
// history.jsonl in place under the session's lock.
func (s *Store) RemoveSkill(ctx context.Context, sessionID, skill string) error {
	if err := s.locker.Lock(ctx, sessionID); err != nil {
		return err
	}
	defer s.locker.Unlock(sessionID)

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return rerrors.ErrNotFound
	}

	s.mu.Lock()
	session.RemoveActiveSkill(skill)

	rewritten := make([]models.Turn, 0, len(session.History))
	for _, turn := range session.History {
		if turn.IsDedicatedSkillTurn(skill) {
			continue
		}
		turn.SkillsSnapshot = removeName(turn.SkillsSnapshot, skill)
		rewritten = append(rewritten, turn)
	}
	session.History = rewritten
	s.mu.Unlock()

	_, historyPath, statePath, _, _ := sessionPaths(s.baseDir, sessionID)
	if err := rewriteHistory(historyPath, rewritten); err != nil {
		return fmt.Errorf("%w: %v", rerrors.ErrPersistence, err)
	}
	if err := writeState(statePath, session); err != nil {
		return fmt.Errorf("%w: %v", rerrors.ErrPersistence, err)
	}
	return nil
}

func removeName(names []string, target string) []string {
	if names == nil {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}
