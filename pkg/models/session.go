package models

// Session is the in-memory (and, via the sessions store, on-disk) state
// for one conversation. SessionID is treated as a filename component and
// must be filesystem-safe.
type Session struct {
	SessionID string `json:"session_id"`

	// Model is a "provider/model" string, e.g. "anthropic/claude-sonnet-4".
	// Empty means the config's default_model applies.
	Model string `json:"model"`

	History []Turn `json:"-"`

	// ActiveSkills is an ordered set: insertion order defines prompt
	// injection order. Duplicates are never inserted (skill.add is
	// idempotent).
	ActiveSkills []string `json:"active_skills"`

	// BannedSkills excludes names from RAG selection for this session.
	BannedSkills []string `json:"banned_skills"`
}

// HasActiveSkill reports whether name is currently active.
func (s *Session) HasActiveSkill(name string) bool {
	for _, n := range s.ActiveSkills {
		if n == name {
			return true
		}
	}
	return false
}

// IsBanned reports whether name is banned for this session.
func (s *Session) IsBanned(name string) bool {
	for _, n := range s.BannedSkills {
		if n == name {
			return true
		}
	}
	return false
}

// AddActiveSkill appends name to ActiveSkills if not already present.
// Reports whether it changed the set.
func (s *Session) AddActiveSkill(name string) bool {
	if s.HasActiveSkill(name) {
		return false
	}
	s.ActiveSkills = append(s.ActiveSkills, name)
	return true
}

// RemoveActiveSkill removes name from ActiveSkills. Reports whether it
// changed the set.
func (s *Session) RemoveActiveSkill(name string) bool {
	for i, n := range s.ActiveSkills {
		if n == name {
			s.ActiveSkills = append(s.ActiveSkills[:i], s.ActiveSkills[i+1:]...)
			return true
		}
	}
	return false
}

// Ban adds name to BannedSkills if not already present.
func (s *Session) Ban(name string) bool {
	if s.IsBanned(name) {
		return false
	}
	s.BannedSkills = append(s.BannedSkills, name)
	return true
}

// Unban removes name from BannedSkills.
func (s *Session) Unban(name string) bool {
	for i, n := range s.BannedSkills {
		if n == name {
			s.BannedSkills = append(s.BannedSkills[:i], s.BannedSkills[i+1:]...)
			return true
		}
	}
	return false
}

// CloneSkillsSnapshot returns a copy of ActiveSkills suitable for stamping
// onto a user Turn's SkillsSnapshot.
func (s *Session) CloneSkillsSnapshot() []string {
	out := make([]string, len(s.ActiveSkills))
	copy(out, s.ActiveSkills)
	return out
}
