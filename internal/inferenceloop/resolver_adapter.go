package inferenceloop

import (
	"github.com/haasonsaas/ruster/internal/sessions"
	"github.com/haasonsaas/ruster/internal/skills"
)

// ToolResolver adapts a Session Store + Skill Registry pair into the
// toolexec.Resolver interface, so Manager.Execute can look up which
// skills are active for a session without importing sessions/skills
// itself introducing a cycle back into inferenceloop.
type ToolResolver struct {
	Store    *sessions.Store
	Registry *skills.Registry
}

// ActiveSkills returns the resolved *skills.Skill for each name in
// sessionID's active_skills, in prompt injection order. Names no longer
// present in the registry are silently skipped; warnMissingSkills is
// responsible for surfacing that to clients.
func (a ToolResolver) ActiveSkills(sessionID string) []*skills.Skill {
	session, err := a.Store.Get(sessionID)
	if err != nil {
		return nil
	}
	out := make([]*skills.Skill, 0, len(session.ActiveSkills))
	for _, name := range session.ActiveSkills {
		if sk, ok := a.Registry.Get(name); ok {
			out = append(out, sk)
		}
	}
	return out
}
