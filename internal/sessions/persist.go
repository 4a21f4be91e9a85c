package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/ruster/pkg/models"
)

const (
	historyFilename = "history.jsonl"
	stateFilename   = "state.json"
	memoryDirname   = "memory"
	activityLogName = "activity.log"
)

// sessionPaths returns the on-disk layout for a session, matching
// <base>/sessions/<id>/{history.jsonl,state.json,memory/,activity.log}.
func sessionPaths(baseDir, sessionID string) (dir, history, state, memoryDir, activity string) {
	dir = filepath.Join(baseDir, "sessions", sessionID)
	return dir,
		filepath.Join(dir, historyFilename),
		filepath.Join(dir, stateFilename),
		filepath.Join(dir, memoryDirname),
		filepath.Join(dir, activityLogName)
}

// persistedState is the sidecar recording everything about a Session not
// derivable from replaying history.jsonl: the model and the skill sets.
// history.jsonl alone remains the authoritative turn log per spec.md §5;
// this file is rewritten atomically alongside it.
type persistedState struct {
	Model        string   `json:"model"`
	ActiveSkills []string `json:"active_skills"`
	BannedSkills []string `json:"banned_skills"`
}

func createSessionOnDisk(baseDir string, session *models.Session) error {
	dir, historyPath, statePath, memoryDir, activityPath := sessionPaths(baseDir, session.SessionID)
	if err := os.MkdirAll(memoryDir, 0o755); err != nil {
		return fmt.Errorf("sessions: mkdir: %w", err)
	}
	if _, err := os.OpenFile(historyPath, os.O_CREATE|os.O_WRONLY, 0o644); err != nil {
		return fmt.Errorf("sessions: create history log: %w", err)
	}
	if _, err := os.OpenFile(activityPath, os.O_CREATE|os.O_WRONLY, 0o644); err != nil {
		return fmt.Errorf("sessions: create activity log: %w", err)
	}
	return writeState(statePath, session)
}

func onDiskSessionExists(baseDir, sessionID string) bool {
	dir, _, _, _, _ := sessionPaths(baseDir, sessionID)
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func writeState(statePath string, session *models.Session) error {
	st := persistedState{
		Model:        session.Model,
		ActiveSkills: session.CloneSkillsSnapshot(),
		BannedSkills: append([]string(nil), session.BannedSkills...),
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("sessions: marshal state: %w", err)
	}
	tmp := statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("sessions: write state: %w", err)
	}
	return os.Rename(tmp, statePath)
}

func readState(statePath string) (persistedState, error) {
	var st persistedState
	data, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("sessions: read state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("sessions: unmarshal state: %w", err)
	}
	return st, nil
}

// appendTurn flushes turn to history.jsonl before the caller emits any
// client-visible event, per spec.md §4.3's persistence rule.
func appendTurn(historyPath string, turn models.Turn) error {
	f, err := os.OpenFile(historyPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessions: open history log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("sessions: marshal turn: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("sessions: append turn: %w", err)
	}
	return f.Sync()
}

// replayHistory reads every turn from history.jsonl in order.
func replayHistory(historyPath string) ([]models.Turn, error) {
	f, err := os.Open(historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: open history log: %w", err)
	}
	defer f.Close()

	var turns []models.Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var turn models.Turn
		if err := json.Unmarshal(line, &turn); err != nil {
			return nil, fmt.Errorf("sessions: corrupt history entry: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sessions: scan history log: %w", err)
	}
	return turns, nil
}

// rewriteHistory implements the skill.remove exception to append-only
// history: write to a sibling file, then rename it over the original.
// Callers must hold the session's lock across this call (spec.md §4.4,
// §9).
func rewriteHistory(historyPath string, turns []models.Turn) error {
	tmp := historyPath + ".rewrite"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessions: open rewrite file: %w", err)
	}
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			f.Close()
			return fmt.Errorf("sessions: marshal turn: %w", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("sessions: write rewrite file: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sessions: sync rewrite file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sessions: close rewrite file: %w", err)
	}
	if err := os.Rename(tmp, historyPath); err != nil {
		return fmt.Errorf("sessions: rename rewrite file: %w", err)
	}
	return nil
}
