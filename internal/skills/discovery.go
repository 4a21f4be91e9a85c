package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// DiscoverDirs scans each directory in dirs, in order, for immediate
// subdirectories containing SKILL.md. Later directories win on name
// conflicts; a warning is logged when that happens, matching spec.md
// §4.2's "duplicate names → later definition wins" rule.
func DiscoverDirs(ctx context.Context, dirs []string, logger *slog.Logger) (map[string]*Skill, error) {
	if logger == nil {
		logger = slog.Default()
	}
	found := make(map[string]*Skill)

	for _, dir := range dirs {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}

		info, err := os.Stat(dir)
		if os.IsNotExist(err) {
			logger.Debug("skills directory does not exist", "path", dir)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("not a directory: %s", dir)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", dir, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			skillDir := filepath.Join(dir, entry.Name())
			if _, err := os.Stat(filepath.Join(skillDir, SkillFilename)); err != nil {
				continue
			}

			skill, err := ParseSkillFile(skillDir)
			if err != nil {
				logger.Warn("failed to parse skill", "path", skillDir, "error", err)
				continue
			}

			if _, exists := found[skill.Name]; exists {
				logger.Warn("duplicate skill name, later definition wins", "name", skill.Name, "path", skillDir)
			}
			found[skill.Name] = skill
		}
	}

	return found, nil
}
