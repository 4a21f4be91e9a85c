package toolexec

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveUnder returns an absolute, cleaned path for name rooted at root,
// rejecting anything that would escape root. Used to build each call's
// {tool_run_dir}/{call_id}/ capture directory without trusting a
// model-supplied call_id to stay inside tool_run_dir.
func resolveUnder(root, name string) (string, error) {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return "", fmt.Errorf("toolexec: path is required")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("toolexec: resolve root: %w", err)
	}
	target := filepath.Join(rootAbs, clean)
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("toolexec: resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("toolexec: resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("toolexec: path escapes tool_run_dir")
	}
	return targetAbs, nil
}
