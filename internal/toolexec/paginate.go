package toolexec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/ruster/internal/rerrors"
)

// PaginateRequest is the argument shape for the built-in paginate_tool_output
// tool (spec.md §4.6): read a slice of a prior call's captured output
// without re-executing it.
type PaginateRequest struct {
	CallID     string `json:"call_id"`
	Stream     string `json:"stream,omitempty"` // "stdout" (default) or "stderr"
	OffsetLine int    `json:"offset_lines,omitempty"`
	MaxLines   int    `json:"max_lines,omitempty"`
	Grep       string `json:"grep,omitempty"`
}

// defaultMaxLines bounds an unpaginated-max request the same way
// headLines bounds the automatic stdout preview.
const defaultMaxLines = 200

// Paginate services the paginate_tool_output builtin: it never spawns a
// process, only reads the already-captured file for call_id.
func (m *Manager) Paginate(args json.RawMessage) (string, error) {
	var req PaginateRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return "", fmt.Errorf("toolexec: paginate: %w: %v", rerrors.ErrMalformedInput, err)
	}
	if req.CallID == "" {
		return "", fmt.Errorf("toolexec: paginate: call_id is required: %w", rerrors.ErrMalformedInput)
	}
	stream := req.Stream
	if stream == "" {
		stream = "stdout"
	}
	if stream != "stdout" && stream != "stderr" {
		return "", fmt.Errorf("toolexec: paginate: stream must be stdout or stderr: %w", rerrors.ErrMalformedInput)
	}
	maxLines := req.MaxLines
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}

	captureDir, err := resolveUnder(m.runDir, req.CallID)
	if err != nil {
		return "", fmt.Errorf("toolexec: paginate: %w: %v", rerrors.ErrNotFound, err)
	}
	path := captureDir + string(os.PathSeparator) + stream
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("toolexec: paginate: %w: %v", rerrors.ErrNotFound, err)
	}

	lines, err := readLines(path, req.OffsetLine, maxLines, req.Grep)
	if err != nil {
		return "", fmt.Errorf("toolexec: paginate: %w: %v", rerrors.ErrToolExecFailed, err)
	}
	return strings.Join(lines, "\n"), nil
}

// headLines returns the first n lines of path. A missing file (a process
// that wrote nothing, or a timeout before any output) is not an error.
func headLines(path string, n int) (string, error) {
	lines, err := readLines(path, 0, n, "")
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// readLines scans path, optionally filtering by a substring grep, skipping
// offset matching lines, and returning at most maxLines.
func readLines(path string, offset, maxLines int, grep string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var out []string
	skipped := 0
	for scanner.Scan() {
		line := scanner.Text()
		if grep != "" && !strings.Contains(line, grep) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, line)
		if len(out) >= maxLines {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
