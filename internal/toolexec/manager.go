// Package toolexec resolves a model's tool call against a session's active
// skills and runs it as a sandboxed subprocess, capturing stdout/stderr to
// a per-call directory under tool_run_dir (spec.md §4.6 step 4).
package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/ruster/internal/metrics"
	"github.com/haasonsaas/ruster/internal/rerrors"
	"github.com/haasonsaas/ruster/internal/skills"
	"github.com/haasonsaas/ruster/pkg/models"
)

// BuiltinPaginate is the name of the built-in tool that reads a slice of a
// prior call's captured output without re-executing it.
const BuiltinPaginate = "paginate_tool_output"

// DefaultTimeout and DefaultOutputLines mirror spec.md §6's documented
// defaults for tool_timeout_secs and tool_output_lines.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultOutputLines = 10
	killGrace          = 5 * time.Second
)

// Resolver looks up the currently active skills for a session, in prompt
// injection order, so Manager can disambiguate a bare tool name.
type Resolver interface {
	ActiveSkills(sessionID string) []*skills.Skill
}

// Manager executes tool calls and maintains the on-disk capture directory.
type Manager struct {
	runDir      string
	timeout     time.Duration
	outputLines int
	logger      *slog.Logger
	resolver    Resolver
	metrics     *metrics.Metrics
}

// Config configures a Manager. Zero Timeout/OutputLines fall back to the
// spec defaults.
type Config struct {
	RunDir      string
	Timeout     time.Duration
	OutputLines int
}

// NewManager builds a Manager rooted at cfg.RunDir, resolving tool names
// against resolver's view of each session's active skills. m may be nil,
// in which case tool execution metrics are skipped.
func NewManager(cfg Config, resolver Resolver, m *metrics.Metrics) *Manager {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	lines := cfg.OutputLines
	if lines <= 0 {
		lines = DefaultOutputLines
	}
	return &Manager{
		runDir:      cfg.RunDir,
		timeout:     timeout,
		outputLines: lines,
		logger:      slog.Default().With("component", "toolexec"),
		resolver:    resolver,
		metrics:     m,
	}
}

// IsBuiltin reports whether name is serviced directly by the Manager
// rather than resolved against a skill's declared tools.
func IsBuiltin(name string) bool {
	return name == BuiltinPaginate
}

// Result is what the inference loop feeds back into the prompt and what
// the event sink reports to clients.
type Result struct {
	CallID        string
	Tool          string
	ExitCode      int
	TimedOut      bool
	ResultPreview string
	Reference     string // "tool://<call_id>"
	Err           error
}

// resolution is one candidate match for a requested tool name.
type resolution struct {
	skill *skills.Skill
	tool  skills.ToolDef
}

// Resolve finds the ToolDef a bare or qualified name refers to among
// sessionID's active skills, per spec.md §4.6: exact match wins over a
// suffix ("<skill>.<tool>") match; more than one exact match or more than
// one suffix match is a conflict error. The Prompt Assembler declares tools
// under their bare names and does not qualify them, so a qualified name
// only arrives here when the model sends one.
func (m *Manager) Resolve(sessionID, name string) (*skills.Skill, skills.ToolDef, error) {
	active := m.resolver.ActiveSkills(sessionID)

	var exact []resolution
	var suffix []resolution
	for _, sk := range active {
		for _, t := range sk.Tools {
			if t.Exec == "" {
				continue
			}
			if t.Name == name {
				exact = append(exact, resolution{sk, t})
				continue
			}
			if skills.QualifiedName(sk.Name, t.Name) == name {
				suffix = append(suffix, resolution{sk, t})
			}
		}
	}

	switch {
	case len(exact) == 1:
		return exact[0].skill, exact[0].tool, nil
	case len(exact) > 1:
		return nil, skills.ToolDef{}, fmt.Errorf("toolexec: %q is ambiguous across %d active skills: %w", name, len(exact), rerrors.ErrConflict)
	case len(suffix) == 1:
		return suffix[0].skill, suffix[0].tool, nil
	case len(suffix) > 1:
		return nil, skills.ToolDef{}, fmt.Errorf("toolexec: %q is ambiguous across %d active skills: %w", name, len(suffix), rerrors.ErrConflict)
	default:
		return nil, skills.ToolDef{}, fmt.Errorf("toolexec: no active skill declares tool %q: %w", name, rerrors.ErrNotFound)
	}
}

// Execute resolves and runs a tool call, writing call.json, stdout, and
// stderr under {tool_run_dir}/{call_id}/ (the directory is named by the
// call's call_id; a fresh UUID is used only when call_id is empty), and
// returns a Result carrying the head-slice preview the inference loop
// appends as a tool turn.
func (m *Manager) Execute(ctx context.Context, sessionID string, call models.ToolCallRequest) (result Result) {
	start := time.Now()
	defer func() {
		outcome := "success"
		switch {
		case result.TimedOut:
			outcome = "timeout"
		case result.Err != nil:
			outcome = "error"
		}
		m.metrics.ToolExecuted(call.Name, outcome, time.Since(start))
	}()

	callID := call.CallID
	if callID == "" {
		callID = uuid.NewString()
	}

	sk, tool, err := m.Resolve(sessionID, call.Name)
	if err != nil {
		return Result{CallID: callID, Tool: call.Name, ExitCode: -1, Err: err}
	}

	if err := validateArguments(tool, call.Arguments); err != nil {
		return Result{CallID: callID, Tool: call.Name, ExitCode: -1, Err: fmt.Errorf("toolexec: %s: %w: %v", call.Name, rerrors.ErrMalformedInput, err)}
	}

	captureDir, err := resolveUnder(m.runDir, callID)
	if err != nil {
		return Result{CallID: callID, Tool: call.Name, ExitCode: -1, Err: fmt.Errorf("toolexec: %w: %v", rerrors.ErrToolExecFailed, err)}
	}
	if err := os.MkdirAll(captureDir, 0o755); err != nil {
		return Result{CallID: callID, Tool: call.Name, ExitCode: -1, Err: fmt.Errorf("toolexec: create capture dir: %w: %v", rerrors.ErrToolExecFailed, err)}
	}

	record := models.ToolCallRecord{
		ID:           callID,
		SessionID:    sessionID,
		Tool:         call.Name,
		ArgumentsRaw: call.Arguments,
		StdoutPath:   filepath.Join(captureDir, "stdout"),
		StderrPath:   filepath.Join(captureDir, "stderr"),
		StartedAt:    time.Now(),
	}
	if err := writeCallMetadata(captureDir, record); err != nil {
		m.logger.Warn("write call.json failed", "call_id", callID, "error", err)
	}

	exitCode, timedOut, runErr := m.run(ctx, sk, tool, call.Arguments, sessionID, callID, record.StdoutPath, record.StderrPath)

	record.EndedAt = time.Now()
	record.ExitCode = exitCode
	record.TimedOut = timedOut
	if runErr != nil {
		record.Error = runErr.Error()
	}
	if err := writeCallMetadata(captureDir, record); err != nil {
		m.logger.Warn("update call.json failed", "call_id", callID, "error", err)
	}

	preview, err := headLines(record.StdoutPath, m.outputLines)
	if err != nil {
		m.logger.Warn("read stdout preview failed", "call_id", callID, "error", err)
	}

	result = Result{
		CallID:        callID,
		Tool:          call.Name,
		ExitCode:      exitCode,
		TimedOut:      timedOut,
		ResultPreview: preview,
		Reference:     "tool://" + callID,
	}
	if timedOut {
		result.Err = fmt.Errorf("toolexec: %s: %w", call.Name, rerrors.ErrToolTimeout)
	} else if runErr != nil {
		result.Err = fmt.Errorf("toolexec: %s: %w: %v", call.Name, rerrors.ErrToolExecFailed, runErr)
	}
	return result
}

// run executes tool.Exec under bash -c inside sk's root directory, passing
// arguments via RUSTER_TOOL_ARGS, and enforces the wall-clock timeout with
// SIGTERM then SIGKILL after a grace period (spec.md §6's tool_timeout
// entry). exec.CommandContext alone only offers SIGKILL-on-cancel, which
// cannot express that escalation, so the process group is managed by hand.
func (m *Manager) run(ctx context.Context, sk *skills.Skill, tool skills.ToolDef, args json.RawMessage, sessionID, callID, stdoutPath, stderrPath string) (exitCode int, timedOut bool, err error) {
	stdoutFile, err := os.Create(stdoutPath)
	if err != nil {
		return -1, false, fmt.Errorf("create stdout capture: %w", err)
	}
	defer stdoutFile.Close()
	stderrFile, err := os.Create(stderrPath)
	if err != nil {
		return -1, false, fmt.Errorf("create stderr capture: %w", err)
	}
	defer stderrFile.Close()

	cmd := exec.Command("bash", "-c", tool.Exec)
	cmd.Dir = sk.Path
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = append(os.Environ(),
		"RUSTER_TOOL_ARGS="+string(argsOrEmptyObject(args)),
		"RUSTER_CALL_ID="+callID,
		"RUSTER_SESSION_ID="+sessionID,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return -1, false, fmt.Errorf("start: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		return exitCodeOf(cmd, waitErr), false, nonExitError(waitErr)
	case <-ctx.Done():
		m.terminate(cmd, done)
		<-done
		return -1, false, ctx.Err()
	case <-timer.C:
		m.terminate(cmd, done)
		<-done
		return -1, true, fmt.Errorf("exceeded %s", m.timeout)
	}
}

// terminate sends SIGTERM to the process group and escalates to SIGKILL if
// the process hasn't exited within killGrace.
func (m *Manager) terminate(cmd *exec.Cmd, done <-chan error) {
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(killGrace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func nonExitError(waitErr error) error {
	var exitErr *exec.ExitError
	if waitErr == nil || errors.As(waitErr, &exitErr) {
		return nil
	}
	return waitErr
}

func argsOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

func writeCallMetadata(captureDir string, record models.ToolCallRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(captureDir, "call.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(captureDir, "call.json"))
}
