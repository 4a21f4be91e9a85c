// Package inferenceloop orchestrates one session "send": RAG augmentation,
// prompt assembly, streaming the LLM Gateway, tool-call interception, and
// re-entering until the model produces a terminal answer (spec.md §4.6).
package inferenceloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/ruster/internal/llmgateway"
	"github.com/haasonsaas/ruster/internal/metrics"
	"github.com/haasonsaas/ruster/internal/promptassembler"
	"github.com/haasonsaas/ruster/internal/rerrors"
	"github.com/haasonsaas/ruster/internal/sessions"
	"github.com/haasonsaas/ruster/internal/skills"
	"github.com/haasonsaas/ruster/internal/toolexec"
	"github.com/haasonsaas/ruster/pkg/models"
)

// DefaultMaxToolRounds mirrors spec.md §6's documented default for
// max_tool_rounds.
const DefaultMaxToolRounds = 8

// EventSink is how the loop reports progress to subscribed connections. An
// implementation must be safe for concurrent use and non-blocking enough
// not to stall inference on a slow client.
type EventSink interface {
	Emit(sessionID string, event models.Event)
}

// Config configures a Loop's bounded knobs, per spec.md §6.
type Config struct {
	DefaultModel  string
	RAGModel      string
	RAGTopN       int
	RAGThreshold  float64
	MaxToolRounds int
}

// Loop ties the Session Store, Skill Registry, LLM Gateway, and Tool
// Executor together to service session.send.
type Loop struct {
	store    *sessions.Store
	registry *skills.Registry
	gateway  llmgateway.Gateway
	tools    *toolexec.Manager
	sink     EventSink
	logger   *slog.Logger
	metrics  *metrics.Metrics

	cfgMu sync.RWMutex
	cfg   Config
}

// config returns a copy of the current live configuration, safe to read
// without holding cfgMu across the rest of a turn.
func (l *Loop) config() Config {
	l.cfgMu.RLock()
	defer l.cfgMu.RUnlock()
	return l.cfg
}

// UpdateConfig applies fn to a copy of the live config and swaps it in,
// backing config.set against the whitelisted runtime-mutable keys
// (spec.md §6's config.{get|set|list}).
func (l *Loop) UpdateConfig(fn func(*Config)) Config {
	l.cfgMu.Lock()
	defer l.cfgMu.Unlock()
	fn(&l.cfg)
	return l.cfg
}

// NewLoop builds a Loop. tools must have been constructed with a Resolver
// that reads active skills from the same store/registry pair passed here
// (see toolexec.Manager and the Resolver adapter in resolver_adapter.go).
// m may be nil, in which case inference loop metrics are skipped.
func NewLoop(store *sessions.Store, registry *skills.Registry, gateway llmgateway.Gateway, tools *toolexec.Manager, sink EventSink, cfg Config, m *metrics.Metrics) *Loop {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Loop{
		store:    store,
		registry: registry,
		gateway:  gateway,
		tools:    tools,
		sink:     sink,
		cfg:      cfg,
		logger:   slog.Default().With("component", "inferenceloop"),
		metrics:  m,
	}
}

// Send runs one full turn for sessionID given the user's new message
// content, per spec.md §4.6 steps 1-5. The session's exclusive lock is held
// for the entire turn (spec.md §5), so a concurrent send or skill mutation
// on the same session waits behind it rather than racing on its history.
// A waiter that does not get the lock within the store Locker's timeout
// (DefaultLockTimeout, 5s) fails with ErrLockTimeout instead of waiting on.
func (l *Loop) Send(ctx context.Context, sessionID, content string) error {
	if err := l.store.Locker().Lock(ctx, sessionID); err != nil {
		return err
	}
	defer l.store.Locker().Unlock(sessionID)

	start := time.Now()
	defer func() { l.metrics.InferenceTurnCompleted(time.Since(start)) }()

	session, err := l.store.Get(sessionID)
	if err != nil {
		return err
	}

	if err := l.ragAugment(ctx, session, content); err != nil {
		l.logger.Warn("rag augmentation failed, continuing with existing active skills", "session_id", sessionID, "error", err)
	}
	l.warnMissingSkills(session)

	userTurn := models.Turn{
		Role:           models.RoleUser,
		Content:        content,
		SkillsSnapshot: session.CloneSkillsSnapshot(),
	}
	if err := l.store.AppendTurnLocked(sessionID, userTurn); err != nil {
		return err
	}

	cfg := l.config()
	model := session.Model
	if model == "" {
		model = cfg.DefaultModel
	}

	for round := 0; ; round++ {
		if round >= cfg.MaxToolRounds {
			if err := l.store.AppendTurnLocked(sessionID, models.Turn{
				Role:             models.RoleTool,
				Content:          "round limit reached",
				RoundLimitNotice: true,
			}); err != nil {
				return err
			}
			return l.streamTerminal(ctx, session, model)
		}

		toolCalls, err := l.streamOnce(ctx, session, model)
		if err != nil {
			return err
		}
		if len(toolCalls) == 0 {
			return nil
		}
		l.executeToolCalls(ctx, session, toolCalls)
	}
}

// warnMissingSkills emits skill_warning for any active skill the registry
// no longer knows about (e.g. its SKILL.md was deleted since activation).
func (l *Loop) warnMissingSkills(session *models.Session) {
	for _, name := range session.ActiveSkills {
		if _, ok := l.registry.Get(name); !ok {
			l.sink.Emit(session.SessionID, models.SkillWarningEvent(session.SessionID, name, "not_found_in_registry"))
		}
	}
}

// ragAugment embeds content, selects skills above threshold excluding
// banned/already-active ones, activates each, and emits skill_used.
func (l *Loop) ragAugment(ctx context.Context, session *models.Session, content string) error {
	excluded := make(map[string]bool, len(session.ActiveSkills)+len(session.BannedSkills))
	for _, n := range session.ActiveSkills {
		excluded[n] = true
	}
	for _, n := range session.BannedSkills {
		excluded[n] = true
	}

	cfg := l.config()
	results, err := l.registry.Search(ctx, content, cfg.RAGTopN, cfg.RAGThreshold, excluded)
	if err != nil {
		return err
	}

	for _, r := range results {
		if err := l.store.MutateSkillsLocked(session.SessionID, func(s *models.Session) {
			s.AddActiveSkill(r.Name)
		}); err != nil {
			return err
		}
		l.metrics.SkillActivated(r.Name)
		l.sink.Emit(session.SessionID, models.SkillUsedEvent(session.SessionID, r.Name))
	}
	return nil
}

// streamOnce assembles the prompt from session's current history and
// streams one completion, forwarding text deltas and persisting the
// resulting assistant turn. It returns any tool calls the model requested.
func (l *Loop) streamOnce(ctx context.Context, session *models.Session, model string) ([]models.ToolCallRequest, error) {
	req := promptassembler.Assemble(model, session.ActiveSkills, l.registry, session.History, "")

	stream, err := l.gateway.ChatStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("inferenceloop: %w: %v", rerrors.ErrUpstreamStream, err)
	}

	var content string
	var toolCalls []models.ToolCallRequest
	for item := range stream {
		switch item.Kind {
		case llmgateway.ItemTextDelta:
			content += item.Text
			l.sink.Emit(session.SessionID, models.ResponseEvent(session.SessionID, item.Text, false, ""))
		case llmgateway.ItemToolCall:
			args := json.RawMessage(item.ToolCall.Arguments)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			toolCalls = append(toolCalls, models.ToolCallRequest{
				CallID:    item.ToolCall.CallID,
				Name:      item.ToolCall.Name,
				Arguments: args,
			})
		case llmgateway.ItemEnd:
			if item.Err != nil {
				l.metrics.StreamErrored(l.gateway.Name())
				l.sink.Emit(session.SessionID, models.ResponseEvent(session.SessionID, "", true, item.Err.Error()))
				return nil, fmt.Errorf("inferenceloop: %w: %v", rerrors.ErrUpstreamStream, item.Err)
			}
		}
	}

	assistantTurn := models.Turn{Role: models.RoleAssistant, Content: content, ToolCalls: toolCalls}
	if err := l.store.AppendTurnLocked(session.SessionID, assistantTurn); err != nil {
		return nil, err
	}
	if len(toolCalls) == 0 {
		l.sink.Emit(session.SessionID, models.ResponseEvent(session.SessionID, "", true, ""))
	}
	return toolCalls, nil
}

// streamTerminal streams one final, tool-call-free answer after the
// max_tool_rounds synthetic turn has been injected (spec.md §4.6 step 5).
func (l *Loop) streamTerminal(ctx context.Context, session *models.Session, model string) error {
	req := promptassembler.Assemble(model, session.ActiveSkills, l.registry, session.History, "")
	stream, err := l.gateway.ChatStream(ctx, req)
	if err != nil {
		return fmt.Errorf("inferenceloop: %w: %v", rerrors.ErrUpstreamStream, err)
	}

	var content string
	for item := range stream {
		switch item.Kind {
		case llmgateway.ItemTextDelta:
			content += item.Text
			l.sink.Emit(session.SessionID, models.ResponseEvent(session.SessionID, item.Text, false, ""))
		case llmgateway.ItemEnd:
			if item.Err != nil {
				l.metrics.StreamErrored(l.gateway.Name())
				l.sink.Emit(session.SessionID, models.ResponseEvent(session.SessionID, "", true, item.Err.Error()))
				return fmt.Errorf("inferenceloop: %w: %v", rerrors.ErrUpstreamStream, item.Err)
			}
		}
	}

	if err := l.store.AppendTurnLocked(session.SessionID, models.Turn{Role: models.RoleAssistant, Content: content}); err != nil {
		return err
	}
	l.sink.Emit(session.SessionID, models.ResponseEvent(session.SessionID, "", true, ""))
	return nil
}

// executeToolCalls runs each call sequentially (spec.md §4.6 step 4: "for
// each call sequentially"), emitting tool_call events and appending tool
// turns as it goes.
func (l *Loop) executeToolCalls(ctx context.Context, session *models.Session, calls []models.ToolCallRequest) {
	for _, call := range calls {
		var preview string
		var exitCode int
		var reference string

		if toolexec.IsBuiltin(call.Name) {
			out, err := l.tools.Paginate(call.Arguments)
			preview = out
			reference = ""
			if err != nil {
				preview = err.Error()
				exitCode = -1
			}
		} else {
			result := l.tools.Execute(ctx, session.SessionID, call)
			preview = result.ResultPreview
			exitCode = result.ExitCode
			reference = result.Reference
			if result.Err != nil && preview == "" {
				preview = result.Err.Error()
			}
		}

		toolContent := preview
		if reference != "" {
			toolContent = preview + "\n" + reference
		}
		if err := l.store.AppendTurnLocked(session.SessionID, models.Turn{
			Role:     models.RoleTool,
			Content:  toolContent,
			CallID:   call.CallID,
			ToolName: call.Name,
		}); err != nil {
			l.logger.Error("append tool turn failed", "session_id", session.SessionID, "call_id", call.CallID, "error", err)
			continue
		}

		l.sink.Emit(session.SessionID, models.ToolCallEvent(session.SessionID, call.CallID, call.Name, preview, exitCode))
	}
}
