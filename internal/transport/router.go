// Package transport implements the UNIX-socket command router: envelope
// normalization, per-connection line framing, and dispatch to the
// session/skill/config command groups (spec.md §4.1, §6).
package transport

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/haasonsaas/ruster/internal/config"
	"github.com/haasonsaas/ruster/internal/inferenceloop"
	"github.com/haasonsaas/ruster/internal/rerrors"
	"github.com/haasonsaas/ruster/internal/sessions"
	"github.com/haasonsaas/ruster/internal/skills"
	"github.com/haasonsaas/ruster/pkg/models"
)

// configWhitelist is the set of config.set keys a client may mutate at
// runtime, backed by Loop.UpdateConfig (spec.md §6: "against a known-key
// whitelist"). Keys outside this set (socket_path, skills_dirs, ...) are
// fixed at startup and only readable via config.get/list.
var configWhitelist = map[string]bool{
	"default_model":   true,
	"rag_model":       true,
	"rag_top_n":       true,
	"rag_threshold":   true,
	"max_tool_rounds": true,
}

// Router dispatches normalized commands to the Session Store, Skill
// Registry, and Inference Loop, and fans replies back through Sink.
type Router struct {
	store         *sessions.Store
	registry      *skills.Registry
	loop          *inferenceloop.Loop
	sink          *Sink
	staticCfg     *config.Config
	initialSkills []string
	logger        *slog.Logger
}

// NewRouter builds a Router. staticCfg is read-only: it backs config.get
// and config.list for keys that are not runtime-mutable.
func NewRouter(store *sessions.Store, registry *skills.Registry, loop *inferenceloop.Loop, sink *Sink, staticCfg *config.Config) *Router {
	return &Router{
		store:         store,
		registry:      registry,
		loop:          loop,
		sink:          sink,
		staticCfg:     staticCfg,
		initialSkills: staticCfg.InitialSkills,
		logger:        slog.Default().With("component", "transport"),
	}
}

// Handle normalizes and dispatches one raw line from conn. Malformed input
// never closes the connection (spec.md §4.1).
func (r *Router) Handle(ctx context.Context, conn connWriter, raw []byte) {
	cmd, err := normalize(raw)
	if err != nil {
		conn.writeEvent(models.ErrorEvent(rerrors.Reason(err), "invalid command envelope"))
		return
	}

	switch cmd.Group {
	case "session":
		r.handleSession(ctx, conn, cmd)
	case "skill":
		r.handleSkill(ctx, conn, cmd)
	case "config":
		r.handleConfig(ctx, conn, cmd)
	default:
		conn.writeEvent(models.Event{"event": "error", "reason": "unknown_command"})
	}
}

type sessionArgs struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Message   string `json:"message"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

func (r *Router) handleSession(ctx context.Context, conn connWriter, cmd command) {
	var args sessionArgs
	if len(cmd.Arguments) > 0 {
		if err := json.Unmarshal(cmd.Arguments, &args); err != nil {
			conn.writeEvent(models.ErrorEvent("malformed_input", "invalid session arguments"))
			return
		}
	}

	switch cmd.Action {
	case "create":
		if args.SessionID == "" {
			conn.writeEvent(models.ErrorEvent("malformed_input", "session_id is required"))
			return
		}
		filtered := r.filterKnownSkills(r.initialSkills)
		session, created, err := r.store.Create(ctx, args.SessionID, args.Model, filtered)
		if err != nil {
			conn.writeEvent(models.ErrorEvent(rerrors.Reason(err), err.Error()))
			return
		}
		r.sink.Subscribe(args.SessionID, conn)
		warning := ""
		if !created && args.Model != "" && session.Model != args.Model {
			warning = "conflict: session already exists with a different model, existing session honored"
		}
		conn.writeEvent(models.CreatedEvent(session.SessionID, session.Model, warning))

	case "send":
		if args.SessionID == "" || args.Message == "" {
			conn.writeEvent(models.ErrorEvent("malformed_input", "session_id and message are required"))
			return
		}
		r.sink.Subscribe(args.SessionID, conn)
		sessionID := args.SessionID
		message := args.Message
		go func() {
			if err := r.loop.Send(context.Background(), sessionID, message); err != nil {
				r.logger.Error("session.send failed", "session_id", sessionID, "error", err)
				r.sink.Emit(sessionID, models.ResponseEvent(sessionID, "", true, err.Error()))
			}
		}()

	case "list":
		conn.writeEvent(models.SessionsEvent(r.store.List()))

	case "delete":
		if args.SessionID == "" {
			conn.writeEvent(models.ErrorEvent("malformed_input", "session_id is required"))
			return
		}
		if err := r.store.Delete(ctx, args.SessionID); err != nil {
			conn.writeEvent(models.ErrorEvent(rerrors.Reason(err), err.Error()))
			return
		}
		r.sink.Emit(args.SessionID, models.DeletedEvent(args.SessionID))
		r.sink.DropSession(args.SessionID)

	case "history":
		if args.SessionID == "" {
			conn.writeEvent(models.ErrorEvent("malformed_input", "session_id is required"))
			return
		}
		limit := args.Limit
		if limit == 0 {
			limit = 20
		}
		turns, err := r.store.History(args.SessionID, limit, args.Offset)
		if err != nil {
			conn.writeEvent(models.ErrorEvent(rerrors.Reason(err), err.Error()))
			return
		}
		conn.writeEvent(models.HistoryEvent(turns))

	default:
		conn.writeEvent(models.Event{"event": "error", "reason": "unknown_command"})
	}
}

type skillArgs struct {
	SessionID string  `json:"session_id"`
	Skill     string  `json:"skill"`
	Query     string  `json:"query"`
	TopN      int     `json:"top_n"`
	Threshold float64 `json:"threshold"`
}

func (r *Router) handleSkill(ctx context.Context, conn connWriter, cmd command) {
	var args skillArgs
	if len(cmd.Arguments) > 0 {
		if err := json.Unmarshal(cmd.Arguments, &args); err != nil {
			conn.writeEvent(models.ErrorEvent("malformed_input", "invalid skill arguments"))
			return
		}
	}
	if args.SessionID == "" {
		conn.writeEvent(models.ErrorEvent("malformed_input", "session_id is required"))
		return
	}

	switch cmd.Action {
	case "add":
		if _, ok := r.registry.Get(args.Skill); !ok {
			conn.writeEvent(models.ErrorEvent("not_found", "unknown skill: "+args.Skill))
			return
		}
		err := r.store.MutateSkills(ctx, args.SessionID, func(s *models.Session) {
			if !s.IsBanned(args.Skill) {
				s.AddActiveSkill(args.Skill)
			}
		})
		r.replyActiveSkills(conn, args.SessionID, err)

	case "list":
		session, err := r.store.Get(args.SessionID)
		if err != nil {
			conn.writeEvent(models.ErrorEvent(rerrors.Reason(err), err.Error()))
			return
		}
		conn.writeEvent(models.SkillListEvent(args.SessionID, session.ActiveSkills))

	case "search":
		cfg := r.staticCfg
		topN := args.TopN
		if topN <= 0 {
			topN = cfg.RAGTopN
		}
		threshold := args.Threshold
		if threshold <= 0 {
			threshold = cfg.RAGThreshold
		}
		results, err := r.registry.Search(ctx, args.Query, topN, threshold, nil)
		if err != nil {
			conn.writeEvent(models.ErrorEvent(rerrors.Reason(err), err.Error()))
			return
		}
		items := make([]models.SkillSearchResult, len(results))
		for i, res := range results {
			items[i] = models.SkillSearchResult{Name: res.Name, Score: res.Score}
		}
		conn.writeEvent(models.SkillSearchEvent(args.SessionID, items))

	case "remove":
		err := r.store.RemoveSkill(ctx, args.SessionID, args.Skill)
		r.replyActiveSkills(conn, args.SessionID, err)

	case "ban":
		err := r.store.MutateSkills(ctx, args.SessionID, func(s *models.Session) {
			s.Ban(args.Skill)
		})
		if err != nil {
			conn.writeEvent(models.ErrorEvent(rerrors.Reason(err), err.Error()))
			return
		}
		err = r.store.RemoveSkill(ctx, args.SessionID, args.Skill)
		r.replyActiveSkills(conn, args.SessionID, err)

	case "unban":
		err := r.store.MutateSkills(ctx, args.SessionID, func(s *models.Session) {
			s.Unban(args.Skill)
		})
		r.replyActiveSkills(conn, args.SessionID, err)

	default:
		conn.writeEvent(models.Event{"event": "error", "reason": "unknown_command"})
	}
}

func (r *Router) replyActiveSkills(conn connWriter, sessionID string, mutateErr error) {
	if mutateErr != nil {
		conn.writeEvent(models.ErrorEvent(rerrors.Reason(mutateErr), mutateErr.Error()))
		return
	}
	session, err := r.store.Get(sessionID)
	if err != nil {
		conn.writeEvent(models.ErrorEvent(rerrors.Reason(err), err.Error()))
		return
	}
	conn.writeEvent(models.SkillListEvent(sessionID, session.ActiveSkills))
}

func (r *Router) filterKnownSkills(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := r.registry.Get(n); ok {
			out = append(out, n)
		}
	}
	return out
}

type configArgs struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (r *Router) handleConfig(_ context.Context, conn connWriter, cmd command) {
	var args configArgs
	if len(cmd.Arguments) > 0 {
		if err := json.Unmarshal(cmd.Arguments, &args); err != nil {
			conn.writeEvent(models.ErrorEvent("malformed_input", "invalid config arguments"))
			return
		}
	}

	switch cmd.Action {
	case "get":
		values := r.configSnapshot()
		value, ok := values[args.Key]
		if !ok {
			conn.writeEvent(models.ErrorEvent("not_found", "unknown config key: "+args.Key))
			return
		}
		conn.writeEvent(models.ConfigEvent(map[string]any{args.Key: value}))

	case "list":
		conn.writeEvent(models.ConfigEvent(r.configSnapshot()))

	case "set":
		if !configWhitelist[args.Key] {
			conn.writeEvent(models.ErrorEvent("malformed_input", "config key is not runtime-mutable: "+args.Key))
			return
		}
		if err := r.applyConfigSet(args.Key, args.Value); err != nil {
			conn.writeEvent(models.ErrorEvent("malformed_input", err.Error()))
			return
		}
		conn.writeEvent(models.ConfigEvent(r.configSnapshot()))

	default:
		conn.writeEvent(models.Event{"event": "error", "reason": "unknown_command"})
	}
}

// applyConfigSet decodes value against key's expected type and mutates the
// live Loop config.
func (r *Router) applyConfigSet(key string, raw json.RawMessage) error {
	switch key {
	case "default_model":
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		r.loop.UpdateConfig(func(c *inferenceloop.Config) { c.DefaultModel = v })
	case "rag_model":
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		r.loop.UpdateConfig(func(c *inferenceloop.Config) { c.RAGModel = v })
	case "rag_top_n":
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		r.loop.UpdateConfig(func(c *inferenceloop.Config) { c.RAGTopN = v })
	case "rag_threshold":
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		r.loop.UpdateConfig(func(c *inferenceloop.Config) { c.RAGThreshold = v })
	case "max_tool_rounds":
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		r.loop.UpdateConfig(func(c *inferenceloop.Config) { c.MaxToolRounds = v })
	}
	return nil
}

// configSnapshot merges the static startup config with the Loop's current
// runtime-mutable values, for config.get/list.
func (r *Router) configSnapshot() map[string]any {
	live := r.loop.UpdateConfig(func(*inferenceloop.Config) {})
	return map[string]any{
		"socket_path":             r.staticCfg.SocketPath,
		"default_model":           live.DefaultModel,
		"rag_model":               live.RAGModel,
		"rag_top_n":               live.RAGTopN,
		"rag_threshold":           live.RAGThreshold,
		"skills_dirs":             r.staticCfg.SkillsDirs,
		"initial_skills":          r.staticCfg.InitialSkills,
		"proactive_interval_secs": r.staticCfg.ProactiveIntervalSecs,
		"log_level":               r.staticCfg.LogLevel,
		"tool_run_dir":            r.staticCfg.ToolRunDir,
		"tool_output_lines":       r.staticCfg.ToolOutputLines,
		"tool_timeout_secs":       r.staticCfg.ToolTimeoutSecs,
		"max_tool_rounds":         live.MaxToolRounds,
		"proxy_url":               r.staticCfg.ProxyURL,
	}
}
