package transport

import (
	"encoding/json"

	"github.com/haasonsaas/ruster/internal/rerrors"
)

// sessionGroupVerbs are the only verbs a legacy flat envelope may infer a
// group for (spec.md §4.1: "group inferred: session-group verbs only").
var sessionGroupVerbs = map[string]bool{
	"create":  true,
	"send":    true,
	"list":    true,
	"delete":  true,
	"history": true,
}

// command is the normalized shape both envelope variants collapse to.
type command struct {
	Group     string
	Action    string
	Arguments json.RawMessage
}

// normalize parses one line-framed JSON object into a command, accepting
// both the nested {"command","arguments":{"action",...}} shape and the
// legacy flat {"action",...} shape restricted to session-group verbs
// (spec.md §4.1, §9's "front-end shape-normalizer").
func normalize(line []byte) (command, error) {
	var probe struct {
		Command   string          `json:"command"`
		Arguments json.RawMessage `json:"arguments"`
		Action    string          `json:"action"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return command{}, rerrors.ErrMalformedInput
	}

	if probe.Command != "" {
		var inner struct {
			Action string `json:"action"`
		}
		if len(probe.Arguments) > 0 {
			if err := json.Unmarshal(probe.Arguments, &inner); err != nil {
				return command{}, rerrors.ErrMalformedInput
			}
		}
		args := probe.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}
		return command{Group: probe.Command, Action: inner.Action, Arguments: args}, nil
	}

	if probe.Action != "" {
		if !sessionGroupVerbs[probe.Action] {
			return command{}, rerrors.ErrMalformedInput
		}
		return command{Group: "session", Action: probe.Action, Arguments: line}, nil
	}

	return command{}, rerrors.ErrMalformedInput
}
