package transport

import (
	"encoding/json"
	"sync"

	"github.com/haasonsaas/ruster/pkg/models"
)

// connWriter is the minimal surface sink needs from a live connection: a
// serialized, non-blocking-on-the-reader way to push one line of JSON.
type connWriter interface {
	writeEvent(event models.Event)
}

// Sink fans events out to every connection subscribed to the affected
// session, mirroring the teacher's MultiSink/ChanSink split: subscription
// bookkeeping lives here, delivery is each connection's own responsibility.
// Disconnection prunes the mapping (spec.md §4.1).
type Sink struct {
	mu   sync.RWMutex
	subs map[string]map[connWriter]struct{}
}

// NewSink builds an empty Sink.
func NewSink() *Sink {
	return &Sink{subs: make(map[string]map[connWriter]struct{})}
}

// Subscribe registers c to receive events for sessionID. Idempotent.
func (s *Sink) Subscribe(sessionID string, c connWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subs[sessionID]
	if !ok {
		set = make(map[connWriter]struct{})
		s.subs[sessionID] = set
	}
	set[c] = struct{}{}
}

// Unsubscribe removes c from every session it was subscribed to. Called
// once per connection on disconnect.
func (s *Sink) Unsubscribe(c connWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sessionID, set := range s.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(s.subs, sessionID)
		}
	}
}

// DropSession clears every subscriber for sessionID, used after a
// session.delete so a stale mapping can't fan out future (impossible,
// but defensive) events for a removed session.
func (s *Sink) DropSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sessionID)
}

// Emit implements inferenceloop.EventSink: write event to every connection
// currently subscribed to sessionID.
func (s *Sink) Emit(sessionID string, event models.Event) {
	s.mu.RLock()
	set := s.subs[sessionID]
	targets := make([]connWriter, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.writeEvent(event)
	}
}

// marshalEvent serializes an Event to a single line-framed JSON object.
func marshalEvent(e models.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
