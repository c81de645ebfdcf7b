package fantasy

import (
	"slices"
	"strconv"
	"sync"

	core "charm.land/fantasy"
)

const defaultMaxTurns = 20

// session is the conversation of one agent. A turn is the user prompt plus
// every message the model and tools produced answering it; whole turns are
// evicted oldest first so tool calls never lose their results.
type session struct {
	system *core.Message
	turns  [][]core.Message
}

func (s *session) messages() []core.Message {
	var out []core.Message
	if s.system != nil {
		out = append(out, *s.system)
	}
	for _, turn := range s.turns {
		out = append(out, turn...)
	}
	return out
}

type sessionStore struct {
	mu       sync.Mutex
	maxTurns int
	next     uint64
	sessions map[string]*session
}

func newSessionStore(maxTurns int) *sessionStore {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &sessionStore{maxTurns: maxTurns, sessions: make(map[string]*session)}
}

func (s *sessionStore) create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	id := "fantasy-session-" + strconv.FormatUint(s.next, 10)
	s.sessions[id] = &session{}
	return id
}

// history returns a copy of the session messages, installing system first
// when the session has none yet.
func (s *sessionStore) history(id string, system string) ([]core.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if sess.system == nil && system != "" {
		sess.system = &core.Message{
			Role:    core.MessageRoleSystem,
			Content: []core.MessagePart{core.TextPart{Text: system}},
		}
	}
	return sess.messages(), true
}

func (s *sessionStore) appendTurn(id string, turn []core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || len(turn) == 0 {
		return
	}
	sess.turns = append(sess.turns, slices.Clone(turn))
	if overflow := len(sess.turns) - s.maxTurns; overflow > 0 {
		sess.turns = slices.Delete(sess.turns, 0, overflow)
	}
}
