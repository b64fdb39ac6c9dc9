// Package shortterm implements the per-conversation session store from
// spec.md §4.6: RAM-resident sessions with adaptive idle timeout and
// score-based prompt assembly. New relative to the teacher, which has no
// ephemeral scored session store (pkg/memory/vectorstore.go is the durable
// tier, not this one); the co-owned-handle shape (llmworker pushes both
// sides of each turn, the evaluator only reads) follows spec.md §9's
// "reference-counted handle to a mutex-guarded store" guidance.
package shortterm

import (
	"sort"
	"sync"
	"time"

	"github.com/sipeed/ryuuko/pkg/types"
)

const defaultPromptHistoryLimit = 20

// HistoryTurn is one role-tagged entry ready for prompt assembly.
type HistoryTurn struct {
	Role        string // "user" or "assistant"
	DisplayName string // empty for assistant turns
	Content     string
}

type session struct {
	messages   []types.MemoryMessage
	lastActive time.Time
	startedAt  time.Time
}

// Store is the RAM-resident, mutex-guarded collection of all live sessions,
// keyed by ConversationKey. Safe for concurrent use by the LLM worker
// (which pushes) and the S1 evaluator (which reads).
type Store struct {
	mu                 sync.Mutex
	sessions           map[types.ConversationKey]*session
	baseTimeout        time.Duration
	promptHistoryLimit int
}

// New creates a Store with the given base session timeout (spec.md §4.6
// default is 20 minutes).
func New(baseTimeout time.Duration) *Store {
	if baseTimeout <= 0 {
		baseTimeout = 20 * time.Minute
	}
	return &Store{
		sessions:           make(map[types.ConversationKey]*session),
		baseTimeout:        baseTimeout,
		promptHistoryLimit: defaultPromptHistoryLimit,
	}
}

func effectiveTimeout(base time.Duration, messageCount int) time.Duration {
	ceiling := 90*time.Minute - base
	extra := time.Duration(messageCount) * time.Minute
	if extra > ceiling {
		extra = ceiling
	}
	return base + extra
}

func (s *Store) expired(sess *session, now time.Time) bool {
	timeout := effectiveTimeout(s.baseTimeout, len(sess.messages))
	return now.Sub(sess.lastActive) > timeout
}

// Push inserts msg into the session for key. If the existing session for
// key is already expired, it is removed first and its messages are
// returned as a handoff for the caller to route to the compressor (C9).
func (s *Store) Push(key types.ConversationKey, msg types.MemoryMessage, now time.Time) (handoff []types.MemoryMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if ok && s.expired(sess, now) {
		handoff = sess.messages
		delete(s.sessions, key)
		ok = false
	}
	if !ok {
		sess = &session{startedAt: now}
		s.sessions[key] = sess
	}
	sess.messages = append(sess.messages, msg)
	sess.lastActive = now
	return handoff
}

// GetHistoryForPrompt implements spec.md §4.6's scored selection:
// exclude_id removes a single message, score the rest, take the top N, then
// re-sort by timestamp for conversational flow.
func (s *Store) GetHistoryForPrompt(key types.ConversationKey, excludeID string) []HistoryTurn {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	var msgs []types.MemoryMessage
	if ok {
		msgs = make([]types.MemoryMessage, 0, len(sess.messages))
		for _, m := range sess.messages {
			if excludeID != "" && m.ID == excludeID {
				continue
			}
			msgs = append(msgs, m)
		}
	}
	s.mu.Unlock()

	if len(msgs) == 0 {
		return nil
	}

	type scored struct {
		msg   types.MemoryMessage
		score float64
		pos   int
	}
	total := len(msgs)
	ranked := make([]scored, total)
	for i, m := range msgs {
		recency := 0.1
		if total > 1 {
			recency = 0.1 + 0.9*(float64(i)/float64(total-1))
		}
		score := 0.5*recency + 0.3*m.Importance
		if m.IsBotResponse {
			score += 0.2
		}
		if m.IsMention {
			score += 0.15
		}
		if score > 1.0 {
			score = 1.0
		}
		ranked[i] = scored{msg: m, score: score, pos: i}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > s.promptHistoryLimit {
		ranked = ranked[:s.promptHistoryLimit]
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].msg.Timestamp.Before(ranked[j].msg.Timestamp)
	})

	turns := make([]HistoryTurn, len(ranked))
	for i, r := range ranked {
		if r.msg.IsBotResponse {
			turns[i] = HistoryTurn{Role: "assistant", Content: r.msg.Content}
		} else {
			turns[i] = HistoryTurn{Role: "user", DisplayName: r.msg.Username, Content: r.msg.Content}
		}
	}
	return turns
}

// FlushExpired collects and removes every timed-out session, handing its
// messages back to the caller for compressor ingestion.
func (s *Store) FlushExpired(now time.Time) map[types.ConversationKey][]types.MemoryMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[types.ConversationKey][]types.MemoryMessage)
	for key, sess := range s.sessions {
		if s.expired(sess, now) {
			out[key] = sess.messages
			delete(s.sessions, key)
		}
	}
	return out
}

// Seed pre-populates a session with messages already known to be persisted
// (used on startup to replenish short-term memory from the journal per
// spec.md §4.7, without re-triggering compressor ingestion later).
func (s *Store) Seed(key types.ConversationKey, msgs []types.MemoryMessage, lastActive time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &session{startedAt: lastActive}
		s.sessions[key] = sess
	}
	sess.messages = append(sess.messages, msgs...)
	if lastActive.After(sess.lastActive) {
		sess.lastActive = lastActive
	}
}
