package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kotoba-ai/kotoba/internal/realtime"
)

// TranscriptEntry is one finalized turn in the conversation log. Entries
// are appended even when vocabulary analysis for the turn fails, so the
// log is always the full conversation.
type TranscriptEntry struct {
	TurnID uuid.UUID
	Role   realtime.TurnRole
	Text   string
	State  realtime.TurnState
	At     time.Time
}

// Transcript is the session-scoped conversation log.
type Transcript struct {
	mu      sync.RWMutex
	entries []TranscriptEntry
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) Add(turn realtime.Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TranscriptEntry{
		TurnID: turn.ID,
		Role:   turn.Role,
		Text:   turn.Transcript,
		State:  turn.State,
		At:     turn.EndedAt,
	})
}

// All returns the log in turn-finalization order.
func (t *Transcript) All() []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}
