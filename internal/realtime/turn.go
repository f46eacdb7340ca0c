package realtime

import (
	"time"

	"github.com/google/uuid"
)

// TurnRole identifies who spoke.
type TurnRole string

const (
	RoleUser  TurnRole = "user"
	RoleModel TurnRole = "model"
)

// TurnState tracks a turn's lifecycle.
type TurnState string

const (
	TurnOpen        TurnState = "open"
	TurnClosed      TurnState = "closed"
	TurnInterrupted TurnState = "interrupted"
)

// Turn is one contiguous span of a single speaker's audio. The transcript is
// empty until the remote model emits it; interrupted turns may keep a partial
// transcript.
type Turn struct {
	ID         uuid.UUID
	Role       TurnRole
	Transcript string
	State      TurnState
	StartedAt  time.Time
	EndedAt    time.Time
}

func newTurn(role TurnRole) *Turn {
	return &Turn{
		ID:        uuid.New(),
		Role:      role,
		State:     TurnOpen,
		StartedAt: time.Now(),
	}
}

func (t *Turn) close(state TurnState) Turn {
	t.State = state
	t.EndedAt = time.Now()
	return *t
}
