package realtime

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrAuth means the credential was rejected. Fatal to Connect; no retry.
	ErrAuth = errors.New("authentication rejected")
	// ErrConnect is a transient network failure during Connect. The caller
	// may retry manually; the client never reconnects on its own.
	ErrConnect = errors.New("connection failed")
	// ErrNotConnected is returned for operations that need a live session.
	ErrNotConnected = errors.New("not connected")
)

// SessionError carries enough context for the debug log to say which turn
// and which lane failed. The core never formats user-facing messages.
type SessionError struct {
	Lane   string // "network", "audio", "analysis"
	TurnID uuid.UUID
	Err    error
}

func (e *SessionError) Error() string {
	if e.TurnID == uuid.Nil {
		return fmt.Sprintf("%s lane: %v", e.Lane, e.Err)
	}
	return fmt.Sprintf("%s lane (turn %s): %v", e.Lane, e.TurnID, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
