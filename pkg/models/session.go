package models

import "time"

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Session is the server-side record of one connected user. Only the presence
// registry holds the canonical copy; everything else works on UserState values.
type Session struct {
	ID             string
	Username       string
	Color          string
	CursorPosition *Position
	IsIdle         bool
	LastActivity   time.Time
	JoinedAt       time.Time
}

func NewSession(id, username, color string, now time.Time) *Session {
	return &Session{
		ID:             id,
		Username:       username,
		Color:          color,
		CursorPosition: &Position{},
		LastActivity:   now,
		JoinedAt:       now,
	}
}

// State returns a detached copy safe to hand out after the registry lock is released.
func (s *Session) State() UserState {
	var pos *Position
	if s.CursorPosition != nil {
		p := *s.CursorPosition
		pos = &p
	}

	return UserState{
		UserID:         s.ID,
		Username:       s.Username,
		CursorPosition: pos,
		Color:          s.Color,
		IsIdle:         s.IsIdle,
	}
}

type UserState struct {
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	CursorPosition *Position `json:"cursorPosition,omitempty"`
	Color          string    `json:"color"`
	IsIdle         bool      `json:"isIdle"`
}
