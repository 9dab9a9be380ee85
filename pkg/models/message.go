package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type EventType string

const (
	EventInitialState EventType = "initialState"
	EventUserJoined   EventType = "userJoined"
	EventUserLeft     EventType = "userLeft"
	EventUserIdle     EventType = "userIdle"
	EventUserActive   EventType = "userActive"
	EventCursorMove   EventType = "cursorMove"
)

// Event is the envelope of every server-to-client message.
type Event struct {
	Type     EventType   `json:"type"`
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	Position *Position   `json:"position,omitempty"`
	Color    string      `json:"color"`
	IsIdle   bool        `json:"isIdle"`
	Users    []UserState `json:"users,omitempty"`
}

// ComposeEvent builds an event of the given type from the subject's state.
// Every event type goes through here so no client sees a half-filled envelope.
func ComposeEvent(eventType EventType, subject UserState) *Event {
	return &Event{
		Type:     eventType,
		UserID:   subject.UserID,
		Username: subject.Username,
		Position: subject.CursorPosition,
		Color:    subject.Color,
		IsIdle:   subject.IsIdle,
	}
}

func ComposeInitialState(self UserState, users []UserState) *Event {
	event := ComposeEvent(EventInitialState, self)
	event.Users = users
	return event
}

var ErrMalformedUpdate = errors.New("malformed cursor update")

// CursorUpdate is the only client-to-server message.
type CursorUpdate struct {
	X float64
	Y float64
}

// ParseCursorUpdate accepts a JSON object whose x and y fields are both numbers.
// Any other payload is reported as ErrMalformedUpdate.
func ParseCursorUpdate(data []byte) (*CursorUpdate, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}

	x, err := numberField(fields, "x")
	if err != nil {
		return nil, err
	}

	y, err := numberField(fields, "y")
	if err != nil {
		return nil, err
	}

	return &CursorUpdate{X: x, Y: y}, nil
}

func numberField(fields map[string]json.RawMessage, name string) (float64, error) {
	raw, ok := fields[name]
	// null decodes into a float64 without error
	if !ok || string(raw) == "null" {
		return 0, fmt.Errorf("%w: missing %q", ErrMalformedUpdate, name)
	}

	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedUpdate, name)
	}

	return value, nil
}
