package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed set of call lifecycle events sent to participants.
type EventType int

const (
	EventInvite EventType = iota
	EventAnswered
	EventDeclined
	EventCancelled
	EventMissed
	EventEnded
	EventParticipantJoined
	EventParticipantLeft
	EventKeysRotated
)

func (e EventType) String() string {
	switch e {
	case EventInvite:
		return "invite"
	case EventAnswered:
		return "answered"
	case EventDeclined:
		return "declined"
	case EventCancelled:
		return "cancelled"
	case EventMissed:
		return "missed"
	case EventEnded:
		return "ended"
	case EventParticipantJoined:
		return "participant_joined"
	case EventParticipantLeft:
		return "participant_left"
	case EventKeysRotated:
		return "keys_rotated"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

func (e EventType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// EventForStatus maps a terminal or answered status to the event announcing it.
func EventForStatus(s CallStatus) (EventType, bool) {
	switch s {
	case StatusAnswered:
		return EventAnswered, true
	case StatusEnded:
		return EventEnded, true
	case StatusMissed:
		return EventMissed, true
	case StatusDeclined:
		return EventDeclined, true
	case StatusCancelled:
		return EventCancelled, true
	case StatusRinging:
		return EventInvite, true
	}
	return 0, false
}

type Event struct {
	ID      string          `json:"id"`
	Type    EventType       `json:"type"`
	CallID  CallID          `json:"call_id"`
	From    UserID          `json:"from"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
