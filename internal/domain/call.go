package domain

import (
	"slices"
	"time"
)

type CallID string

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func ParseCallType(s string) (CallType, error) {
	switch CallType(s) {
	case CallAudio, CallVideo:
		return CallType(s), nil
	case "":
		return CallVideo, nil
	default:
		return "", ErrInvalidCallType
	}
}

// Media transport of a call.
const (
	ModeSFU = "sfu"
	ModeP2P = "p2p"
)

type CallStatus string

const (
	StatusRinging   CallStatus = "ringing"
	StatusAnswered  CallStatus = "answered"
	StatusEnded     CallStatus = "ended"
	StatusMissed    CallStatus = "missed"
	StatusDeclined  CallStatus = "declined"
	StatusCancelled CallStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusMissed, StatusDeclined, StatusCancelled:
		return true
	case StatusRinging, StatusAnswered:
		return false
	}
	return false
}

// CanTransition reports whether from -> to is a legal edge of the call state machine.
func CanTransition(from, to CallStatus) bool {
	switch from {
	case StatusRinging:
		return to == StatusAnswered || to == StatusMissed || to == StatusDeclined || to == StatusCancelled
	case StatusAnswered:
		return to == StatusEnded
	case StatusEnded, StatusMissed, StatusDeclined, StatusCancelled:
		return false
	}
	return false
}

// CallRecord is the persisted view of a call.
type CallRecord struct {
	SessionID    CallID     `json:"session_id"`
	CallerID     UserID     `json:"caller_id"`
	CalleeID     UserID     `json:"callee_id"`
	Participants []UserID   `json:"participants"`
	Type         CallType   `json:"call_type"`
	Status       CallStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	AnsweredAt   *time.Time `json:"answered_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Encrypted    bool       `json:"is_encrypted"`
	Mode         string     `json:"mode"`
	AnsweredBy   UserID     `json:"answered_by,omitempty"`
}

func (r *CallRecord) IsGroup() bool { return len(r.Participants) > 2 }

func (r *CallRecord) HasParticipant(id UserID) bool {
	return slices.Contains(r.Participants, id)
}

// IsCallee reports whether id was invited (everyone but the caller).
func (r *CallRecord) IsCallee(id UserID) bool {
	return id != r.CallerID && r.HasParticipant(id)
}

// Others returns every participant except id.
func (r *CallRecord) Others(id UserID) []UserID {
	out := make([]UserID, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p != id {
			out = append(out, p)
		}
	}
	return out
}

// Transition moves the record to `to` at time `at`.
// A terminal record is left untouched and reports changed=false with no error.
func (r *CallRecord) Transition(to CallStatus, at time.Time) (changed bool, err error) {
	if r.Status.Terminal() {
		return false, nil
	}
	if r.Status == to {
		return false, nil
	}
	if !CanTransition(r.Status, to) {
		return false, ErrInvalidTransition
	}
	r.Status = to
	switch {
	case to == StatusAnswered:
		t := at
		r.AnsweredAt = &t
	case to.Terminal():
		t := at
		r.EndedAt = &t
	}
	return true, nil
}

// Duration is the answered span of the call; zero if it was never answered.
func (r *CallRecord) Duration() time.Duration {
	if r.AnsweredAt == nil || r.EndedAt == nil {
		return 0
	}
	d := r.EndedAt.Sub(*r.AnsweredAt)
	if d < 0 {
		return 0
	}
	return d
}

func (r *CallRecord) Clone() *CallRecord {
	c := *r
	c.Participants = slices.Clone(r.Participants)
	if r.AnsweredAt != nil {
		t := *r.AnsweredAt
		c.AnsweredAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}
