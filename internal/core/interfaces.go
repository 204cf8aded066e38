// Package core declares the collaborator contracts the call core depends on.
// Implementations live under internal/adapters.
package core

import (
	"context"

	"github.com/dkeye/securecall/internal/domain"
)

// KeyAgreement hands out the session secret a participant shares with its
// peers. It returns domain.ErrKeyAgreementMissing when none is established.
type KeyAgreement interface {
	SessionSecret(ctx context.Context, participant domain.UserID, peers []domain.UserID) ([]byte, error)
}

// Notifier delivers call events. Implementations may fail; callers log and move on.
type Notifier interface {
	Notify(ctx context.Context, recipient domain.UserID, ev domain.Event) error
}

// CallStore persists call records keyed by session id.
type CallStore interface {
	Create(ctx context.Context, rec *domain.CallRecord) error
	// Get returns domain.ErrCallNotFound for unknown ids.
	Get(ctx context.Context, id domain.CallID) (*domain.CallRecord, error)
	// Update loads the record, applies fn and saves the result atomically.
	// If fn returns an error nothing is written.
	Update(ctx context.Context, id domain.CallID, fn func(*domain.CallRecord) error) (*domain.CallRecord, error)
	ListByUser(ctx context.Context, user domain.UserID, limit int) ([]*domain.CallRecord, error)
	// ListActive returns every record that is still ringing or answered, oldest first.
	ListActive(ctx context.Context) ([]*domain.CallRecord, error)
}

type RoomID string

type RoomHandle struct {
	ID            RoomID `json:"room_id"`
	Description   string `json:"description"`
	MaxPublishers int    `json:"max_publishers"`
}

type RoomParticipant struct {
	ID        string `json:"id"`
	Display   string `json:"display,omitempty"`
	Publisher bool   `json:"publisher"`
}

type RoomInfo struct {
	ID           RoomID            `json:"room_id"`
	Participants []RoomParticipant `json:"participants"`
}

// RoomClient talks to the external SFU. Every method is best-effort; errors
// wrap domain.ErrRelayUnavailable and callers fall back to peer-to-peer.
type RoomClient interface {
	CreateRoom(ctx context.Context, id RoomID, description string, maxPublishers int) (*RoomHandle, error)
	DestroyRoom(ctx context.Context, id RoomID) error
	ListParticipants(ctx context.Context, id RoomID) (*RoomInfo, error)
	URL() string
}
