package core

import (
	"context"

	"github.com/dkeye/securecall/internal/domain"
)

// NoRooms is the RoomClient used when no SFU is configured. Every call
// fails with domain.ErrRelayUnavailable so calls fall back to peer-to-peer.
type NoRooms struct{}

var _ RoomClient = NoRooms{}

func (NoRooms) CreateRoom(context.Context, RoomID, string, int) (*RoomHandle, error) {
	return nil, domain.ErrRelayUnavailable
}

func (NoRooms) DestroyRoom(context.Context, RoomID) error { return domain.ErrRelayUnavailable }

func (NoRooms) ListParticipants(context.Context, RoomID) (*RoomInfo, error) {
	return nil, domain.ErrRelayUnavailable
}

func (NoRooms) URL() string { return "" }

// DiscardNotifier drops every event.
type DiscardNotifier struct{}

var _ Notifier = DiscardNotifier{}

func (DiscardNotifier) Notify(context.Context, domain.UserID, domain.Event) error { return nil }
