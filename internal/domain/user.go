// Package domain contains call entities, their state rules and the error taxonomy.
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxDeviceIDLen = 64
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrDeviceTooLong = errors.New("device id too long")
)

type (
	UserID   string
	DeviceID string
)

// Identity is the authenticated caller of an operation.
type Identity struct {
	User   UserID   `json:"user_id"`
	Device DeviceID `json:"device_id"`
}

// NewIdentity validates raw ids coming from an adapter.
// An empty device falls back to "default".
func NewIdentity(user, device string) (Identity, error) {
	user = strings.TrimSpace(user)
	device = strings.TrimSpace(device)
	if user == "" {
		return Identity{}, ErrUserIDEmpty
	}
	if len(user) > MaxUserIDLen {
		return Identity{}, ErrUserIDTooLong
	}
	if len(device) > MaxDeviceIDLen {
		return Identity{}, ErrDeviceTooLong
	}
	if device == "" {
		device = "default"
	}
	return Identity{User: UserID(user), Device: DeviceID(device)}, nil
}
