package domain

import "errors"

// Frame and key faults.
var (
	ErrKeyDerivation  = errors.New("key derivation failed")
	ErrEncryption     = errors.New("encryption failed")
	ErrAuthentication = errors.New("invalid frame")
	ErrMalformedFrame = errors.New("malformed frame")
)

// Membership and call faults.
var (
	ErrDuplicateParticipant = errors.New("participant already present")
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrUnauthorized         = errors.New("not a participant of this call")
	ErrCallNotFound         = errors.New("call not found")
	ErrCallEnded            = errors.New("call already ended")
	ErrInvalidTransition    = errors.New("invalid call state transition")
	ErrInvalidCallType      = errors.New("invalid call type")
	ErrNoCallees            = errors.New("call needs at least one callee")
	ErrTooManyParticipants  = errors.New("too many participants")
)

// Collaborator faults. Neither fails a call.
var (
	ErrRelayUnavailable    = errors.New("media relay unavailable")
	ErrKeyAgreementMissing = errors.New("key agreement not established")
)
