package orch

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/securecall/internal/core"
	"github.com/dkeye/securecall/internal/domain"
	"github.com/dkeye/securecall/internal/sframe"
)

type EncryptionInfo struct {
	Enabled             bool            `json:"enabled"`
	Algorithm           string          `json:"algorithm,omitempty"`
	KeyRotationInterval int64           `json:"key_rotation_interval,omitempty"`
	Participants        []domain.UserID `json:"participants,omitempty"`
}

// SessionDescriptor is what the caller gets back from CreateCall.
type SessionDescriptor struct {
	SessionID    domain.CallID      `json:"session_id"`
	RoomID       core.RoomID        `json:"room_id"`
	CallType     domain.CallType    `json:"call_type"`
	Status       domain.CallStatus  `json:"status"`
	Participants []domain.UserID    `json:"participants"`
	Mode         string             `json:"mode"`
	SFUAvailable bool               `json:"sfu_available"`
	SFUURL       string             `json:"sfu_url,omitempty"`
	ICEServers   []webrtc.ICEServer `json:"ice_servers"`
	STUNServers  []string           `json:"stun_servers"`
	Encryption   EncryptionInfo     `json:"encryption"`
	CreatedAt    time.Time          `json:"created_at"`
}

type AnswerResult struct {
	Call       *domain.CallRecord `json:"call"`
	ICEServers []webrtc.ICEServer `json:"ice_servers"`
	SFUURL     string             `json:"sfu_url,omitempty"`
}

type EndResult struct {
	SessionID domain.CallID     `json:"session_id"`
	Status    domain.CallStatus `json:"status"`
	Duration  time.Duration     `json:"-"`
	Seconds   float64           `json:"duration"`
}

func newEndResult(rec *domain.CallRecord) *EndResult {
	d := rec.Duration()
	return &EndResult{SessionID: rec.SessionID, Status: rec.Status, Duration: d, Seconds: d.Seconds()}
}

type RotationResult struct {
	SessionID           domain.CallID            `json:"session_id"`
	ParticipantsUpdated []domain.UserID          `json:"participants_updated"`
	KeyIDs              map[domain.UserID]uint64 `json:"key_ids"`
	RotatedAt           time.Time                `json:"rotation_timestamp"`
}

type EncryptionStats struct {
	SessionID domain.CallID     `json:"session_id"`
	Status    domain.CallStatus `json:"status"`
	Encrypted bool              `json:"is_encrypted"`
	Stats     sframe.Stats      `json:"encryption_stats"`
	At        time.Time         `json:"timestamp"`
}

type SecurityFeatures struct {
	EndToEndEncryption bool   `json:"end_to_end_encryption"`
	KeyRotation        bool   `json:"key_rotation"`
	Algorithm          string `json:"algorithm"`
	KeyDerivation      string `json:"key_derivation"`
	MediaEncryption    string `json:"media_encryption"`
	FrameAuth          string `json:"frame_authentication"`
	RelayCredentials   string `json:"relay_credentials"`
}

type SecurityInfo struct {
	SessionID  domain.CallID      `json:"session_id"`
	Call       *domain.CallRecord `json:"call_info"`
	Encryption sframe.Stats       `json:"encryption"`
	Features   SecurityFeatures   `json:"security_features"`
	Room       *core.RoomInfo     `json:"sfu_room,omitempty"`
	At         time.Time          `json:"timestamp"`
}

type Verification struct {
	SessionID          domain.CallID `json:"session_id"`
	EncryptionVerified bool          `json:"encryption_verified"`
	EncryptionActive   bool          `json:"encryption_active"`
	KeysPresent        bool          `json:"keys_present"`
	Algorithm          string        `json:"algorithm,omitempty"`
	VerifiedAt         time.Time     `json:"verification_timestamp"`
	Details            sframe.Stats  `json:"details"`
}

type ParticipantResult struct {
	Call  *domain.CallRecord `json:"call"`
	Keyed bool               `json:"keyed"`
}

type invitePayload struct {
	CallType     domain.CallType `json:"call_type"`
	Caller       domain.UserID   `json:"caller"`
	Participants []domain.UserID `json:"participants"`
	Mode         string          `json:"mode"`
	Encrypted    bool            `json:"is_encrypted"`
	SFUURL       string          `json:"sfu_url,omitempty"`
}

type statusPayload struct {
	Status   domain.CallStatus `json:"status"`
	Duration float64           `json:"duration"`
}

func endPayload(rec *domain.CallRecord) statusPayload {
	return statusPayload{Status: rec.Status, Duration: rec.Duration().Seconds()}
}

type memberPayload struct {
	Participant domain.UserID `json:"participant"`
	Keyed       bool          `json:"keyed"`
}

type rotationPayload struct {
	KeyIDs map[domain.UserID]uint64 `json:"key_ids"`
}
