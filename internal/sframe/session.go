package sframe

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/domain"
)

// Stats is a read-only snapshot of a session.
type Stats struct {
	CallID           domain.CallID `json:"call_id"`
	ParticipantCount int           `json:"participants"`
	ActiveKeyCount   int           `json:"active_keys"`
	RotationCount    int           `json:"total_key_rotations"`
	KeysIssued       uint64        `json:"keys_issued"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Session binds the keys and codecs of one call.
//
// Frame operations hold the read lock for the duration of one frame, so
// participants of the same call never contend with each other. Membership
// changes and rotation take the write lock and become visible at once.
type Session struct {
	id        domain.CallID
	createdAt time.Time

	mu     sync.RWMutex
	keys   *KeyManager
	codecs map[domain.UserID]*Codec
	closed bool
}

func NewSession(id domain.CallID) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now(),
		keys:      NewKeyManager(),
		codecs:    make(map[domain.UserID]*Codec),
	}
}

func (s *Session) ID() domain.CallID { return s.id }

// AddParticipant derives the initial key of participant and binds a codec to it.
func (s *Session) AddParticipant(participant domain.UserID, secret []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: session %s closed", domain.ErrCallEnded, s.id)
	}
	if _, ok := s.codecs[participant]; ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrDuplicateParticipant, participant)
	}
	key, err := s.keys.Derive(secret, participant, LabelInitial)
	if err != nil {
		return 0, err
	}
	codec, err := NewCodec(key)
	if err != nil {
		s.keys.Forget(participant)
		return 0, err
	}
	s.codecs[participant] = codec

	log.Debug().Str("module", "sframe").Str("call", string(s.id)).Str("participant", string(participant)).
		Uint64("key_id", key.ID).Msg("participant keyed")
	return key.ID, nil
}

// RemoveParticipant invalidates the key and codec of participant immediately.
func (s *Session) RemoveParticipant(participant domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	codec, ok := s.codecs[participant]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownParticipant, participant)
	}
	codec.Close()
	delete(s.codecs, participant)
	s.keys.Forget(participant)
	return nil
}

// RotateAll re-keys every participant named in secrets in one step.
// Entries for participants not in the session are ignored, as are
// participants missing from secrets. If any derivation fails nothing changes.
func (s *Session) RotateAll(secrets map[domain.UserID][]byte) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: session %s closed", domain.ErrCallEnded, s.id)
	}

	known := make(map[domain.UserID][]byte, len(secrets))
	for p, secret := range secrets {
		if _, ok := s.codecs[p]; ok {
			known[p] = secret
		}
	}
	keys, err := s.keys.Rotate(known)
	if err != nil {
		return nil, err
	}

	rotated := make([]domain.UserID, 0, len(keys))
	for p, key := range keys {
		// Rotate only hands out KeySize material, which always yields a codec.
		codec, err := NewCodec(key)
		if err != nil {
			return nil, err
		}
		s.codecs[p].Close()
		s.codecs[p] = codec
		rotated = append(rotated, p)
	}
	slices.Sort(rotated)

	log.Info().Str("module", "sframe").Str("call", string(s.id)).Int("rotated", len(rotated)).Msg("keys rotated")
	return rotated, nil
}

// Encrypt seals frame with the current key of participant.
func (s *Session) Encrypt(participant domain.UserID, frame []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codec, ok := s.codecs[participant]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownParticipant, participant)
	}
	return codec.Encrypt(frame)
}

// Decrypt opens a frame sent by participant.
func (s *Session) Decrypt(participant domain.UserID, frame []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codec, ok := s.codecs[participant]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownParticipant, participant)
	}
	return codec.Decrypt(frame)
}

func (s *Session) Has(participant domain.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.codecs[participant]
	return ok
}

func (s *Session) KeyID(participant domain.UserID) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.codecs[participant]; !ok {
		return 0, false
	}
	return s.keys.KeyID(participant)
}

// Participants returns the keyed participants in sorted order.
func (s *Session) Participants() []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserID, 0, len(s.codecs))
	for p := range s.codecs {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		CallID:           s.id,
		ParticipantCount: len(s.codecs),
		ActiveKeyCount:   s.keys.Len(),
		RotationCount:    s.keys.Rotations(),
		KeysIssued:       s.keys.Issued(),
		CreatedAt:        s.createdAt,
	}
}

// Close wipes every key. The session rejects all further use.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for p, codec := range s.codecs {
		codec.Close()
		delete(s.codecs, p)
	}
	s.keys.Clear()
}

// Cipher returns a frame cipher bound to participant. It always uses the
// participant's current key, so it stays valid across rotations.
func (s *Session) Cipher(participant domain.UserID) *ParticipantCipher {
	return &ParticipantCipher{session: s, participant: participant}
}

type ParticipantCipher struct {
	session     *Session
	participant domain.UserID
}

func (c *ParticipantCipher) Encrypt(frame []byte) ([]byte, error) {
	return c.session.Encrypt(c.participant, frame)
}

func (c *ParticipantCipher) Decrypt(frame []byte) ([]byte, error) {
	return c.session.Decrypt(c.participant, frame)
}
