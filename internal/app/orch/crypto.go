package orch

import (
	"context"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/core"
	"github.com/dkeye/securecall/internal/domain"
	"github.com/dkeye/securecall/internal/sframe"
)

type Direction int

const (
	Outbound Direction = iota
	Inbound
)

// activeSession returns the record and crypto session of a live call the
// user participates in.
func (o *Orchestrator) activeSession(ctx context.Context, id domain.CallID, who domain.UserID) (*domain.CallRecord, *sframe.Session, error) {
	rec, err := o.GetCall(ctx, id, who)
	if err != nil {
		return nil, nil, err
	}
	if rec.Status.Terminal() {
		return rec, nil, domain.ErrCallEnded
	}
	sess, ok := o.Registry.Get(id)
	if !ok {
		return rec, nil, domain.ErrCallNotFound
	}
	return rec, sess, nil
}

// RotateKeys re-keys the call in one step. When secrets is empty fresh
// secrets are fetched from the key agreement provider for every keyed
// participant. Participants without a secret keep their current key.
func (o *Orchestrator) RotateKeys(ctx context.Context, id domain.CallID, who domain.UserID, secrets map[domain.UserID][]byte) (*RotationResult, error) {
	rec, sess, err := o.activeSession(ctx, id, who)
	if err != nil {
		return nil, err
	}
	if len(secrets) == 0 {
		secrets = o.fetchSecrets(ctx, sess, rec.Participants)
		defer func() {
			for _, s := range secrets {
				sframe.Wipe(s)
			}
		}()
	}
	if len(secrets) == 0 {
		return nil, fmt.Errorf("%w: no secrets to rotate with", domain.ErrKeyDerivation)
	}

	updated, err := sess.RotateAll(secrets)
	if err != nil {
		return nil, err
	}
	res := &RotationResult{
		SessionID:           id,
		ParticipantsUpdated: updated,
		KeyIDs:              make(map[domain.UserID]uint64, len(updated)),
		RotatedAt:           o.now(),
	}
	for _, p := range updated {
		if kid, ok := sess.KeyID(p); ok {
			res.KeyIDs[p] = kid
		}
	}

	o.Metrics.KeyRotations.Inc()
	o.notify(id, who, domain.EventKeysRotated, rotationPayload{KeyIDs: res.KeyIDs}, rec.Others(who)...)
	log.Info().Str("module", "orch").Str("call", string(id)).Str("by", string(who)).
		Int("rotated", len(updated)).Msg("keys rotated")
	return res, nil
}

func (o *Orchestrator) fetchSecrets(ctx context.Context, sess *sframe.Session, participants []domain.UserID) map[domain.UserID][]byte {
	out := make(map[domain.UserID][]byte)
	if o.Keys == nil {
		return out
	}
	for _, p := range sess.Participants() {
		secret, err := o.Keys.SessionSecret(ctx, p, others(participants, p))
		if err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("call", string(sess.ID())).
				Str("participant", string(p)).Msg("no secret for rotation")
			continue
		}
		out[p] = secret
	}
	return out
}

// EncryptionStats reports the crypto state of a call. Ended calls report
// their stored status with empty stats.
func (o *Orchestrator) EncryptionStats(ctx context.Context, id domain.CallID, who domain.UserID) (*EncryptionStats, error) {
	rec, err := o.GetCall(ctx, id, who)
	if err != nil {
		return nil, err
	}
	return &EncryptionStats{
		SessionID: id,
		Status:    rec.Status,
		Encrypted: rec.Encrypted,
		Stats:     o.stats(id),
		At:        o.now(),
	}, nil
}

// SecurityInfo describes how a call is protected. Live SFU calls also list
// who is connected to the room, when the SFU answers.
func (o *Orchestrator) SecurityInfo(ctx context.Context, id domain.CallID, who domain.UserID) (*SecurityInfo, error) {
	rec, err := o.GetCall(ctx, id, who)
	if err != nil {
		return nil, err
	}
	info := &SecurityInfo{
		SessionID:  id,
		Call:       rec,
		Encryption: o.stats(id),
		Features: SecurityFeatures{
			EndToEndEncryption: rec.Encrypted,
			KeyRotation:        true,
			Algorithm:          Algorithm,
			KeyDerivation:      KeyDerivation,
			MediaEncryption:    "Per-frame encryption",
			FrameAuth:          "AES-GCM tag over header",
			RelayCredentials:   "HMAC-SHA256 time-limited",
		},
		At: o.now(),
	}
	if rec.Mode == domain.ModeSFU && !rec.Status.Terminal() {
		room, err := o.Rooms.ListParticipants(ctx, core.RoomID(id))
		if err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("call", string(id)).Msg("room participants unavailable")
		} else {
			info.Room = room
		}
	}
	return info, nil
}

// VerifyEncryption reports whether media of the call is currently protected.
func (o *Orchestrator) VerifyEncryption(ctx context.Context, id domain.CallID, who domain.UserID) (*Verification, error) {
	if _, err := o.GetCall(ctx, id, who); err != nil {
		return nil, err
	}
	st := o.stats(id)
	v := &Verification{
		SessionID:        id,
		EncryptionActive: st.ParticipantCount > 0,
		KeysPresent:      st.ActiveKeyCount > 0,
		VerifiedAt:       o.now(),
		Details:          st,
	}
	v.EncryptionVerified = v.EncryptionActive && v.KeysPresent
	if v.EncryptionVerified {
		v.Algorithm = Algorithm
	}
	return v, nil
}

func (o *Orchestrator) stats(id domain.CallID) sframe.Stats {
	if sess, ok := o.Registry.Get(id); ok {
		return sess.Stats()
	}
	return sframe.Stats{CallID: id}
}

// FrameTransform returns the RTP transform for media sent by (Outbound) or
// destined to (Inbound) participant. Unkeyed participants get a passthrough.
func (o *Orchestrator) FrameTransform(id domain.CallID, participant domain.UserID, dir Direction) (sframe.PacketTransform, error) {
	sess, ok := o.Registry.Get(id)
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	if !sess.Has(participant) {
		return nil, nil
	}
	cipher := sess.Cipher(participant)
	if dir == Inbound {
		return func(pkt *rtp.Packet) (*rtp.Packet, error) { return sframe.OpenPacket(cipher, pkt) }, nil
	}
	return func(pkt *rtp.Packet) (*rtp.Packet, error) { return sframe.SealPacket(cipher, pkt) }, nil
}

func (o *Orchestrator) ICEServers(who domain.Identity) []webrtc.ICEServer {
	return o.Issuer.ICEServers(who.User, who.Device)
}
