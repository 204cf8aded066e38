package orch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/core"
	"github.com/dkeye/securecall/internal/domain"
	"github.com/dkeye/securecall/internal/sframe"
)

var callNamespace = uuid.MustParse("5b0c6f1e-2f7a-4d3c-9a55-6e0f1d1c8b42")

// newSessionID hashes caller, callees, type and creation time, plus a
// per-process instance and sequence so identical inputs never collide.
func (o *Orchestrator) newSessionID(caller domain.UserID, callees []domain.UserID, ct domain.CallType, createdNanos int64) domain.CallID {
	name := fmt.Sprintf("%s|%s|%s|%d|%s|%d", caller, strings.Join(userStrings(callees), ","), ct, createdNanos, o.instance, o.seq.Add(1))
	return domain.CallID("call_" + uuid.NewSHA1(callNamespace, []byte(name)).String())
}

func normalizeCallees(caller domain.UserID, callees []domain.UserID) []domain.UserID {
	out := make([]domain.UserID, 0, len(callees))
	for _, c := range callees {
		if c == "" || c == caller || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CreateCall starts a call from caller to callees in the ringing state.
func (o *Orchestrator) CreateCall(ctx context.Context, caller domain.Identity, callees []domain.UserID, ct domain.CallType) (*SessionDescriptor, error) {
	desc, err := o.createCall(ctx, caller, callees, ct)
	if err != nil {
		o.Metrics.CreationErrors.Inc()
		return nil, err
	}
	o.Metrics.CallsCreated.WithLabelValues(string(ct), desc.Mode).Inc()
	return desc, nil
}

func (o *Orchestrator) createCall(ctx context.Context, caller domain.Identity, callees []domain.UserID, ct domain.CallType) (*SessionDescriptor, error) {
	if ct != domain.CallAudio && ct != domain.CallVideo {
		return nil, domain.ErrInvalidCallType
	}
	callees = normalizeCallees(caller.User, callees)
	if len(callees) == 0 {
		return nil, domain.ErrNoCallees
	}
	participants := append([]domain.UserID{caller.User}, callees...)
	if len(participants) > o.opts.MaxParticipants {
		return nil, domain.ErrTooManyParticipants
	}

	created := o.now()
	id := o.newSessionID(caller.User, callees, ct, created.UnixNano())
	logger := log.With().Str("module", "orch").Str("call", string(id)).Logger()

	mode := domain.ModeP2P
	desc := fmt.Sprintf("%s call %s -> %s", ct, caller.User, strings.Join(userStrings(callees), ","))
	if _, err := o.Rooms.CreateRoom(ctx, core.RoomID(id), desc, len(participants)); err != nil {
		logger.Info().Err(err).Msg("SFU unavailable, using p2p")
	} else {
		mode = domain.ModeSFU
	}

	sess := o.Registry.Create(id)
	keyed := o.keyParticipants(ctx, sess, participants)

	rec := &domain.CallRecord{
		SessionID:    id,
		CallerID:     caller.User,
		CalleeID:     callees[0],
		Participants: participants,
		Type:         ct,
		Status:       domain.StatusRinging,
		CreatedAt:    created,
		Encrypted:    len(keyed) == len(participants),
		Mode:         mode,
	}
	if err := o.Calls.Create(ctx, rec); err != nil {
		o.Registry.Destroy(id)
		if mode == domain.ModeSFU {
			o.async(func(ctx context.Context) { _ = o.Rooms.DestroyRoom(ctx, core.RoomID(id)) })
		}
		return nil, fmt.Errorf("failed to persist call: %w", err)
	}

	timeout := o.opts.RingTimeout
	if rec.IsGroup() {
		timeout = o.opts.GroupRingTimeout
	}
	o.schedule(id, timeout, func() { o.expire(id) })

	sfuURL := ""
	if mode == domain.ModeSFU {
		sfuURL = o.Rooms.URL()
	}
	o.notify(id, caller.User, domain.EventInvite, invitePayload{
		CallType:     ct,
		Caller:       caller.User,
		Participants: participants,
		Mode:         mode,
		Encrypted:    rec.Encrypted,
		SFUURL:       sfuURL,
	}, callees...)

	logger.Info().Str("caller", string(caller.User)).Int("participants", len(participants)).
		Str("mode", mode).Bool("encrypted", rec.Encrypted).Msg("call created")

	enc := EncryptionInfo{Enabled: rec.Encrypted, Participants: keyed}
	if len(keyed) > 0 {
		enc.Algorithm = Algorithm
		enc.KeyRotationInterval = int64(o.opts.KeyRotationInterval.Seconds())
	}
	return &SessionDescriptor{
		SessionID:    id,
		RoomID:       core.RoomID(id),
		CallType:     ct,
		Status:       rec.Status,
		Participants: participants,
		Mode:         mode,
		SFUAvailable: mode == domain.ModeSFU,
		SFUURL:       sfuURL,
		ICEServers:   o.Issuer.ICEServers(caller.User, caller.Device),
		STUNServers:  o.Issuer.STUN(),
		Encryption:   enc,
		CreatedAt:    created,
	}, nil
}

// keyParticipants derives keys for every participant whose session secret is
// available and returns those that were keyed. The rest are skipped.
func (o *Orchestrator) keyParticipants(ctx context.Context, sess *sframe.Session, participants []domain.UserID) []domain.UserID {
	keyed := make([]domain.UserID, 0, len(participants))
	if o.Keys == nil {
		return keyed
	}
	for _, p := range participants {
		if ok := o.keyParticipant(ctx, sess, p, others(participants, p)); ok {
			keyed = append(keyed, p)
		}
	}
	return keyed
}

func (o *Orchestrator) keyParticipant(ctx context.Context, sess *sframe.Session, p domain.UserID, peers []domain.UserID) bool {
	logger := log.With().Str("module", "orch").Str("call", string(sess.ID())).Str("participant", string(p)).Logger()
	if o.Keys == nil {
		return false
	}
	secret, err := o.Keys.SessionSecret(ctx, p, peers)
	if err != nil {
		if errors.Is(err, domain.ErrKeyAgreementMissing) {
			logger.Info().Msg("no key agreement, participant stays unencrypted")
		} else {
			logger.Warn().Err(err).Msg("key agreement lookup failed")
		}
		return false
	}
	defer sframe.Wipe(secret)
	if _, err := sess.AddParticipant(p, secret); err != nil {
		logger.Warn().Err(err).Msg("key derivation skipped")
		return false
	}
	return true
}

// AnswerCall accepts a ringing call on behalf of a callee.
// Answering a call that already ended returns its record with domain.ErrCallEnded.
func (o *Orchestrator) AnswerCall(ctx context.Context, id domain.CallID, who domain.Identity) (*AnswerResult, error) {
	rec, changed, err := o.mutate(ctx, id, func(r *domain.CallRecord) (bool, error) {
		if !r.IsCallee(who.User) {
			return false, domain.ErrUnauthorized
		}
		if r.Status != domain.StatusRinging {
			return false, nil
		}
		if _, err := r.Transition(domain.StatusAnswered, o.now()); err != nil {
			return false, err
		}
		r.AnsweredBy = who.User
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	res := &AnswerResult{Call: rec, ICEServers: o.Issuer.ICEServers(who.User, who.Device)}
	if rec.Mode == domain.ModeSFU {
		res.SFUURL = o.Rooms.URL()
	}
	if rec.Status.Terminal() {
		return res, domain.ErrCallEnded
	}
	if changed {
		o.schedule(id, o.opts.MaxCallDuration, func() { o.reap(id) })
		o.notify(id, who.User, domain.EventAnswered, statusPayload{Status: rec.Status}, rec.Others(who.User)...)
		log.Info().Str("module", "orch").Str("call", string(id)).Str("user", string(who.User)).Msg("call answered")
	}
	return res, nil
}

// EndCall terminates a call. A ringing call ends as declined when a callee
// hangs up and as missed otherwise. Ending a finished call returns its status.
func (o *Orchestrator) EndCall(ctx context.Context, id domain.CallID, who domain.UserID) (*EndResult, error) {
	rec, changed, err := o.mutate(ctx, id, func(r *domain.CallRecord) (bool, error) {
		if !r.HasParticipant(who) {
			return false, domain.ErrUnauthorized
		}
		return r.Transition(endStatus(r, who), o.now())
	})
	if err != nil {
		return nil, err
	}
	if changed {
		o.finish(rec, who)
	}
	return newEndResult(rec), nil
}

func endStatus(r *domain.CallRecord, who domain.UserID) domain.CallStatus {
	switch r.Status {
	case domain.StatusRinging:
		if r.IsCallee(who) {
			return domain.StatusDeclined
		}
		return domain.StatusMissed
	case domain.StatusAnswered:
		return domain.StatusEnded
	}
	return r.Status
}

// DeclineCall rejects a ringing call. In a group call with other callees
// still invited only the decliner leaves.
func (o *Orchestrator) DeclineCall(ctx context.Context, id domain.CallID, who domain.UserID) (*EndResult, error) {
	var left bool
	rec, changed, err := o.mutate(ctx, id, func(r *domain.CallRecord) (bool, error) {
		if !r.IsCallee(who) {
			return false, domain.ErrUnauthorized
		}
		if r.Status.Terminal() {
			return false, nil
		}
		if r.Status != domain.StatusRinging {
			return false, domain.ErrInvalidTransition
		}
		if len(r.Others(r.CallerID)) > 1 {
			o.detach(r, who)
			left = true
			return true, nil
		}
		return r.Transition(domain.StatusDeclined, o.now())
	})
	if err != nil {
		return nil, err
	}
	switch {
	case changed && left:
		o.forgetKey(id, who)
		o.notify(id, who, domain.EventParticipantLeft, memberPayload{Participant: who}, rec.Participants...)
	case changed:
		o.finish(rec, who)
	}
	return newEndResult(rec), nil
}

// CancelCall withdraws a ringing call on behalf of the caller. A caller who
// already left the call can no longer cancel it.
func (o *Orchestrator) CancelCall(ctx context.Context, id domain.CallID, who domain.UserID) (*EndResult, error) {
	rec, changed, err := o.mutate(ctx, id, func(r *domain.CallRecord) (bool, error) {
		if r.CallerID != who || !r.HasParticipant(who) {
			return false, domain.ErrUnauthorized
		}
		if r.Status.Terminal() {
			return false, nil
		}
		if r.Status != domain.StatusRinging {
			return false, domain.ErrInvalidTransition
		}
		return r.Transition(domain.StatusCancelled, o.now())
	})
	if err != nil {
		return nil, err
	}
	if changed {
		o.finish(rec, who)
	}
	return newEndResult(rec), nil
}

// expire runs when the ring timeout fires. It does nothing unless the call
// is still ringing.
func (o *Orchestrator) expire(id domain.CallID) {
	o.timeout(id, domain.StatusRinging, domain.StatusMissed, "call not answered in time")
}

// reap ends a call still answered after the maximum call duration.
func (o *Orchestrator) reap(id domain.CallID) {
	o.timeout(id, domain.StatusAnswered, domain.StatusEnded, "call exceeded maximum duration")
}

func (o *Orchestrator) timeout(id domain.CallID, from, to domain.CallStatus, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.AsyncTimeout)
	defer cancel()
	rec, changed, err := o.mutate(ctx, id, func(r *domain.CallRecord) (bool, error) {
		if r.Status != from {
			return false, nil
		}
		return r.Transition(to, o.now())
	})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("call", string(id)).Msg("call timeout")
		return
	}
	if changed {
		log.Info().Str("module", "orch").Str("call", string(id)).Msg(reason)
		o.finish(rec, "")
	}
}

// Recover closes calls a previous process left ringing or answered. Their
// keys did not survive, so ringing calls become missed and answered calls
// ended. Calls with a live crypto session in this process are kept.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	stale, err := o.Calls.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range stale {
		if _, live := o.Registry.Get(s.SessionID); live {
			continue
		}
		rec, changed, err := o.mutate(ctx, s.SessionID, func(r *domain.CallRecord) (bool, error) {
			return r.Transition(endStatus(r, ""), o.now())
		})
		if err != nil {
			return n, fmt.Errorf("recover call %s: %w", s.SessionID, err)
		}
		if changed {
			o.finish(rec, "")
			n++
		}
	}
	if n > 0 {
		log.Info().Str("module", "orch").Int("calls", n).Msg("closed calls left over from a previous run")
	}
	return n, nil
}

// GetCall returns the record of a call the user takes part in.
func (o *Orchestrator) GetCall(ctx context.Context, id domain.CallID, who domain.UserID) (*domain.CallRecord, error) {
	rec, err := o.Calls.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.HasParticipant(who) {
		return nil, domain.ErrUnauthorized
	}
	return rec, nil
}

func (o *Orchestrator) History(ctx context.Context, who domain.UserID, limit int) ([]*domain.CallRecord, error) {
	return o.Calls.ListByUser(ctx, who, limit)
}

func others(all []domain.UserID, p domain.UserID) []domain.UserID {
	out := make([]domain.UserID, 0, len(all))
	for _, u := range all {
		if u != p {
			out = append(out, u)
		}
	}
	return out
}

func userStrings(ids []domain.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
