package orch

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/domain"
)

// AddParticipant invites newcomer into an active call. Any participant may
// add others as long as the call stays within the participant limit.
func (o *Orchestrator) AddParticipant(ctx context.Context, id domain.CallID, by, newcomer domain.UserID) (*ParticipantResult, error) {
	if newcomer == "" {
		return nil, domain.ErrUserIDEmpty
	}
	current, err := o.Calls.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.checkAdd(current, by, newcomer); err != nil {
		return nil, err
	}

	keyed := false
	if sess, ok := o.Registry.Get(id); ok {
		keyed = o.keyParticipant(ctx, sess, newcomer, current.Participants)
	}

	rec, _, err := o.mutate(ctx, id, func(r *domain.CallRecord) (bool, error) {
		if err := o.checkAdd(r, by, newcomer); err != nil {
			return false, err
		}
		r.Participants = append(r.Participants, newcomer)
		r.Encrypted = r.Encrypted && keyed
		return true, nil
	})
	if err != nil {
		if keyed {
			o.forgetKey(id, newcomer)
		}
		return nil, err
	}

	o.notify(id, by, domain.EventParticipantJoined, memberPayload{Participant: newcomer, Keyed: keyed}, rec.Others(newcomer)...)
	sfuURL := ""
	if rec.Mode == domain.ModeSFU {
		sfuURL = o.Rooms.URL()
	}
	o.notify(id, by, domain.EventInvite, invitePayload{
		CallType:     rec.Type,
		Caller:       rec.CallerID,
		Participants: rec.Participants,
		Mode:         rec.Mode,
		Encrypted:    rec.Encrypted,
		SFUURL:       sfuURL,
	}, newcomer)

	log.Info().Str("module", "orch").Str("call", string(id)).Str("by", string(by)).
		Str("participant", string(newcomer)).Bool("keyed", keyed).Msg("participant added")
	return &ParticipantResult{Call: rec, Keyed: keyed}, nil
}

func (o *Orchestrator) checkAdd(r *domain.CallRecord, by, newcomer domain.UserID) error {
	switch {
	case !r.HasParticipant(by):
		return domain.ErrUnauthorized
	case r.Status.Terminal():
		return domain.ErrCallEnded
	case r.HasParticipant(newcomer):
		return fmt.Errorf("%w: %s", domain.ErrDuplicateParticipant, newcomer)
	case len(r.Participants) >= o.opts.MaxParticipants:
		return domain.ErrTooManyParticipants
	}
	return nil
}

// RemoveParticipant takes target out of the call. Participants may remove
// themselves and the caller may remove anyone. When fewer than two
// participants would remain the call ends instead, and a caller leaving a
// call that still rings cancels it.
func (o *Orchestrator) RemoveParticipant(ctx context.Context, id domain.CallID, by, target domain.UserID) (*ParticipantResult, error) {
	var ended bool
	rec, changed, err := o.mutate(ctx, id, func(r *domain.CallRecord) (bool, error) {
		if by != target && by != r.CallerID {
			return false, domain.ErrUnauthorized
		}
		if !r.HasParticipant(by) {
			return false, domain.ErrUnauthorized
		}
		if !r.HasParticipant(target) {
			return false, fmt.Errorf("%w: %s", domain.ErrUnknownParticipant, target)
		}
		if r.Status.Terminal() {
			return false, domain.ErrCallEnded
		}
		if target == r.CallerID && r.Status == domain.StatusRinging {
			ended = true
			return r.Transition(domain.StatusCancelled, o.now())
		}
		if len(r.Participants)-1 < 2 {
			ended = true
			return r.Transition(endStatus(r, target), o.now())
		}
		o.detach(r, target)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return &ParticipantResult{Call: rec}, nil
	}
	if ended {
		o.finish(rec, by)
		return &ParticipantResult{Call: rec}, nil
	}

	o.forgetKey(id, target)
	recipients := rec.Participants
	if by != target {
		recipients = append(slices.Clone(recipients), target)
	}
	o.notify(id, by, domain.EventParticipantLeft, memberPayload{Participant: target}, others(recipients, by)...)

	log.Info().Str("module", "orch").Str("call", string(id)).Str("by", string(by)).
		Str("participant", string(target)).Msg("participant removed")
	return &ParticipantResult{Call: rec}, nil
}

// detach removes target from the participant list of r.
func (o *Orchestrator) detach(r *domain.CallRecord, target domain.UserID) {
	r.Participants = r.Others(target)
	if r.CalleeID == target {
		if rest := r.Others(r.CallerID); len(rest) > 0 {
			r.CalleeID = rest[0]
		}
	}
	if r.AnsweredBy == target {
		r.AnsweredBy = ""
	}
	r.Encrypted = o.allKeyed(r.SessionID, r.Participants)
}

func (o *Orchestrator) forgetKey(id domain.CallID, p domain.UserID) {
	if sess, ok := o.Registry.Get(id); ok {
		_ = sess.RemoveParticipant(p)
	}
}

func (o *Orchestrator) allKeyed(id domain.CallID, participants []domain.UserID) bool {
	sess, ok := o.Registry.Get(id)
	if !ok {
		return false
	}
	for _, p := range participants {
		if !sess.Has(p) {
			return false
		}
	}
	return len(participants) > 0
}
