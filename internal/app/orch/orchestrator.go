// Package orch runs the call state machine and wires the crypto registry,
// TURN issuer, SFU rooms, call store and notifications together.
package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/app"
	"github.com/dkeye/securecall/internal/app/metrics"
	"github.com/dkeye/securecall/internal/app/turn"
	"github.com/dkeye/securecall/internal/core"
	"github.com/dkeye/securecall/internal/domain"
)

const (
	DefaultRingTimeout         = 30 * time.Second
	DefaultGroupRingTimeout    = 60 * time.Second
	DefaultKeyRotationInterval = 300 * time.Second
	DefaultMaxParticipants     = 16
	DefaultMaxCallDuration     = time.Hour
	DefaultAsyncTimeout        = 10 * time.Second

	Algorithm     = "SFrame-AES-GCM-256"
	KeyDerivation = "HKDF-SHA256"
)

type Deps struct {
	Registry *app.Registry
	Calls    core.CallStore
	Rooms    core.RoomClient
	Keys     core.KeyAgreement
	Notifier core.Notifier
	Issuer   *turn.Issuer
	Metrics  *metrics.Metrics
}

type Options struct {
	RingTimeout         time.Duration
	GroupRingTimeout    time.Duration
	KeyRotationInterval time.Duration
	MaxParticipants     int
	// MaxCallDuration bounds how long an answered call keeps its keys.
	MaxCallDuration time.Duration
	AsyncTimeout    time.Duration
	Now             func() time.Time
}

func (o *Options) withDefaults() {
	if o.RingTimeout <= 0 {
		o.RingTimeout = DefaultRingTimeout
	}
	if o.GroupRingTimeout <= 0 {
		o.GroupRingTimeout = DefaultGroupRingTimeout
	}
	if o.KeyRotationInterval <= 0 {
		o.KeyRotationInterval = DefaultKeyRotationInterval
	}
	if o.MaxParticipants < 2 {
		o.MaxParticipants = DefaultMaxParticipants
	}
	if o.MaxCallDuration <= 0 {
		o.MaxCallDuration = DefaultMaxCallDuration
	}
	if o.AsyncTimeout <= 0 {
		o.AsyncTimeout = DefaultAsyncTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Orchestrator struct {
	Registry *app.Registry
	Calls    core.CallStore
	Rooms    core.RoomClient
	Keys     core.KeyAgreement
	Notifier core.Notifier
	Issuer   *turn.Issuer
	Metrics  *metrics.Metrics

	opts     Options
	timers   *Timers
	instance uuid.UUID
	seq      atomic.Uint64

	// mu guards closed so no background work is added once Close waits on wg.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(d Deps, opts Options) *Orchestrator {
	opts.withDefaults()
	o := &Orchestrator{
		Registry: d.Registry,
		Calls:    d.Calls,
		Rooms:    d.Rooms,
		Keys:     d.Keys,
		Notifier: d.Notifier,
		Issuer:   d.Issuer,
		Metrics:  d.Metrics,
		opts:     opts,
		timers:   NewTimers(),
		instance: uuid.New(),
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.Registry == nil {
		o.Registry = app.NewRegistry(app.WithActiveGauge(o.Metrics.ActiveCalls))
	}
	if o.Rooms == nil {
		o.Rooms = core.NoRooms{}
	}
	if o.Notifier == nil {
		o.Notifier = core.DiscardNotifier{}
	}
	if o.Issuer == nil {
		o.Issuer = turn.NewIssuer("", 0, "")
	}
	return o
}

func (o *Orchestrator) now() time.Time { return o.opts.Now() }

// Close stops all call timers and waits for running timeouts, pending
// notifications and room teardown. Work started after Close runs inline.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.timers.StopAll()
	o.wg.Wait()
}

// track registers one unit of background work unless Close was called.
func (o *Orchestrator) track() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.wg.Add(1)
	return true
}

// PendingTimers reports how many calls have a ring or duration timeout armed.
func (o *Orchestrator) PendingTimers() int { return o.timers.Len() }

// schedule arms the call timer of id. A callback that already started when
// Close is called is waited for; later ones are skipped.
func (o *Orchestrator) schedule(id domain.CallID, d time.Duration, fn func()) {
	o.timers.Schedule(id, d, func() {
		if !o.track() {
			return
		}
		defer o.wg.Done()
		fn()
	})
}

var errUnchanged = errors.New("unchanged")

// mutate applies fn to the stored record. When fn reports no change the
// write is skipped and the current record is returned with changed=false.
func (o *Orchestrator) mutate(ctx context.Context, id domain.CallID, fn func(*domain.CallRecord) (bool, error)) (*domain.CallRecord, bool, error) {
	var current *domain.CallRecord
	rec, err := o.Calls.Update(ctx, id, func(r *domain.CallRecord) error {
		changed, err := fn(r)
		if err != nil {
			return err
		}
		if !changed {
			current = r.Clone()
			return errUnchanged
		}
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return current, false, nil
	case err != nil:
		return nil, false, err
	}
	return rec, true, nil
}

// async runs fn off the request path with its own deadline.
func (o *Orchestrator) async(fn func(ctx context.Context)) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.AsyncTimeout)
		defer cancel()
		fn(ctx)
	}
	if !o.track() {
		run()
		return
	}
	go func() {
		defer o.wg.Done()
		run()
	}()
}

// notify sends one event per recipient. Failures are logged and dropped.
func (o *Orchestrator) notify(id domain.CallID, from domain.UserID, t domain.EventType, payload any, recipients ...domain.UserID) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("module", "orch").Str("call", string(id)).Msg("marshal event payload")
		} else {
			raw = b
		}
	}
	at := o.now()
	for _, r := range recipients {
		ev := domain.Event{ID: uuid.NewString(), Type: t, CallID: id, From: from, At: at, Payload: raw}
		o.async(func(ctx context.Context) {
			if err := o.Notifier.Notify(ctx, r, ev); err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("call", string(id)).
					Str("recipient", string(r)).Stringer("event", t).Msg("notification failed")
			}
		})
	}
}

// finish releases everything a call holds once it reached a terminal state
// and tells everyone but actor.
func (o *Orchestrator) finish(rec *domain.CallRecord, actor domain.UserID) {
	o.timers.Cancel(rec.SessionID)
	o.Registry.Destroy(rec.SessionID)
	o.Metrics.CallEnded(string(rec.Status), rec.Duration())
	if rec.Mode == domain.ModeSFU {
		id := rec.SessionID
		o.async(func(ctx context.Context) {
			if err := o.Rooms.DestroyRoom(ctx, core.RoomID(id)); err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("call", string(id)).Msg("destroy room failed")
			}
		})
	}

	ev, _ := domain.EventForStatus(rec.Status)
	o.notify(rec.SessionID, actor, ev, endPayload(rec), rec.Others(actor)...)

	log.Info().Str("module", "orch").Str("call", string(rec.SessionID)).Str("status", string(rec.Status)).
		Dur("duration", rec.Duration()).Msg("call finished")
}
