package app

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/domain"
	"github.com/dkeye/securecall/internal/sframe"
)

// Registry maps call ids to their crypto sessions.
// Mutations are serialized by mu; lookups go through the concurrent map and
// never wait on a mutation.
type Registry struct {
	mu       sync.Mutex
	sessions sync.Map // domain.CallID -> *sframe.Session
	active   prometheus.Gauge
}

type RegistryOption func(*Registry)

// WithActiveGauge keeps g equal to the number of live sessions.
func WithActiveGauge(g prometheus.Gauge) RegistryOption {
	return func(r *Registry) { r.active = g }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) track(delta float64) {
	if r.active != nil {
		r.active.Add(delta)
	}
}

// Create returns the session of id, creating it if needed.
// Duplicate setup is tolerated and only logged.
func (r *Registry) Create(id domain.CallID) *sframe.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.sessions.Load(id); ok {
		log.Warn().Str("module", "app.registry").Str("call", string(id)).Msg("crypto session already exists")
		return v.(*sframe.Session)
	}
	s := sframe.NewSession(id)
	r.sessions.Store(id, s)
	r.track(1)
	log.Info().Str("module", "app.registry").Str("call", string(id)).Msg("created crypto session")
	return s
}

func (r *Registry) Get(id domain.CallID) (*sframe.Session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*sframe.Session), true
}

// Destroy removes the session of id and wipes its keys.
func (r *Registry) Destroy(id domain.CallID) bool {
	r.mu.Lock()
	v, ok := r.sessions.LoadAndDelete(id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.track(-1)
	v.(*sframe.Session).Close()
	log.Info().Str("module", "app.registry").Str("call", string(id)).Msg("destroyed crypto session")
	return true
}

func (r *Registry) Len() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Stats snapshots every live session.
func (r *Registry) Stats() []sframe.Stats {
	var out []sframe.Stats
	r.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*sframe.Session).Stats())
		return true
	})
	return out
}

// Close destroys every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions.Range(func(k, v any) bool {
		r.sessions.Delete(k)
		r.track(-1)
		v.(*sframe.Session).Close()
		return true
	})
}
