package app_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/securecall/internal/app"
	"github.com/dkeye/securecall/internal/app/metrics"
	"github.com/dkeye/securecall/internal/domain"
)

func TestRegistryCreateIdempotent(t *testing.T) {
	r := app.NewRegistry()
	a := r.Create("call_1")
	b := r.Create("call_1")
	assert.Same(t, a, b)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryGetMissing(t *testing.T) {
	r := app.NewRegistry()
	_, ok := r.Get("nope")
	assert.False(t, ok)
	assert.False(t, r.Destroy("nope"))
}

func TestRegistryDestroyWipesKeys(t *testing.T) {
	r := app.NewRegistry()
	s := r.Create("call_1")
	_, err := s.AddParticipant("alice", bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)

	require.True(t, r.Destroy("call_1"))
	_, ok := r.Get("call_1")
	assert.False(t, ok)

	_, err = s.Encrypt("alice", []byte("late frame"))
	require.ErrorIs(t, err, domain.ErrUnknownParticipant)
}

func TestRegistryConcurrentCreate(t *testing.T) {
	r := app.NewRegistry()
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Create("call_x")
			_, _ = r.Get("call_x")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, r.Len())
	require.Len(t, r.Stats(), 1)

	r.Close()
	assert.Zero(t, r.Len())
}

func TestRegistryActiveGauge(t *testing.T) {
	m := metrics.New()
	r := app.NewRegistry(app.WithActiveGauge(m.ActiveCalls))

	r.Create("call_1")
	r.Create("call_1")
	r.Create("call_2")
	r.Create("call_3")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveCalls))

	r.Destroy("call_2")
	r.Destroy("call_2")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveCalls))

	r.Close()
	assert.Zero(t, testutil.ToFloat64(m.ActiveCalls))
}
