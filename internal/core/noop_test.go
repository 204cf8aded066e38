package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/securecall/internal/core"
	"github.com/dkeye/securecall/internal/domain"
)

func TestNoRooms(t *testing.T) {
	var r core.NoRooms
	ctx := context.Background()

	_, err := r.CreateRoom(ctx, "x", "", 2)
	require.ErrorIs(t, err, domain.ErrRelayUnavailable)
	require.ErrorIs(t, r.DestroyRoom(ctx, "x"), domain.ErrRelayUnavailable)
	_, err = r.ListParticipants(ctx, "x")
	require.ErrorIs(t, err, domain.ErrRelayUnavailable)
	assert.Empty(t, r.URL())
}

func TestDiscardNotifier(t *testing.T) {
	require.NoError(t, core.DiscardNotifier{}.Notify(context.Background(), "x", domain.Event{}))
}
