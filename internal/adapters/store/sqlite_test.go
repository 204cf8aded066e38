package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/securecall/internal/adapters/store"
	"github.com/dkeye/securecall/internal/domain"
)

func setupStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id domain.CallID, created time.Time, parts ...domain.UserID) *domain.CallRecord {
	return &domain.CallRecord{
		SessionID:    id,
		CallerID:     parts[0],
		CalleeID:     parts[1],
		Participants: parts,
		Type:         domain.CallAudio,
		Status:       domain.StatusRinging,
		CreatedAt:    created,
		Encrypted:    true,
	}
}

func TestCreateGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 123)
	require.NoError(t, s.Create(ctx, record("c1", created, "alice", "bob")))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), got.CallerID)
	assert.Equal(t, []domain.UserID{"alice", "bob"}, got.Participants)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.Encrypted)
	assert.Nil(t, got.AnsweredAt)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrCallNotFound)

	require.Error(t, s.Create(ctx, record("c1", created, "alice", "bob")))
}

func TestUpdateAppliesAndPersists(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, record("c1", time.Unix(100, 0), "alice", "bob")))

	answered := time.Unix(110, 0)
	rec, err := s.Update(ctx, "c1", func(r *domain.CallRecord) error {
		_, err := r.Transition(domain.StatusAnswered, answered)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAnswered, rec.Status)

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAnswered, got.Status)
	require.NotNil(t, got.AnsweredAt)
	assert.True(t, got.AnsweredAt.Equal(answered))
}

func TestUpdateErrorRollsBack(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, record("c1", time.Unix(100, 0), "alice", "bob")))

	boom := errors.New("boom")
	_, err := s.Update(ctx, "c1", func(r *domain.CallRecord) error {
		r.Status = domain.StatusEnded
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRinging, got.Status)

	_, err = s.Update(ctx, "missing", func(*domain.CallRecord) error { return nil })
	require.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestListByUser(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, record("c1", time.Unix(100, 0), "alice", "bob")))
	require.NoError(t, s.Create(ctx, record("c2", time.Unix(200, 0), "carol", "alice")))
	require.NoError(t, s.Create(ctx, record("c3", time.Unix(300, 0), "carol", "dave")))

	calls, err := s.ListByUser(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, domain.CallID("c2"), calls[0].SessionID)
	assert.Equal(t, domain.CallID("c1"), calls[1].SessionID)

	// Participants added later show up in history.
	_, err = s.Update(ctx, "c3", func(r *domain.CallRecord) error {
		r.Participants = append(r.Participants, "alice")
		return nil
	})
	require.NoError(t, err)
	calls, err = s.ListByUser(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, domain.CallID("c3"), calls[0].SessionID)
}

func TestListActive(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	statuses := map[domain.CallID]domain.CallStatus{
		"c1": domain.StatusAnswered,
		"c2": domain.StatusRinging,
		"c3": domain.StatusEnded,
		"c4": domain.StatusMissed,
	}
	for i, id := range []domain.CallID{"c1", "c2", "c3", "c4"} {
		rec := record(id, time.Unix(int64(100*(i+1)), 0), "alice", "bob")
		rec.Status = statuses[id]
		require.NoError(t, s.Create(ctx, rec))
	}

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, domain.CallID("c1"), active[0].SessionID)
	assert.Equal(t, domain.StatusAnswered, active[0].Status)
	assert.Equal(t, domain.CallID("c2"), active[1].SessionID)
}
