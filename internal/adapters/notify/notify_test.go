package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/securecall/internal/adapters/notify"
	"github.com/dkeye/securecall/internal/domain"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix    string
		recipient domain.UserID
		ev        domain.EventType
		want      string
	}{
		{"calls", "alice", domain.EventInvite, "calls.alice.invite"},
		{"", "bob", domain.EventEnded, "calls.bob.ended"},
		{"svc.calls", "a.b*c>", domain.EventKeysRotated, "svc.calls.a_b_c_.keys_rotated"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, notify.Subject(tt.prefix, tt.recipient, tt.ev))
		})
	}
}

type sink struct {
	got []domain.UserID
	err error
}

func (s *sink) Notify(_ context.Context, r domain.UserID, _ domain.Event) error {
	s.got = append(s.got, r)
	return s.err
}

func TestFanout(t *testing.T) {
	boom := errors.New("boom")
	a, b := &sink{}, &sink{err: boom}
	f := notify.Fanout{a, nil, b}

	err := f.Notify(context.Background(), "alice", domain.Event{Type: domain.EventInvite})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []domain.UserID{"alice"}, a.got)
	assert.Equal(t, []domain.UserID{"alice"}, b.got)

}
