package sframe_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/securecall/internal/domain"
	"github.com/dkeye/securecall/internal/sframe"
)

func secret(b byte) []byte { return bytes.Repeat([]byte{b}, 32) }

func TestDeriveKeyDeterministic(t *testing.T) {
	a, err := sframe.DeriveKey(secret(1), "alice", sframe.LabelInitial)
	require.NoError(t, err)
	b, err := sframe.DeriveKey(secret(1), "alice", sframe.LabelInitial)
	require.NoError(t, err)
	assert.Len(t, a, sframe.KeySize)
	assert.Equal(t, a, b)
}

func TestDeriveKeySeparatesInputs(t *testing.T) {
	base, err := sframe.DeriveKey(secret(1), "alice", sframe.LabelInitial)
	require.NoError(t, err)

	tests := []struct {
		name        string
		secret      []byte
		participant domain.UserID
		label       string
	}{
		{"participant", secret(1), "bob", sframe.LabelInitial},
		{"label", secret(1), "alice", sframe.LabelRotate},
		{"secret", secret(2), "alice", sframe.LabelInitial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := sframe.DeriveKey(tt.secret, tt.participant, tt.label)
			require.NoError(t, err)
			assert.NotEqual(t, base, k)
		})
	}
}

func TestDeriveKeyRejectsEmptySecret(t *testing.T) {
	_, err := sframe.DeriveKey(nil, "alice", sframe.LabelInitial)
	require.ErrorIs(t, err, domain.ErrKeyDerivation)

	km := sframe.NewKeyManager()
	_, err = km.Derive([]byte{}, "alice", sframe.LabelInitial)
	require.ErrorIs(t, err, domain.ErrKeyDerivation)
	assert.Zero(t, km.Len())
}

func TestRotateKeyIDStrictlyIncreases(t *testing.T) {
	km := sframe.NewKeyManager()
	first, err := km.Derive(secret(1), "alice", sframe.LabelInitial)
	require.NoError(t, err)
	_, err = km.Derive(secret(1), "bob", sframe.LabelInitial)
	require.NoError(t, err)

	last := first.ID
	for range 5 {
		// The same secret every time must still produce fresh ids.
		keys, err := km.Rotate(map[domain.UserID][]byte{"alice": secret(1)})
		require.NoError(t, err)
		require.Contains(t, keys, domain.UserID("alice"))
		assert.Greater(t, keys["alice"].ID, last)
		last = keys["alice"].ID
	}
	id, ok := km.KeyID("alice")
	require.True(t, ok)
	assert.Equal(t, last, id)
	assert.Equal(t, 5, km.Rotations())
}

func TestRotateFailureInstallsNothing(t *testing.T) {
	km := sframe.NewKeyManager()
	before, err := km.Derive(secret(1), "alice", sframe.LabelInitial)
	require.NoError(t, err)

	_, err = km.Rotate(map[domain.UserID][]byte{"alice": secret(2), "bob": nil})
	require.ErrorIs(t, err, domain.ErrKeyDerivation)

	id, ok := km.KeyID("alice")
	require.True(t, ok)
	assert.Equal(t, before.ID, id)
	assert.Zero(t, km.Rotations())
	assert.Equal(t, 1, km.Len())
}

func TestLookupAbsentAndForget(t *testing.T) {
	km := sframe.NewKeyManager()
	_, ok := km.Key("nobody")
	assert.False(t, ok)
	_, ok = km.KeyID("nobody")
	assert.False(t, ok)

	_, err := km.Derive(secret(3), "alice", sframe.LabelInitial)
	require.NoError(t, err)
	k, ok := km.Key("alice")
	require.True(t, ok)
	k[0] ^= 0xFF // caller copy only
	again, _ := km.Key("alice")
	assert.NotEqual(t, k, again)

	assert.True(t, km.Forget("alice"))
	assert.False(t, km.Forget("alice"))
	_, ok = km.Key("alice")
	assert.False(t, ok)
}
