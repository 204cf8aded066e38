package keyagree_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/securecall/internal/adapters/keyagree"
	"github.com/dkeye/securecall/internal/domain"
)

func TestSessionSecretLookupOrder(t *testing.T) {
	m := keyagree.NewMemory()
	m.Put("alice", "carol", []byte("ac"))
	m.Put("alice", "bob", []byte("ab"))

	s, err := m.SessionSecret(context.Background(), "alice", []domain.UserID{"bob", "carol"})
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), s)

	_, err = m.SessionSecret(context.Background(), "bob", []domain.UserID{"alice"})
	require.ErrorIs(t, err, domain.ErrKeyAgreementMissing)
}

func TestPutCopiesAndDelete(t *testing.T) {
	m := keyagree.NewMemory()
	in := []byte("secret")
	m.PutPair("alice", "bob", in)
	in[0] = 'X'

	s, err := m.SessionSecret(context.Background(), "bob", []domain.UserID{"alice"})
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), s)

	m.Delete("bob", "alice")
	_, err = m.SessionSecret(context.Background(), "bob", []domain.UserID{"alice"})
	require.ErrorIs(t, err, domain.ErrKeyAgreementMissing)
}
