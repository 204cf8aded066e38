// Package keyagree holds session secrets produced by the out-of-band key
// agreement between participants.
package keyagree

import (
	"bytes"
	"context"
	"sync"

	"github.com/dkeye/securecall/internal/core"
	"github.com/dkeye/securecall/internal/domain"
)

type pair struct {
	participant domain.UserID
	peer        domain.UserID
}

// Memory is an in-process store of directional secrets: Put(a, b, s) makes
// s available to a when a talks to b.
type Memory struct {
	mu      sync.RWMutex
	secrets map[pair][]byte
}

var _ core.KeyAgreement = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{secrets: make(map[pair][]byte)}
}

func (m *Memory) Put(participant, peer domain.UserID, secret []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.secrets[pair{participant, peer}]; ok {
		clear(old)
	}
	m.secrets[pair{participant, peer}] = bytes.Clone(secret)
}

// PutPair stores the same secret for both directions.
func (m *Memory) PutPair(a, b domain.UserID, secret []byte) {
	m.Put(a, b, secret)
	m.Put(b, a, secret)
}

func (m *Memory) Delete(participant, peer domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.secrets[pair{participant, peer}]; ok {
		clear(old)
		delete(m.secrets, pair{participant, peer})
	}
}

// SessionSecret returns the secret of the first peer participant has one with.
func (m *Memory) SessionSecret(_ context.Context, participant domain.UserID, peers []domain.UserID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, peer := range peers {
		if s, ok := m.secrets[pair{participant, peer}]; ok && len(s) > 0 {
			return bytes.Clone(s), nil
		}
	}
	return nil, domain.ErrKeyAgreementMissing
}
