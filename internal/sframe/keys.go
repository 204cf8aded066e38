package sframe

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/dkeye/securecall/internal/domain"
)

const (
	KeySize = 32

	LabelInitial = "SFrame-Key"
	LabelRotate  = "SFrame-Rotate"

	saltPrefix = "sframe-"
)

// Key is one participant's key for one epoch.
type Key struct {
	Material  []byte
	ID        uint64
	DerivedAt time.Time
}

// DeriveKey runs HKDF-SHA256(secret, salt="sframe-"+participant, info=label).
// It is deterministic for identical inputs.
func DeriveKey(secret []byte, participant domain.UserID, label string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty session secret", domain.ErrKeyDerivation)
	}
	if participant == "" {
		return nil, fmt.Errorf("%w: empty participant", domain.ErrKeyDerivation)
	}
	r := hkdf.New(sha256.New, secret, []byte(saltPrefix+string(participant)), []byte(label))
	out := make([]byte, KeySize)
	n, err := io.ReadFull(r, out)
	if err != nil || n != KeySize {
		Wipe(out)
		return nil, fmt.Errorf("%w: short output (%d bytes)", domain.ErrKeyDerivation, n)
	}
	return out, nil
}

// KeyManager holds the current key of every participant of one call.
// Key ids come from a single counter and are never reused.
type KeyManager struct {
	mu        sync.Mutex
	nextID    uint64
	keys      map[domain.UserID]Key
	rotations int
	now       func() time.Time
}

func NewKeyManager() *KeyManager {
	return &KeyManager{
		keys: make(map[domain.UserID]Key),
		now:  time.Now,
	}
}

// Derive derives and stores the key of participant under label.
func (m *KeyManager) Derive(secret []byte, participant domain.UserID, label string) (Key, error) {
	material, err := DeriveKey(secret, participant, label)
	if err != nil {
		return Key{}, err
	}
	return m.install(participant, material, label == LabelRotate), nil
}

// Rotate derives a fresh key for every participant in secrets with the
// rotation label and installs them together. If any derivation fails no key
// changes.
func (m *KeyManager) Rotate(secrets map[domain.UserID][]byte) (map[domain.UserID]Key, error) {
	derived := make(map[domain.UserID][]byte, len(secrets))
	for p, secret := range secrets {
		material, err := DeriveKey(secret, p, LabelRotate)
		if err != nil {
			for _, d := range derived {
				Wipe(d)
			}
			return nil, fmt.Errorf("rotate %s: %w", p, err)
		}
		derived[p] = material
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.UserID]Key, len(derived))
	for p, material := range derived {
		out[p] = m.installLocked(p, material, true)
	}
	return out, nil
}

// install stores already derived material and assigns the next key id.
// The previous key of participant, if any, is wiped.
func (m *KeyManager) install(participant domain.UserID, material []byte, rotation bool) Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installLocked(participant, material, rotation)
}

func (m *KeyManager) installLocked(participant domain.UserID, material []byte, rotation bool) Key {
	if old, ok := m.keys[participant]; ok {
		Wipe(old.Material)
	}
	k := Key{Material: material, ID: m.nextID, DerivedAt: m.now()}
	m.nextID++
	if rotation {
		m.rotations++
	}
	m.keys[participant] = k
	return k
}

// Key returns a copy of the current key material of participant.
func (m *KeyManager) Key(participant domain.UserID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[participant]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(k.Material))
	copy(out, k.Material)
	return out, true
}

func (m *KeyManager) KeyID(participant domain.UserID) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[participant]
	return k.ID, ok
}

// Forget wipes and drops the key of participant.
func (m *KeyManager) Forget(participant domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[participant]
	if !ok {
		return false
	}
	Wipe(k.Material)
	delete(m.keys, participant)
	return true
}

// Clear wipes every key.
func (m *KeyManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p, k := range m.keys {
		Wipe(k.Material)
		delete(m.keys, p)
	}
}

func (m *KeyManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

func (m *KeyManager) Rotations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotations
}

// Issued is the number of keys handed out so far.
func (m *KeyManager) Issued() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID
}
