package sframe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/securecall/internal/domain"
)

const (
	HeaderSize   = 2
	IVSize       = 12
	TagSize      = 16
	MinFrameSize = HeaderSize + IVSize + TagSize
)

// Codec encrypts and decrypts frames for one participant under one key.
// It is safe for concurrent use.
type Codec struct {
	mu      sync.Mutex
	aead    cipher.AEAD
	keyID   uint64
	counter uint8
	rand    io.Reader
}

func NewCodec(key Key) (*Codec, error) {
	if len(key.Material) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", domain.ErrEncryption, KeySize)
	}
	block, err := aes.NewCipher(key.Material)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncryption, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncryption, err)
	}
	return &Codec{aead: aead, keyID: key.ID, rand: rand.Reader}, nil
}

func (c *Codec) KeyID() uint64 { return c.keyID }

// Encrypt seals frame. The output never aliases frame.
func (c *Codec) Encrypt(frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aead == nil {
		return nil, fmt.Errorf("%w: no key bound", domain.ErrEncryption)
	}

	out := make([]byte, HeaderSize+IVSize, HeaderSize+IVSize+len(frame)+TagSize)
	out[0] = byte(c.keyID)
	out[1] = c.counter
	iv := out[HeaderSize : HeaderSize+IVSize]
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, fmt.Errorf("%w: iv: %v", domain.ErrEncryption, err)
	}
	out = c.aead.Seal(out, iv, frame, out[:HeaderSize])
	c.counter++
	return out, nil
}

// Decrypt opens frame. Counters may arrive out of order or with gaps.
// Frames sealed under another key id are rejected without touching the
// cipher. On failure no plaintext is returned.
func (c *Codec) Decrypt(frame []byte) ([]byte, error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aead == nil || h.KeyID != byte(c.keyID) {
		return nil, domain.ErrAuthentication
	}
	header := frame[:HeaderSize]
	iv := frame[HeaderSize : HeaderSize+IVSize]
	plain, err := c.aead.Open(nil, iv, frame[HeaderSize+IVSize:], header)
	if err != nil {
		return nil, domain.ErrAuthentication
	}
	return plain, nil
}

// Close unbinds the key. Later calls fail.
func (c *Codec) Close() {
	c.mu.Lock()
	c.aead = nil
	c.mu.Unlock()
}

// Header is the cleartext prefix of an encrypted frame.
type Header struct {
	KeyID   uint8
	Counter uint8
}

func ParseHeader(frame []byte) (Header, error) {
	if len(frame) < MinFrameSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need at least %d", domain.ErrMalformedFrame, len(frame), MinFrameSize)
	}
	return Header{KeyID: frame[0], Counter: frame[1]}, nil
}
