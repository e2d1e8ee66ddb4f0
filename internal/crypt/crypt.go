// Package crypt implements the voice-plane AEAD envelope for the UDP and
// TCP-tunnel voice transports.
//
// Real Mumble servers negotiate OCB2-AES128 for this envelope. That cipher
// has no Go ecosystem implementation outside Mumble's own C++ tree, so this
// engine substitutes ChaCha20-Poly1305 (golang.org/x/crypto/chacha20poly1305)
// as the session AEAD, keeping the same CryptSetup key-exchange shape and a
// monotonic nonce counter with a receive-side replay window. Peers of this
// client must be this client; this is a deliberate, documented deviation from
// wire-for-wire compatibility on the voice plane only (the control plane
// remains fully compatible).
package crypt

import (
	"crypto/cipher"
	"errors"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// WindowSize bounds how far a received nonce may trail the highest nonce
// seen before it is rejected as a replay.
const WindowSize = 64

var ErrReplay = errors.New("crypt: nonce outside replay window")
var ErrAuth = errors.New("crypt: authentication failed")

// Session holds the keying material and AEAD state for one connection's
// voice plane, derived from a CryptSetup handshake message.
type Session struct {
	aead cipher.AEAD

	mu       sync.Mutex
	sendCtr  uint64
	recvHi   uint64
	recvSeen uint64 // bitmask of the WindowSize nonces below recvHi
	primed   bool
}

// NewSession derives an AEAD session from the raw key material delivered in
// CryptSetup. key must be chacha20poly1305.KeySize bytes; Mumble's 16-byte
// OCB key is expanded/truncated by the caller before reaching here — see
// deriveKey in the protocol package.
func NewSession(key []byte) (*Session, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &Session{aead: aead}, nil
}

// nonceFor expands a 64-bit counter into the AEAD's nonce size, zero-padded.
func nonceFor(counter uint64, size int) []byte {
	n := make([]byte, size)
	for i := 0; i < 8 && i < size; i++ {
		n[size-1-i] = byte(counter >> (8 * i))
	}
	return n
}

// Seal encrypts plaintext with the next sequential send nonce, returning the
// nonce counter used (the receiver needs it to derive its own nonce) and the
// ciphertext with appended auth tag.
func (s *Session) Seal(plaintext []byte) (counter uint64, ciphertext []byte) {
	s.mu.Lock()
	counter = s.sendCtr
	s.sendCtr++
	s.mu.Unlock()

	nonce := nonceFor(counter, s.aead.NonceSize())
	return counter, s.aead.Seal(nil, nonce, plaintext, nil)
}

// Open decrypts ciphertext sealed under the given nonce counter, rejecting
// replays outside the sliding window and failed authentication.
func (s *Session) Open(counter uint64, ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	if s.primed {
		if counter+WindowSize <= s.recvHi {
			s.mu.Unlock()
			return nil, ErrReplay
		}
		if counter <= s.recvHi {
			bit := s.recvHi - counter
			if bit < 64 && s.recvSeen&(1<<bit) != 0 {
				s.mu.Unlock()
				return nil, ErrReplay
			}
		}
	}
	s.mu.Unlock()

	nonce := nonceFor(counter, s.aead.NonceSize())
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuth
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.primed {
		s.recvHi = counter
		s.recvSeen = 1
		s.primed = true
	} else if counter > s.recvHi {
		shift := counter - s.recvHi
		if shift >= 64 {
			s.recvSeen = 1
		} else {
			s.recvSeen = (s.recvSeen << shift) | 1
		}
		s.recvHi = counter
	} else {
		bit := s.recvHi - counter
		if bit < 64 {
			s.recvSeen |= 1 << bit
		}
	}
	return plaintext, nil
}

// KeySize is the key length this session's AEAD expects.
func KeySize() int { return chacha20poly1305.KeySize }
