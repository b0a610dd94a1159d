// Package crypto protects persisted secrets at rest.
package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/iho/ynabimport/internal/domain"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var magic = []byte("YIS1")

// ErrOpen is returned when sealed data is corrupt or the passphrase is wrong.
var ErrOpen = errors.New("cannot open sealed data")

// Sealer encrypts small blobs with a key derived from a passphrase
// (argon2id + XSalsa20-Poly1305). Every Seal uses a fresh salt and nonce.
type Sealer struct {
	passphrase []byte
}

// NewSealer creates a Sealer.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, &domain.ConfigError{Key: "SESSION_PASSPHRASE"}
	}
	return &Sealer{passphrase: []byte(passphrase)}, nil
}

// Seal encrypts plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	key := s.key(salt)

	out := make([]byte, 0, len(magic)+saltSize+nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &key), nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	header := len(magic) + saltSize + nonceSize
	if len(sealed) < header+secretbox.Overhead || !bytes.HasPrefix(sealed, magic) {
		return nil, ErrOpen
	}

	salt := sealed[len(magic) : len(magic)+saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[len(magic)+saltSize:header])

	key := s.key(salt)
	plaintext, ok := secretbox.Open(nil, sealed[header:], &nonce, &key)
	if !ok {
		return nil, ErrOpen
	}
	return plaintext, nil
}

func (s *Sealer) key(salt []byte) [keySize]byte {
	var key [keySize]byte
	copy(key[:], argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, keySize))
	return key
}
