// Package password hashes and verifies user passwords with scrypt.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Hash layout: hex(salt) + Separator + hex(derivedKey).
const (
	Separator = ":"
	SaltLen   = 32
	KeyLen    = 64

	// DefaultCost is the scrypt N parameter (CPU/memory cost, power of two).
	DefaultCost = 1 << 15

	blockSize   = 8
	parallelism = 1
)

// Hasher derives password hashes. It holds no mutable state and is safe for
// concurrent use.
type Hasher struct {
	cost int
}

// NewHasher constructs a Hasher using cost as the scrypt N parameter. A
// non-positive cost selects DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Cost returns the configured scrypt N parameter.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash derives a new StoredHash using a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}
	key, err := h.derive(password, salt)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(salt) + Separator + hex.EncodeToString(key), nil
}

// Verify reports whether password matches stored. A malformed stored value is
// a mismatch, not an error; only key derivation failures are returned.
func (h *Hasher) Verify(password, stored string) (bool, error) {
	saltHex, keyHex, ok := strings.Cut(stored, Separator)
	if !ok || saltHex == "" || keyHex == "" {
		return false, nil
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false, nil
	}
	expected, err := hex.DecodeString(keyHex)
	if err != nil || len(expected) != KeyLen {
		return false, nil
	}
	actual, err := h.derive(password, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}

func (h *Hasher) derive(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, h.cost, blockSize, parallelism, KeyLen)
	if err != nil {
		return nil, fmt.Errorf("password: derive key: %w", err)
	}
	return key, nil
}
