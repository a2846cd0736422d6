package hashing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"admin-auth-service/internal/util"
)

var (
	ErrInvalidHash     = errors.New("invalid hash format")
	ErrUnsupportedHash = errors.New("unsupported hash algorithm")
)

const (
	DefaultBcryptCost = 12

	algBcrypt   = "bcrypt"
	algArgon2id = "argon2id"
)

// Hasher hashes new admin passwords with bcrypt and verifies both bcrypt
// and argon2id hashes, so accounts migrated from the argon2id-era store
// keep working.
type Hasher struct {
	cost int
	// dummyHash is compared against when no account exists, keeping the
	// timing of unknown-email logins close to wrong-password logins.
	dummyHash []byte
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("admin-auth-timing-equalizer"), cost)
	if err != nil {
		util.Fatal("Failed to generate dummy hash", zap.Error(err))
	}
	return &Hasher{cost: cost, dummyHash: dummy}
}

// Hash returns a bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether password matches hash. Comparison is constant
// time inside both algorithms; an error is returned only for malformed or
// unknown hashes.
func (h *Hasher) Verify(hash, password string) (bool, error) {
	switch algorithm(hash) {
	case algBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	case algArgon2id:
		ok, err := argon2id.ComparePasswordAndHash(password, hash)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
		}
		return ok, nil
	default:
		return false, ErrUnsupportedHash
	}
}

// VerifyDummy burns one bcrypt comparison and always reports false.
func (h *Hasher) VerifyDummy(password string) bool {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
	return false
}

// NeedsRehash reports hashes that should be upgraded to the current bcrypt
// cost on the next successful login.
func (h *Hasher) NeedsRehash(hash string) bool {
	if algorithm(hash) != algBcrypt {
		return true
	}
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost < h.cost
}

func algorithm(hash string) string {
	switch {
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return algBcrypt
	case strings.HasPrefix(hash, "$argon2id$"):
		return algArgon2id
	default:
		return ""
	}
}
