package hashing

import (
	"testing"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_Bcrypt(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	hash, err := h.Hash("correct horse")
	require.NoError(t, err)

	t.Run("should accept the right password", func(t *testing.T) {
		ok, err := h.Verify(hash, "correct horse")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("should reject a wrong password without error", func(t *testing.T) {
		ok, err := h.Verify(hash, "battery staple")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should flag low-cost hashes for rehash", func(t *testing.T) {
		strong := NewHasher(bcrypt.MinCost + 1)
		assert.True(t, strong.NeedsRehash(hash))
		assert.False(t, h.NeedsRehash(hash))
	})
}

func TestHasher_Argon2id(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	hash, err := argon2id.CreateHash("legacy-pass", &argon2id.Params{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	require.NoError(t, err)

	ok, err := h.Verify(hash, "legacy-pass")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(hash, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, h.NeedsRehash(hash))
}

func TestHasher_BadHashes(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	_, err := h.Verify("plaintext", "x")
	assert.ErrorIs(t, err, ErrUnsupportedHash)

	_, err = h.Verify("$2a$10$short", "x")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = h.Verify("$argon2id$garbage", "x")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestHasher_VerifyDummy(t *testing.T) {
	assert.False(t, NewHasher(bcrypt.MinCost).VerifyDummy("anything"))
}

func TestNewHasher_ClampsCost(t *testing.T) {
	assert.Equal(t, DefaultBcryptCost, NewHasher(0).cost)
}
