package password_test

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-auth/internal/password"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// Low cost keeps the suite fast; the format and comparison are cost independent.
const testCost = 1 << 10

func TestHash(t *testing.T) {
	hasher := password.NewHasher(testCost)

	t.Run("encodes salt and key as hex", func(t *testing.T) {
		stored, err := hasher.Hash("Abcdef12")
		require.NoError(t, err)
		saltHex, keyHex, ok := strings.Cut(stored, password.Separator)
		require.True(t, ok)
		assert.Len(t, saltHex, password.SaltLen*2)
		assert.Len(t, keyHex, password.KeyLen*2)
	})

	t.Run("same password produces different hashes", func(t *testing.T) {
		first, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		second, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("invalid cost surfaces derivation error", func(t *testing.T) {
		_, err := password.NewHasher(3).Hash("Abcdef12")
		assert.Error(t, err)
	})
}

func TestVerify(t *testing.T) {
	hasher := password.NewHasher(testCost)
	stored, err := hasher.Hash("correct-Horse1")
	require.NoError(t, err)

	t.Run("correct password verifies", func(t *testing.T) {
		ok, err := hasher.Verify("correct-Horse1", stored)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong password fails", func(t *testing.T) {
		ok, err := hasher.Verify("correct-Horse2", stored)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed hashes are mismatches not errors", func(t *testing.T) {
		for _, bad := range []string{
			"",
			"no-separator",
			":deadbeef",
			"deadbeef:",
			"zz:" + strings.Repeat("ab", password.KeyLen),
			"abcd:beef",
		} {
			ok, err := hasher.Verify("correct-Horse1", bad)
			assert.NoError(t, err, bad)
			assert.False(t, ok, bad)
		}
	})

	t.Run("derivation failure is returned", func(t *testing.T) {
		ok, err := password.NewHasher(3).Verify("correct-Horse1", stored)
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent use", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := hasher.Verify("correct-Horse1", stored)
				assert.NoError(t, err)
				assert.True(t, ok)
			}()
		}
		wg.Wait()
	})
}

func TestCheckStrength(t *testing.T) {
	assert.NoError(t, password.CheckStrength("Abcdef12"))

	for _, weak := range []string{"short1A", "alllowercase1", "ALLUPPERCASE1", "NoDigitsHere", strings.Repeat("Aa1", 50)} {
		err := password.CheckStrength(weak)
		require.Error(t, err, weak)
		assert.True(t, errors.Is(err, shared.ErrValidation), weak)
	}
}
