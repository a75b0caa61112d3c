package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	t.Run("rejects non-positive sizes", func(t *testing.T) {
		_, err := GenerateToken(0)
		require.Error(t, err)
		_, err = GenerateToken(-1)
		require.Error(t, err)
	})

	t.Run("produces unique url-safe tokens", func(t *testing.T) {
		seen := make(map[string]struct{})
		for range 100 {
			tok, err := GenerateToken(TokenSize256)
			require.NoError(t, err)
			require.Len(t, tok, 43)
			require.NotContains(t, tok, "+")
			require.NotContains(t, tok, "/")
			require.NotContains(t, tok, "=")

			_, dup := seen[tok]
			require.False(t, dup, "token collision")
			seen[tok] = struct{}{}
		}
	})
}

func TestFingerprintToken(t *testing.T) {
	t.Parallel()

	a := FingerprintToken("some-token")
	b := FingerprintToken("some-token")
	c := FingerprintToken("other-token")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 43)
}

func TestConstantTimeEquals(t *testing.T) {
	t.Parallel()

	require.True(t, ConstantTimeEquals("n1", "n1"))
	require.False(t, ConstantTimeEquals("n1", "n2"))
	require.False(t, ConstantTimeEquals("n1", "n1-longer"))
}
