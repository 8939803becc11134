package radcrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNIDRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	s := kp.NID.String()
	assert.Contains(t, s, "did:key:z")

	parsed, err := ParseNID(s)
	require.NoError(t, err)
	assert.True(t, kp.NID.Equal(parsed))
}

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	msg := []byte("heartwood")
	sig := kp.Sign(msg)
	assert.NoError(t, kp.NID.Verify(msg, sig))

	other, err := GenerateKeypair()
	require.NoError(t, err)
	assert.Error(t, other.NID.Verify(msg, sig))

	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0xFF
	assert.ErrorIs(t, kp.NID.Verify(msg, tampered), ErrInvalidSignature)
}

func TestNIDJSONRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	b, err := kp.NID.MarshalJSON()
	require.NoError(t, err)

	var n NID
	require.NoError(t, n.UnmarshalJSON(b))
	assert.True(t, kp.NID.Equal(n))
}

func TestHashEntryStable(t *testing.T) {
	a := HashEntry([]byte("hello"))
	b := HashEntry([]byte("hello"))
	assert.Equal(t, a, b)

	c := HashEntry([]byte("world"))
	assert.NotEqual(t, a, c)
}
