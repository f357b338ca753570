package streaming

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalParseIdentityRoundTrip(t *testing.T) {
	id := newTestIdentity(t)

	encoded, err := MarshalIdentity(id)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	parsed, n, err := ParseIdentity(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.NotNil(t, parsed)
}

func TestMarshalIdentityRejectsNil(t *testing.T) {
	_, err := MarshalIdentity(nil)
	require.Error(t, err)
}

func TestIdentityHashIsDeterministic(t *testing.T) {
	id := newTestIdentity(t)
	h1, err := IdentityHash(id)
	require.NoError(t, err)
	h2, err := IdentityHash(id)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestIdentityHashDiffersAcrossIdentities(t *testing.T) {
	a := newTestIdentity(t)
	b := newTestIdentity(t)
	ha, err := IdentityHash(a)
	require.NoError(t, err)
	hb, err := IdentityHash(b)
	require.NoError(t, err)
	require.NotEqual(t, ha, hb)
}
